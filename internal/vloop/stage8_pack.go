package vloop

import (
	"encoding/binary"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
)

// stagePack is pipeline Stage 8: build every in-flight query's wire
// response into its RespBuf. TCP responses additionally carry a
// two-byte length prefix.
func (w *Worker) stagePack() {
	for {
		c := w.packQ.PopFront()
		if c == nil {
			break
		}
		switch c.Kind {
		case connmodel.VariantUDPListener:
			for i := 0; i < c.UDPWriteCount; i++ {
				packOne(c.UDPQueries[i], false)
			}
		case connmodel.VariantTCPConn:
			for i := 0; i < c.QueryCount; i++ {
				packOne(c.Queries[i], true)
			}
		}
		w.writeQ.PushBack(c)
	}
}

// packOne serializes q's response header and sections in answer,
// authority, additional, EDNS-OPT order. Any record that would push
// the message past its size ceiling is left unpacked, TC is set, and
// packing stops there rather than failing the query.
func packOne(q *query.Query, tcpFramed bool) {
	if !q.EndCode.HasResponse() {
		return
	}

	reqID, reqRD, hasQuestion := requestHeaderFields(q)

	flags := dnswire.FlagQR | dnswire.FlagAA
	if reqRD {
		flags |= dnswire.FlagRD
	}
	flags |= uint16(q.EndCode) & dnswire.FlagRCode

	h := dnswire.Header{ID: reqID, Flags: flags}
	if hasQuestion {
		h.QDCount = 1
	}

	prefixLen := 0
	if tcpFramed {
		prefixLen = 2
	}
	ceiling := responseCeiling(q, tcpFramed)

	buf := h.Marshal()
	table := dnswire.NewCompressionTable()

	if hasQuestion {
		qq := dnswire.Question{Name: q.QName, Type: q.QType, Class: q.QClass}
		if nb, err := qq.Marshal(buf, table); err == nil {
			buf = nb
		} else {
			h.QDCount = 0
		}
	}

	var truncated bool
	var anCount, nsCount, arCount int
	buf, anCount, truncated = appendCapped(buf, q.Answers, table, ceiling, prefixLen)
	if !truncated {
		var tr bool
		buf, nsCount, tr = appendCapped(buf, q.Authorities, table, ceiling, prefixLen)
		truncated = tr
	}
	if !truncated {
		var tr bool
		buf, arCount, tr = appendCapped(buf, q.Additionals, table, ceiling, prefixLen)
		truncated = tr
	}

	optCount := 0
	if !truncated && q.EDNS.Present {
		opt := dnswire.OPT{
			UDPPayloadSize: q.EDNS.UDPRespLen,
			ExtendedRCode:  uint8(int(q.EndCode) >> 4),
			Version:        0,
			DNSSECOK:       q.EDNS.DO,
		}
		if q.EDNS.ClientSubnet != nil {
			cs := *q.EDNS.ClientSubnet
			cs.ScopePfx = 0
			opt.Options = append(opt.Options, dnswire.EDNSOption{
				Code: dnswire.OptCodeClientSubnet,
				Data: cs.Marshal(),
			})
		}
		rec := opt.ToRecord()
		if nb, err := rec.Marshal(buf, table); err == nil && prefixLen+len(nb) <= ceiling {
			buf = nb
			optCount = 1
		} else {
			truncated = true
		}
	}

	if truncated {
		h.Flags |= dnswire.FlagTC
	}
	h.ANCount = uint16(anCount)
	h.NSCount = uint16(nsCount)
	h.ARCount = uint16(arCount + optCount)
	h.Put(buf[:dnswire.HeaderSize])

	if err := q.GrowResponse(prefixLen + len(buf)); err != nil {
		q.EndCode = query.EndCode(dnswire.RCodeServFail)
		return
	}
	q.RespBuf = q.RespBuf[:prefixLen+len(buf)]
	if tcpFramed {
		binary.BigEndian.PutUint16(q.RespBuf[0:2], uint16(len(buf)))
	}
	copy(q.RespBuf[prefixLen:], buf)
	q.RespLen = prefixLen + len(buf)
}

// appendCapped appends records one at a time, stopping (without
// appending the record that would overflow) the moment the running
// total would exceed ceiling.
func appendCapped(buf []byte, records []dnswire.Record, table *dnswire.CompressionTable, ceiling, prefixLen int) ([]byte, int, bool) {
	count := 0
	for _, rr := range records {
		nb, err := rr.Marshal(buf, table)
		if err != nil || prefixLen+len(nb) > ceiling {
			return buf, count, true
		}
		buf = nb
		count++
	}
	return buf, count, false
}

// responseCeiling returns the maximum byte length a response may
// occupy in RespBuf, counting the TCP length prefix when there is one.
func responseCeiling(q *query.Query, tcpFramed bool) int {
	if tcpFramed {
		return dnswire.MaxMsg
	}
	if q.EDNS.Present {
		return int(q.EDNS.UDPRespLen)
	}
	return dnswire.PacketSize
}

// requestHeaderFields re-derives the id, RD bit, and whether a
// question was successfully decoded, from the already-validated
// request buffer.
func requestHeaderFields(q *query.Query) (id uint16, rd bool, hasQuestion bool) {
	off := 0
	h, err := dnswire.ParseHeader(q.ReqBuf[:q.ReqLen], &off)
	if err != nil {
		return 0, false, false
	}
	return h.ID, h.RD(), q.QName != ""
}
