package vloop

import (
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
)

// stageParse is pipeline Stage 6: the eight-item validation state
// machine. Every slot on the parse queue (UDP listeners carrying
// filled vector slots, or TCP connections carrying freshly framed
// queries) has each in-flight query validated and either resolved to
// a terminal end_code here or left at EndCodeInFlight for Stage 7.
func (w *Worker) stageParse() {
	for {
		c := w.parseQ.PopFront()
		if c == nil {
			break
		}
		switch c.Kind {
		case connmodel.VariantUDPListener:
			for i := 0; i < c.UDPWriteCount; i++ {
				parseOne(c.UDPQueries[i])
			}
		case connmodel.VariantTCPConn:
			for i := 0; i < c.QueryCount; i++ {
				parseOne(c.Queries[i])
			}
		}
		w.resolveQ.PushBack(c)
	}
}

// parseOne runs the eight validation steps against one already-sliced
// request buffer, filling QName/QType/QClass/EDNS on success and
// setting a terminal EndCode on any failure.
func parseOne(q *query.Query) {
	msg := q.ReqBuf[:q.ReqLen]

	// 1. header length, and a datagram longer than PacketSize.
	if len(msg) < dnswire.HeaderSize {
		q.EndCode = query.EndCodeShortHeader
		return
	}
	if len(msg) > dnswire.PacketSize {
		q.EndCode = query.EndCodeDatagramTooLarge
		return
	}

	off := 0
	h, err := dnswire.ParseHeader(msg, &off)
	if err != nil {
		q.EndCode = query.EndCodeShortHeader
		return
	}

	// 2. TC bit set on a request is malformed and draws no response.
	if h.TC() {
		q.EndCode = query.EndCodeRequestTC
		return
	}

	// 3. opcode must be QUERY.
	if dnswire.OpcodeFromFlags(h.Flags) != dnswire.OpcodeQuery {
		q.EndCode = query.EndCode(dnswire.RCodeNotImp)
		return
	}

	// 4. QR must be unset (a request, not a response).
	if h.QR() {
		q.EndCode = query.EndCode(dnswire.RCodeFormErr)
		return
	}

	// 5. exactly one question, no answer/authority records.
	switch {
	case h.QDCount == 0:
		q.EndCode = query.EndCode(dnswire.RCodeFormErr)
		return
	case h.QDCount > 1:
		q.EndCode = query.EndCode(dnswire.RCodeNotImp)
		return
	case h.ANCount != 0 || h.NSCount != 0:
		q.EndCode = query.EndCode(dnswire.RCodeFormErr)
		return
	}

	question, err := dnswire.ParseQuestion(msg, &off)
	if err != nil {
		q.EndCode = query.EndCode(dnswire.RCodeFormErr)
		return
	}

	// 6. supported type/class set.
	if question.Type != dnswire.TypeA || question.Class != dnswire.ClassIN {
		q.EndCode = query.EndCode(dnswire.RCodeNotImp)
		return
	}
	q.QName = question.Name
	q.QType = question.Type
	q.QClass = question.Class

	// 7. additionals: scan for a single OPT record.
	if h.ARCount > 0 {
		additionals, _, err := parseAdditionals(msg, off, h.ARCount)
		if err != nil {
			q.EndCode = query.EndCode(dnswire.RCodeFormErr)
			return
		}
		if opt := dnswire.ExtractOPT(additionals); opt != nil {
			q.EDNS.Present = true
			q.EDNS.UDPRespLen = uint16(dnswire.NegotiateUDPSize(opt.UDPPayloadSize))
			q.EDNS.DO = opt.DNSSECOK
			if err := dnswire.CheckVersion(opt.Version); err != nil {
				q.EDNS.Valid = false
				q.EDNS.Version = opt.Version
				q.EDNS.UDPRespLen = dnswire.PacketSize
				q.EndCode = query.EndCodeBadVers
				return
			}
			q.EDNS.Valid = true
			q.EDNS.Version = opt.Version
			for _, o := range opt.Options {
				if o.Code == dnswire.OptCodeClientSubnet {
					cs, err := dnswire.ParseClientSubnet(o.Data)
					if err != nil {
						q.EndCode = query.EndCode(dnswire.RCodeFormErr)
						return
					}
					q.EDNS.ClientSubnet = &cs
				}
			}
		}
	}

	// 8. any trailing unaccounted bytes are silently ignored.
	q.EndCode = query.EndCodeInFlight
}

// parseAdditionals decodes only the additional section, capped at the
// same ceiling dnswire.ParsePacket enforces.
func parseAdditionals(msg []byte, off int, count uint16) ([]dnswire.Record, int, error) {
	if int(count) > dnswire.MaxAdditionals {
		return nil, off, dnswire.ErrWire
	}
	out := make([]dnswire.Record, 0, count)
	for i := 0; i < int(count); i++ {
		rr, err := dnswire.ParseRecord(msg, &off)
		if err != nil {
			return nil, off, err
		}
		out = append(out, rr)
	}
	return out, off, nil
}
