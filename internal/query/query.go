package query

import (
	"fmt"
	"time"

	"github.com/jroosing/vectordns/internal/dnswire"
)

// Kind distinguishes the two slot shapes a Query can occupy, which
// governs request-buffer ownership and response-buffer growth ceiling.
type Kind int

const (
	KindUDP Kind = iota
	KindTCP
)

// udpReqBufSize is PACKETSZ+1: one byte larger than the historic UDP
// message ceiling so an oversized datagram shows up as a read of
// PacketSize+1 bytes and is rejected with EndCodeDatagramTooLarge
// rather than being silently truncated to PacketSize.
const udpReqBufSize = dnswire.PacketSize + 1

// EDNSState holds the EDNS(0)/Client Subnet fields parsed for one query.
type EDNSState struct {
	Present       bool
	Valid         bool
	Version       uint8
	UDPRespLen    uint16
	DO            bool
	ExtendedRCode uint8
	ClientSubnet  *dnswire.ClientSubnet
}

// Query is allocated once per UDP vector slot or per TCP simultaneous-
// query slot and reset (never freed) between uses.
type Query struct {
	Kind Kind

	// ReqBuf is the request bytes: an owned fixed array for UDP, a
	// slice view into the owning TCP connection's read buffer for TCP.
	ReqBuf []byte
	ReqLen int

	// RespBuf is owned by the Query and grows on demand, capped at
	// UDPMaxMsg for a UDP slot or MaxMsg for a TCP slot.
	RespBuf []byte
	RespLen int

	QName  string
	QType  dnswire.RType
	QClass dnswire.RClass

	EDNS EDNSState

	Answers     []dnswire.Record
	Authorities []dnswire.Record
	Additionals []dnswire.Record

	Compression *dnswire.CompressionTable

	RecvTime time.Time
	SendTime time.Time

	EndCode EndCode

	// ClientAddrPort/LocalAddrPort are filled in by the UDP read stage
	// (from msg_name and the PKTINFO ancillary message) or by TCP
	// framing (from the connection's own addresses).
	ClientAddrPort string
	LocalAddrPort  string
}

// NewUDP allocates a Query for a UDP vector slot: a fixed 513-byte
// owned request buffer and a response buffer pre-sized to UDPMaxMsg.
func NewUDP() *Query {
	return &Query{
		Kind:        KindUDP,
		ReqBuf:      make([]byte, udpReqBufSize),
		RespBuf:     make([]byte, 0, dnswire.UDPMaxMsg),
		Compression: dnswire.NewCompressionTable(),
		EndCode:     EndCodeInFlight,
	}
}

// NewTCP allocates a Query for a TCP simultaneous-query slot. ReqBuf
// is left nil; the owning connection assigns it as a view into its
// own read buffer before each parse.
func NewTCP() *Query {
	return &Query{
		Kind:        KindTCP,
		RespBuf:     make([]byte, 0, dnswire.UDPMaxMsg),
		Compression: dnswire.NewCompressionTable(),
		EndCode:     EndCodeInFlight,
	}
}

// Reset zeroes parsed fields, section counts, end_code, and the
// compression table, preserving the owning buffers (and their
// capacity) for reuse.
func (q *Query) Reset() {
	q.ReqLen = 0
	q.RespBuf = q.RespBuf[:0]
	q.RespLen = 0
	q.QName = ""
	q.QType = 0
	q.QClass = 0
	q.EDNS = EDNSState{}
	q.Answers = q.Answers[:0]
	q.Authorities = q.Authorities[:0]
	q.Additionals = q.Additionals[:0]
	q.Compression.Reset()
	q.RecvTime = time.Time{}
	q.SendTime = time.Time{}
	q.EndCode = EndCodeInFlight
	q.ClientAddrPort = ""
	q.LocalAddrPort = ""
	if q.Kind == KindTCP {
		q.ReqBuf = nil
	}
}

// respCeiling returns the maximum RespBuf capacity permitted for this
// slot's kind.
func (q *Query) respCeiling() int {
	if q.Kind == KindUDP {
		return dnswire.UDPMaxMsg
	}
	return dnswire.MaxMsg
}

// GrowResponse ensures RespBuf has at least n bytes of capacity,
// growing in UDPMaxMsg increments up to the slot's ceiling. It
// returns an error if n exceeds that ceiling.
func (q *Query) GrowResponse(n int) error {
	ceiling := q.respCeiling()
	if n > ceiling {
		return fmt.Errorf("response of %d bytes exceeds ceiling of %d", n, ceiling)
	}
	if cap(q.RespBuf) >= n {
		return nil
	}
	newCap := cap(q.RespBuf)
	if newCap == 0 {
		newCap = dnswire.UDPMaxMsg
	}
	for newCap < n {
		newCap += dnswire.UDPMaxMsg
		if newCap > ceiling {
			newCap = ceiling
		}
	}
	grown := make([]byte, len(q.RespBuf), newCap)
	copy(grown, q.RespBuf)
	q.RespBuf = grown
	return nil
}

// AppendSection bounds-checks before appending a record to one of the
// three answer sections, per the fixed array bounds of spec §3.
func AppendSection(section []dnswire.Record, rr dnswire.Record, max int) ([]dnswire.Record, bool) {
	if len(section) >= max {
		return section, false
	}
	return append(section, rr), true
}
