package vloop

import (
	"net/netip"
	"testing"

	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawQuery(t *testing.T, flags uint16, qdcount, ancount, nscount uint16, withQuestion bool, name string, qtype dnswire.RType) []byte {
	t.Helper()
	h := dnswire.Header{ID: 0x1FF9, Flags: flags, QDCount: qdcount, ANCount: ancount, NSCount: nscount}
	buf := h.Marshal()
	if withQuestion {
		table := dnswire.NewCompressionTable()
		q := dnswire.Question{Name: name, Type: qtype, Class: dnswire.ClassIN}
		nb, err := q.Marshal(buf, table)
		require.NoError(t, err)
		buf = nb
	}
	return buf
}

func newUDPQueryWith(t *testing.T, raw []byte) *query.Query {
	t.Helper()
	q := query.NewUDP()
	require.LessOrEqual(t, len(raw), len(q.ReqBuf))
	copy(q.ReqBuf, raw)
	q.ReqLen = len(raw)
	return q
}

func TestParseOne_BasicAQuery(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagRD, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	assert.Equal(t, query.EndCodeInFlight, q.EndCode)
	assert.Equal(t, "www.example.com", q.QName)
	assert.Equal(t, dnswire.TypeA, q.QType)
	assert.Equal(t, dnswire.ClassIN, q.QClass)
}

func TestParseOne_ShortHeader(t *testing.T) {
	q := newUDPQueryWith(t, []byte{0x00, 0x01})
	parseOne(q)
	assert.Equal(t, query.EndCodeShortHeader, q.EndCode)
}

func TestParseOne_RequestTCDropped(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagTC, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCodeRequestTC, q.EndCode)
}

func TestParseOne_UnsupportedOpcodeNotImpl(t *testing.T) {
	flags := uint16(dnswire.OpcodeIQuery) << 11
	raw := rawQuery(t, flags, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCode(dnswire.RCodeNotImp), q.EndCode)
}

func TestParseOne_QRSetFormErr(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagQR, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestParseOne_ZeroQuestionsFormErr(t *testing.T) {
	raw := rawQuery(t, 0, 0, 0, 0, false, "", 0)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestParseOne_MultipleQuestionsNotImpl(t *testing.T) {
	raw := rawQuery(t, 0, 2, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCode(dnswire.RCodeNotImp), q.EndCode)
}

func TestParseOne_UnsupportedTypeNotImpl(t *testing.T) {
	raw := rawQuery(t, 0, 1, 0, 0, true, "www.example.com", dnswire.TypeCNAME)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	assert.Equal(t, query.EndCode(dnswire.RCodeNotImp), q.EndCode)
}

func TestPackOne_BasicAQueryNoEDNS(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagRD, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	require.Equal(t, query.EndCodeInFlight, q.EndCode)

	q.Answers, _ = query.AppendSection(q.Answers, dnswire.Record{
		Name: q.QName, Type: dnswire.TypeA, Class: dnswire.ClassIN, TTL: 60,
		Data: netip.MustParseAddr("127.0.0.1"),
	}, dnswire.MaxAnswers)
	q.EndCode = query.EndCode(dnswire.RCodeNoError)

	packOne(q, false)

	require.True(t, q.EndCode.HasResponse())
	require.Greater(t, q.RespLen, dnswire.HeaderSize)

	off := 0
	h, err := dnswire.ParseHeader(q.RespBuf[:q.RespLen], &off)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1FF9), h.ID)
	assert.True(t, h.QR())
	assert.True(t, h.RD())
	assert.False(t, h.TC())
	assert.Equal(t, dnswire.RCodeNoError, h.RCode())
	assert.Equal(t, uint16(1), h.ANCount)
}

func TestPackOne_BadVersSetsExtendedRCode(t *testing.T) {
	raw := rawQuery(t, 0, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	q.QName, q.QType, q.QClass = "www.example.com", dnswire.TypeA, dnswire.ClassIN
	q.EDNS = query.EDNSState{Present: true, Valid: false, Version: 1, UDPRespLen: dnswire.PacketSize}
	q.EndCode = query.EndCodeBadVers

	packOne(q, false)

	off := 0
	h, err := dnswire.ParseHeader(q.RespBuf[:q.RespLen], &off)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNoError, h.RCode()) // base nibble is 0; extension lives in OPT TTL

	pkt, err := dnswire.ParsePacket(q.RespBuf[:q.RespLen])
	require.NoError(t, err)
	opt := dnswire.ExtractOPT(pkt.Additionals)
	require.NotNil(t, opt)
	assert.Equal(t, uint8(1), opt.ExtendedRCode) // BADVERS (16) >> 4
}

func TestPackOne_NoResponseSkipsEmptyBuffer(t *testing.T) {
	q := query.NewUDP()
	q.EndCode = query.EndCodeRequestTC
	packOne(q, false)
	assert.Equal(t, 0, q.RespLen)
}

func TestPackOne_TCPFramedPrependsLengthPrefix(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagRD, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := query.NewTCP()
	q.ReqBuf = raw
	q.ReqLen = len(raw)
	parseOne(q)
	q.EndCode = query.EndCode(dnswire.RCodeNoError)

	packOne(q, true)

	require.GreaterOrEqual(t, q.RespLen, 2)
	prefixed := int(q.RespBuf[0])<<8 | int(q.RespBuf[1])
	assert.Equal(t, q.RespLen-2, prefixed)
}
