package vloop

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
)

// rawQueryWithOPT builds a raw request packet with a single question
// and a single OPT additional record carrying optData as its RDATA.
func rawQueryWithOPT(t *testing.T, optData []byte) []byte {
	t.Helper()
	h := dnswire.Header{ID: 0x1FF9, Flags: dnswire.FlagRD, QDCount: 1, ARCount: 1}
	buf := h.Marshal()
	table := dnswire.NewCompressionTable()

	q := dnswire.Question{Name: "www.example.com", Type: dnswire.TypeA, Class: dnswire.ClassIN}
	nb, err := q.Marshal(buf, table)
	require.NoError(t, err)
	buf = nb

	opt := dnswire.OPT{UDPPayloadSize: dnswire.UDPMaxMsg}
	if optData != nil {
		opt.Options = []dnswire.EDNSOption{{Code: dnswire.OptCodeClientSubnet, Data: optData}}
	}
	rec := opt.ToRecord()
	nb, err = rec.Marshal(buf, table)
	require.NoError(t, err)
	return nb
}

func clientSubnetOptData(t *testing.T, cs dnswire.ClientSubnet) []byte {
	t.Helper()
	return cs.Marshal()
}

func TestParseOne_ClientSubnetValidIsParsed(t *testing.T) {
	cs := dnswire.ClientSubnet{
		Family:    dnswire.ClientSubnetFamilyIPv4,
		SourcePfx: 24,
		ScopePfx:  0,
		Address:   netip.MustParseAddr("203.0.113.0"),
	}
	raw := rawQueryWithOPT(t, clientSubnetOptData(t, cs))
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	require.Equal(t, query.EndCodeInFlight, q.EndCode)
	require.NotNil(t, q.EDNS.ClientSubnet)
	assert.Equal(t, cs.Family, q.EDNS.ClientSubnet.Family)
	assert.Equal(t, cs.SourcePfx, q.EDNS.ClientSubnet.SourcePfx)
	assert.Equal(t, uint8(0), q.EDNS.ClientSubnet.ScopePfx)
	assert.Equal(t, cs.Address, q.EDNS.ClientSubnet.Address)
}

func TestParseOne_ClientSubnetBadFamilyFormErr(t *testing.T) {
	// family=99 is neither IPv4 (1) nor IPv6 (2).
	data := []byte{0x00, 0x63, 24, 0, 203, 0, 113}
	raw := rawQueryWithOPT(t, data)
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestParseOne_ClientSubnetNonZeroScopeFormErr(t *testing.T) {
	data := []byte{0x00, 0x01, 24, 1, 203, 0, 113}
	raw := rawQueryWithOPT(t, data)
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestParseOne_ClientSubnetLengthMismatchFormErr(t *testing.T) {
	// source prefix 24 needs 3 address bytes; only 2 supplied.
	data := []byte{0x00, 0x01, 24, 0, 203, 0}
	raw := rawQueryWithOPT(t, data)
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestParseOne_ClientSubnetTrailingBitsSetFormErr(t *testing.T) {
	// source prefix 20 bits: the low 4 bits of the third address byte
	// must be zero, but 0x0F sets them.
	data := []byte{0x00, 0x01, 20, 0, 203, 0, 0x0F}
	raw := rawQueryWithOPT(t, data)
	q := newUDPQueryWith(t, raw)

	parseOne(q)

	assert.Equal(t, query.EndCode(dnswire.RCodeFormErr), q.EndCode)
}

func TestPackOne_ClientSubnetEchoedWithScopeZero(t *testing.T) {
	cs := dnswire.ClientSubnet{
		Family:    dnswire.ClientSubnetFamilyIPv4,
		SourcePfx: 24,
		ScopePfx:  0,
		Address:   netip.MustParseAddr("203.0.113.0"),
	}
	raw := rawQueryWithOPT(t, clientSubnetOptData(t, cs))
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	require.Equal(t, query.EndCodeInFlight, q.EndCode)
	require.NotNil(t, q.EDNS.ClientSubnet)

	q.EndCode = query.EndCode(dnswire.RCodeNoError)
	packOne(q, false)
	require.True(t, q.EndCode.HasResponse())

	pkt, err := dnswire.ParsePacket(q.RespBuf[:q.RespLen])
	require.NoError(t, err)

	opt := dnswire.ExtractOPT(pkt.Additionals)
	require.NotNil(t, opt)
	require.Len(t, opt.Options, 1)
	assert.Equal(t, uint16(dnswire.OptCodeClientSubnet), opt.Options[0].Code)

	echoed, err := dnswire.ParseClientSubnet(opt.Options[0].Data)
	require.NoError(t, err)
	assert.Equal(t, cs.Family, echoed.Family)
	assert.Equal(t, cs.SourcePfx, echoed.SourcePfx)
	assert.Equal(t, uint8(0), echoed.ScopePfx)
	assert.Equal(t, cs.Address, echoed.Address)
}

func TestPackOne_NoClientSubnetNoOptionsEmitted(t *testing.T) {
	raw := rawQuery(t, dnswire.FlagRD, 1, 0, 0, true, "www.example.com", dnswire.TypeA)
	q := newUDPQueryWith(t, raw)
	parseOne(q)
	require.Equal(t, query.EndCodeInFlight, q.EndCode)

	q.EDNS.Present = true
	q.EDNS.UDPRespLen = dnswire.UDPMaxMsg
	q.EndCode = query.EndCode(dnswire.RCodeNoError)
	packOne(q, false)

	pkt, err := dnswire.ParsePacket(q.RespBuf[:q.RespLen])
	require.NoError(t, err)
	opt := dnswire.ExtractOPT(pkt.Additionals)
	require.NotNil(t, opt)
	assert.Empty(t, opt.Options)
}
