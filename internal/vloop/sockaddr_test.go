package vloop

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestSockaddrRoundTrip_V4(t *testing.T) {
	ap := netip.MustParseAddrPort("192.0.2.7:5353")
	sa := addrPortToSockaddr(ap)

	got, ok := sockaddrToAddrPort(sa)
	require.True(t, ok)
	assert.Equal(t, ap, got)
}

func TestSockaddrRoundTrip_V6(t *testing.T) {
	ap := netip.MustParseAddrPort("[2001:db8::1]:53")
	sa := addrPortToSockaddr(ap)

	got, ok := sockaddrToAddrPort(sa)
	require.True(t, ok)
	assert.Equal(t, ap, got)
}

func TestSockaddrToAddrPort_UnknownFamily(t *testing.T) {
	_, ok := sockaddrToAddrPort(&unix.SockaddrUnix{Name: "/tmp/x"})
	assert.False(t, ok)
}
