package vloop

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// sockaddrToAddrPort converts a raw accept/recvmsg sockaddr into the
// allocation-free netip.AddrPort representation used throughout
// internal/connmodel and internal/query.
func sockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}

// addrPortToSockaddr is the inverse of sockaddrToAddrPort, used to
// target a Sendmsg at a query's client address.
func addrPortToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}
