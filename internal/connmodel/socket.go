package connmodel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ListenerConfig carries the socket-level knobs from Config needed to
// create one listener (spec §4.C "UDP listener creation").
type ListenerConfig struct {
	Family      Family
	Port        int
	RecvBufSize int
	SendBufSize int
	Backlog     int // TCP only
}

// NewUDPSocket creates, configures, and binds a non-blocking UDP
// socket for the given family: SO_RCVBUF/SO_SNDBUF from cfg,
// SO_REUSEADDR/SO_REUSEPORT, and IP_PKTINFO (IPv4) or
// IPV6_V6ONLY+IPV6_RECVPKTINFO (IPv6), so the destination address of
// each datagram can be recovered from the ancillary control message
// on read.
func NewUDPSocket(cfg ListenerConfig) (fd int, err error) {
	domain := unix.AF_INET
	if cfg.Family == FamilyIPv6 {
		domain = unix.AF_INET6
	}
	fd, err = unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := configureCommon(fd, cfg); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if cfg.Family == FamilyIPv4 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("IP_PKTINFO: %w", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port}); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	} else {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("IPV6_V6ONLY: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("IPV6_RECVPKTINFO: %w", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet6{Port: cfg.Port}); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	}
	return fd, nil
}

// NewTCPListenerSocket creates, configures, binds, and marks listening
// a non-blocking TCP socket for the given family.
func NewTCPListenerSocket(cfg ListenerConfig) (fd int, err error) {
	domain := unix.AF_INET
	if cfg.Family == FamilyIPv6 {
		domain = unix.AF_INET6
	}
	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := configureCommon(fd, cfg); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if cfg.Family == FamilyIPv4 {
		if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port}); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	} else {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("IPV6_V6ONLY: %w", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet6{Port: cfg.Port}); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func configureCommon(fd int, cfg ListenerConfig) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblocking: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("SO_REUSEPORT: %w", err)
	}
	if cfg.RecvBufSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufSize); err != nil {
			return fmt.Errorf("SO_RCVBUF: %w", err)
		}
	}
	if cfg.SendBufSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufSize); err != nil {
			return fmt.Errorf("SO_SNDBUF: %w", err)
		}
	}
	return nil
}

// AcceptNonblocking accepts one pending connection off a non-blocking
// TCP listener fd, returning the new fd and its peer sockaddr, or
// unix.EAGAIN when none is pending.
func AcceptNonblocking(listenerFD int) (fd int, sa unix.Sockaddr, err error) {
	fd, sa, err = unix.Accept(listenerFD)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("set nonblocking: %w", err)
	}
	return fd, sa, nil
}
