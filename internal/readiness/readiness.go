// Package readiness wraps Linux epoll in edge-triggered mode to give
// each vector-loop worker a non-blocking "what is ready" query over
// its file descriptors (spec §4.D).
package readiness

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventMask reports which directions are ready on a file descriptor.
type EventMask uint8

const (
	EventRead EventMask = 1 << iota
	EventWrite
)

// Event is one readiness notification. Token is the opaque value
// supplied at registration time — in practice a *connmodel.Connection
// — and is returned as-is so the caller can dispatch without an
// intermediate fd-to-connection lookup of its own.
type Event struct {
	Token any
	Mask  EventMask
}

// Waiter owns one epoll instance and the registered fd-to-token
// mapping. A worker keeps two: one for UDP fds, one for TCP fds (spec
// §4.D: "two independent edge-triggered waiters").
type Waiter struct {
	epfd     int
	tokens   map[int]any
	eventBuf []unix.EpollEvent
}

// NewWaiter creates an epoll instance with room for maxEvents per Wait call.
func NewWaiter(maxEvents int) (*Waiter, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Waiter{
		epfd:     epfd,
		tokens:   make(map[int]any),
		eventBuf: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// RegisterRead arms fd for edge-triggered read readiness.
func (w *Waiter) RegisterRead(fd int, token any) error {
	return w.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN|unix.EPOLLET, token)
}

// RegisterReadWrite arms fd for edge-triggered read and write readiness.
func (w *Waiter) RegisterReadWrite(fd int, token any) error {
	return w.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLET, token)
}

// Unregister disarms fd. Safe to call even if fd was never registered
// with this waiter (the epoll_ctl error is still surfaced, since a
// caller unregistering an fd it believes is live wants to know).
func (w *Waiter) Unregister(fd int) error {
	delete(w.tokens, fd)
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

func (w *Waiter) ctl(op, fd int, events uint32, token any) error {
	w.tokens[fd] = token
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, op, fd, &ev); err != nil {
		delete(w.tokens, fd)
		return fmt.Errorf("epoll_ctl(%d, %d): %w", op, fd, err)
	}
	return nil
}

// Wait polls for ready fds with a zero timeout (non-blocking, per
// spec §4.D) and returns up to maxEvents notifications.
func (w *Waiter) Wait(maxEvents int) ([]Event, error) {
	if maxEvents > len(w.eventBuf) {
		maxEvents = len(w.eventBuf)
	}
	n, err := unix.EpollWait(w.epfd, w.eventBuf[:maxEvents], 0)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := w.eventBuf[i]
		token, ok := w.tokens[int(ev.Fd)]
		if !ok {
			continue // raced with Unregister; drop silently
		}
		var mask EventMask
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= EventWrite
		}
		out = append(out, Event{Token: token, Mask: mask})
	}
	return out, nil
}

// Close releases the epoll instance.
func (w *Waiter) Close() error {
	return unix.Close(w.epfd)
}
