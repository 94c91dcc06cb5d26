package vloop

import (
	"errors"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/connmodel"
)

// stageUDPWrite is pipeline Stage 9: send every packed response whose
// end_code indicates bytes are ready, for listeners in the write
// queue. A slot with end_code < 0 carries no response and is skipped.
// Partial vector success (some slots sent, one blocks) leaves the
// listener parked at the slot it stopped on; readiness dispatch
// re-enqueues it once the socket is writable again, exactly mirroring
// the read side's WOULDBLOCK handling.
func (w *Worker) stageUDPWrite() {
	for {
		c := w.writeQ.PopFront()
		if c == nil {
			break
		}
		if c.Kind != connmodel.VariantUDPListener {
			continue
		}
		w.writeUDPListener(c)
	}
}

func (w *Worker) writeUDPListener(c *connmodel.Connection) {
	for c.UDPWriteIndex < c.UDPWriteCount {
		q := c.UDPQueries[c.UDPWriteIndex]
		if !q.EndCode.HasResponse() {
			c.UDPWriteIndex++
			continue
		}

		clientAP, err := netip.ParseAddrPort(q.ClientAddrPort)
		if err != nil {
			c.UDPWriteIndex++
			continue
		}
		oob := sourceOOB(c, q.LocalAddrPort)

		if err := unix.Sendmsg(c.FD, q.RespBuf[:q.RespLen], oob, addrPortToSockaddr(clientAP), 0); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				// Don't requeue here: the socket is still full, so the
				// next PopFront would hand this connection straight
				// back and retry the identical Sendmsg forever.
				// dispatchUDPListenerEvent re-enqueues once epoll
				// reports the fd writable again.
				c.WaitingForWrite = true
				return
			}
			w.Metric.UDP.WriteErrors.Add(1)
			w.logApp("worker %d: udp sendmsg: %v", w.ID, err)
			c.UDPWriteIndex++
			continue
		}
		w.Metric.UDP.Sent.Add(1)
		q.SendTime = time.Now()
		c.UDPWriteIndex++
	}
	w.logQ.PushBack(c)
}

// sourceOOB builds the ancillary control message that pins the reply's
// source address to the same local address the request arrived on,
// when that address could be recovered from PKTINFO.
func sourceOOB(c *connmodel.Connection, localAddr string) []byte {
	if localAddr == "" {
		return nil
	}
	ip, err := netip.ParseAddr(localAddr)
	if err != nil {
		return nil
	}
	if c.Family == connmodel.FamilyIPv4 {
		return (&ipv4.ControlMessage{Src: ip.AsSlice()}).Marshal()
	}
	return (&ipv6.ControlMessage{Src: ip.AsSlice()}).Marshal()
}
