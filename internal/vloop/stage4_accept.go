package vloop

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/connmodel"
)

// stageAccept is pipeline Stage 4: accept up to the per-worker burst
// cap, bounded further by the per-worker active-connection cap (spec
// §4.C; the Open Question about tcp_conns_per_vl_max vs
// tcp_listener_max_accept_new_conn is resolved by wiring the former to
// the active-connection cap, as documented).
func (w *Worker) stageAccept() {
	for {
		listener := w.acceptQ.PopFront()
		if listener == nil {
			break
		}
		if listener.Kind != connmodel.VariantTCPListener {
			continue
		}
		w.acceptOnListener(listener)
	}
}

func (w *Worker) acceptOnListener(listener *connmodel.Connection) {
	budget := w.Cfg.TCPListenerMaxAcceptNewConn
	if room := w.Cfg.TCPConnsPerVLMax - w.activeTCP; room < budget {
		budget = room
	}

	for i := 0; i < budget; i++ {
		fd, sa, err := connmodel.AcceptNonblocking(listener.FD)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			w.logApp("worker %d: accept: %v", w.ID, err)
			return
		}

		clientAP, ok := sockaddrToAddrPort(sa)
		if !ok {
			w.Metric.TCP.AcceptRejectedFam.Add(1)
			_ = unix.Close(fd)
			continue
		}
		localSA, err := unix.Getsockname(fd)
		if err != nil {
			w.Metric.TCP.AcceptRejectedFam.Add(1)
			_ = unix.Close(fd)
			continue
		}
		localAP, ok := sockaddrToAddrPort(localSA)
		if !ok {
			w.Metric.TCP.AcceptRejectedFam.Add(1)
			_ = unix.Close(fd)
			continue
		}

		conn := connmodel.NewTCPConn(fd, listener.Family, clientAP, localAP,
			w.Cfg.TCPConnSimultaneousQueries, packetSizeCeiling)

		cid, ok := w.cidAlloc.Allocate()
		if !ok {
			conn.State = connmodel.StateAssignConnIDErr
			w.releaseQ.PushBack(conn)
			continue
		}
		conn.CID = cid
		conn.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPQueryRecvTimeout)

		w.lru.Insert(conn)
		w.activeTCP++
		w.Metric.TCP.Accepted.Add(1)

		if err := w.tcpWaiter.RegisterRead(conn.FD, conn); err != nil {
			w.logApp("worker %d: register tcp conn: %v", w.ID, err)
			w.releaseConnection(conn)
			continue
		}
	}
}
