package vloop

import (
	"errors"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/connmodel"
)

// oobBufSize comfortably holds one IP_PKTINFO or IPV6_PKTINFO
// ancillary message plus cmsg header alignment padding.
const oobBufSize = 128

// stageUDPRead is pipeline Stage 3: drain up to udp_conn_vector_len
// datagrams per UDP listener in the read queue. Rather than a single
// recvmmsg syscall, each slot is filled by its own non-blocking
// Recvmsg call; this keeps every packet's ancillary PKTINFO control
// message and source sockaddr handling identical to the single-
// message path while still bounding one stage to V datagrams and
// still reading to WOULDBLOCK before giving up the edge.
func (w *Worker) stageUDPRead() {
	for {
		c := w.readQ.PopFront()
		if c == nil {
			break
		}
		if c.Kind != connmodel.VariantUDPListener {
			continue
		}
		w.readUDPListener(c)
	}
}

func (w *Worker) readUDPListener(c *connmodel.Connection) {
	var oob [oobBufSize]byte
	filled := 0
	now := time.Now()

	for filled < len(c.UDPQueries) {
		q := c.UDPQueries[filled]
		n, oobn, _, from, err := unix.Recvmsg(c.FD, q.ReqBuf, oob[:], 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				c.WaitingForRead = true
				break
			}
			w.Metric.UDP.ReadErrors.Add(1)
			w.logApp("worker %d: udp recvmsg: %v", w.ID, err)
			break
		}
		w.Metric.UDP.Received.Add(1)
		q.Reset()
		q.ReqLen = n
		q.RecvTime = now

		if ap, ok := sockaddrToAddrPort(from); ok {
			q.ClientAddrPort = ap.String()
		}
		q.LocalAddrPort = localAddrFromOOB(c, oob[:oobn])

		filled++
	}

	if filled == 0 {
		return
	}
	c.UDPWriteIndex = 0
	c.UDPWriteCount = filled
	w.parseQ.PushBack(c)
}

// localAddrFromOOB recovers the datagram's destination address from
// the IP_PKTINFO/IPV6_PKTINFO ancillary message so responses can be
// sourced from the same local address on multi-homed listeners.
func localAddrFromOOB(c *connmodel.Connection, oob []byte) string {
	if c.Family == connmodel.FamilyIPv4 {
		var cm ipv4.ControlMessage
		if err := cm.Parse(oob); err == nil && cm.Dst != nil {
			return cm.Dst.String()
		}
	} else {
		var cm ipv6.ControlMessage
		if err := cm.Parse(oob); err == nil && cm.Dst != nil {
			return cm.Dst.String()
		}
	}
	return ""
}
