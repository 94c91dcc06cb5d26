package vloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/config"
	"github.com/jroosing/vectordns/internal/connmodel"
)

// packetSizeCeiling bounds a single TCP-framed query the same way the
// historic UDP maximum does; oversize queries are rejected in Stage 5
// rather than grown without limit.
const packetSizeCeiling = config.PacketSize

// nowFunc is overridden in tests that need deterministic timeout math.
var nowFunc = time.Now

// stageRelease is the release stage: every terminal TCP connection
// queued this iteration is counted, has its fd closed, and is then
// evicted from the LRU and unregistered.
func (w *Worker) stageRelease() {
	for {
		c := w.releaseQ.PopFront()
		if c == nil {
			break
		}
		w.releaseConnection(c)
	}
}

// releaseConnection tears down a single TCP connection. It is also
// called directly (outside the release queue) when a connection fails
// before it is ever registered for readiness.
func (w *Worker) releaseConnection(c *connmodel.Connection) {
	if c.Kind != connmodel.VariantTCPConn {
		return
	}
	w.Metric.RecordTCPTerminal(c.State)
	_ = unix.Close(c.FD)
	w.readQ.Remove(c)
	w.writeQ.Remove(c)

	// A connection that failed cid assignment was never registered,
	// inserted into the LRU, or counted toward activeTCP.
	if c.State == connmodel.StateAssignConnIDErr {
		return
	}
	if _, ok := w.lru.Get(c.CID); ok {
		w.lru.Remove(c)
	}
	_ = w.tcpWaiter.Unregister(c.FD)
	if w.activeTCP > 0 {
		w.activeTCP--
	}
}
