package vloop

import (
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/readiness"
)

// stageReadiness is pipeline Stage 2: drain both waiters and dispatch
// each event by the token's connection kind. Returns true if any
// event was delivered.
func (w *Worker) stageReadiness() bool {
	busy := false

	udpEvents, err := w.udpWaiter.Wait(w.Cfg.EpollNumEventsUDP)
	if err != nil {
		w.logApp("worker %d: udp readiness wait: %v", w.ID, err)
	}
	for _, ev := range udpEvents {
		busy = true
		c := ev.Token.(*connmodel.Connection)
		w.dispatchUDPListenerEvent(c, ev)
	}

	tcpEvents, err := w.tcpWaiter.Wait(w.Cfg.EpollNumEventsTCP)
	if err != nil {
		w.logApp("worker %d: tcp readiness wait: %v", w.ID, err)
	}
	for _, ev := range tcpEvents {
		busy = true
		c := ev.Token.(*connmodel.Connection)
		w.dispatchTCPEvent(c, ev)
	}

	return busy
}

func (w *Worker) dispatchUDPListenerEvent(c *connmodel.Connection, ev readiness.Event) {
	if ev.Mask&readiness.EventRead != 0 {
		c.WaitingForRead = false
		w.readQ.PushBack(c)
	}
	if ev.Mask&readiness.EventWrite != 0 {
		c.WaitingForWrite = false
		w.writeQ.PushBack(c)
	}
}

func (w *Worker) dispatchTCPEvent(c *connmodel.Connection, ev readiness.Event) {
	switch c.Kind {
	case connmodel.VariantTCPListener:
		if ev.Mask&readiness.EventRead != 0 {
			w.acceptQ.PushBack(c)
		}
	case connmodel.VariantTCPConn:
		if ev.Mask&readiness.EventRead != 0 {
			c.WaitingForRead = false
			w.readQ.PushBack(c)
		}
		if ev.Mask&readiness.EventWrite != 0 {
			c.WaitingForWrite = false
			w.writeQ.PushBack(c)
		}
	}
}
