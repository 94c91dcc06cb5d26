package vloop

import "github.com/jroosing/vectordns/internal/fabric"

// stageIntake is pipeline Stage 1: non-blocking receive on the
// resource and query-log channels. It returns true if either channel
// delivered a message this iteration (used by the idle-backoff
// accounting).
func (w *Worker) stageIntake() bool {
	busy := false

	if msg, ok := w.resourceCh.Requests.TryPop(); ok {
		busy = true
		switch msg.Op {
		case fabric.ResourceOpSet1, fabric.ResourceOpSet2:
			w.resources[msg.Op] = msg.Snapshot
			if !w.resourceCh.Responses.TryPush(fabric.ResourceAck{}) {
				w.logFatal("worker %d: resource ack channel full, cannot acknowledge swap", w.ID)
			}
		default:
			w.logFatal("worker %d: unknown resource channel opcode %v", w.ID, msg.Op)
		}
	}

	if msg, ok := w.querylogCh.Requests.TryPop(); ok {
		busy = true
		switch msg.Op {
		case fabric.QueryLogOpFlip:
			prev := w.queryLogActive
			handoff := w.queryLogBufs[prev]
			next := 1 - prev
			w.queryLogBufs[next] = w.queryLogBufs[next][:0]
			w.queryLogActive = next
			if !w.querylogCh.Responses.TryPush(fabric.QueryLogAck{Buf: handoff}) {
				w.logFatal("worker %d: query-log ack channel full, cannot acknowledge flip", w.ID)
			}
		default:
			w.logFatal("worker %d: unknown query-log channel opcode %v", w.ID, msg.Op)
		}
	}

	return busy
}

// activeQueryLogBuf returns the buffer new log lines are appended to.
func (w *Worker) activeQueryLogBuf() []byte { return w.queryLogBufs[w.queryLogActive] }

func (w *Worker) appendQueryLogBuf(b []byte) {
	w.queryLogBufs[w.queryLogActive] = append(w.queryLogBufs[w.queryLogActive], b...)
}
