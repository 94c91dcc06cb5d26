package vloop

import (
	"context"
	"time"

	"github.com/jroosing/vectordns/internal/connmodel"
)

// idleSleepCap bounds any single idle-backoff sleep regardless of the
// configured slowdown tiers (spec §4.E: "idle-sleeps are capped at 10 ms").
const idleSleepCap = 10 * time.Millisecond

// idleTierSize is how many consecutive idle iterations occupy each of
// the three slowdown tiers before advancing to the next.
const idleTierSize = 8

// RunIteration executes the ten pipeline stages plus the post-
// pipeline log/requeue step, the timeout sweep, and the idle-backoff
// sleep, in the fixed order spec §4.E mandates. It returns whether the
// iteration did any real work, for callers that want their own
// accounting on top of the built-in backoff.
func (w *Worker) RunIteration() bool {
	busy := w.stageIntake()

	if w.stageReadiness() {
		busy = true
	}

	w.stageUDPRead()
	w.stageAccept()
	w.stageTCPRead()
	w.stageParse()
	w.stageResolve()
	w.stagePack()
	w.stageUDPWrite()
	w.stageTCPWrite()
	w.stageLog()

	expired := w.sweepTimeouts()
	if expired > 0 {
		busy = true
	}
	w.stageRelease()

	w.idleBackoff(busy)
	return busy
}

// sweepTimeouts walks the TCP LRU oldest-first, pushing every
// connection whose deadline has passed onto the release queue, and
// returns how many it found.
func (w *Worker) sweepTimeouts() int {
	n := 0
	w.lru.Sweep(nowFunc(), func(c *connmodel.Connection) {
		n++
		w.lru.Remove(c)
		w.releaseQ.PushBack(c)
	})
	return n
}

// idleBackoff sleeps according to the three-tier slowdown schedule
// when an iteration did no real work, and resets the idle counter the
// moment one does.
func (w *Worker) idleBackoff(busy bool) {
	if busy {
		w.idleCount = 0
		return
	}
	w.idleCount++

	var d time.Duration
	switch {
	case w.idleCount <= idleTierSize:
		d = w.Cfg.LoopSlowdownOne
	case w.idleCount <= 2*idleTierSize:
		d = w.Cfg.LoopSlowdownTwo
	default:
		d = w.Cfg.LoopSlowdownThree
	}
	if d > idleSleepCap {
		d = idleSleepCap
	}
	if d > 0 {
		time.Sleep(d)
	}
}

// Run drives RunIteration until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.RunIteration()
	}
}
