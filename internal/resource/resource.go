// Package resource implements the resource reloader: the auxiliary
// thread that watches a small, fixed set of on-disk resources for
// change, loads a replacement snapshot, and swaps it into every
// worker behind a barrier that waits for every worker to acknowledge
// adoption before releasing the old snapshot (spec §4.G).
//
// The package is deliberately agnostic about what a "resource" is —
// each Descriptor supplies its own Load function, so the reloader
// itself never parses a zone file or a blocklist. cmd/vectordnsd
// currently registers no descriptors.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jroosing/vectordns/internal/fabric"
	"github.com/jroosing/vectordns/internal/metrics"
)

// LoadFunc reads path and returns a freshly allocated, immutable
// snapshot, or an error if the file could not be read or parsed.
type LoadFunc func(path string) (any, error)

// Descriptor is one entry in the resource reloader's array (spec
// §4.G: "{name, filepath, update_frequency, next_update, current,
// incoming, check_load, release}"). release has no Go analogue: the
// garbage collector reclaims the old snapshot once current is
// reassigned and nothing else references it.
type Descriptor struct {
	Name            string
	Filepath        string
	UpdateFrequency time.Duration
	Load            LoadFunc
}

// ackTimeout is the spec's fixed one-second barrier deadline,
// overridable in tests that need to exercise the fatal path quickly.
var ackTimeout = time.Second

type phase int

const (
	phaseCheck phase = iota
	phaseWaitForUpdate
	phaseNext
)

type slot struct {
	desc Descriptor
	op   fabric.ResourceOp

	known   bool
	modTime time.Time

	current  any
	incoming any

	nextUpdate time.Time
}

func (s *slot) checkLoad() int {
	fi, err := os.Stat(s.desc.Filepath)
	if err != nil {
		return -1
	}
	if s.known && !fi.ModTime().After(s.modTime) {
		return 0
	}
	v, err := s.desc.Load(s.desc.Filepath)
	if err != nil {
		return -1
	}
	s.incoming = v
	s.modTime = fi.ModTime()
	s.known = true
	return 1
}

// Reloader drives the CHECK -> WAIT_FOR_UPDATE -> NEXT state machine
// across every registered resource, one at a time, against a fixed
// set of per-worker resource channels (one Channel per vector-loop
// worker, all wired to the same two ResourceOp slots).
type Reloader struct {
	log    *slog.Logger
	metric *metrics.Metrics
	appLog *fabric.Ring[fabric.AppLogMsg]

	channels []*fabric.Channel[fabric.ResourceMsg, fabric.ResourceAck]
	slots    []*slot

	active       *slot
	phase        phase
	swapDeadline time.Time
	pending      []bool
}

// New builds a reloader over descs (at most two, one per ResourceOp
// the fabric's channel supports) broadcasting to channels, one per
// worker. Every descriptor's first check runs immediately.
func New(log *slog.Logger, m *metrics.Metrics, appLog *fabric.Ring[fabric.AppLogMsg], channels []*fabric.Channel[fabric.ResourceMsg, fabric.ResourceAck], descs []Descriptor) (*Reloader, error) {
	if len(descs) > 2 {
		return nil, fmt.Errorf("resource: at most 2 descriptors supported, got %d", len(descs))
	}
	now := time.Now()
	slots := make([]*slot, len(descs))
	for i, d := range descs {
		slots[i] = &slot{desc: d, op: fabric.ResourceOp(i), nextUpdate: now}
	}
	r := &Reloader{
		log:      log,
		metric:   m,
		appLog:   appLog,
		channels: channels,
		slots:    slots,
		phase:    phaseCheck,
		pending:  make([]bool, len(channels)),
	}
	r.active = r.earliestDue()
	return r, nil
}

// Run drives the reloader until ctx is canceled. Each call into tick
// may block briefly: CHECK/WAIT_FOR_UPDATE never sleep, but NEXT
// sleeps until the next resource's deadline, per spec §4.G.
func (r *Reloader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !r.tick(ctx) {
			return
		}
	}
}

// tick advances the state machine by one phase. It returns false only
// when ctx was canceled mid-sleep, so Run can exit promptly.
func (r *Reloader) tick(ctx context.Context) bool {
	if r.active == nil {
		return true
	}
	switch r.phase {
	case phaseCheck:
		r.doCheck()
	case phaseWaitForUpdate:
		r.pollAcks()
	case phaseNext:
		return r.doNext(ctx)
	}
	return true
}

func (r *Reloader) doCheck() {
	s := r.active
	switch s.checkLoad() {
	case 1:
		r.broadcast(s)
		r.phase = phaseWaitForUpdate
		r.swapDeadline = time.Now().Add(ackTimeout)
		for i := range r.pending {
			r.pending[i] = true
		}
	case 0:
		r.phase = phaseNext
	default:
		r.metric.App.ResourceLoadErrors.Add(1)
		r.logLine("resource %s: check_load failed for %s", s.desc.Name, s.desc.Filepath)
		r.phase = phaseNext
	}
}

func (r *Reloader) broadcast(s *slot) {
	msg := fabric.ResourceMsg{Op: s.op, Snapshot: s.incoming}
	for _, ch := range r.channels {
		for !ch.Requests.TryPush(msg) {
			time.Sleep(time.Millisecond)
		}
	}
}

func (r *Reloader) pollAcks() {
	s := r.active
	allAcked := true
	for i, ch := range r.channels {
		if !r.pending[i] {
			continue
		}
		if _, ok := ch.Responses.TryPop(); ok {
			r.pending[i] = false
		} else {
			allAcked = false
		}
	}
	if allAcked {
		s.current = s.incoming
		s.incoming = nil
		r.phase = phaseNext
		return
	}
	if time.Now().After(r.swapDeadline) {
		r.fatal("resource %s: worker ack timeout waiting for swap", s.desc.Name)
	}
}

func (r *Reloader) doNext(ctx context.Context) bool {
	s := r.active
	s.nextUpdate = time.Now().Add(s.desc.UpdateFrequency)
	next := r.earliestDue()
	r.active = next
	r.phase = phaseCheck
	if next == nil {
		return true
	}
	d := time.Until(next.nextUpdate)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Reloader) earliestDue() *slot {
	var best *slot
	for _, s := range r.slots {
		if best == nil || s.nextUpdate.Before(best.nextUpdate) {
			best = s
		}
	}
	return best
}

func (r *Reloader) logLine(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.appLog != nil && !r.appLog.TryPush(fabric.AppLogMsg{Text: msg, Timestamp: time.Now()}) {
		r.metric.App.AppLogDropped.Add(1)
	}
	r.log.Error(msg)
}

func (r *Reloader) fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.metric.App.ResourceAckTimeout.Add(1)
	if r.appLog != nil {
		r.appLog.TryPush(fabric.AppLogMsg{Text: msg, Fatal: true, Timestamp: time.Now()})
	}
	r.log.Error("fatal", "msg", msg)
}

// Current returns the most recently promoted snapshot for the
// descriptor at index i, or nil if none has loaded yet.
func (r *Reloader) Current(i int) any {
	if i < 0 || i >= len(r.slots) {
		return nil
	}
	return r.slots[i].current
}
