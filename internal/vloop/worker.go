// Package vloop implements the vector-loop: the single-threaded,
// shared-nothing per-worker pipeline that reads, parses, resolves,
// packs, and writes DNS queries over both UDP and TCP (spec §4.E).
//
// A Worker owns everything its iteration touches exclusively: its own
// FIFOs, its own LRU, its own readiness waiters, its own Query/
// Connection objects. The only cross-thread communication is through
// the bounded channels in internal/fabric and the atomic counters in
// internal/metrics.
package vloop

import (
	"fmt"
	"log/slog"

	"github.com/jroosing/vectordns/internal/config"
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/fabric"
	"github.com/jroosing/vectordns/internal/metrics"
	"github.com/jroosing/vectordns/internal/readiness"
)

// Worker is one vector-loop worker thread's complete private state.
type Worker struct {
	ID     int
	Cfg    *config.Config
	Log    *slog.Logger
	Metric *metrics.Metrics

	udpWaiter *readiness.Waiter
	tcpWaiter *readiness.Waiter

	udpListeners []*connmodel.Connection
	tcpListeners []*connmodel.Connection

	lru       *connmodel.LRU
	cidAlloc  *connmodel.CIDAllocator
	activeTCP int

	readQ    *connmodel.FIFO
	writeQ   *connmodel.FIFO
	acceptQ  *connmodel.FIFO
	releaseQ *connmodel.FIFO
	parseQ   *connmodel.FIFO
	resolveQ *connmodel.FIFO
	packQ    *connmodel.FIFO
	logQ     *connmodel.FIFO

	resourceCh *fabric.Channel[fabric.ResourceMsg, fabric.ResourceAck]
	querylogCh *fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]
	appLogQ    *fabric.Ring[fabric.AppLogMsg]

	resources [2]any // currently adopted immutable resource snapshots, indexed by ResourceOp

	queryLogBufs   [2][]byte
	queryLogActive int

	idleCount int
}

// Channels bundles the three cross-thread queues a Worker is wired to,
// owned by the resource reloader, query-log writer, and application-
// log writer respectively (spec §4.F).
type Channels struct {
	Resource *fabric.Channel[fabric.ResourceMsg, fabric.ResourceAck]
	QueryLog *fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]
	AppLog   *fabric.Ring[fabric.AppLogMsg]
}

// NewWorker constructs a worker with empty FIFOs, a fresh LRU/cid
// allocator, and the given channels. Listeners are added separately
// via AddUDPListener/AddTCPListener once the caller has created the
// underlying sockets (see cmd/vectordnsd).
func NewWorker(id int, cfg *config.Config, log *slog.Logger, m *metrics.Metrics, ch Channels) *Worker {
	lru := connmodel.NewLRU(cfg.TCPConnsPerVLMax)
	w := &Worker{
		ID:     id,
		Cfg:    cfg,
		Log:    log,
		Metric: m,

		lru:      lru,
		cidAlloc: connmodel.NewCIDAllocator(lru),

		readQ:    connmodel.NewFIFO(connmodel.FIFORead),
		writeQ:   connmodel.NewFIFO(connmodel.FIFOWrite),
		acceptQ:  connmodel.NewFIFO(connmodel.FIFOAccept),
		releaseQ: connmodel.NewFIFO(connmodel.FIFORelease),
		parseQ:   connmodel.NewFIFO(connmodel.FIFOParse),
		resolveQ: connmodel.NewFIFO(connmodel.FIFOResolve),
		packQ:    connmodel.NewFIFO(connmodel.FIFOPack),
		logQ:     connmodel.NewFIFO(connmodel.FIFOLog),

		resourceCh: ch.Resource,
		querylogCh: ch.QueryLog,
		appLogQ:    ch.AppLog,

		queryLogBufs: [2][]byte{
			make([]byte, 0, cfg.QueryLogBufferSize),
			make([]byte, 0, cfg.QueryLogBufferSize),
		},
	}
	return w
}

// Init creates the worker's epoll waiters. Must be called once before
// the first RunIteration.
func (w *Worker) Init() error {
	udpWaiter, err := readiness.NewWaiter(w.Cfg.EpollNumEventsUDP)
	if err != nil {
		return fmt.Errorf("vloop: udp waiter: %w", err)
	}
	tcpWaiter, err := readiness.NewWaiter(w.Cfg.EpollNumEventsTCP)
	if err != nil {
		return fmt.Errorf("vloop: tcp waiter: %w", err)
	}
	w.udpWaiter = udpWaiter
	w.tcpWaiter = tcpWaiter
	return nil
}

// AddUDPListener registers an already-bound UDP listener Connection
// with the worker's UDP readiness set and read queue.
func (w *Worker) AddUDPListener(c *connmodel.Connection) error {
	if err := w.udpWaiter.RegisterRead(c.FD, c); err != nil {
		return err
	}
	w.udpListeners = append(w.udpListeners, c)
	w.readQ.PushBack(c)
	return nil
}

// AddTCPListener registers an already-bound, listening TCP socket
// Connection with the worker's TCP readiness set and accept queue.
func (w *Worker) AddTCPListener(c *connmodel.Connection) error {
	if err := w.tcpWaiter.RegisterRead(c.FD, c); err != nil {
		return err
	}
	w.tcpListeners = append(w.tcpListeners, c)
	w.acceptQ.PushBack(c)
	return nil
}

// ActiveTCP reports the worker's current live-connection count, for
// the accept-stage cap.
func (w *Worker) ActiveTCP() int { return w.activeTCP }

// Resource returns the worker's currently adopted snapshot for the
// given resource slot, or nil if none has been adopted yet.
func (w *Worker) Resource(op fabric.ResourceOp) any { return w.resources[op] }

func (w *Worker) logApp(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !w.appLogQ.TryPush(fabric.AppLogMsg{Text: msg}) {
		w.Metric.App.AppLogDropped.Add(1)
	}
}

func (w *Worker) logFatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.appLogQ.TryPush(fabric.AppLogMsg{Text: msg, Fatal: true})
	w.Log.Error("fatal", "msg", msg)
}
