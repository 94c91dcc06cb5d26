// Command vectordnsd is the vector-loop DNS daemon: it parses the CLI
// flag surface, builds one vector-loop worker per configured thread,
// pins each to its configured CPU, starts the three auxiliary threads
// (resource reloader, query-log writer, application-log writer), and
// runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/applog"
	"github.com/jroosing/vectordns/internal/config"
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/fabric"
	"github.com/jroosing/vectordns/internal/logging"
	"github.com/jroosing/vectordns/internal/metrics"
	"github.com/jroosing/vectordns/internal/querylog"
	"github.com/jroosing/vectordns/internal/resource"
	"github.com/jroosing/vectordns/internal/vloop"
)

// shutdownGrace bounds how long main waits for every goroutine to
// notice context cancellation before logging and returning anyway.
const shutdownGrace = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		if config.ErrHelpRequested(err) {
			fmt.Println("vectordnsd: a vector-loop DNS daemon. See spec §6 for the full --flag=value surface.")
			return nil
		}
		return err
	}

	logger := logging.Configure(logging.Config{Level: "INFO", IncludePID: true})
	m := metrics.New()

	d, err := newDaemon(cfg, logger, m)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("vectordnsd starting",
		"udp", cfg.UDPEnable, "tcp", cfg.TCPEnable,
		"udp_port", cfg.UDPListenerPort, "tcp_port", cfg.TCPListenerPort,
		"workers", cfg.ProcessThreadCount,
	)

	d.run(ctx)

	snap := m.Snapshot()
	logger.Info("vectordnsd stopped",
		"udp_received", snap.UDP.Received, "udp_sent", snap.UDP.Sent,
		"tcp_accepted", snap.TCP.Accepted, "app_log_dropped", snap.App.AppLogDropped,
	)
	return nil
}

// daemon holds every long-lived component run() builds so the
// construction and the run/shutdown lifecycle stay separate.
type daemon struct {
	logger *slog.Logger

	workers  []*vloop.Worker
	reloader *resource.Reloader
	qlog     *querylog.Writer
	alog     *applog.Writer
}

func newDaemon(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*daemon, error) {
	n := cfg.ProcessThreadCount

	workers := make([]*vloop.Worker, 0, n)
	resourceChannels := make([]*fabric.Channel[fabric.ResourceMsg, fabric.ResourceAck], 0, n)
	querylogChannels := make([]*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck], 0, n)
	appLogRings := make([]*fabric.Ring[fabric.AppLogMsg], 0, n+2)

	for i := 0; i < n; i++ {
		ch := vloop.Channels{
			Resource: fabric.NewResourceChannel(),
			QueryLog: fabric.NewQueryLogChannel(),
			AppLog:   fabric.NewAppLogQueue(),
		}
		w := vloop.NewWorker(i, cfg, logger.With("worker", i), m, ch)
		if err := w.Init(); err != nil {
			return nil, fmt.Errorf("vectordnsd: worker %d: %w", i, err)
		}
		if err := attachListeners(w, cfg, i); err != nil {
			return nil, fmt.Errorf("vectordnsd: worker %d: %w", i, err)
		}

		workers = append(workers, w)
		resourceChannels = append(resourceChannels, ch.Resource)
		querylogChannels = append(querylogChannels, ch.QueryLog)
		appLogRings = append(appLogRings, ch.AppLog)
	}

	resourceRing := fabric.NewAppLogQueue()
	querylogRing := fabric.NewAppLogQueue()
	appLogRings = append(appLogRings, resourceRing, querylogRing)

	// No resource descriptors are wired by default: the stub resolver
	// (§4.E Stage 7) consumes no on-disk state, so the reloader starts
	// with an empty descriptor set and exists purely as infrastructure
	// a future resolver can register descriptors against.
	reloader, err := resource.New(logger.With("component", "resource"), m, resourceRing, resourceChannels, nil)
	if err != nil {
		return nil, fmt.Errorf("vectordnsd: %w", err)
	}

	qlog := querylog.New(logger.With("component", "querylog"), m, querylogRing, querylogChannels,
		cfg.QueryLogPath, cfg.QueryLogBaseName, cfg.QueryLogRotateSize)

	alog := applog.NewWriter(filepath.Join(cfg.AppLogPath, cfg.AppLogName), appLogRings, func(n int) {
		m.App.AppLogDropped.Add(uint64(n))
	})

	return &daemon{logger: logger, workers: workers, reloader: reloader, qlog: qlog, alog: alog}, nil
}

// attachListeners creates and registers this worker's own UDP/TCP
// listener sockets. Every worker binds its own socket to the same
// port via SO_REUSEPORT, so the kernel load-balances accepts/datagrams
// across workers instead of a single shared listener being bounced
// between them (spec §4.C).
func attachListeners(w *vloop.Worker, cfg *config.Config, id int) error {
	if cfg.UDPEnable {
		fd, err := connmodel.NewUDPSocket(connmodel.ListenerConfig{
			Family:      connmodel.FamilyIPv4,
			Port:        cfg.UDPListenerPort,
			RecvBufSize: cfg.UDPSocketRecvBuff,
			SendBufSize: cfg.UDPSocketSendBuff,
		})
		if err != nil {
			return fmt.Errorf("udp listener: %w", err)
		}
		c := connmodel.NewUDPListener(fd, connmodel.FamilyIPv4, cfg.UDPConnVectorLen)
		if err := w.AddUDPListener(c); err != nil {
			return fmt.Errorf("udp listener: %w", err)
		}
	}
	if cfg.TCPEnable {
		fd, err := connmodel.NewTCPListenerSocket(connmodel.ListenerConfig{
			Family:      connmodel.FamilyIPv4,
			Port:        cfg.TCPListenerPort,
			RecvBufSize: cfg.TCPConnSocketRecvBuff,
			SendBufSize: cfg.TCPConnSocketSendBuff,
			Backlog:     cfg.TCPListenerPendingConnsMax,
		})
		if err != nil {
			return fmt.Errorf("tcp listener: %w", err)
		}
		c := connmodel.NewTCPListener(fd, connmodel.FamilyIPv4)
		if err := w.AddTCPListener(c); err != nil {
			return fmt.Errorf("tcp listener: %w", err)
		}
	}
	_ = id
	return nil
}

// run starts every worker and auxiliary thread, then blocks until ctx
// is canceled (by a signal or an error), waiting up to shutdownGrace
// for every goroutine to return before giving up.
func (d *daemon) run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, w := range d.workers {
		wg.Add(1)
		go func(w *vloop.Worker) {
			defer wg.Done()
			pinAndRun(w, w.Cfg.ProcessThreadMasks, w.ID)(ctx)
		}(w)
	}

	wg.Add(1)
	go func() { defer wg.Done(); d.reloader.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); d.qlog.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); d.alog.Run(ctx) }()

	<-ctx.Done()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.logger.Warn("shutdown grace period elapsed with goroutines still running")
	}
}

// pinAndRun returns a function that locks the calling goroutine to its
// OS thread and, if masks names a CPU for this worker, pins it there
// before driving the worker's Run loop — mirroring the per-thread
// affinity pattern the pack uses for dedicated I/O loops.
func pinAndRun(w *vloop.Worker, masks []int, id int) func(ctx context.Context) {
	return func(ctx context.Context) {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if len(masks) > 0 {
			cpu := masks[id%len(masks)]
			var set unix.CPUSet
			set.Set(cpu)
			if err := unix.SchedSetaffinity(0, &set); err != nil {
				w.Log.Warn("failed to set CPU affinity", "cpu", cpu, "err", err)
			}
		}
		w.Run(ctx)
	}
}
