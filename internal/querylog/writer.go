// Package querylog implements the query-log writer: the auxiliary
// thread that drives the FLIP protocol against every vector-loop
// worker's query-log channel, persists each worker's flushed buffer
// to disk, and rotates the file by size (spec §4.H "Rotation (per
// worker)").
//
// This is distinct from internal/vloop's per-query JSON-line encoding
// (vloop/querylog.go): that package decides what one query's log line
// looks like and appends it to the active buffer; this package only
// ever sees opaque already-encoded bytes handed back across the FLIP
// protocol and is responsible purely for getting them onto disk.
package querylog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jroosing/vectordns/internal/fabric"
	"github.com/jroosing/vectordns/internal/metrics"
)

// Timing constants grounded on the reference implementation's
// QUERY_LOG_FILE_OPEN_RETRY_TIME (1,000,000 us), QUERY_LOG_LOOP_SLOWDOWN
// (1,000 us), and QUERY_LOG_LOOP_MSG_WAIT_TIME (10 us).
const (
	FileOpenRetryTime = time.Second
	LoopSlowdown      = time.Millisecond
	ackPollInterval   = 10 * time.Microsecond
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Writer owns the on-disk query log file and the per-worker FLIP
// channels. One Writer runs on its own goroutine for the life of the
// process.
type Writer struct {
	log    *slog.Logger
	metric *metrics.Metrics
	appLog *fabric.Ring[fabric.AppLogMsg]

	channels []*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]

	dir        string
	baseName   string
	rotateSize int64

	fd       *os.File
	fileSize int64
}

// New returns a writer that rotates into dir/baseName_<timestamp>
// once the open file would exceed rotateSize bytes.
func New(log *slog.Logger, m *metrics.Metrics, appLog *fabric.Ring[fabric.AppLogMsg], channels []*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck], dir, baseName string, rotateSize int64) *Writer {
	return &Writer{
		log:        log,
		metric:     m,
		appLog:     appLog,
		channels:   channels,
		dir:        dir,
		baseName:   baseName,
		rotateSize: rotateSize,
	}
}

// Run drives the writer until ctx is canceled, closing the open file
// on exit.
func (w *Writer) Run(ctx context.Context) {
	defer w.closeFile()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !w.tick(ctx) {
			return
		}
	}
}

// tick performs one full pass: ensure a file is open, flip and drain
// every worker's buffer, rotate if needed, and slow down if the pass
// wrote nothing. It returns false only if ctx was canceled mid-wait.
func (w *Writer) tick(ctx context.Context) bool {
	if w.fd == nil {
		if err := w.openFile(); err != nil {
			w.reportOpenError(err)
			return w.sleepCtx(ctx, FileOpenRetryTime)
		}
	}

	var written int64
	for _, ch := range w.channels {
		buf, ok := w.flipAndCollect(ctx, ch)
		if !ok {
			return false
		}
		if len(buf) == 0 {
			continue
		}
		if err := w.writeAll(buf); err != nil {
			w.closeFile()
			break
		}
		written += int64(len(buf))
		w.fileSize += int64(len(buf))

		if w.fileSize >= w.rotateSize {
			w.closeFile()
			if err := w.openFile(); err != nil {
				w.reportOpenError(err)
				return w.sleepCtx(ctx, FileOpenRetryTime)
			}
		}
	}

	if written == 0 {
		return w.sleepCtx(ctx, LoopSlowdown)
	}
	return true
}

// flipAndCollect sends a FLIP request on ch and blocks (with a short
// poll interval, not a busy spin) until the worker's acknowledgment
// arrives. The FLIP protocol has no deadline: spec §4.G's "workers
// guarantee acknowledgment within one pipeline iteration" only
// applies here too, so there is nothing to time out on.
func (w *Writer) flipAndCollect(ctx context.Context, ch *fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]) ([]byte, bool) {
	for !ch.Requests.TryPush(fabric.QueryLogMsg{Op: fabric.QueryLogOpFlip}) {
		if !w.sleepCtx(ctx, ackPollInterval) {
			return nil, false
		}
	}
	for {
		if ack, ok := ch.Responses.TryPop(); ok {
			return ack.Buf, true
		}
		if !w.sleepCtx(ctx, ackPollInterval) {
			return nil, false
		}
	}
}

func (w *Writer) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := w.fd.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (w *Writer) openFile() error {
	name := fmt.Sprintf("%s_%s", w.baseName, time.Now().UTC().Format(timestampLayout))
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("querylog: open %s: %w", path, err)
	}
	w.fd = f
	w.fileSize = 0
	return nil
}

func (w *Writer) closeFile() {
	if w.fd != nil {
		_ = w.fd.Close()
		w.fd = nil
	}
}

func (w *Writer) reportOpenError(err error) {
	w.metric.App.LogOpenRetries.Add(1)
	msg := err.Error()
	if w.appLog != nil && !w.appLog.TryPush(fabric.AppLogMsg{Text: msg, Timestamp: time.Now()}) {
		w.metric.App.AppLogDropped.Add(1)
	}
	w.log.Error("query log open failed", "err", msg)
}

func (w *Writer) sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
