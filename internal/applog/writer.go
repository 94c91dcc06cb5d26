package applog

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/fabric"
)

// OpenRetryWait and IdleSleep are grounded on the reference
// implementation's APP_LOG_OPEN_WAIT_TIME (5s) and
// APP_LOG_LOOP_SLEEP_TIME (1,000,000 ns).
const (
	OpenRetryWait = 5 * time.Second
	IdleSleep     = time.Millisecond
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Writer drains every ring it is given once per iteration, assembles
// one vectored write of (timestamp " - ", message, "\n") triples per
// message collected, and appends it to the application log file.
type Writer struct {
	path string

	rings   []*fabric.Ring[fabric.AppLogMsg]
	onDrop  func(n int)
	exitNow func()

	fd              *os.File
	nextOpenAttempt time.Time
}

// NewWriter returns a writer appending to path, draining rings. If
// onDrop is non-nil it is called with the count of messages that
// could not be persisted (file not open, or the write failed).
func NewWriter(path string, rings []*fabric.Ring[fabric.AppLogMsg], onDrop func(n int)) *Writer {
	return &Writer{
		path:    path,
		rings:   rings,
		onDrop:  onDrop,
		exitNow: func() { os.Exit(1) },
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

// tick performs one drain pass over every ring. It returns false if
// ctx was canceled mid-sleep or a Fatal message was drained.
func (w *Writer) tick(ctx context.Context) bool {
	now := time.Now()
	if w.fd == nil && !now.Before(w.nextOpenAttempt) {
		if err := w.openFile(); err != nil {
			w.nextOpenAttempt = now.Add(OpenRetryWait)
		}
	}

	var msgs []fabric.AppLogMsg
	for _, ring := range w.rings {
		if m, ok := ring.TryPop(); ok {
			msgs = append(msgs, m)
		}
	}

	if len(msgs) == 0 {
		return w.sleepCtx(ctx, IdleSleep)
	}

	if w.fd == nil {
		if w.onDrop != nil {
			w.onDrop(len(msgs))
		}
		return true
	}

	ts := now.UTC().Format(timestampLayout) + " - "
	iovs := make([][]byte, 0, len(msgs)*3)
	wantBytes := 0
	for _, m := range msgs {
		tsBytes := []byte(ts)
		msgBytes := []byte(m.Text)
		iovs = append(iovs, tsBytes, msgBytes, []byte("\n"))
		wantBytes += len(tsBytes) + len(msgBytes) + 1
	}

	n, err := unix.Writev(int(w.fd.Fd()), iovs)
	if err != nil || n < wantBytes {
		if w.onDrop != nil {
			w.onDrop(len(msgs))
		}
		w.closeFile()
		w.nextOpenAttempt = now
	}

	for _, m := range msgs {
		if m.Fatal {
			fmt.Fprintln(os.Stderr, m.Text)
			w.exitNow()
			return false
		}
	}
	return true
}

func (w *Writer) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("applog: open %s: %w", w.path, err)
	}
	w.fd = f
	return nil
}

func (w *Writer) closeFile() {
	if w.fd != nil {
		_ = w.fd.Close()
		w.fd = nil
	}
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
