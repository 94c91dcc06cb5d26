package querylog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/vectordns/internal/fabric"
	"github.com/jroosing/vectordns/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readDirFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestTick_FlipWritesAndKeepsFileOpenBelowRotateSize(t *testing.T) {
	dir := t.TempDir()
	ch := fabric.NewQueryLogChannel()
	w := New(testLogger(), metrics.New(), nil,
		[]*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]{ch},
		dir, "dns_query_log", 1<<20)

	ctx := context.Background()
	done := make(chan bool, 1)
	go func() { done <- w.tick(ctx) }()

	_, ok := ch.Requests.TryPop()
	for !ok {
		_, ok = ch.Requests.TryPop()
	}
	require.True(t, ch.Responses.TryPush(fabric.QueryLogAck{Buf: []byte("line1\n")}))

	require.True(t, <-done)
	require.NotNil(t, w.fd)
	assert.Equal(t, int64(len("line1\n")), w.fileSize)

	w.closeFile()
	entries := readDirFiles(t, dir)
	require.Len(t, entries, 1)
	b, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "line1\n", string(b))
}

func TestTick_EmptyBufferSlowsDownWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	ch := fabric.NewQueryLogChannel()
	w := New(testLogger(), metrics.New(), nil,
		[]*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]{ch},
		dir, "dns_query_log", 1<<20)

	ctx := context.Background()
	done := make(chan bool, 1)
	go func() { done <- w.tick(ctx) }()

	_, ok := ch.Requests.TryPop()
	for !ok {
		_, ok = ch.Requests.TryPop()
	}
	require.True(t, ch.Responses.TryPush(fabric.QueryLogAck{Buf: nil}))

	require.True(t, <-done)
	assert.Equal(t, int64(0), w.fileSize)
}

func TestTick_RotatesWhenFileSizeExceedsLimit(t *testing.T) {
	dir := t.TempDir()
	ch := fabric.NewQueryLogChannel()
	w := New(testLogger(), metrics.New(), nil,
		[]*fabric.Channel[fabric.QueryLogMsg, fabric.QueryLogAck]{ch},
		dir, "dns_query_log", 4)

	ctx := context.Background()
	done := make(chan bool, 1)
	go func() { done <- w.tick(ctx) }()

	_, ok := ch.Requests.TryPop()
	for !ok {
		_, ok = ch.Requests.TryPop()
	}
	require.True(t, ch.Responses.TryPush(fabric.QueryLogAck{Buf: []byte("0123456789")}))

	require.True(t, <-done)
	assert.Equal(t, int64(0), w.fileSize) // rotated: fresh file, fresh counter
	w.closeFile()

	entries := readDirFiles(t, dir)
	assert.Len(t, entries, 2)
}

func TestTick_OpenFailureReportsAndBacksOff(t *testing.T) {
	m := metrics.New()
	appLog := fabric.NewAppLogQueue()
	w := New(testLogger(), m, appLog, nil, "/nonexistent/dir/does/not/exist", "base", 1<<20)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	got := w.tick(ctx)

	assert.False(t, got)
	assert.Equal(t, uint64(1), m.App.LogOpenRetries.Load())
	_, ok := appLog.TryPop()
	assert.True(t, ok)
}
