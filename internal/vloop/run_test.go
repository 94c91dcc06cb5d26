package vloop

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/config"
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/metrics"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	cfg := &config.Config{
		TCPConnsPerVLMax:           4,
		TCPConnSimultaneousQueries: 2,
		TCPKeepalive:               time.Hour,
		TCPQueryRecvTimeout:        time.Hour,
		QueryLogBufferSize:         4096,
		EpollNumEventsTCP:          8,
		EpollNumEventsUDP:          8,
		LoopSlowdownOne:            time.Millisecond,
		LoopSlowdownTwo:            2 * time.Millisecond,
		LoopSlowdownThree:          20 * time.Millisecond,
	}
	w := NewWorker(0, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(), Channels{})
	require.NoError(t, w.Init())
	return w
}

func socketpairConn(t *testing.T) (*connmodel.Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	c := connmodel.NewTCPConn(fds[0], connmodel.FamilyIPv4, netip.AddrPort{}, netip.AddrPort{}, 2, packetSizeCeiling)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return c, fds[1]
}

func TestFrameQueries_SingleCompleteFrame(t *testing.T) {
	w := newTestWorker(t)
	c, peer := socketpairConn(t)

	msg := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	_, err := unix.Write(peer, append([]byte{0x00, byte(len(msg))}, msg...))
	require.NoError(t, err)

	n, err := unix.Read(c.FD, c.ReadBuf)
	require.NoError(t, err)
	c.ReadLen = n

	got := w.frameQueries(c)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, c.QueryCount)
	assert.Equal(t, msg, c.Queries[0].ReqBuf)
	assert.Equal(t, 0, c.ReadLen)
}

func TestFrameQueries_TrailingPartialFrameKept(t *testing.T) {
	w := newTestWorker(t)
	c, peer := socketpairConn(t)

	full := []byte{0x00, 0x02, 0xAA, 0xBB}
	partial := []byte{0x00, 0x05, 0x01} // declares 5 bytes, only 1 present
	_, err := unix.Write(peer, append(full, partial...))
	require.NoError(t, err)

	n, err := unix.Read(c.FD, c.ReadBuf)
	require.NoError(t, err)
	c.ReadLen = n

	got := w.frameQueries(c)
	assert.Equal(t, 1, got)
	assert.Equal(t, len(partial), c.ReadLen)
	assert.Equal(t, partial, c.ReadBuf[:c.ReadLen])
}

func TestFrameQueries_OversizeFrameReleases(t *testing.T) {
	w := newTestWorker(t)
	c, peer := socketpairConn(t)

	oversize := []byte{0xFF, 0xFF, 0x01}
	_, err := unix.Write(peer, oversize)
	require.NoError(t, err)

	n, err := unix.Read(c.FD, c.ReadBuf)
	require.NoError(t, err)
	c.ReadLen = n

	got := w.frameQueries(c)
	assert.Equal(t, -1, got)
	assert.Equal(t, connmodel.StateQuerySizeTooLarge, c.State)
	assert.Same(t, c, w.releaseQ.PopFront())
}

func TestReadTCPConn_EAGAINEmptyBufferWaitsForQuery(t *testing.T) {
	w := newTestWorker(t)
	c, _ := socketpairConn(t)

	w.readTCPConn(c)

	assert.True(t, c.WaitingForRead)
	assert.Equal(t, connmodel.StateWaitForQuery, c.State)
}

func TestReadTCPConn_PeerCloseReleases(t *testing.T) {
	w := newTestWorker(t)
	c, peer := socketpairConn(t)
	require.NoError(t, unix.Close(peer))

	w.readTCPConn(c)

	assert.Equal(t, connmodel.StateClosedForRead, c.State)
	assert.Same(t, c, w.releaseQ.PopFront())
}

func TestSweepTimeouts_RemovesExpiredAndStops(t *testing.T) {
	w := newTestWorker(t)

	old := connmodel.NewTCPConn(-1, connmodel.FamilyIPv4, netip.AddrPort{}, netip.AddrPort{}, 2, packetSizeCeiling)
	old.CID = 1
	old.TimeoutDeadline = nowFunc().Add(-time.Minute)
	fresh := connmodel.NewTCPConn(-1, connmodel.FamilyIPv4, netip.AddrPort{}, netip.AddrPort{}, 2, packetSizeCeiling)
	fresh.CID = 2
	fresh.TimeoutDeadline = nowFunc().Add(time.Hour)

	w.lru.Insert(old)
	w.lru.Insert(fresh)

	n := w.sweepTimeouts()

	assert.Equal(t, 1, n)
	_, stillThere := w.lru.Get(1)
	assert.False(t, stillThere)
	_, freshThere := w.lru.Get(2)
	assert.True(t, freshThere)
	assert.Same(t, old, w.releaseQ.PopFront())
}

func TestIdleBackoff_ResetsOnBusy(t *testing.T) {
	w := newTestWorker(t)
	w.idleCount = 5
	w.idleBackoff(true)
	assert.Equal(t, 0, w.idleCount)
}

func TestIdleBackoff_AdvancesTiersAndCapsSleep(t *testing.T) {
	w := newTestWorker(t)
	w.Cfg.LoopSlowdownThree = time.Hour // must be clamped to idleSleepCap

	start := time.Now()
	for i := 0; i < 2*idleTierSize+1; i++ {
		w.idleBackoff(false)
	}
	elapsed := time.Since(start)

	assert.Equal(t, 2*idleTierSize+1, w.idleCount)
	assert.Less(t, elapsed, 2*idleSleepCap*time.Duration(2*idleTierSize+1))
}

func TestReleaseConnection_AssignConnIDErrSkipsLRUBookkeeping(t *testing.T) {
	w := newTestWorker(t)
	c, _ := socketpairConn(t)
	c.State = connmodel.StateAssignConnIDErr

	w.releaseConnection(c)

	assert.Equal(t, 0, w.activeTCP)
}

func TestReleaseConnection_NormalReleaseDecrementsActive(t *testing.T) {
	w := newTestWorker(t)
	c, peer := socketpairConn(t)
	_ = peer
	c.CID = 9
	c.State = connmodel.StateClosedForRead
	w.lru.Insert(c)
	w.activeTCP = 1
	require.NoError(t, w.tcpWaiter.RegisterRead(c.FD, c))

	w.releaseConnection(c)

	assert.Equal(t, 0, w.activeTCP)
	_, ok := w.lru.Get(9)
	assert.False(t, ok)
}
