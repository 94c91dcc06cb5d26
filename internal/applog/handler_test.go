package applog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/vectordns/internal/fabric"
)

func TestHandler_PushesFormattedLine(t *testing.T) {
	ring := fabric.NewAppLogQueue()
	h := NewHandler(ring, slog.LevelInfo, nil)
	log := slog.New(h)

	log.Info("listener started", "port", 53)

	msg, ok := ring.TryPop()
	require.True(t, ok)
	assert.Equal(t, "listener started port=53", msg.Text)
	assert.False(t, msg.Fatal)
}

func TestHandler_FatalAttrSetsFlagAndOmitsFromText(t *testing.T) {
	ring := fabric.NewAppLogQueue()
	h := NewHandler(ring, slog.LevelInfo, nil)
	log := slog.New(h)

	log.Error("listener socket error", "fatal", true)

	msg, ok := ring.TryPop()
	require.True(t, ok)
	assert.True(t, msg.Fatal)
	assert.NotContains(t, msg.Text, "fatal=")
}

func TestHandler_DropsWhenRingFull(t *testing.T) {
	ring := fabric.NewAppLogQueue() // depth 1024
	dropped := 0
	h := NewHandler(ring, slog.LevelInfo, func() { dropped++ })

	for i := 0; i < 1024; i++ {
		require.NoError(t, h.Handle(context.Background(), slog.Record{Message: "x"}))
	}
	require.NoError(t, h.Handle(context.Background(), slog.Record{Message: "overflow"}))

	assert.Equal(t, 1, dropped)
}

func TestHandler_WithAttrsPrependsToEveryRecord(t *testing.T) {
	ring := fabric.NewAppLogQueue()
	h := NewHandler(ring, slog.LevelInfo, nil).WithAttrs([]slog.Attr{slog.String("worker", "0")})
	log := slog.New(h)

	log.Info("hello")

	msg, ok := ring.TryPop()
	require.True(t, ok)
	assert.Equal(t, "hello worker=0", msg.Text)
}
