package connmodel_test

import (
	"testing"
	"time"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(cid uint64) *connmodel.Connection {
	return &connmodel.Connection{Kind: connmodel.VariantTCPConn, CID: cid}
}

func TestFIFO_PushPopOrder(t *testing.T) {
	f := connmodel.NewFIFO(connmodel.FIFORead)
	a, b, c := newConn(1), newConn(2), newConn(3)
	require.True(t, f.PushBack(a))
	require.True(t, f.PushBack(b))
	require.True(t, f.PushBack(c))
	assert.Equal(t, 3, f.Len())

	assert.Same(t, a, f.PopFront())
	assert.Same(t, b, f.PopFront())
	assert.Same(t, c, f.PopFront())
	assert.Nil(t, f.PopFront())
}

func TestFIFO_PushBackIsIdempotent(t *testing.T) {
	f := connmodel.NewFIFO(connmodel.FIFOWrite)
	a := newConn(1)
	require.True(t, f.PushBack(a))
	assert.False(t, f.PushBack(a), "re-enqueue of an already-queued connection must be a no-op")
	assert.Equal(t, 1, f.Len())
}

func TestFIFO_RemoveFromMiddle(t *testing.T) {
	f := connmodel.NewFIFO(connmodel.FIFOParse)
	a, b, c := newConn(1), newConn(2), newConn(3)
	f.PushBack(a)
	f.PushBack(b)
	f.PushBack(c)

	assert.True(t, f.Remove(b))
	assert.False(t, f.Remove(b), "removing twice must report no-op the second time")
	assert.Equal(t, 2, f.Len())
	assert.Same(t, a, f.PopFront())
	assert.Same(t, c, f.PopFront())
}

func TestFIFO_DistinctKindsAreIndependent(t *testing.T) {
	read := connmodel.NewFIFO(connmodel.FIFORead)
	write := connmodel.NewFIFO(connmodel.FIFOWrite)
	a := newConn(1)
	require.True(t, read.PushBack(a))
	require.True(t, write.PushBack(a), "a connection may occupy distinct FIFO kinds' link slots simultaneously")
	assert.Equal(t, 1, read.Len())
	assert.Equal(t, 1, write.Len())
}

func TestLRU_TouchMovesToMRU(t *testing.T) {
	lru := connmodel.NewLRU(10)
	now := time.Unix(1000, 0)
	a := newConn(1)
	a.TimeoutDeadline = now.Add(time.Second)
	b := newConn(2)
	b.TimeoutDeadline = now.Add(2 * time.Second)
	lru.Insert(a)
	lru.Insert(b)

	lru.Touch(a) // a should now be MRU, b becomes LRU (oldest)

	var swept []uint64
	lru.Sweep(now.Add(3*time.Second), func(c *connmodel.Connection) {
		swept = append(swept, c.CID)
		lru.Remove(c)
	})
	require.Len(t, swept, 2)
	assert.Equal(t, uint64(2), swept[0], "b was touched-oldest so sweeps first")
	assert.Equal(t, uint64(1), swept[1])
}

func TestLRU_SweepStopsAtFirstUnexpired(t *testing.T) {
	lru := connmodel.NewLRU(10)
	now := time.Unix(1000, 0)
	a := newConn(1)
	a.TimeoutDeadline = now.Add(-time.Second) // expired
	b := newConn(2)
	b.TimeoutDeadline = now.Add(time.Hour) // not expired
	lru.Insert(a)
	lru.Insert(b)

	var swept []uint64
	lru.Sweep(now, func(c *connmodel.Connection) {
		swept = append(swept, c.CID)
		lru.Remove(c)
	})
	assert.Equal(t, []uint64{1}, swept)
	assert.Equal(t, 1, lru.Len())
}

func TestTCPState_Terminal(t *testing.T) {
	assert.True(t, connmodel.StateReadErr.Terminal())
	assert.True(t, connmodel.StateQuerySizeTooLarge.Terminal())
	assert.False(t, connmodel.StateWaitForQuery.Terminal())
	assert.False(t, connmodel.StateWaitForQueryData.Terminal())
}
