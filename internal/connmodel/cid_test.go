package connmodel_test

import (
	"testing"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCIDAllocator_SkipsTakenIDs(t *testing.T) {
	lru := connmodel.NewLRU(10)
	alloc := connmodel.NewCIDAllocator(lru)

	first, ok := alloc.Allocate()
	require.True(t, ok)
	c := newConn(first)
	lru.Insert(c)

	second, ok := alloc.Allocate()
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestCIDAllocator_FullLRURejects(t *testing.T) {
	lru := connmodel.NewLRU(1)
	alloc := connmodel.NewCIDAllocator(lru)
	cid, ok := alloc.Allocate()
	require.True(t, ok)
	lru.Insert(newConn(cid))

	_, ok = alloc.Allocate()
	assert.False(t, ok)
}
