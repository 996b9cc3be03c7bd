package wisp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPoolInternReturnsSameObjectForEqualBytes(t *testing.T) {
	h := NewHeap()
	sp := h.pool
	a := sp.intern(h, "shared")
	b := sp.intern(h, "shared")
	assert.Same(t, a, b)
	assert.Equal(t, 1, sp.count)
}

func TestStringPoolInternDistinguishesDifferentBytes(t *testing.T) {
	h := NewHeap()
	sp := h.pool
	a := sp.intern(h, "one")
	b := sp.intern(h, "two")
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, sp.count)
}

func TestStringPoolGrowsUnderLoad(t *testing.T) {
	h := NewHeap()
	sp := h.pool
	startCap := sp.capacity
	for i := 0; i < stringPoolInitialCapacity; i++ {
		sp.intern(h, fmt.Sprintf("entry-%d", i))
	}
	assert.Greater(t, sp.capacity, startCap)
	assert.Equal(t, stringPoolInitialCapacity, sp.count)
}

func TestStringPoolRemoveThenReintern(t *testing.T) {
	h := NewHeap()
	sp := h.pool
	s := sp.intern(h, "removable")
	require.Equal(t, 1, sp.count)
	sp.remove(s)
	assert.Equal(t, 0, sp.count)

	again := sp.intern(h, "removable")
	assert.NotSame(t, s, again)
	assert.Equal(t, 1, sp.count)
}

func TestDoubleHashStepNeverReturnsZeroFixedPoint(t *testing.T) {
	// 0 maps to the sentinel and back, never to itself, so probing always
	// makes forward progress instead of looping on the same slot.
	stepped := doubleHashStep(0)
	assert.NotEqual(t, uint32(0), stepped)
	assert.Equal(t, uint32(0xBA5EDB01), stepped)
	assert.Equal(t, uint32(0), doubleHashStep(0xBA5EDB01))
}

func TestFnv1aIsDeterministic(t *testing.T) {
	assert.Equal(t, fnv1a("same"), fnv1a("same"))
	assert.NotEqual(t, fnv1a("same"), fnv1a("different"))
}
