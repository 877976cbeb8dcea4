package exchange

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_AppendAndClosest(t *testing.T) {
	r := NewHistoryRing()
	now := time.UnixMilli(120_000)
	r.now = func() time.Time { return now }

	r.recordAt("X", 100.0, 1_000, now)
	r.recordAt("X", 101.0, 60_000, now)
	r.recordAt("X", 102.0, 120_000, now)

	// Closest to 60s target returns the middle point.
	point, ok := r.Closest("X", 60_000)
	require.True(t, ok)
	assert.Equal(t, 101.0, point.Price)

	point, ok = r.Closest("X", 119_000)
	require.True(t, ok)
	assert.Equal(t, 102.0, point.Price)
}

func TestRing_ClosestUnknownSymbol(t *testing.T) {
	r := NewHistoryRing()
	_, ok := r.Closest("NOPE", 0)
	assert.False(t, ok)
}

func TestRing_CapacityBound(t *testing.T) {
	r := NewHistoryRing()
	now := time.Now()
	for i := 0; i < HistoryMaxLen+500; i++ {
		r.recordAt("X", float64(i), int64(i), now)
	}
	assert.Equal(t, HistoryMaxLen, r.Len("X"))

	// Oldest entries were trimmed from the head.
	point, ok := r.Closest("X", 0)
	require.True(t, ok)
	assert.Equal(t, int64(500), point.Timestamp)
}

func TestRing_CleanupDropsExpiredAndEmptySymbols(t *testing.T) {
	r := NewHistoryRing()
	base := time.Now()
	baseMs := base.UnixMilli()
	r.now = func() time.Time { return base }

	// "OLD" only has points beyond the retention window; "MIXED" has both.
	r.recordAt("OLD", 1, baseMs-2*HistoryMaxAge.Milliseconds(), base)
	r.recordAt("MIXED", 1, baseMs-2*HistoryMaxAge.Milliseconds(), base)
	r.recordAt("MIXED", 2, baseMs-1000, base)

	r.Cleanup()

	assert.Equal(t, 0, r.Len("OLD"))
	assert.NotContains(t, r.Symbols(), "OLD")
	assert.Equal(t, 1, r.Len("MIXED"))

	// Invariant: every retained point is within the window.
	point, ok := r.Closest("MIXED", baseMs)
	require.True(t, ok)
	assert.LessOrEqual(t, baseMs-point.Timestamp, HistoryMaxAge.Milliseconds())
}

func TestRing_CleanupIsTimeTriggered(t *testing.T) {
	r := NewHistoryRing()
	base := time.Now()
	clock := base
	r.now = func() time.Time { return clock }

	stale := base.UnixMilli() - 2*HistoryMaxAge.Milliseconds()
	r.recordAt("X", 1, stale, clock)
	// lastCleanup was just set; appends within the interval keep stale data.
	clock = base.Add(30 * time.Second)
	r.recordAt("X", 2, clock.UnixMilli(), clock)
	assert.Equal(t, 2, r.Len("X"))

	// Once the interval elapses, the next record triggers cleanup.
	clock = base.Add(HistoryCleanupInterval + time.Second)
	r.recordAt("X", 3, clock.UnixMilli(), clock)
	assert.Equal(t, 2, r.Len("X"), "stale head point should be evicted")
}

func TestRing_MultipleSymbolsIndependent(t *testing.T) {
	r := NewHistoryRing()
	now := time.Now()
	for i := 0; i < 10; i++ {
		r.recordAt(fmt.Sprintf("S%d", i%2), float64(i), int64(i), now)
	}
	assert.Equal(t, 5, r.Len("S0"))
	assert.Equal(t, 5, r.Len("S1"))
}
