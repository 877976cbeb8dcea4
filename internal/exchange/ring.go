package exchange

import (
	"sync"
	"time"
)

const (
	// HistoryMaxLen caps retained points per symbol (1/sec for an hour).
	HistoryMaxLen = 3600
	// HistoryMaxAge is the retention window for ring points.
	HistoryMaxAge = time.Hour
	// HistoryCleanupInterval is how often age-based eviction runs.
	HistoryCleanupInterval = 60 * time.Second
)

// PricePoint is one timestamped price observation.
type PricePoint struct {
	Timestamp int64 // milliseconds
	Price     float64
}

// HistoryRing is the bounded per-symbol store of stream-observed prices.
// Points are appended at the tail in arrival order and trimmed only at the
// head. Eviction is time-triggered rather than per-append.
type HistoryRing struct {
	mu          sync.RWMutex
	points      map[string][]PricePoint
	maxLen      int
	maxAge      time.Duration
	cleanupGap  time.Duration
	lastCleanup time.Time

	now func() time.Time
}

// NewHistoryRing builds a ring with the standard limits.
func NewHistoryRing() *HistoryRing {
	return &HistoryRing{
		points:      make(map[string][]PricePoint),
		maxLen:      HistoryMaxLen,
		maxAge:      HistoryMaxAge,
		cleanupGap:  HistoryCleanupInterval,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Record appends an observation stamped with the current wall clock and
// runs cleanup when the cleanup interval has elapsed.
func (r *HistoryRing) Record(symbol string, price float64) {
	now := r.now()
	r.recordAt(symbol, price, now.UnixMilli(), now)
}

func (r *HistoryRing) recordAt(symbol string, price float64, tsMs int64, now time.Time) {
	r.mu.Lock()

	pts := append(r.points[symbol], PricePoint{Timestamp: tsMs, Price: price})
	if len(pts) > r.maxLen {
		pts = pts[len(pts)-r.maxLen:]
	}
	r.points[symbol] = pts

	runCleanup := now.Sub(r.lastCleanup) >= r.cleanupGap
	if runCleanup {
		r.lastCleanup = now
	}
	r.mu.Unlock()

	if runCleanup {
		r.Cleanup()
	}
}

// Cleanup drops points older than the retention window from the head of
// every symbol's ring and deletes symbols left empty.
func (r *HistoryRing) Cleanup() {
	cutoff := r.now().Add(-r.maxAge).UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, pts := range r.points {
		idx := 0
		for idx < len(pts) && pts[idx].Timestamp < cutoff {
			idx++
		}
		if idx == len(pts) {
			delete(r.points, symbol)
			continue
		}
		if idx > 0 {
			r.points[symbol] = pts[idx:]
		}
	}
}

// Closest returns the retained point whose timestamp is nearest targetMs.
func (r *HistoryRing) Closest(symbol string, targetMs int64) (PricePoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pts := r.points[symbol]
	if len(pts) == 0 {
		return PricePoint{}, false
	}

	best := pts[0]
	bestDist := absInt64(pts[0].Timestamp - targetMs)
	for _, p := range pts[1:] {
		if d := absInt64(p.Timestamp - targetMs); d < bestDist {
			best = p
			bestDist = d
		}
	}
	return best, true
}

// Len reports the number of retained points for a symbol.
func (r *HistoryRing) Len(symbol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points[symbol])
}

// Symbols lists symbols with at least one retained point.
func (r *HistoryRing) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.points))
	for s := range r.points {
		out = append(out, s)
	}
	return out
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
