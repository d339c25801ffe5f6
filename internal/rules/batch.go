package rules

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// Batch is one scoring batch plus lazily derived per-card signals. Derived
// slices are aligned to Rows by index, so predicate masks line up with the
// input regardless of per-card reordering. Predicates evaluate concurrently
// against a shared Batch; the caches are guarded for that.
type Batch struct {
	Rows []domain.ScoringRow

	mu           sync.Mutex
	cardOrder    map[string][]int // card id -> row indices, timestamp ascending
	windowCounts map[time.Duration][]int
	prevVelocity []float64
	prevVelKnown []bool
}

// NewBatch wraps a scoring batch.
func NewBatch(rows []domain.ScoringRow) *Batch {
	return &Batch{
		Rows:         rows,
		windowCounts: make(map[time.Duration][]int),
	}
}

// cardIndices returns per-card row indices in timestamp order, computing them
// on first use. Callers must hold b.mu.
func (b *Batch) cardIndices() map[string][]int {
	if b.cardOrder != nil {
		return b.cardOrder
	}

	order := make(map[string][]int)
	for i, r := range b.Rows {
		order[r.CardID] = append(order[r.CardID], i)
	}
	for _, idxs := range order {
		// Rows arrive mostly sorted; insertion sort keeps ties stable.
		for i := 1; i < len(idxs); i++ {
			for j := i; j > 0 && b.Rows[idxs[j]].TS.Before(b.Rows[idxs[j-1]].TS); j-- {
				idxs[j], idxs[j-1] = idxs[j-1], idxs[j]
			}
		}
	}
	b.cardOrder = order
	return order
}

// WindowCounts returns, per row, the number of same-card transactions in the
// trailing window ending at (and including) the row's timestamp, counting the
// row itself. Results are cached per window size.
func (b *Batch) WindowCounts(window time.Duration) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if counts, ok := b.windowCounts[window]; ok {
		return counts
	}

	counts := make([]int, len(b.Rows))
	for _, idxs := range b.cardIndices() {
		ts := make([]time.Time, len(idxs))
		for i, idx := range idxs {
			ts[i] = b.Rows[idx].TS
		}
		cardCounts := features.WindowCounts(ts, window)
		for i, idx := range idxs {
			counts[idx] = cardCounts[i]
		}
	}

	b.windowCounts[window] = counts
	return counts
}

// PrevVelocity returns, per row, the implied travel speed from the immediately
// preceding same-card transaction and whether that speed is known. The first
// transaction of a card, missing geodata and zero elapsed time are all
// unknown, reported as 0.
func (b *Batch) PrevVelocity() (kmph []float64, known []bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.prevVelocity != nil {
		return b.prevVelocity, b.prevVelKnown
	}

	kmph = make([]float64, len(b.Rows))
	known = make([]bool, len(b.Rows))
	for _, idxs := range b.cardIndices() {
		for i := 1; i < len(idxs); i++ {
			prev := &b.Rows[idxs[i-1]]
			cur := &b.Rows[idxs[i]]
			kmph[idxs[i]], known[idxs[i]] = geo.Velocity(
				prev.Lat, prev.Lon, prev.TS, cur.Lat, cur.Lon, cur.TS)
		}
	}

	b.prevVelocity = kmph
	b.prevVelKnown = known
	return kmph, known
}

// LocalHours returns the hour-of-day of every row in the given location.
func (b *Batch) LocalHours(loc *time.Location) []int {
	if loc == nil {
		loc = time.UTC
	}
	hours := make([]int, len(b.Rows))
	for i, r := range b.Rows {
		hours[i] = r.TS.In(loc).Hour()
	}
	return hours
}
