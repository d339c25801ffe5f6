// Package features derives per-card behavioral signals from transaction history.
package features

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// WindowCounts returns, for each element of a timestamp-ascending series, the
// number of elements in the trailing window ending at (and including) that
// element. The window is left-open: an element exactly window older than the
// current one is outside it. The current element is always counted.
//
// The start pointer only moves forward, so the whole series is O(n).
func WindowCounts(ts []time.Time, window time.Duration) []int {
	counts := make([]int, len(ts))
	start := 0
	for i := range ts {
		edge := ts[i].Add(-window)
		for !ts[start].After(edge) {
			start++
		}
		counts[i] = i - start + 1
	}
	return counts
}

// WindowMeans returns, for each element, the mean of amounts over the trailing
// window ending at (and including) the current element. The current amount is
// part of the mean. An empty window yields 0, though with the current element
// always inside it this only guards degenerate input.
func WindowMeans(ts []time.Time, amounts []float64, window time.Duration) []float64 {
	means := make([]float64, len(ts))
	start := 0
	sum := 0.0
	for i := range ts {
		sum += amounts[i]
		edge := ts[i].Add(-window)
		for !ts[start].After(edge) {
			sum -= amounts[start]
			start++
		}
		if n := i - start + 1; n > 0 {
			means[i] = sum / float64(n)
		}
	}
	return means
}

// ComputeCardFeatures computes one feature row per transaction for a single
// card's rows. Rows are sorted by timestamp ascending before computation; ties
// keep their input order. A card with a single transaction gets the delta
// sentinel, zero window counts and an unknown velocity, which is expected.
func ComputeCardFeatures(rows []domain.ScoringRow) []*domain.FeatureRow {
	if len(rows) == 0 {
		return nil
	}

	sorted := make([]domain.ScoringRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TS.Before(sorted[j].TS)
	})

	ts := make([]time.Time, len(sorted))
	amounts := make([]float64, len(sorted))
	for i, r := range sorted {
		ts[i] = r.TS
		amounts[i] = r.Amount
	}

	counts1h := WindowCounts(ts, time.Hour)
	counts24h := WindowCounts(ts, 24*time.Hour)
	means24h := WindowMeans(ts, amounts, 24*time.Hour)

	out := make([]*domain.FeatureRow, len(sorted))
	for i, r := range sorted {
		fr := &domain.FeatureRow{
			TxID:               r.TxID,
			LabelFraud:         r.LabelFraud,
			Amount:             r.Amount,
			LastTxDeltaMinutes: domain.FirstTxDeltaSentinel,
			TxCount1h:          counts1h[i] - 1,
			TxCount24h:         counts24h[i] - 1,
			AmountMean24h:      means24h[i],
			Channel:            r.Channel,
			DeviceID:           r.DeviceID,
			MerchantRiskTier:   r.RiskTier,
			Brand:              r.Brand,
			TS:                 r.TS,
		}

		if i > 0 {
			prev := sorted[i-1]
			fr.LastTxDeltaMinutes = r.TS.Sub(prev.TS).Minutes()
			fr.GeoVelocityKmphPrev, fr.GeoVelocityKnown = geo.Velocity(
				prev.Lat, prev.Lon, prev.TS, r.Lat, r.Lon, r.TS)
		}

		out[i] = fr
	}

	return out
}

// GroupByCard partitions rows by card id. Partitions share no state and are
// safe to process concurrently.
func GroupByCard(rows []domain.ScoringRow) map[string][]domain.ScoringRow {
	groups := make(map[string][]domain.ScoringRow)
	for _, r := range rows {
		groups[r.CardID] = append(groups[r.CardID], r)
	}
	return groups
}
