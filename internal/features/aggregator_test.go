package features

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func mkRow(txID, cardID string, ts time.Time, amount float64, lat, lon *float64) domain.ScoringRow {
	return domain.ScoringRow{
		TxID:    txID,
		CardID:  cardID,
		TS:      ts,
		Amount:  amount,
		Lat:     lat,
		Lon:     lon,
		Channel: domain.ChannelPOS,
	}
}

func TestSingleTransactionCard(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.ScoringRow{
		mkRow("tx-1", "card-1", base, 50.0, ptr(40.0), ptr(-74.0)),
	}

	frs := ComputeCardFeatures(rows)
	if len(frs) != 1 {
		t.Fatalf("expected 1 feature row, got %d", len(frs))
	}

	fr := frs[0]
	if fr.LastTxDeltaMinutes != domain.FirstTxDeltaSentinel {
		t.Errorf("expected delta sentinel %v, got %v", domain.FirstTxDeltaSentinel, fr.LastTxDeltaMinutes)
	}
	if fr.TxCount1h != 0 || fr.TxCount24h != 0 {
		t.Errorf("expected zero window counts, got 1h=%d 24h=%d", fr.TxCount1h, fr.TxCount24h)
	}
	if fr.GeoVelocityKmphPrev != 0 {
		t.Errorf("expected zero velocity, got %v", fr.GeoVelocityKmphPrev)
	}
	if fr.GeoVelocityKnown {
		t.Error("velocity must be unknown for a card's first transaction")
	}
	if fr.AmountMean24h != 50.0 {
		t.Errorf("mean over a single-row window should be the amount, got %v", fr.AmountMean24h)
	}
}

func TestWindowCounts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{
		base,
		base.Add(30 * time.Minute),
		base.Add(60 * time.Minute),
		base.Add(90 * time.Minute),
	}

	counts := WindowCounts(ts, time.Hour)

	// The window is left-open: the element exactly one hour older falls out.
	want := []int{1, 2, 2, 2}
	for i := range counts {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestWindowMeansIncludeCurrentRow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)}
	amounts := []float64{10, 20, 30}

	means := WindowMeans(ts, amounts, 24*time.Hour)

	want := []float64{10, 15, 20}
	for i := range means {
		if math.Abs(means[i]-want[i]) > 1e-9 {
			t.Errorf("means[%d] = %v, want %v", i, means[i], want[i])
		}
	}
}

func TestDeltaAndVelocity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []domain.ScoringRow{
		mkRow("tx-1", "card-1", base, 10.0, ptr(40.0), ptr(-74.0)),
		mkRow("tx-2", "card-1", base.Add(time.Hour), 20.0, ptr(41.0), ptr(-74.0)),
	}

	frs := ComputeCardFeatures(rows)
	if len(frs) != 2 {
		t.Fatalf("expected 2 feature rows, got %d", len(frs))
	}

	if frs[1].LastTxDeltaMinutes != 60 {
		t.Errorf("expected 60 minute delta, got %v", frs[1].LastTxDeltaMinutes)
	}
	if !frs[1].GeoVelocityKnown {
		t.Fatal("expected known velocity for second transaction with geodata")
	}
	// One degree of latitude over one hour is ~111 km/h.
	if frs[1].GeoVelocityKmphPrev < 105 || frs[1].GeoVelocityKmphPrev > 118 {
		t.Errorf("velocity = %v km/h, expected ~111", frs[1].GeoVelocityKmphPrev)
	}
}

func TestVelocityUnknownWithoutGeodata(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []domain.ScoringRow{
		mkRow("tx-1", "card-1", base, 10.0, nil, nil),
		mkRow("tx-2", "card-1", base.Add(time.Hour), 20.0, ptr(41.0), ptr(-74.0)),
	}

	frs := ComputeCardFeatures(rows)
	if frs[1].GeoVelocityKnown {
		t.Error("velocity must be unknown when the previous point has no geodata")
	}
	if frs[1].GeoVelocityKmphPrev != 0 {
		t.Errorf("unknown velocity must be stored as 0, got %v", frs[1].GeoVelocityKmphPrev)
	}
}

func TestComputeSortsByTimestamp(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []domain.ScoringRow{
		mkRow("tx-2", "card-1", base.Add(time.Minute), 20.0, nil, nil),
		mkRow("tx-1", "card-1", base, 10.0, nil, nil),
	}

	frs := ComputeCardFeatures(rows)
	if frs[0].TxID != "tx-1" || frs[1].TxID != "tx-2" {
		t.Errorf("rows not ordered by timestamp: got %s, %s", frs[0].TxID, frs[1].TxID)
	}
	if frs[0].LastTxDeltaMinutes != domain.FirstTxDeltaSentinel {
		t.Error("earliest transaction should carry the delta sentinel")
	}
}

func TestGroupByCard(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []domain.ScoringRow{
		mkRow("tx-1", "card-1", base, 1, nil, nil),
		mkRow("tx-2", "card-2", base, 1, nil, nil),
		mkRow("tx-3", "card-1", base, 1, nil, nil),
	}

	groups := GroupByCard(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups["card-1"]) != 2 || len(groups["card-2"]) != 1 {
		t.Errorf("unexpected group sizes: %d, %d", len(groups["card-1"]), len(groups["card-2"]))
	}
}
