package datagen

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// InjectFraud labels a fraud_ratio sample of transactions and reshapes them
// into five recognizable patterns: high-value spikes, rapid-fire
// micro-transaction bursts, impossible travel, high-risk amount spikes and
// night-time card-not-present activity. Rapid-fire bursts append extra
// transactions, so the returned slice can be longer than the input.
func (g *Generator) InjectFraud(txs []*domain.Transaction, fraudRatio float64) []*domain.Transaction {
	if len(txs) == 0 {
		return txs
	}
	if fraudRatio <= 0 {
		fraudRatio = g.cfg.FraudRatio
	}

	n := len(txs)
	k := int(float64(n) * fraudRatio)
	if k < 1 {
		k = 1
	}

	picked := g.rng.Perm(n)[:k]
	labeled := true
	for _, i := range picked {
		txs[i].LabelFraud = &labeled
	}

	fifth := k / 5
	if fifth < 1 {
		fifth = 1
	}
	group := func(ord int) []int {
		lo := ord * fifth
		if lo >= k {
			return nil
		}
		hi := lo + fifth
		if ord == 4 || hi > k {
			hi = k
		}
		return picked[lo:hi]
	}

	// High-value spikes
	for _, i := range group(0) {
		txs[i].Amount = math.Round(txs[i].Amount*(10+g.rng.Float64()*20)*100) / 100
	}

	// Rapid-fire micro-transactions cloned seconds after the base
	added := 0
	for _, i := range group(1) {
		base := txs[i]
		burst := 2 + g.rng.Intn(4)
		for j := 0; j < burst; j++ {
			clone := *base
			clone.ID = uuid.New().String()
			clone.Timestamp = base.Timestamp.Add(time.Duration(5+g.rng.Intn(41)) * time.Second)
			clone.Amount = math.Round((0.5+g.rng.Float64()*2)*100) / 100
			txs = append(txs, &clone)
			added++
		}
	}

	// Impossible travel: teleport far from the home base
	for _, i := range group(2) {
		lat := -40 + g.rng.Float64()*95
		lon := 100 + g.rng.Float64()*40
		txs[i].Lat, txs[i].Lon = &lat, &lon
	}

	// High-risk merchant spikes
	for _, i := range group(3) {
		txs[i].Amount = math.Round(txs[i].Amount*(5+g.rng.Float64()*10)*100) / 100
	}

	// Night-owl card-not-present burst in the 00:00-05:00 band
	for _, i := range group(4) {
		txs[i].Channel = domain.ChannelECOM
		midnight := txs[i].Timestamp.Truncate(24 * time.Hour)
		txs[i].Timestamp = midnight.Add(time.Duration(g.rng.Intn(5)) * time.Hour)
	}

	slog.Info("injected fraud patterns",
		"base_transactions", n,
		"labeled", k,
		"burst_added", added,
	)
	return txs
}
