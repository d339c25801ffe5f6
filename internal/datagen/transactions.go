package datagen

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	txChannels     = []domain.Channel{domain.ChannelPOS, domain.ChannelECOM, domain.ChannelATM}
	channelWeights = []float64{0.6, 0.35, 0.05}
)

// homeBase is a card's anchor location for the geographic random walk.
type homeBase struct {
	lat float64
	lon float64
}

// Transactions generates days x txPerDay candidate transactions against the
// given cards and merchants. Diurnal rejection sampling thins the night hours,
// so the realized count is lower than days*txPerDay. Each card walks randomly
// around a home base in the continental US.
func (g *Generator) Transactions(cards []*domain.Card, merchants []*domain.Merchant, days, txPerDay int) []*domain.Transaction {
	if len(cards) == 0 || len(merchants) == 0 {
		return nil
	}
	if days <= 0 {
		days = 1
	}
	if txPerDay <= 0 {
		txPerDay = 10000
	}

	homes := make(map[string]homeBase, len(cards))
	for _, c := range cards {
		homes[c.ID] = homeBase{
			lat: 25 + g.rng.Float64()*24,
			lon: -124 + g.rng.Float64()*57,
		}
	}

	now := time.Now().UTC()
	startDay := now.AddDate(0, 0, -days)

	var txs []*domain.Transaction
	for d := 0; d < days; d++ {
		day := startDay.AddDate(0, 0, d)
		for i := 0; i < txPerDay; i++ {
			ts := day.Add(time.Duration(g.rng.Intn(86400)) * time.Second)
			if g.rng.Float64() > diurnalWeight(ts) {
				continue
			}

			card := cards[g.rng.Intn(len(cards))]
			merch := merchants[g.rng.Intn(len(merchants))]
			home := homes[card.ID]
			lat := home.lat + g.rng.NormFloat64()*0.05
			lon := home.lon + g.rng.NormFloat64()*0.05
			amount := math.Max(1.0, math.Exp(3.5+0.7*g.rng.NormFloat64()))

			txs = append(txs, &domain.Transaction{
				ID:              uuid.New().String(),
				CardID:          card.ID,
				MerchantID:      merch.ID,
				Timestamp:       ts,
				Amount:          math.Round(amount*100) / 100,
				Currency:        "USD",
				Lat:             &lat,
				Lon:             &lon,
				Channel:         txChannels[weightedIndex(g.rng, channelWeights)],
				DeviceID:        fmt.Sprintf("dev_%d", 1+g.rng.Intn(150000)),
				IsInternational: g.rng.Float64() < 0.05,
			})
		}
	}
	return txs
}

// diurnalWeight peaks mid-afternoon and bottoms out overnight.
func diurnalWeight(t time.Time) float64 {
	hour := float64(t.Hour())
	base := 0.2 + 0.8*(1-math.Abs((hour-15)/10))
	return math.Max(0.05, math.Min(1.0, base))
}
