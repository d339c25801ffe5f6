// Package datagen produces seeded synthetic accounts, cards, merchants and
// transactions, with optional fraud pattern injection for labeled datasets.
package datagen

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	cardBrands   = []string{"VISA", "MASTERCARD", "AMEX", "DISCOVER"}
	brandWeights = []float64{0.5, 0.3, 0.15, 0.05}

	// mccPool mixes everyday categories with high-risk ones (gambling,
	// direct marketing, quasi-cash).
	mccPool = []int{5411, 5732, 5812, 5944, 5967, 7995, 7996, 6051}

	riskTiers       = []int{1, 2, 3}
	riskTierWeights = []float64{0.7, 0.2, 0.1}
)

// Generator produces deterministic synthetic entities for a given seed.
type Generator struct {
	cfg   domain.GenerationConfig
	rng   *rand.Rand
	faker *gofakeit.Faker
}

// NewGenerator creates a generator. The same seed and config always produce
// the same entities.
func NewGenerator(cfg domain.GenerationConfig, seed int64) *Generator {
	if cfg.NumCustomers <= 0 {
		cfg.NumCustomers = 1000
	}
	if cfg.Merchants <= 0 {
		cfg.Merchants = 200
	}
	if cfg.CardsPerAccountMean <= 0 {
		cfg.CardsPerAccountMean = 1.3
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"NE", "SE", "MW", "SW", "W"}
	}

	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		faker: gofakeit.New(uint64(seed)),
	}
}

// Accounts generates customer accounts with age and a clipped-normal risk
// score.
func (g *Generator) Accounts() []*domain.Account {
	now := time.Now().UTC()
	accounts := make([]*domain.Account, 0, g.cfg.NumCustomers)

	for i := 0; i < g.cfg.NumCustomers; i++ {
		opened := now.AddDate(0, 0, -(30 + g.rng.Intn(1971)))
		score := clip(g.rng.NormFloat64()*0.1+0.2, 0, 1) * 100

		accounts = append(accounts, &domain.Account{
			ID:        uuid.New().String(),
			OpenedAt:  opened,
			Region:    g.cfg.Regions[g.rng.Intn(len(g.cfg.Regions))],
			RiskScore: math.Round(score*100) / 100,
		})
	}
	return accounts
}

// Cards generates a Poisson-distributed number of cards per account, at least
// one each.
func (g *Generator) Cards(accounts []*domain.Account) []*domain.Card {
	now := time.Now().UTC()
	var cards []*domain.Card

	for _, acc := range accounts {
		k := g.poisson(g.cfg.CardsPerAccountMean)
		if k < 1 {
			k = 1
		}
		for i := 0; i < k; i++ {
			status := "ACTIVE"
			if g.rng.Float64() < 0.03 {
				status = "BLOCKED"
			}
			cards = append(cards, &domain.Card{
				ID:        uuid.New().String(),
				AccountID: acc.ID,
				PanLast4:  fmt.Sprintf("%04d", g.rng.Intn(10000)),
				Brand:     weightedChoice(g.rng, cardBrands, brandWeights),
				ExpDate:   now.AddDate(0, 0, 100+g.rng.Intn(1101)),
				Status:    status,
			})
		}
	}
	return cards
}

// Merchants generates merchants with MCCs from the pool and weighted risk
// tiers.
func (g *Generator) Merchants() []*domain.Merchant {
	merchants := make([]*domain.Merchant, 0, g.cfg.Merchants)

	for i := 0; i < g.cfg.Merchants; i++ {
		merchants = append(merchants, &domain.Merchant{
			ID:       uuid.New().String(),
			Name:     g.faker.Company(),
			MCC:      mccPool[g.rng.Intn(len(mccPool))],
			Country:  "US",
			RiskTier: weightedChoiceInt(g.rng, riskTiers, riskTierWeights),
		})
	}
	return merchants
}

// poisson draws from a Poisson distribution using Knuth's method. Fine for
// the small means used here.
func (g *Generator) poisson(mean float64) int {
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= g.rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func weightedChoice(rng *rand.Rand, items []string, weights []float64) string {
	return items[weightedIndex(rng, weights)]
}

func weightedChoiceInt(rng *rand.Rand, items []int, weights []float64) int {
	return items[weightedIndex(rng, weights)]
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}
