package features

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Builder runs the feature pipeline: read all transactions with their joined
// entity attributes, derive per-card feature rows, append them to the feature
// store in one bulk write.
type Builder struct {
	repo       domain.Repository
	maxWorkers int
}

// NewBuilder creates a feature pipeline builder.
func NewBuilder(repo domain.Repository, maxWorkers int) *Builder {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Builder{
		repo:       repo,
		maxWorkers: maxWorkers,
	}
}

// BuildFeatures computes feature rows for every transaction currently in
// storage and appends them to the feature store. Returns the number of rows
// written. Re-running over the same transactions appends duplicates; callers
// that need exactly-once filter their input.
func (b *Builder) BuildFeatures(ctx context.Context) (int, error) {
	rows, err := b.repo.FeatureSourceRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read feature source rows: %w", err)
	}
	if len(rows) == 0 {
		slog.Warn("no transactions to build features from")
		return 0, nil
	}

	groups := GroupByCard(rows)

	// Cards are independent; fan out with bounded concurrency. Each worker
	// writes only to its own slot, results are concatenated afterward.
	cardIDs := make([]string, 0, len(groups))
	for id := range groups {
		cardIDs = append(cardIDs, id)
	}

	perCard := make([][]*domain.FeatureRow, len(cardIDs))
	sem := make(chan struct{}, b.maxWorkers)
	var wg sync.WaitGroup

	for i, id := range cardIDs {
		wg.Add(1)
		go func(idx int, cardID string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			perCard[idx] = ComputeCardFeatures(groups[cardID])
		}(i, id)
	}

	wg.Wait()

	out := make([]*domain.FeatureRow, 0, len(rows))
	for _, frs := range perCard {
		out = append(out, frs...)
	}

	if err := b.repo.SaveFeatureRows(ctx, out); err != nil {
		return 0, fmt.Errorf("failed to save feature rows: %w", err)
	}

	slog.Info("feature pipeline completed",
		"cards", len(cardIDs),
		"rows_written", len(out),
	)

	return len(out), nil
}
