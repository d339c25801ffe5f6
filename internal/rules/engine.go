package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-rules")

// Engine orchestrates rule scoring: load active specs, fetch the scoring
// batch, evaluate every predicate, persist the alert batch in one bulk write.
type Engine struct {
	mu    sync.RWMutex
	rules []*boundRule

	repo       domain.Repository
	bus        domain.EventBus
	env        *Env
	maxWorkers int
}

// boundRule is a spec with its predicate already built and validated.
type boundRule struct {
	Spec domain.RuleSpec
	Pred Predicate
}

// NewEngine creates a scoring engine. The bus is optional; when present each
// completed run publishes an alert-batch event.
func NewEngine(repo domain.Repository, bus domain.EventBus, timezone string, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	env, err := NewEnv(timezone)
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:       repo,
		bus:        bus,
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// LoadSpecs builds and installs predicates for the given specs, replacing any
// previously loaded set. Inactive specs are skipped. Any unresolvable name or
// bad parameter fails the whole load and leaves the previous set in place.
func (e *Engine) LoadSpecs(specs []domain.RuleSpec) error {
	bound := make([]*boundRule, 0, len(specs))
	for _, spec := range specs {
		if !spec.Active {
			continue
		}
		pred, err := Build(spec, e.env)
		if err != nil {
			return err
		}
		bound = append(bound, &boundRule{Spec: spec, Pred: pred})
	}

	e.mu.Lock()
	e.rules = bound
	e.mu.Unlock()

	return nil
}

// LoadFile loads rule specs from the declarative rules file.
func (e *Engine) LoadFile(path string) error {
	specs, err := LoadSpecs(path)
	if err != nil {
		return err
	}
	return e.LoadSpecs(specs)
}

// RulesCount returns the number of loaded active rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// ActiveSpecs returns the currently loaded rule specifications.
func (e *Engine) ActiveSpecs() []domain.RuleSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]domain.RuleSpec, 0, len(e.rules))
	for _, r := range e.rules {
		specs = append(specs, r.Spec)
	}
	return specs
}

// alertBatchEvent is the payload published after a scoring run persists its
// alerts.
type alertBatchEvent struct {
	RunID      string `json:"runId"`
	AlertCount int    `json:"alertCount"`
	RowCount   int    `json:"rowCount"`
	RuleCount  int    `json:"ruleCount"`
}

// ScoreRules runs one scoring pass. A nil or non-positive windowDays scores
// all transactions, otherwise the trailing N days. Returns the number of
// alerts written.
//
// Re-running the same window re-inserts its alerts: deduplication belongs to
// the storage layer's constraints or the caller's scheduling, not here.
func (e *Engine) ScoreRules(ctx context.Context, windowDays *int) (int, error) {
	ctx, span := tracer.Start(ctx, "rules.score")
	defer span.End()

	e.mu.RLock()
	rules := make([]*boundRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	if len(rules) == 0 {
		slog.Warn("no active rules, nothing to score")
		return 0, nil
	}

	var since *time.Time
	if windowDays != nil && *windowDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, -*windowDays)
		since = &t
	}

	rows, err := e.repo.ScoringBatch(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch scoring batch: %w", err)
	}
	if len(rows) == 0 {
		slog.Warn("no transactions to score")
		return 0, nil
	}

	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("rules", len(rules)),
	)

	batch := NewBatch(rows)

	// Rules are independent; evaluate them in parallel with bounded
	// concurrency. Each worker writes only to its own slot.
	masks := make([][]bool, len(rules))
	errs := make([]error, len(rules))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *boundRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			mask, err := r.Pred.Evaluate(batch)
			if err != nil {
				errs[idx] = fmt.Errorf("rule %s: %w", r.Spec.Name, err)
				return
			}
			masks[idx] = mask
		}(i, rule)
	}

	wg.Wait()

	// Any failed rule fails the run before anything is written.
	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}

	now := time.Now().UTC()
	var alerts []*domain.Alert
	for i, rule := range rules {
		flagged := 0
		for j, hit := range masks[i] {
			if !hit {
				continue
			}
			flagged++
			alerts = append(alerts, &domain.Alert{
				ID:        uuid.New().String(),
				TxID:      rows[j].TxID,
				RuleName:  rule.Spec.Name,
				Score:     domain.AlertScore,
				CreatedAt: now,
			})
		}
		slog.Info("rule evaluated",
			"rule", rule.Spec.Name,
			"flagged", flagged,
			"rows", len(rows),
		)
	}

	if len(alerts) == 0 {
		slog.Info("no alerts generated")
		return 0, nil
	}

	// One bulk write: all rules' results or none.
	if err := e.repo.SaveAlerts(ctx, alerts); err != nil {
		return 0, fmt.Errorf("failed to save alerts: %w", err)
	}

	if e.bus != nil {
		payload, _ := json.Marshal(alertBatchEvent{
			RunID:      uuid.New().String(),
			AlertCount: len(alerts),
			RowCount:   len(rows),
			RuleCount:  len(rules),
		})
		if err := e.bus.Publish(ctx, domain.TopicAlertBatch, payload); err != nil {
			slog.Error("failed to publish alert batch event", "error", err)
		}
	}

	slog.Info("scoring run completed",
		"alerts", len(alerts),
		"rows", len(rows),
		"rules", len(rules),
	)

	return len(alerts), nil
}
