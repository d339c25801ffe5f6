//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud
// analytics pipeline.
//
// These tests run the COMPLETE batch pipeline in process:
//
//	Seed → Generate → Inject Fraud → Features → Rule Scoring → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. PORTFOLIO: Synthetic accounts, cards and merchants, generated from a
//    fixed seed so runs are reproducible.
//
// 2. TRANSACTIONS: A diurnal random walk per card. A configurable fraction
//    is corrupted with injected fraud patterns (amount spikes, rapid-fire
//    bursts, location teleports, night-time e-commerce) and labeled.
//
// 3. FEATURES: Per-card trailing-window aggregates (counts, means, deltas,
//    implied travel speed) written to an append-only table.
//
// 4. RULES: Named predicates bound from a YAML file. Each flags individual
//    transactions; every flag becomes one alert row.
//
// 5. ALERTS: At-least-once. Re-scoring a window re-inserts its alerts;
//    the alerts table carries no uniqueness constraint beyond the row id.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/datagen"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const pipelineRules = `
rules:
  - name: high_value
    params:
      amount_threshold: 500.0
  - name: rapid_fire
    params:
      tx_per_min_threshold: 3
      window_minutes: 1
  - name: geo_velocity
    params:
      geo_velocity_kmph: 900.0
  - name: high_risk_mcc
    params:
      high_risk_mcc: [7995, 7996, 6051]
  - name: night_owl_cnp
    params:
      cnp_channels: [ECOM]
      start_hour: 0
      end_hour: 5
`

type pipeline struct {
	repo    domain.Repository
	gen     *datagen.Generator
	builder *features.Builder
	engine  *rules.Engine
	txCount int
}

// newPipeline seeds a small deterministic portfolio with injected fraud.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-pipeline-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	gen := datagen.NewGenerator(domain.GenerationConfig{
		NumCustomers:        100,
		Merchants:           30,
		CardsPerAccountMean: 1.3,
		FraudRatio:          0.02,
		Regions:             []string{"NE", "SE", "MW", "SW", "W"},
	}, 42)

	ctx := context.Background()
	accounts := gen.Accounts()
	cards := gen.Cards(accounts)
	merchants := gen.Merchants()
	txs := gen.Transactions(cards, merchants, 14, 2)
	txs = gen.InjectFraud(txs, 0.02)

	if err := repo.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("SaveAccounts: %v", err)
	}
	if err := repo.SaveCards(ctx, cards); err != nil {
		t.Fatalf("SaveCards: %v", err)
	}
	if err := repo.SaveMerchants(ctx, merchants); err != nil {
		t.Fatalf("SaveMerchants: %v", err)
	}
	inserted, err := repo.SaveTransactions(ctx, txs)
	if err != nil {
		t.Fatalf("SaveTransactions: %v", err)
	}
	if inserted != len(txs) {
		t.Fatalf("expected %d inserted transactions, got %d", len(txs), inserted)
	}

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte(pipelineRules), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	engine, err := rules.NewEngine(repo, nil, "UTC", 8)
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}
	if err := engine.LoadFile(rulesPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	return &pipeline{
		repo:    repo,
		gen:     gen,
		builder: features.NewBuilder(repo, 8),
		engine:  engine,
		txCount: len(txs),
	}
}

func TestFullPipeline(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Stage 1: features. One feature row per stored transaction.
	nFeatures, err := p.builder.BuildFeatures(ctx)
	if err != nil {
		t.Fatalf("BuildFeatures: %v", err)
	}
	if nFeatures != p.txCount {
		t.Errorf("expected %d feature rows, got %d", p.txCount, nFeatures)
	}

	// Stage 2: scoring over everything.
	window := 0
	nAlerts, err := p.engine.ScoreRules(ctx, &window)
	if err != nil {
		t.Fatalf("ScoreRules: %v", err)
	}
	if nAlerts == 0 {
		t.Fatal("expected injected fraud to produce alerts")
	}

	total, err := p.repo.CountAlerts(ctx)
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if total != int64(nAlerts) {
		t.Errorf("expected %d stored alerts, got %d", nAlerts, total)
	}

	// Every alert references a stored transaction and a loaded rule.
	alerts, err := p.repo.ListAlerts(ctx, nAlerts)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	ruleNames := make(map[string]bool)
	for _, spec := range p.engine.ActiveSpecs() {
		ruleNames[spec.Name] = true
	}
	for _, a := range alerts {
		if _, err := p.repo.GetTransaction(ctx, a.TxID); err != nil {
			t.Errorf("alert %s references missing transaction %s: %v", a.ID, a.TxID, err)
		}
		if !ruleNames[a.RuleName] {
			t.Errorf("alert %s carries unknown rule name %q", a.ID, a.RuleName)
		}
		if a.Score != domain.AlertScore {
			t.Errorf("alert %s score = %v, want %v", a.ID, a.Score, domain.AlertScore)
		}
	}

	// Injected amount spikes must be caught by the high_value rule.
	labeled, err := p.repo.FeatureSourceRows(ctx)
	if err != nil {
		t.Fatalf("FeatureSourceRows: %v", err)
	}
	flagged := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		flagged[a.TxID] = true
	}
	var caught, injected int
	for _, row := range labeled {
		if row.LabelFraud != nil && *row.LabelFraud {
			injected++
			if flagged[row.TxID] {
				caught++
			}
		}
	}
	if injected == 0 {
		t.Fatal("expected labeled fraud in generated data")
	}
	if caught == 0 {
		t.Error("expected at least one labeled fraud transaction to be alerted")
	}
	t.Logf("pipeline: %d txs, %d alerts, %d/%d injected fraud caught",
		p.txCount, nAlerts, caught, injected)
}

func TestRescoreInsertsDuplicateAlerts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	window := 0
	first, err := p.engine.ScoreRules(ctx, &window)
	if err != nil {
		t.Fatalf("ScoreRules: %v", err)
	}
	second, err := p.engine.ScoreRules(ctx, &window)
	if err != nil {
		t.Fatalf("ScoreRules rerun: %v", err)
	}
	if first != second {
		t.Errorf("expected identical alert counts across runs, got %d then %d", first, second)
	}

	total, err := p.repo.CountAlerts(ctx)
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if total != int64(first+second) {
		t.Errorf("expected %d total alerts after rerun, got %d", first+second, total)
	}
}

func TestWindowedScoringIsSubset(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	all := 0
	full, err := p.engine.ScoreRules(ctx, &all)
	if err != nil {
		t.Fatalf("ScoreRules full: %v", err)
	}

	day := 1
	windowed, err := p.engine.ScoreRules(ctx, &day)
	if err != nil {
		t.Fatalf("ScoreRules windowed: %v", err)
	}

	if windowed > full {
		t.Errorf("1-day window produced %d alerts, more than full history's %d", windowed, full)
	}
}

func TestFeatureBuildIsIdempotentPerRun(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.builder.BuildFeatures(ctx)
	if err != nil {
		t.Fatalf("BuildFeatures: %v", err)
	}
	second, err := p.builder.BuildFeatures(ctx)
	if err != nil {
		t.Fatalf("BuildFeatures rerun: %v", err)
	}
	if first != second {
		t.Errorf("expected stable feature row count, got %d then %d", first, second)
	}
}

func TestReportAfterScoring(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	window := 0
	if _, err := p.engine.ScoreRules(ctx, &window); err != nil {
		t.Fatalf("ScoreRules: %v", err)
	}

	reporter := report.NewReporter(p.repo, 30)
	kpis, err := reporter.KPIs(ctx)
	if err != nil {
		t.Fatalf("KPIs: %v", err)
	}
	if len(kpis) == 0 {
		t.Fatal("expected KPI rows for generated history")
	}

	var txTotal, alertTotal int64
	for _, k := range kpis {
		txTotal += k.TxCount
		alertTotal += k.AlertCount
		if k.AlertRate < 0 || (k.TxCount > 0 && k.AlertRate > float64(k.AlertCount)/float64(k.TxCount)+1e-9) {
			t.Errorf("day %s alert rate %v inconsistent with %d/%d", k.Date, k.AlertRate, k.AlertCount, k.TxCount)
		}
	}
	if txTotal == 0 {
		t.Error("expected transactions in the KPI window")
	}
	if alertTotal == 0 {
		t.Error("expected alerts in the KPI window")
	}

	outDir := t.TempDir()
	path, err := reporter.WriteMarkdown(ctx, outDir)
	if err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "| Date |") {
		t.Error("expected KPI table in report")
	}
}
