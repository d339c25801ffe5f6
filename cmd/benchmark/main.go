// Benchmark tool for the Kestrel pipeline against labeled synthetic data.
//
// Usage:
//   go run cmd/benchmark/main.go -customers 2000 -days 30
//
// This tool:
//   1. Generates a synthetic portfolio with injected fraud (labels kept)
//   2. Runs the feature build and rule scoring stages end to end
//   3. Compares alerted transactions with the injected fraud labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/datagen"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Labeled fraud with at least one alert
	FalsePositives int64 // Clean transactions with an alert
	TrueNegatives  int64 // Clean transactions with no alert
	FalseNegatives int64 // Labeled fraud with no alert (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64

	GenerateMs int64
	FeaturesMs int64
	ScoringMs  int64
}

func main() {
	customers := flag.Int("customers", 2000, "Number of customer accounts")
	merchants := flag.Int("merchants", 300, "Number of merchants")
	days := flag.Int("days", 30, "Days of transaction history")
	txPerDay := flag.Int("tx-per-day", 2, "Mean transactions per card per day")
	fraudRatio := flag.Float64("fraud-ratio", 0.01, "Fraction of transactions to corrupt")
	seed := flag.Int64("seed", 42, "Generation seed")
	rulesPath := flag.String("rules", "./config/rules.yaml", "Path to rules file")
	workers := flag.Int("workers", 8, "Parallelism for features and scoring")
	dbPath := flag.String("db", "", "SQLite path (default: temp file, removed on exit)")
	flag.Parse()

	// Keep benchmark output readable
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Fraud Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCustomers:   %d\n", *customers)
	fmt.Printf("Merchants:   %d\n", *merchants)
	fmt.Printf("Days:        %d\n", *days)
	fmt.Printf("Fraud Ratio: %.4f\n", *fraudRatio)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Rules:       %s\n", *rulesPath)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	path := *dbPath
	if path == "" {
		tmp, err := os.CreateTemp("", "kestrel-bench-*.db")
		if err != nil {
			fmt.Printf("ERROR: failed to create temp database: %v\n", err)
			os.Exit(1)
		}
		path = tmp.Name()
		tmp.Close()
		defer os.Remove(path)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: path,
	})
	if err != nil {
		fmt.Printf("ERROR: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()
	metrics := &Metrics{}

	// Stage 1: generate
	fmt.Println("Generating portfolio...")
	start := time.Now()
	gen := datagen.NewGenerator(domain.GenerationConfig{
		NumCustomers:        *customers,
		Merchants:           *merchants,
		CardsPerAccountMean: 1.3,
		FraudRatio:          *fraudRatio,
		Regions:             []string{"NE", "SE", "MW", "SW", "W"},
	}, *seed)

	accounts := gen.Accounts()
	cards := gen.Cards(accounts)
	merchantList := gen.Merchants()
	txs := gen.Transactions(cards, merchantList, *days, *txPerDay)
	txs = gen.InjectFraud(txs, *fraudRatio)

	if err := repo.SaveAccounts(ctx, accounts); err != nil {
		fail("save accounts", err)
	}
	if err := repo.SaveCards(ctx, cards); err != nil {
		fail("save cards", err)
	}
	if err := repo.SaveMerchants(ctx, merchantList); err != nil {
		fail("save merchants", err)
	}
	if _, err := repo.SaveTransactions(ctx, txs); err != nil {
		fail("save transactions", err)
	}
	metrics.GenerateMs = time.Since(start).Milliseconds()
	fmt.Printf("✓ Stored %d transactions across %d cards\n", len(txs), len(cards))

	// Stage 2: features
	fmt.Println("\nBuilding features...")
	start = time.Now()
	builder := features.NewBuilder(repo, *workers)
	nFeatures, err := builder.BuildFeatures(ctx)
	if err != nil {
		fail("feature build", err)
	}
	metrics.FeaturesMs = time.Since(start).Milliseconds()
	fmt.Printf("✓ Computed %d feature rows\n", nFeatures)

	// Stage 3: scoring
	fmt.Println("\nScoring rules...")
	engine, err := rules.NewEngine(repo, nil, "UTC", *workers)
	if err != nil {
		fail("rule engine", err)
	}
	if err := engine.LoadFile(*rulesPath); err != nil {
		fail("load rules", err)
	}

	start = time.Now()
	window := 0 // score everything
	nAlerts, err := engine.ScoreRules(ctx, &window)
	if err != nil {
		fail("rule scoring", err)
	}
	metrics.ScoringMs = time.Since(start).Milliseconds()
	fmt.Printf("✓ %d rules produced %d alerts\n", engine.RulesCount(), nAlerts)

	// Compare alerts against injected labels.
	total, err := repo.CountAlerts(ctx)
	if err != nil {
		fail("count alerts", err)
	}
	alerts, err := repo.ListAlerts(ctx, int(total))
	if err != nil {
		fail("list alerts", err)
	}
	flagged := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		flagged[a.TxID] = true
	}

	labeled, err := repo.FeatureSourceRows(ctx)
	if err != nil {
		fail("load labeled rows", err)
	}

	for _, row := range labeled {
		metrics.TotalProcessed++

		actual := row.LabelFraud != nil && *row.LabelFraud
		predicted := flagged[row.TxID]

		if actual {
			metrics.TotalFraud++
		} else {
			metrics.TotalNonFraud++
		}

		switch {
		case predicted && actual:
			metrics.TruePositives++
		case predicted && !actual:
			metrics.FalsePositives++
		case !predicted && !actual:
			metrics.TrueNegatives++
		default:
			metrics.FalseNegatives++
		}
	}

	printResults(metrics)
}

func fail(stage string, err error) {
	fmt.Printf("ERROR: %s failed: %v\n", stage, err)
	os.Exit(1)
}

func printResults(m *Metrics) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT       CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were injected fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Generation:       %d ms\n", m.GenerateMs)
	fmt.Printf("   Feature Build:    %d ms\n", m.FeaturesMs)
	fmt.Printf("   Rule Scoring:     %d ms\n", m.ScoringMs)
	if m.ScoringMs > 0 && m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / (float64(m.ScoringMs) / 1000)
		fmt.Printf("   Scoring Rate:     %.2f tx/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most injected fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
