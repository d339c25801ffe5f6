// Package report renders daily KPI summaries from the stored pipeline output.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Reporter loads daily KPIs and renders them as a markdown report.
type Reporter struct {
	repo domain.Repository
	days int
}

// NewReporter creates a reporter covering the trailing days window.
func NewReporter(repo domain.Repository, days int) *Reporter {
	if days <= 0 {
		days = 30
	}
	return &Reporter{repo: repo, days: days}
}

// KPIs returns the daily KPI series, oldest day first.
func (r *Reporter) KPIs(ctx context.Context) ([]domain.DailyKPI, error) {
	kpis, err := r.repo.DailyKPIs(ctx, r.days)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily KPIs: %w", err)
	}
	slog.Info("loaded daily KPIs", "days", len(kpis))
	return kpis, nil
}

// WriteMarkdown renders the KPI table to outDir/report_<date>.md and returns
// the path. An empty KPI series is an error, not an empty report.
func (r *Reporter) WriteMarkdown(ctx context.Context, outDir string) (string, error) {
	kpis, err := r.KPIs(ctx)
	if err != nil {
		return "", err
	}
	if len(kpis) == 0 {
		return "", fmt.Errorf("no KPIs found to report")
	}

	if outDir == "" {
		outDir = "reports"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(outDir, fmt.Sprintf("report_%s.md", today))

	if err := os.WriteFile(path, []byte(Render(kpis, today)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	slog.Info("wrote daily report", "path", path, "days", len(kpis))
	return path, nil
}

// Render builds the markdown body for a KPI series.
func Render(kpis []domain.DailyKPI, date string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Fraud Report - %s\n\n", date)
	fmt.Fprintf(&b, "## KPIs (last %d days)\n\n", len(kpis))
	b.WriteString("| Date | Transactions | Total Amount | Alerts | Alert Rate | Fraud Labeled |\n")
	b.WriteString("|------|--------------|--------------|--------|------------|---------------|\n")
	for _, k := range kpis {
		fmt.Fprintf(&b, "| %s | %d | %.2f | %d | %.4f | %d |\n",
			k.Date, k.TxCount, k.TotalAmount, k.AlertCount, k.AlertRate, k.FraudLabeled)
	}
	return b.String()
}
