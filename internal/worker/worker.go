// Package worker provides live transaction screening off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// Config holds screening thresholds for the live path. They mirror the batch
// rules but run against cache state instead of the full history.
type Config struct {
	// RapidFireThreshold is the per-card transaction count within
	// RapidFireWindow that raises an alert.
	RapidFireThreshold int64
	RapidFireWindow    time.Duration

	// GeoVelocityKmph is the implied-speed threshold against the card's
	// last cached position.
	GeoVelocityKmph float64

	// PositionTTL bounds how long a card's last position stays relevant.
	PositionTTL time.Duration
}

// DefaultConfig matches the batch rule defaults.
func DefaultConfig() Config {
	return Config{
		RapidFireThreshold: 4,
		RapidFireWindow:    time.Minute,
		GeoVelocityKmph:    900,
		PositionTTL:        24 * time.Hour,
	}
}

// Worker consumes ingested transactions from the bus, persists them and runs
// cache-backed live screens. Screen hits become alerts immediately, without
// waiting for the next batch scoring run.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	cache domain.Cache
	cfg   Config

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a live screening worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, cfg Config) *Worker {
	if cfg.RapidFireThreshold <= 0 {
		cfg.RapidFireThreshold = 4
	}
	if cfg.RapidFireWindow <= 0 {
		cfg.RapidFireWindow = time.Minute
	}
	if cfg.GeoVelocityKmph <= 0 {
		cfg.GeoVelocityKmph = 900
	}
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction-ingested topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("live screening worker started",
		"topic", domain.TopicTransactionIngested,
		"rapid_fire_threshold", w.cfg.RapidFireThreshold,
		"geo_velocity_kmph", w.cfg.GeoVelocityKmph,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return w.Screen(ctx, &tx)
}

// Screen persists one transaction and runs the live screens against it.
func (w *Worker) Screen(ctx context.Context, tx *domain.Transaction) error {
	start := time.Now()

	if tx.ID == "" || tx.CardID == "" {
		return fmt.Errorf("transaction missing id or card id")
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	if _, err := w.repo.SaveTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		return fmt.Errorf("failed to persist transaction: %w", err)
	}

	var alerts []*domain.Alert
	now := time.Now().UTC()

	// Rapid fire: windowed per-card counter.
	count, err := w.cache.IncrementCounter(ctx, tx.CardID, w.cfg.RapidFireWindow)
	if err != nil {
		slog.Error("rapid fire counter failed", "tx_id", tx.ID, "error", err)
	} else if count >= w.cfg.RapidFireThreshold {
		alerts = append(alerts, &domain.Alert{
			ID:        uuid.New().String(),
			TxID:      tx.ID,
			RuleName:  "live_rapid_fire",
			Score:     domain.AlertScore,
			CreatedAt: now,
		})
	}

	// Geo velocity: implied speed from the card's last cached position.
	prev, err := w.cache.GetCardPosition(ctx, tx.CardID)
	if err != nil {
		slog.Error("position lookup failed", "tx_id", tx.ID, "error", err)
	} else if prev != nil && prev.HasGeo && tx.HasGeo() {
		kmph, known := geo.Velocity(&prev.Lat, &prev.Lon, prev.Timestamp, tx.Lat, tx.Lon, tx.Timestamp)
		if known && kmph >= w.cfg.GeoVelocityKmph {
			alerts = append(alerts, &domain.Alert{
				ID:        uuid.New().String(),
				TxID:      tx.ID,
				RuleName:  "live_geo_velocity",
				Score:     domain.AlertScore,
				CreatedAt: now,
			})
		}
	}

	pos := &domain.CardPosition{HasGeo: tx.HasGeo(), Timestamp: tx.Timestamp}
	if tx.HasGeo() {
		pos.Lat, pos.Lon = *tx.Lat, *tx.Lon
	}
	if err := w.cache.SetCardPosition(ctx, tx.CardID, pos, w.cfg.PositionTTL); err != nil {
		slog.Error("position update failed", "tx_id", tx.ID, "error", err)
	}

	if len(alerts) > 0 {
		if err := w.repo.SaveAlerts(ctx, alerts); err != nil {
			return fmt.Errorf("failed to save live alerts: %w", err)
		}
		for _, alert := range alerts {
			payload, _ := json.Marshal(alert)
			if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "alert_id", alert.ID, "error", err)
			}
		}
	}

	slog.Info("transaction screened",
		"tx_id", tx.ID,
		"card_id", tx.CardID,
		"alerts", len(alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("live screening worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
