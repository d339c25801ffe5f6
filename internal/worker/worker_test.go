package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestWorker(t *testing.T, cfg Config) (*Worker, domain.Repository, *bus.ChannelBus) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-*.db")
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

	if err := repo.SaveMerchants(context.Background(), []*domain.Merchant{
		{ID: "m-1", Name: "Shop", MCC: 5411, Country: "US", RiskTier: 1},
	}); err != nil {
		t.Fatalf("SaveMerchants: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	w := NewWorker(eventBus, repo, cache.NewLRUCache(1000), cfg)
	t.Cleanup(func() { w.Stop() })

	return w, repo, eventBus
}

func tx(id, cardID string, ts time.Time, amount float64, lat, lon *float64) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		CardID:     cardID,
		MerchantID: "m-1",
		Timestamp:  ts,
		Amount:     amount,
		Currency:   "USD",
		Lat:        lat,
		Lon:        lon,
		Channel:    domain.ChannelPOS,
	}
}

func fptr(f float64) *float64 { return &f }

func TestScreenPersistsTransaction(t *testing.T) {
	w, repo, _ := newTestWorker(t, DefaultConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	if err := w.Screen(ctx, tx("tx-1", "card-1", now, 25, fptr(40.0), fptr(-74.0))); err != nil {
		t.Fatalf("Screen: %v", err)
	}

	saved, err := repo.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if saved.Amount != 25 {
		t.Errorf("Amount = %v, want 25", saved.Amount)
	}

	n, err := repo.CountAlerts(ctx)
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 0 {
		t.Errorf("alerts = %d, want 0 for a single benign transaction", n)
	}
}

func TestScreenRapidFire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RapidFireThreshold = 3
	w, repo, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		id := "tx-rf-" + string(rune('a'+i))
		if err := w.Screen(ctx, tx(id, "card-rf", now.Add(time.Duration(i)*time.Second), 5, nil, nil)); err != nil {
			t.Fatalf("Screen %d: %v", i, err)
		}
	}

	alerts, err := repo.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1 on the third transaction", len(alerts))
	}
	if alerts[0].RuleName != "live_rapid_fire" {
		t.Errorf("RuleName = %q", alerts[0].RuleName)
	}
	if alerts[0].TxID != "tx-rf-c" {
		t.Errorf("TxID = %q, want the threshold-crossing transaction", alerts[0].TxID)
	}
}

func TestScreenGeoVelocity(t *testing.T) {
	w, repo, _ := newTestWorker(t, DefaultConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	// New York, then Los Angeles one minute later.
	if err := w.Screen(ctx, tx("tx-gv-1", "card-gv", now, 10, fptr(40.7128), fptr(-74.0060))); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if err := w.Screen(ctx, tx("tx-gv-2", "card-gv", now.Add(time.Minute), 12, fptr(34.0522), fptr(-118.2437))); err != nil {
		t.Fatalf("Screen: %v", err)
	}

	alerts, err := repo.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].RuleName != "live_geo_velocity" {
		t.Errorf("RuleName = %q", alerts[0].RuleName)
	}
	if alerts[0].TxID != "tx-gv-2" {
		t.Errorf("TxID = %q, want the second leg", alerts[0].TxID)
	}
}

func TestScreenMissingGeoNeverFlagsVelocity(t *testing.T) {
	w, repo, _ := newTestWorker(t, DefaultConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	if err := w.Screen(ctx, tx("tx-ng-1", "card-ng", now, 10, fptr(40.7128), fptr(-74.0060))); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	// Second transaction has no geodata: velocity is unknown, not extreme.
	if err := w.Screen(ctx, tx("tx-ng-2", "card-ng", now.Add(time.Second), 12, nil, nil)); err != nil {
		t.Fatalf("Screen: %v", err)
	}

	n, err := repo.CountAlerts(ctx)
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 0 {
		t.Errorf("alerts = %d, want 0 when geodata is missing", n)
	}
}

func TestWorkerConsumesFromBus(t *testing.T) {
	w, repo, eventBus := newTestWorker(t, DefaultConfig())
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var alertsSeen atomic.Int32
	eventBus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		alertsSeen.Add(1)
		return nil
	})

	payload, _ := json.Marshal(tx("tx-bus-1", "card-bus", time.Now().UTC(), 15, fptr(40.0), fptr(-74.0)))
	if err := eventBus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		saved, err := repo.GetTransaction(ctx, "tx-bus-1")
		if err == nil && saved != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for the worker to persist the transaction")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if alertsSeen.Load() != 0 {
		t.Errorf("unexpected live alerts for a benign transaction: %d", alertsSeen.Load())
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("SubscriptionCount = %d, want 1", stats.SubscriptionCount)
	}
}

func TestScreenRejectsInvalidTransaction(t *testing.T) {
	w, _, _ := newTestWorker(t, DefaultConfig())

	if err := w.Screen(context.Background(), &domain.Transaction{ID: "", CardID: ""}); err == nil {
		t.Fatal("expected error for a transaction without id")
	}
}

// slowRepo blocks SaveTransactions until released so a screen can be held
// in flight.
type slowRepo struct {
	domain.Repository
	entered chan struct{}
	release chan struct{}
}

func (s *slowRepo) SaveTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.Repository.SaveTransactions(ctx, txs)
}

func TestStopWaitsForInFlightScreens(t *testing.T) {
	w, repo, eventBus := newTestWorker(t, DefaultConfig())
	ctx := context.Background()

	slow := &slowRepo{
		Repository: repo,
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	w.repo = slow

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	payload, _ := json.Marshal(tx("tx-stop-1", "card-stop", time.Now().UTC(), 15, nil, nil))
	if err := eventBus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the screen to start")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a screen was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(slow.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the screen finished")
	}
}
