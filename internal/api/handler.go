package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	builder   *features.Builder
	screener  *worker.Worker
	rulesPath string
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, builder *features.Builder, screener *worker.Worker, rulesPath, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		builder:   builder,
		screener:  screener,
		rulesPath: rulesPath,
		version:   version,
	}
}

// IngestRequest is the request body for POST /transactions.
type IngestRequest struct {
	ID              string   `json:"id,omitempty"`
	CardID          string   `json:"cardId"`
	MerchantID      string   `json:"merchantId"`
	Timestamp       string   `json:"timestamp,omitempty"`
	Amount          float64  `json:"amount"`
	Currency        string   `json:"currency,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lon             *float64 `json:"lon,omitempty"`
	Channel         string   `json:"channel,omitempty"`
	DeviceID        string   `json:"deviceId,omitempty"`
	IsInternational bool     `json:"isInternational,omitempty"`
}

// IngestResponse is the response for POST /transactions.
type IngestResponse struct {
	TxID    string `json:"txId"`
	Status  string `json:"status"`
	TraceID string `json:"traceId,omitempty"`
}

// IngestTransaction handles POST /transactions. The transaction is persisted
// and screened synchronously when a screening worker is wired in; otherwise it
// is persisted and published for a remote worker to pick up.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CardID == "" || req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cardId and merchantId are required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if (req.Lat == nil) != (req.Lon == nil) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lat and lon must be provided together",
		})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "timestamp must be RFC 3339",
			})
			return
		}
		ts = parsed.UTC()
	}

	tx := &domain.Transaction{
		ID:              req.ID,
		CardID:          req.CardID,
		MerchantID:      req.MerchantID,
		Timestamp:       ts,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Lat:             req.Lat,
		Lon:             req.Lon,
		Channel:         domain.Channel(req.Channel),
		DeviceID:        req.DeviceID,
		IsInternational: req.IsInternational,
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Currency == "" {
		tx.Currency = "USD"
	}
	if tx.Channel == "" {
		tx.Channel = domain.ChannelPOS
	}

	status := "screened"
	if h.screener != nil {
		if err := h.screener.Screen(ctx, tx); err != nil {
			slog.Error("failed to screen transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to screen transaction",
			})
			return
		}
	} else {
		if _, err := h.repo.SaveTransactions(ctx, []*domain.Transaction{tx}); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save transaction",
			})
			return
		}
		status = "accepted"
		if h.bus != nil {
			payload, _ := json.Marshal(tx)
			if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
				slog.Error("failed to publish transaction", "tx_id", tx.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		TxID:    tx.ID,
		Status:  status,
		TraceID: GetTraceID(ctx),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// BuildFeatures handles POST /pipeline/features: recompute the per-card
// feature rows for every stored transaction.
func (h *Handler) BuildFeatures(w http.ResponseWriter, r *http.Request) {
	if h.builder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "feature builder not available",
		})
		return
	}

	start := time.Now()
	n, err := h.builder.BuildFeatures(r.Context())
	if err != nil {
		slog.Error("feature build failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "feature build failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":       n,
		"durationMs": time.Since(start).Milliseconds(),
	})
}

// ScoreRules handles POST /pipeline/score: run every active rule over the
// scoring window and persist the resulting alerts. An optional window_days
// query parameter restricts the batch; window_days=0 scores everything.
func (h *Handler) ScoreRules(w http.ResponseWriter, r *http.Request) {
	var windowDays *int
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "window_days must be a non-negative integer",
			})
			return
		}
		windowDays = &d
	}

	start := time.Now()
	alerts, err := h.engine.ScoreRules(r.Context(), windowDays)
	if err != nil {
		slog.Error("rule scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule scoring failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":     alerts,
		"rules":      h.engine.RulesCount(),
		"durationMs": time.Since(start).Milliseconds(),
	})
}

// ListAlerts returns the most recent alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	alerts, err := h.repo.ListAlerts(ctx, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	total, err := h.repo.CountAlerts(ctx)
	if err != nil {
		slog.Error("failed to count alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to count alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
		"total":  total,
	})
}

// ListRules returns the rule specs currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	specs := h.engine.ActiveSpecs()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": specs,
		"count": len(specs),
	})
}

// ReloadRules re-reads the rules file and swaps the loaded set. The previous
// set stays active if the file fails validation.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.rulesPath == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no rules file configured",
		})
		return
	}

	if err := h.engine.LoadFile(h.rulesPath); err != nil {
		slog.Error("failed to reload rules", "path", h.rulesPath, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "path", h.rulesPath, "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// DailyKPIs returns per-day transaction and alert aggregates.
func (h *Handler) DailyKPIs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be a positive integer",
			})
			return
		}
		days = n
	}

	kpis, err := h.repo.DailyKPIs(ctx, days)
	if err != nil {
		slog.Error("failed to compute daily KPIs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute daily KPIs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kpis":  kpis,
		"count": len(kpis),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
