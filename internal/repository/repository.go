// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const defaultBatchSize = 500

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db        *sql.DB
	driver    string
	batchSize int
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	repo := &SQLRepository{
		db:        db,
		driver:    cfg.Driver,
		batchSize: batchSize,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAccounts bulk-inserts accounts. Existing ids are left untouched.
func (r *SQLRepository) SaveAccounts(ctx context.Context, accounts []*domain.Account) error {
	const cols = 4
	return r.bulkInsert(ctx, len(accounts),
		"INSERT INTO accounts (id, opened_at, region, risk_score) VALUES %s ON CONFLICT(id) DO NOTHING",
		cols,
		func(i int, args []interface{}) {
			a := accounts[i]
			args[0], args[1], args[2], args[3] = a.ID, a.OpenedAt, a.Region, a.RiskScore
		})
}

// SaveCards bulk-inserts cards. Existing ids are left untouched.
func (r *SQLRepository) SaveCards(ctx context.Context, cards []*domain.Card) error {
	const cols = 6
	return r.bulkInsert(ctx, len(cards),
		"INSERT INTO cards (id, account_id, pan_last4, brand, exp_date, status) VALUES %s ON CONFLICT(id) DO NOTHING",
		cols,
		func(i int, args []interface{}) {
			c := cards[i]
			args[0], args[1], args[2] = c.ID, c.AccountID, c.PanLast4
			args[3], args[4], args[5] = c.Brand, c.ExpDate, c.Status
		})
}

// SaveMerchants bulk-inserts merchants. Existing ids are left untouched.
func (r *SQLRepository) SaveMerchants(ctx context.Context, merchants []*domain.Merchant) error {
	const cols = 5
	return r.bulkInsert(ctx, len(merchants),
		"INSERT INTO merchants (id, name, mcc, country, risk_tier) VALUES %s ON CONFLICT(id) DO NOTHING",
		cols,
		func(i int, args []interface{}) {
			m := merchants[i]
			args[0], args[1], args[2], args[3], args[4] = m.ID, m.Name, m.MCC, m.Country, m.RiskTier
		})
}

// ListCards returns all cards ordered by id.
func (r *SQLRepository) ListCards(ctx context.Context) ([]*domain.Card, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, pan_last4, brand, exp_date, status FROM cards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(&c.ID, &c.AccountID, &c.PanLast4, &c.Brand, &c.ExpDate, &c.Status); err != nil {
			return nil, err
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

// ListMerchants returns all merchants ordered by id.
func (r *SQLRepository) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, mcc, country, risk_tier FROM merchants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []*domain.Merchant
	for rows.Next() {
		var m domain.Merchant
		if err := rows.Scan(&m.ID, &m.Name, &m.MCC, &m.Country, &m.RiskTier); err != nil {
			return nil, err
		}
		merchants = append(merchants, &m)
	}
	return merchants, rows.Err()
}

// SaveTransactions bulk-inserts transactions and returns the number of new
// rows. Duplicate ids are skipped, which makes ingest retries safe.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	const cols = 12
	query := "INSERT INTO transactions (id, card_id, merchant_id, ts, amount, currency, lat, lon, channel, device_id, is_international, label_fraud) VALUES %s ON CONFLICT(id) DO NOTHING"

	inserted := 0
	for start := 0; start < len(txs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(txs) {
			end = len(txs)
		}
		chunk := txs[start:end]

		args := make([]interface{}, 0, len(chunk)*cols)
		for _, tx := range chunk {
			args = append(args,
				tx.ID, tx.CardID, tx.MerchantID, tx.Timestamp, tx.Amount, tx.Currency,
				nullFloat(tx.Lat), nullFloat(tx.Lon),
				string(tx.Channel), tx.DeviceID, tx.IsInternational, nullBool(tx.LabelFraud),
			)
		}

		stmt := fmt.Sprintf(query, placeholders(len(chunk), cols))
		res, err := r.db.ExecContext(ctx, r.rebind(stmt), args...)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, card_id, merchant_id, ts, amount, currency, lat, lon,
		       channel, device_id, is_international, label_fraud
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var lat, lon sql.NullFloat64
	var deviceID sql.NullString
	var labelFraud sql.NullBool
	var channel string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.CardID, &tx.MerchantID,
		&tx.Timestamp, &tx.Amount, &tx.Currency,
		&lat, &lon, &channel, &deviceID,
		&tx.IsInternational, &labelFraud,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Channel = domain.Channel(channel)
	tx.DeviceID = deviceID.String
	if lat.Valid && lon.Valid {
		tx.Lat, tx.Lon = &lat.Float64, &lon.Float64
	}
	if labelFraud.Valid {
		tx.LabelFraud = &labelFraud.Bool
	}

	return &tx, nil
}

// ScoringBatch returns transactions joined with merchant attributes, ordered
// by timestamp. A nil since returns everything.
func (r *SQLRepository) ScoringBatch(ctx context.Context, since *time.Time) ([]domain.ScoringRow, error) {
	query := `
		SELECT t.id, t.card_id, t.merchant_id, t.ts, t.amount, t.lat, t.lon,
		       t.channel, m.mcc, m.risk_tier
		FROM transactions t
		JOIN merchants m ON m.id = t.merchant_id
	`
	var args []interface{}
	if since != nil {
		query += " WHERE t.ts >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY t.ts, t.id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScoringRow
	for rows.Next() {
		var sr domain.ScoringRow
		var lat, lon sql.NullFloat64
		var channel string

		if err := rows.Scan(
			&sr.TxID, &sr.CardID, &sr.MerchantID, &sr.TS, &sr.Amount,
			&lat, &lon, &channel, &sr.MCC, &sr.RiskTier,
		); err != nil {
			return nil, err
		}

		sr.Channel = domain.Channel(channel)
		if lat.Valid && lon.Valid {
			sr.Lat, sr.Lon = &lat.Float64, &lon.Float64
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// FeatureSourceRows returns transactions joined with card brand and merchant
// risk tier for the feature pipeline, ordered by timestamp.
func (r *SQLRepository) FeatureSourceRows(ctx context.Context) ([]domain.ScoringRow, error) {
	query := `
		SELECT t.id, t.card_id, t.merchant_id, t.ts, t.amount, t.lat, t.lon,
		       t.channel, t.device_id, t.label_fraud, m.mcc, m.risk_tier, c.brand
		FROM transactions t
		JOIN merchants m ON m.id = t.merchant_id
		JOIN cards c ON c.id = t.card_id
		ORDER BY t.ts, t.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScoringRow
	for rows.Next() {
		var sr domain.ScoringRow
		var lat, lon sql.NullFloat64
		var deviceID sql.NullString
		var labelFraud sql.NullBool
		var channel string

		if err := rows.Scan(
			&sr.TxID, &sr.CardID, &sr.MerchantID, &sr.TS, &sr.Amount,
			&lat, &lon, &channel, &deviceID, &labelFraud,
			&sr.MCC, &sr.RiskTier, &sr.Brand,
		); err != nil {
			return nil, err
		}

		sr.Channel = domain.Channel(channel)
		sr.DeviceID = deviceID.String
		if lat.Valid && lon.Valid {
			sr.Lat, sr.Lon = &lat.Float64, &lon.Float64
		}
		if labelFraud.Valid {
			sr.LabelFraud = &labelFraud.Bool
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// SaveFeatureRows appends derived feature rows in bulk.
func (r *SQLRepository) SaveFeatureRows(ctx context.Context, featureRows []*domain.FeatureRow) error {
	const cols = 14
	return r.bulkInsert(ctx, len(featureRows),
		`INSERT INTO model_features (
			tx_id, label_fraud, amount, last_tx_delta_minutes,
			tx_count_1h, tx_count_24h, amount_mean_24h,
			geo_velocity_kmph_prev, geo_velocity_known,
			channel, device_id, merchant_risk_tier, brand, ts
		) VALUES %s`,
		cols,
		func(i int, args []interface{}) {
			f := featureRows[i]
			args[0], args[1], args[2], args[3] = f.TxID, nullBool(f.LabelFraud), f.Amount, f.LastTxDeltaMinutes
			args[4], args[5], args[6] = f.TxCount1h, f.TxCount24h, f.AmountMean24h
			args[7], args[8] = f.GeoVelocityKmphPrev, f.GeoVelocityKnown
			args[9], args[10], args[11], args[12], args[13] = string(f.Channel), f.DeviceID, f.MerchantRiskTier, f.Brand, f.TS
		})
}

// SaveAlerts appends alerts in bulk. One call per scoring run.
func (r *SQLRepository) SaveAlerts(ctx context.Context, alerts []*domain.Alert) error {
	const cols = 5
	return r.bulkInsert(ctx, len(alerts),
		"INSERT INTO alerts (id, tx_id, rule_name, score, created_at) VALUES %s",
		cols,
		func(i int, args []interface{}) {
			a := alerts[i]
			args[0], args[1], args[2], args[3], args[4] = a.ID, a.TxID, a.RuleName, a.Score, a.CreatedAt
		})
}

// ListAlerts returns the most recent alerts, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tx_id, rule_name, score, created_at
		FROM alerts
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.TxID, &a.RuleName, &a.Score, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// CountAlerts returns the total number of alerts.
func (r *SQLRepository) CountAlerts(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

// DailyKPIs aggregates per-day transaction volume, fraud labels and alert
// counts for the trailing N days. Days with transactions but no alerts still
// appear, with a zero alert rate.
func (r *SQLRepository) DailyKPIs(ctx context.Context, days int) ([]domain.DailyKPI, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	txQuery := fmt.Sprintf(`
		SELECT %s AS day, COUNT(*), COALESCE(SUM(amount), 0),
		       COALESCE(SUM(CASE WHEN label_fraud = %s THEN 1 ELSE 0 END), 0)
		FROM transactions
		WHERE ts >= ?
		GROUP BY day
		ORDER BY day
	`, r.dayExpr("ts"), r.boolLit(true))

	rows, err := r.db.QueryContext(ctx, r.rebind(txQuery), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kpis []domain.DailyKPI
	index := make(map[string]int)
	for rows.Next() {
		var k domain.DailyKPI
		if err := rows.Scan(&k.Date, &k.TxCount, &k.TotalAmount, &k.FraudLabeled); err != nil {
			return nil, err
		}
		index[k.Date] = len(kpis)
		kpis = append(kpis, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Alerts attach to the day of the transaction they flagged.
	alertQuery := fmt.Sprintf(`
		SELECT %s AS day, COUNT(*)
		FROM alerts a
		JOIN transactions t ON t.id = a.tx_id
		WHERE t.ts >= ?
		GROUP BY day
	`, r.dayExpr("t.ts"))

	alertRows, err := r.db.QueryContext(ctx, r.rebind(alertQuery), cutoff)
	if err != nil {
		return nil, err
	}
	defer alertRows.Close()

	for alertRows.Next() {
		var day string
		var count int64
		if err := alertRows.Scan(&day, &count); err != nil {
			return nil, err
		}
		if i, ok := index[day]; ok {
			kpis[i].AlertCount = count
		}
	}
	if err := alertRows.Err(); err != nil {
		return nil, err
	}

	for i := range kpis {
		if kpis[i].TxCount > 0 {
			kpis[i].AlertRate = float64(kpis[i].AlertCount) / float64(kpis[i].TxCount)
		}
	}
	return kpis, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// bulkInsert executes a multi-row insert in batchSize chunks. The query must
// contain a single %s where the placeholder block goes; fill writes row i's
// values into a cols-sized args slot.
func (r *SQLRepository) bulkInsert(ctx context.Context, count int, query string, cols int, fill func(i int, args []interface{})) error {
	if count == 0 {
		return nil
	}

	for start := 0; start < count; start += r.batchSize {
		end := start + r.batchSize
		if end > count {
			end = count
		}

		args := make([]interface{}, 0, (end-start)*cols)
		rowArgs := make([]interface{}, cols)
		for i := start; i < end; i++ {
			fill(i, rowArgs)
			args = append(args, rowArgs...)
		}

		stmt := fmt.Sprintf(query, placeholders(end-start, cols))
		if _, err := r.db.ExecContext(ctx, r.rebind(stmt), args...); err != nil {
			return err
		}
	}
	return nil
}

// placeholders builds "(?, ?, ...), (?, ?, ...)" for rows x cols values.
func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	return b.String()
}

// dayExpr renders a YYYY-MM-DD day bucket for the given timestamp column.
func (r *SQLRepository) dayExpr(col string) string {
	if r.driver == "postgres" {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col)
	}
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", col)
}

// boolLit renders a boolean literal for the active driver. SQLite stores
// booleans as integers.
func (r *SQLRepository) boolLit(v bool) string {
	if r.driver == "postgres" {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
