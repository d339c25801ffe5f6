package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    opened_at TIMESTAMP NOT NULL,
    region TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0
);
`

const schemaCards = `
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    pan_last4 TEXT NOT NULL,
    brand TEXT NOT NULL,
    exp_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_cards_account ON cards(account_id);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mcc INTEGER NOT NULL,
    country TEXT NOT NULL,
    risk_tier INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_merchants_mcc ON merchants(mcc);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    lat REAL,
    lon REAL,
    channel TEXT NOT NULL,
    device_id TEXT,
    is_international INTEGER NOT NULL DEFAULT 0,
    label_fraud INTEGER
);

CREATE INDEX IF NOT EXISTS idx_transactions_card_ts ON transactions(card_id, ts);
CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(ts);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
`

// model_features is append-only: the pipeline recomputes and re-inserts, it
// never updates in place.
const schemaModelFeatures = `
CREATE TABLE IF NOT EXISTS model_features (
    tx_id TEXT NOT NULL,
    label_fraud INTEGER,
    amount REAL NOT NULL,
    last_tx_delta_minutes REAL NOT NULL,
    tx_count_1h INTEGER NOT NULL,
    tx_count_24h INTEGER NOT NULL,
    amount_mean_24h REAL NOT NULL,
    geo_velocity_kmph_prev REAL NOT NULL,
    geo_velocity_known INTEGER NOT NULL,
    channel TEXT NOT NULL,
    device_id TEXT,
    merchant_risk_tier INTEGER NOT NULL,
    brand TEXT NOT NULL,
    ts TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_features_tx ON model_features(tx_id);
CREATE INDEX IF NOT EXISTS idx_model_features_ts ON model_features(ts);
`

// alerts has no uniqueness constraint beyond the alert id: re-running a
// scoring window re-inserts its alerts.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    score REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(tx_id);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_name);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaAccounts,
		schemaCards,
		schemaMerchants,
		schemaTransactions,
		schemaModelFeatures,
		schemaAlerts,
	}
}
