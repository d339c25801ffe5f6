package domain

import "time"

// FirstTxDeltaSentinel is the last_tx_delta_minutes value recorded for a card's
// first transaction, where no previous transaction exists.
const FirstTxDeltaSentinel = 1_000_000.0

// FeatureRow is one row of the model_features table: behavioral signals derived
// from a transaction and its card's history. Rows are computed once and appended;
// re-running the feature pipeline over the same transactions duplicates them,
// callers filter their input if they need exactly-once.
type FeatureRow struct {
	TxID       string `json:"txId"`
	LabelFraud *bool  `json:"labelFraud,omitempty"`

	Amount             float64 `json:"amount"`
	LastTxDeltaMinutes float64 `json:"lastTxDeltaMinutes"`
	TxCount1h          int     `json:"txCount1h"`
	TxCount24h         int     `json:"txCount24h"`
	AmountMean24h      float64 `json:"amountMean24h"`

	// GeoVelocityKmphPrev is 0 when GeoVelocityKnown is false, i.e. when either
	// endpoint had no location or elapsed time was zero. The stored column keeps
	// the 0 so consumers see the same numbers the original table had.
	GeoVelocityKmphPrev float64 `json:"geoVelocityKmphPrev"`
	GeoVelocityKnown    bool    `json:"geoVelocityKnown"`

	Channel          Channel   `json:"channel"`
	DeviceID         string    `json:"deviceId"`
	MerchantRiskTier int       `json:"merchantRiskTier"`
	Brand            string    `json:"brand"`
	TS               time.Time `json:"ts"`
}
