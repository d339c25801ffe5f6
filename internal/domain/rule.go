package domain

import "time"

// RuleSpec is one declarative rule entry as loaded from the rules file.
type RuleSpec struct {
	// Name must resolve to a registered predicate, or to the expression kind.
	Name string `json:"name"`

	// Params are predicate-specific; keys and types are validated when the
	// predicate is built, before any evaluation runs.
	Params map[string]interface{} `json:"params"`

	// Active defaults to true when absent in configuration.
	Active bool `json:"active"`
}

// Alert marks that one rule flagged one transaction. Alerts are created only by
// the rule engine, written once per scoring run, and never updated. There is no
// uniqueness constraint: re-running a window re-inserts its alerts.
type Alert struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId"`
	RuleName  string    `json:"ruleName"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertScore is the fixed score attached to every rule alert.
const AlertScore = 1.0

// DailyKPI is one day of pipeline KPIs.
type DailyKPI struct {
	Date         string  `json:"date"`
	TxCount      int64   `json:"txCount"`
	TotalAmount  float64 `json:"totalAmount"`
	AlertCount   int64   `json:"alertCount"`
	AlertRate    float64 `json:"alertRate"`
	FraudLabeled int64   `json:"fraudLabeled"`
}
