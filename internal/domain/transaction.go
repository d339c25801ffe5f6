package domain

import (
	"time"
)

// Channel is the transaction entry channel.
type Channel string

const (
	ChannelPOS  Channel = "POS"
	ChannelECOM Channel = "ECOM"
	ChannelATM  Channel = "ATM"
)

// Transaction is a single card transaction as stored in the transactions table.
// Lat/Lon are nil together when the acquirer did not report a location.
type Transaction struct {
	ID         string `json:"id"`
	CardID     string `json:"cardId"`
	MerchantID string `json:"merchantId"`

	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	Channel         Channel `json:"channel"`
	DeviceID        string  `json:"deviceId"`
	IsInternational bool    `json:"isInternational"`

	// LabelFraud is nil for unlabeled transactions.
	LabelFraud *bool `json:"labelFraud,omitempty"`
}

// HasGeo reports whether the transaction carries a location.
func (t *Transaction) HasGeo() bool {
	return t.Lat != nil && t.Lon != nil
}

// Account is a customer account. Referenced by cards.
type Account struct {
	ID        string    `json:"id"`
	OpenedAt  time.Time `json:"openedAt"`
	Region    string    `json:"region"`
	RiskScore float64   `json:"riskScore"`
}

// Card is a payment card attached to an account.
type Card struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	PanLast4  string    `json:"panLast4"`
	Brand     string    `json:"brand"`
	ExpDate   time.Time `json:"expDate"`
	Status    string    `json:"status"`
}

// Merchant is a merchant with its category code and risk tier.
type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MCC      int    `json:"mcc"`
	Country  string `json:"country"`
	RiskTier int    `json:"riskTier"`
}

// ScoringRow is one transaction joined with its card and merchant attributes,
// as returned by the storage layer for rule scoring and feature building.
// Brand, DeviceID and LabelFraud are only populated by the feature-pipeline query.
type ScoringRow struct {
	TxID       string    `json:"txId"`
	CardID     string    `json:"cardId"`
	MerchantID string    `json:"merchantId"`
	TS         time.Time `json:"ts"`
	Amount     float64   `json:"amount"`
	Lat        *float64  `json:"lat,omitempty"`
	Lon        *float64  `json:"lon,omitempty"`
	Channel    Channel   `json:"channel"`
	MCC        int       `json:"mcc"`
	RiskTier   int       `json:"riskTier"`

	Brand      string `json:"brand,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	LabelFraud *bool  `json:"labelFraud,omitempty"`
}

// HasGeo reports whether the row carries a location.
func (r *ScoringRow) HasGeo() bool {
	return r.Lat != nil && r.Lon != nil
}
