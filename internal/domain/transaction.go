// Package domain defines the core types and interfaces for the anomaly
// scoring pipeline.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// UnknownUser is the sentinel user ID applied to records ingested without one.
const UnknownUser = "unknown"

// Transaction is an immutable transaction fact once ingested.
type Transaction struct {
	// ID uniquely identifies the transaction within the warehouse.
	// Derived from amount+timestamp when the source did not supply one.
	ID     string `json:"transactionId"`
	UserID string `json:"userId"`

	// Financial details
	Amount float64 `json:"amount"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Optional categorical attributes
	MerchantCategory string `json:"merchantCategory,omitempty"`
	Location         string `json:"location,omitempty"`
	DeviceType       string `json:"deviceType,omitempty"`

	// Provenance, stamped at store time
	Source        string    `json:"source,omitempty"`
	IngestionTime time.Time `json:"ingestionTime,omitempty"`
}

// DeriveTransactionID produces a deterministic content-hash ID for records
// that arrive without one. Truncated to 12 hex characters, matching the
// warehouse's external ID length.
func DeriveTransactionID(amount float64, ts time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%v%v", amount, ts)))
	return hex.EncodeToString(sum[:])[:12]
}

// Normalize fills defaults on a freshly ingested record: the unknown-user
// sentinel and a derived ID when none was supplied.
func (t *Transaction) Normalize() {
	if t.UserID == "" {
		t.UserID = UnknownUser
	}
	if t.ID == "" {
		t.ID = DeriveTransactionID(t.Amount, t.Timestamp)
	}
}

// WarehouseStats is the aggregate snapshot recomputed on every successful
// store. It is a cache over the persisted transaction set, never a view of an
// incoming batch alone.
type WarehouseStats struct {
	TotalTransactions int            `json:"totalTransactions"`
	UniqueUsers       int            `json:"uniqueUsers"`
	DateRange         DateRange      `json:"dateRange"`
	LastUpdated       time.Time      `json:"lastUpdated"`
	Sources           map[string]int `json:"sources"`
	AmountStats       AmountStats    `json:"amountStats"`
}

// DateRange is an inclusive timestamp span.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AmountStats holds distribution moments over transaction amounts.
type AmountStats struct {
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}
