package model

import "time"

// NaturalKey is the triple that uniquely identifies a FeeEvent.
type NaturalKey struct {
	ChainID         int64  `bson:"chain_id"`
	TransactionHash string `bson:"transaction_hash"`
	LogIndex        int64  `bson:"log_index"`
}

// FeeEvent is a canonical, decoded FeesCollected contract event.
//
// IntegratorFee and LifiFee are carried as decimal strings end-to-end —
// never parsed into a numeric type — so arbitrary-precision amounts
// round-trip without loss.
type FeeEvent struct {
	ChainID         int64     `bson:"chain_id"`
	TransactionHash string    `bson:"transaction_hash"`
	LogIndex        int64     `bson:"log_index"`
	BlockNumber     int64     `bson:"block_number"`
	BlockHash       string    `bson:"block_hash"`
	Token           string    `bson:"token"`
	Integrator      string    `bson:"integrator"`
	IntegratorFee   string    `bson:"integrator_fee"`
	LifiFee         string    `bson:"lifi_fee"`
	Timestamp       time.Time `bson:"timestamp"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// Key returns the event's natural key.
func (e *FeeEvent) Key() NaturalKey {
	return NaturalKey{ChainID: e.ChainID, TransactionHash: e.TransactionHash, LogIndex: e.LogIndex}
}
