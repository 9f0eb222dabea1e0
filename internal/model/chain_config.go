// Package model holds the ingestion engine's three persisted entities:
// ChainConfig, ScanCursor, and FeeEvent. The in-memory worker handle is
// not modelled here; it lives in the supervisor package.
package model

import (
	"regexp"
	"strings"
	"time"
)

// WorkerStatus is the lifecycle state of a chain's worker.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerStopped  WorkerStatus = "stopped"
	WorkerError    WorkerStatus = "error"
)

// Defaults applied when a ChainConfig omits the field.
const (
	DefaultStartingBlock  = int64(70_000_000)
	DefaultScanIntervalMS = 30_000
	DefaultMaxBlockRange  = 1_000
	DefaultRetryAttempts  = 3

	MinScanIntervalMS = 5_000
	MaxScanIntervalMS = 300_000
	MinMaxBlockRange  = 100
	MaxMaxBlockRange  = 10_000
	MinRetryAttempts  = 1
	MaxRetryAttempts  = 10
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeAddress lowercases a hex address the way every stored
// token/integrator/contract address must be represented.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidAddress reports whether addr matches the 20-byte hex shape,
// case-insensitively.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// ChainConfig is one chain's configuration.
type ChainConfig struct {
	ChainID         int64        `bson:"chain_id"`
	Name            string       `bson:"name"`
	RPCURL          string       `bson:"rpc_url"`
	ContractAddress string       `bson:"contract_address"`
	StartingBlock   int64        `bson:"starting_block"`
	ScanIntervalMS  int          `bson:"scan_interval_ms"`
	MaxBlockRange   int          `bson:"max_block_range"`
	RetryAttempts   int          `bson:"retry_attempts"`
	IsEnabled       bool         `bson:"is_enabled"`
	WorkerStatus    WorkerStatus `bson:"worker_status"`
	LastWorkerStart *time.Time   `bson:"last_worker_start,omitempty"`
	LastWorkerError string       `bson:"last_worker_error,omitempty"`
	CreatedAt       time.Time    `bson:"created_at"`
	UpdatedAt       time.Time    `bson:"updated_at"`
}

// ScanInterval returns the configured interval as a time.Duration.
func (c *ChainConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMS) * time.Millisecond
}

// ApplyDefaults fills zero-valued optional fields with process defaults.
// Called by the control plane before persisting a new ChainConfig.
func (c *ChainConfig) ApplyDefaults(defaultStartingBlock int64, defaultScanIntervalMS, defaultMaxBlockRange, defaultRetryAttempts int) {
	if c.StartingBlock == 0 {
		c.StartingBlock = defaultStartingBlock
	}
	if c.ScanIntervalMS == 0 {
		c.ScanIntervalMS = defaultScanIntervalMS
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = defaultMaxBlockRange
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	c.ContractAddress = NormalizeAddress(c.ContractAddress)
}
