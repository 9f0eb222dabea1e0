package model

import "time"

// ScanCursor is a chain's persistent scan progress marker.
//
// LastProcessedBlock is initialized to StartingBlock-1 so the planner's
// first window begins at exactly StartingBlock.
type ScanCursor struct {
	ChainID            int64        `bson:"chain_id"`
	LastProcessedBlock int64        `bson:"last_processed_block"`
	IsActive           bool         `bson:"is_active"`
	LastRunAt          time.Time    `bson:"last_run_at,omitempty"`
	ErrorCount         int          `bson:"error_count"`
	LastError          string       `bson:"last_error,omitempty"`
	WorkerStatus       WorkerStatus `bson:"worker_status"`
	LastWorkerStart    *time.Time   `bson:"last_worker_start,omitempty"`
	LastWorkerError    string       `bson:"last_worker_error,omitempty"`
}

// NewScanCursor builds the initial cursor for a freshly added chain.
func NewScanCursor(chainID, startingBlock int64) *ScanCursor {
	return &ScanCursor{
		ChainID:            chainID,
		LastProcessedBlock: startingBlock - 1,
		IsActive:           true,
		WorkerStatus:       WorkerStarting,
	}
}
