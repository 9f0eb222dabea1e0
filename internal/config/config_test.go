package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_RequiresMongoURI(t *testing.T) {
	cfg := &Config{DefaultScanIntervalMS: 30_000, DefaultMaxBlockRange: 1000, DefaultRetryAttempts: 3}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsOutOfRangeScanInterval(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost", DefaultScanIntervalMS: 1000, DefaultMaxBlockRange: 1000, DefaultRetryAttempts: 3}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeMaxBlockRange(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost", DefaultScanIntervalMS: 30_000, DefaultMaxBlockRange: 1, DefaultRetryAttempts: 3}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeRetryAttempts(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost", DefaultScanIntervalMS: 30_000, DefaultMaxBlockRange: 1000, DefaultRetryAttempts: 20}
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost", DefaultScanIntervalMS: 30_000, DefaultMaxBlockRange: 1000, DefaultRetryAttempts: 3}
	assert.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		DefaultScanIntervalMS: 30_000,
		RetryBaseDelayMS:      1_000,
		TimestampBatchDelayMS: 200,
		GracefulShutdownMS:    30_000,
	}
	assert.Equal(t, 30.0, cfg.DefaultScanInterval().Seconds())
	assert.Equal(t, 1.0, cfg.RetryBaseDelay().Seconds())
	assert.Equal(t, int64(200), cfg.TimestampBatchDelay().Milliseconds())
	assert.Equal(t, 30.0, cfg.GracefulShutdown().Seconds())
}
