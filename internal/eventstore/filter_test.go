package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFilter_ToBSON_Empty(t *testing.T) {
	f := Filter{}
	assert.Equal(t, bson.M{}, f.toBSON())
}

func TestFilter_ToBSON_ByIntegrator_NormalizesAddress(t *testing.T) {
	addr := "0xABCDEF1234567890ABCDEF1234567890ABCDEF12"
	f := Filter{ByIntegrator: &addr}
	got := f.toBSON()
	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", got["integrator"])
}

func TestFilter_ToBSON_ByChain(t *testing.T) {
	chainID := int64(137)
	f := Filter{ByChain: &chainID}
	got := f.toBSON()
	assert.Equal(t, int64(137), got["chain_id"])
}

func TestFilter_ToBSON_TimeRange(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{From: &from, To: &to}
	got := f.toBSON()
	ts, ok := got["timestamp"].(bson.M)
	if assert.True(t, ok) {
		assert.Equal(t, from, ts["$gte"])
		assert.Equal(t, to, ts["$lte"])
	}
}

func TestIsDuplicateKeyOnly_NonBulkWriteError(t *testing.T) {
	assert.False(t, isDuplicateKeyOnly(assertError("plain error")))
}

func assertError(msg string) error {
	return &testError{msg}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
