package eventprocessor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/metrics"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
)

// testFeesCollectedTopic and testNonIndexedArgs mirror chainclient's
// embedded FeesCollected ABI so tests can build raw logs without
// reaching into that package's unexported encoding details.
var testFeesCollectedTopic = crypto.Keccak256Hash([]byte("FeesCollected(address,address,uint256,uint256)"))

func testNonIndexedArgs() abi.Arguments {
	uint256Type, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{
		{Name: "integratorFee", Type: uint256Type},
		{Name: "lifiFee", Type: uint256Type},
	}
}


type fakeRPC struct {
	logs      []types.Log
	queryErr  error
	timestamp time.Time
	tsErrFor  map[int64]bool
}

func (f *fakeRPC) QueryLogs(ctx context.Context, chainID, fromBlock, toBlock int64, retryAttempts int, baseDelay time.Duration) ([]types.Log, error) {
	return f.logs, f.queryErr
}

func (f *fakeRPC) BlockTimestamp(ctx context.Context, chainID, blockNumber int64) (time.Time, error) {
	if f.tsErrFor != nil && f.tsErrFor[blockNumber] {
		return time.Time{}, errors.New("header not found")
	}
	return f.timestamp, nil
}

type fakeStore struct {
	existing  map[model.NaturalKey]bool
	inserted  []*model.FeeEvent
	insertErr error
}

func (f *fakeStore) FindExistingKeys(ctx context.Context, keys []model.NaturalKey) (map[model.NaturalKey]bool, error) {
	out := make(map[model.NaturalKey]bool)
	for _, k := range keys {
		if f.existing[k] {
			out[k] = true
		}
	}
	return out, nil
}

func (f *fakeStore) InsertMany(ctx context.Context, events []*model.FeeEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

type fakeRegistry struct {
	cursor *model.ScanCursor
}

func (f *fakeRegistry) GetScanCursor(ctx context.Context, chainID int64) (*model.ScanCursor, error) {
	return f.cursor, nil
}

func (f *fakeRegistry) UpsertScanCursor(ctx context.Context, cursor *model.ScanCursor) error {
	f.cursor = cursor
	return nil
}

func newTestProcessor(rpc *fakeRPC, store *fakeStore, registry *fakeRegistry) *Processor {
	m := metrics.New(prometheus.NewRegistry())
	log := logging.New("test", "error", "json")
	return New(rpc, store, registry, m, log, 5, time.Millisecond)
}

func sampleLog(blockNumber uint64, logIndex uint, txHash common.Hash) types.Log {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	integrator := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, _ := testNonIndexedArgs().Pack(big.NewInt(1000), big.NewInt(200))
	return types.Log{
		Topics:      []common.Hash{testFeesCollectedTopic, common.BytesToHash(token.Bytes()), common.BytesToHash(integrator.Bytes())},
		Data:        data,
		BlockNumber: blockNumber,
		Index:       logIndex,
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0xblock"),
	}
}

func TestProcessWindow_InsertsFreshEventsAndAdvancesCursor(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	rpc := &fakeRPC{
		logs:      []types.Log{sampleLog(105, 0, common.HexToHash("0xaaa"))},
		timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	store := &fakeStore{existing: map[model.NaturalKey]bool{}}
	p := newTestProcessor(rpc, store, registry)

	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	require.NoError(t, err)
	assert.Len(t, store.inserted, 1)
	assert.Equal(t, int64(110), registry.cursor.LastProcessedBlock)
	assert.Equal(t, 0, registry.cursor.ErrorCount)
}

func TestProcessWindow_SkipsAlreadyPersistedEvents(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	txHash := common.HexToHash("0xaaa")
	rpc := &fakeRPC{logs: []types.Log{sampleLog(105, 0, txHash)}, timestamp: time.Now()}
	existingKey := model.NaturalKey{ChainID: 1, TransactionHash: txHash.Hex(), LogIndex: 0}
	store := &fakeStore{existing: map[model.NaturalKey]bool{existingKey: true}}
	p := newTestProcessor(rpc, store, registry)

	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	require.NoError(t, err)
	assert.Empty(t, store.inserted)
	assert.Equal(t, int64(110), registry.cursor.LastProcessedBlock)
}

func TestProcessWindow_QueryLogsFailureRecordsErrorWithoutAdvancingCursor(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	rpc := &fakeRPC{queryErr: errors.New("rpc down")}
	store := &fakeStore{existing: map[model.NaturalKey]bool{}}
	p := newTestProcessor(rpc, store, registry)

	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	assert.Error(t, err)
	assert.Equal(t, int64(99), registry.cursor.LastProcessedBlock)
	assert.Equal(t, 1, registry.cursor.ErrorCount)
	assert.NotEmpty(t, registry.cursor.LastError)
}

func TestProcessWindow_TimestampLookupFailureFallsBackToNow(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	rpc := &fakeRPC{
		logs:     []types.Log{sampleLog(105, 0, common.HexToHash("0xaaa"))},
		tsErrFor: map[int64]bool{105: true},
	}
	store := &fakeStore{existing: map[model.NaturalKey]bool{}}
	p := newTestProcessor(rpc, store, registry)

	before := time.Now().Add(-time.Second)
	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.True(t, store.inserted[0].Timestamp.After(before))
}

func TestProcessWindow_InsertFailureRecordsErrorWithoutAdvancingCursor(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	rpc := &fakeRPC{logs: []types.Log{sampleLog(105, 0, common.HexToHash("0xaaa"))}, timestamp: time.Now()}
	store := &fakeStore{existing: map[model.NaturalKey]bool{}, insertErr: errors.New("duplicate key conflict beyond idempotent absorption")}
	p := newTestProcessor(rpc, store, registry)

	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	assert.Error(t, err)
	assert.Equal(t, int64(99), registry.cursor.LastProcessedBlock)
	assert.Equal(t, 1, registry.cursor.ErrorCount)
}

func TestProcessWindow_NoLogsStillAdvancesCursor(t *testing.T) {
	cursor := model.NewScanCursor(1, 100)
	registry := &fakeRegistry{cursor: cursor}
	rpc := &fakeRPC{logs: nil}
	store := &fakeStore{existing: map[model.NaturalKey]bool{}}
	p := newTestProcessor(rpc, store, registry)

	cfg := &model.ChainConfig{ChainID: 1, RetryAttempts: 1}
	err := p.ProcessWindow(context.Background(), cfg, 100, 110)

	require.NoError(t, err)
	assert.Equal(t, int64(110), registry.cursor.LastProcessedBlock)
}
