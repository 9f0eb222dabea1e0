// Package eventprocessor is the Event Processor: turns a planned block
// window into persisted FeeEvents and an updated cursor.
package eventprocessor

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lifi-labs/fee-ingestion-engine/internal/chainclient"
	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/metrics"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
)

// defaultTimestampBatchSize is the batch size New uses when given a
// non-positive one. The Processor's timestampBatchSize and
// timestampBatchDelay control how block timestamps are looked up: in
// ordered parallel batches, with a pause between batches so a single
// window's burst of lookups doesn't itself trip an RPC rate limit.
const defaultTimestampBatchSize = 5

// rpcClient is the subset of *chainclient.Pool the processor needs. A
// narrow interface so tests can exercise ProcessWindow without a live
// RPC endpoint.
type rpcClient interface {
	QueryLogs(ctx context.Context, chainID, fromBlock, toBlock int64, retryAttempts int, baseDelay time.Duration) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, chainID, blockNumber int64) (time.Time, error)
}

// eventSink is the subset of *eventstore.Store the processor needs.
type eventSink interface {
	FindExistingKeys(ctx context.Context, keys []model.NaturalKey) (map[model.NaturalKey]bool, error)
	InsertMany(ctx context.Context, events []*model.FeeEvent) error
}

// cursorStore is the subset of *chainregistry.Registry the processor
// needs to read and commit scan progress.
type cursorStore interface {
	GetScanCursor(ctx context.Context, chainID int64) (*model.ScanCursor, error)
	UpsertScanCursor(ctx context.Context, cursor *model.ScanCursor) error
}

// Processor is the Event Processor.
type Processor struct {
	pool     rpcClient
	store    eventSink
	registry cursorStore
	metrics  *metrics.Metrics
	log      *logging.Logger

	timestampBatchSize  int
	timestampBatchDelay time.Duration
}

// New builds a Processor. batchSize/batchDelay come from config.
func New(pool rpcClient, store eventSink, registry cursorStore, m *metrics.Metrics, log *logging.Logger, batchSize int, batchDelay time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = defaultTimestampBatchSize
	}
	return &Processor{
		pool:                pool,
		store:               store,
		registry:            registry,
		metrics:             m,
		log:                 log,
		timestampBatchSize:  batchSize,
		timestampBatchDelay: batchDelay,
	}
}

// ProcessWindow runs a single planned window end to end: load logs,
// decode, enrich timestamps, dedupe, persist, and commit the advanced
// cursor. A failure before the cursor commit leaves LastProcessedBlock
// unchanged (only the error streak is recorded) so the window is retried
// on the next tick.
func (p *Processor) ProcessWindow(ctx context.Context, cfg *model.ChainConfig, from, to int64) error {
	chainLog := p.log.Chain(cfg.ChainID)
	chainLog.WithField("from", from).WithField("to", to).Debug("processing window")

	logs, err := p.pool.QueryLogs(ctx, cfg.ChainID, from, to, cfg.RetryAttempts, time.Second)
	if err != nil {
		p.recordFailure(ctx, cfg.ChainID, err)
		return err
	}

	candidates := make([]*model.FeeEvent, 0, len(logs))
	for _, raw := range logs {
		decoded, err := chainclient.Decode(cfg.ChainID, raw)
		if err != nil {
			p.metrics.DecodeErrors.WithLabelValues(chainIDLabel(cfg.ChainID)).Inc()
			chainLog.WithError(err).WithField("tx", raw.TxHash.Hex()).Warn("dropping undecodable log")
			continue
		}
		candidates = append(candidates, &model.FeeEvent{
			ChainID:         cfg.ChainID,
			TransactionHash: raw.TxHash.Hex(),
			LogIndex:        int64(raw.Index),
			BlockNumber:     int64(raw.BlockNumber),
			BlockHash:       raw.BlockHash.Hex(),
			Token:           decoded.Token,
			Integrator:      decoded.Integrator,
			IntegratorFee:   decoded.IntegratorFee,
			LifiFee:         decoded.LifiFee,
		})
	}

	p.enrichTimestamps(ctx, cfg.ChainID, candidates)

	fresh, err := p.dedupe(ctx, candidates)
	if err != nil {
		p.recordFailure(ctx, cfg.ChainID, err)
		return err
	}

	if len(fresh) > 0 {
		if err := p.store.InsertMany(ctx, fresh); err != nil {
			p.recordFailure(ctx, cfg.ChainID, err)
			return err
		}
		p.metrics.EventsIngested.WithLabelValues(chainIDLabel(cfg.ChainID)).Add(float64(len(fresh)))
	}

	p.metrics.WindowsProcessed.WithLabelValues(chainIDLabel(cfg.ChainID)).Inc()
	return p.commitSuccess(ctx, cfg.ChainID, to)
}

// enrichTimestamps groups candidates by block number and looks up each
// unique block's timestamp once, in ordered parallel batches, fanning
// the result back onto every event from that block. A per-block lookup
// failure falls back to "now" rather than failing the whole window,
// since the timestamp is informational and must never block ingestion.
func (p *Processor) enrichTimestamps(ctx context.Context, chainID int64, events []*model.FeeEvent) {
	if len(events) == 0 {
		return
	}

	var blocks []int64
	byBlock := make(map[int64][]*model.FeeEvent)
	for _, e := range events {
		if _, seen := byBlock[e.BlockNumber]; !seen {
			blocks = append(blocks, e.BlockNumber)
		}
		byBlock[e.BlockNumber] = append(byBlock[e.BlockNumber], e)
	}

	for start := 0; start < len(blocks); start += p.timestampBatchSize {
		end := start + p.timestampBatchSize
		if end > len(blocks) {
			end = len(blocks)
		}
		batch := blocks[start:end]

		done := make(chan struct{}, len(batch))
		for _, blockNumber := range batch {
			blockNumber := blockNumber
			go func() {
				defer func() { done <- struct{}{} }()
				ts, err := p.pool.BlockTimestamp(ctx, chainID, blockNumber)
				if err != nil {
					ts = time.Now().UTC()
				}
				for _, e := range byBlock[blockNumber] {
					e.Timestamp = ts
				}
			}()
		}
		for range batch {
			<-done
		}

		if end < len(blocks) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.timestampBatchDelay):
			}
		}
	}
}

// dedupe filters out candidates whose natural key is already persisted,
// using a single bulk existence query.
func (p *Processor) dedupe(ctx context.Context, candidates []*model.FeeEvent) ([]*model.FeeEvent, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]model.NaturalKey, len(candidates))
	for i, e := range candidates {
		keys[i] = e.Key()
	}

	existing, err := p.store.FindExistingKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	fresh := make([]*model.FeeEvent, 0, len(candidates))
	for _, e := range candidates {
		if !existing[e.Key()] {
			fresh = append(fresh, e)
		}
	}
	return fresh, nil
}

// commitSuccess advances the cursor to the end of a successfully
// processed window and clears any prior error streak.
func (p *Processor) commitSuccess(ctx context.Context, chainID, to int64) error {
	cursor, err := p.registry.GetScanCursor(ctx, chainID)
	if err != nil {
		return err
	}
	cursor.LastProcessedBlock = to
	cursor.LastRunAt = time.Now().UTC()
	cursor.ErrorCount = 0
	cursor.LastError = ""
	return p.registry.UpsertScanCursor(ctx, cursor)
}

// recordFailure increments the cursor's error streak without advancing
// LastProcessedBlock, so the failed window is retried on the next tick.
func (p *Processor) recordFailure(ctx context.Context, chainID int64, cause error) {
	p.metrics.TickErrors.WithLabelValues(chainIDLabel(chainID)).Inc()

	cursor, err := p.registry.GetScanCursor(ctx, chainID)
	if err != nil {
		p.log.Chain(chainID).WithError(err).Error("could not load cursor to record failure")
		return
	}
	cursor.LastRunAt = time.Now().UTC()
	cursor.ErrorCount++
	cursor.LastError = cause.Error()
	if updateErr := p.registry.UpsertScanCursor(ctx, cursor); updateErr != nil {
		p.log.Chain(chainID).WithError(updateErr).Error("could not persist failure state")
	}
}

func chainIDLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
