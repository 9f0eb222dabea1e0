// Package supervisor is the Worker Supervisor: it owns one goroutine per
// enabled chain, drives its scan loop on a ticker, and exposes the
// lifecycle operations the control plane calls.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainclient"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainregistry"
	"github.com/lifi-labs/fee-ingestion-engine/internal/eventprocessor"
	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/metrics"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
	"github.com/lifi-labs/fee-ingestion-engine/internal/planner"
)

// worker is one chain's live scan loop. Every tick runs on the same
// goroutine, so ticks for a chain are always serialized; a time.Ticker
// naturally drops a tick that fires while the previous one is still
// running instead of queueing it.
type worker struct {
	chainID  int64
	cancel   context.CancelFunc
	done     chan struct{}
	interval chan time.Duration

	mu     sync.RWMutex
	status model.WorkerStatus
}

func (w *worker) setStatus(s model.WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func (w *worker) getStatus() model.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Supervisor is the Worker Supervisor.
type Supervisor struct {
	pool      *chainclient.Pool
	registry  *chainregistry.Registry
	processor *eventprocessor.Processor
	metrics   *metrics.Metrics
	log       *logging.Logger

	mu      sync.Mutex
	workers map[int64]*worker

	cron *cron.Cron
}

// New builds a Supervisor. Call StartReconciliation afterward to start
// the periodic self-healing pass described on Reconcile.
func New(pool *chainclient.Pool, registry *chainregistry.Registry, processor *eventprocessor.Processor, m *metrics.Metrics, log *logging.Logger) *Supervisor {
	s := &Supervisor{
		pool:      pool,
		registry:  registry,
		processor: processor,
		metrics:   m,
		log:       log,
		workers:   make(map[int64]*worker),
		cron:      cron.New(),
	}
	return s
}

// StartReconciliation schedules the periodic self-healing pass. Call
// once after the process's initial worker set is started.
func (s *Supervisor) StartReconciliation(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every 2m", func() {
		if err := s.Reconcile(ctx); err != nil {
			s.log.With(logrus.Fields{}).WithError(err).Error("reconciliation pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	s.cron.Start()
	return nil
}

// Reconcile starts any enabled chain with no running worker and stops
// any running worker whose chain is no longer enabled (or was deleted).
// It is the self-healing counterpart to the control plane's explicit
// start/stop operations.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	configs, err := s.registry.ListChainConfigs(ctx)
	if err != nil {
		return err
	}

	enabled := make(map[int64]*model.ChainConfig, len(configs))
	for _, cfg := range configs {
		if cfg.IsEnabled {
			enabled[cfg.ChainID] = cfg
		}
	}

	s.mu.Lock()
	running := make(map[int64]bool, len(s.workers))
	for id := range s.workers {
		running[id] = true
	}
	s.mu.Unlock()

	for chainID, cfg := range enabled {
		if !running[chainID] {
			if err := s.Start(ctx, cfg); err != nil {
				s.log.Chain(chainID).WithError(err).Warn("reconciliation could not start chain")
			}
		}
	}
	for chainID := range running {
		if _, stillEnabled := enabled[chainID]; !stillEnabled {
			if err := s.Stop(ctx, chainID); err != nil {
				s.log.Chain(chainID).WithError(err).Warn("reconciliation could not stop chain")
			}
		}
	}
	return nil
}

// Start brings up a chain's worker: ensures a client-pool handle,
// ensures a scan cursor exists, and launches the tick loop.
func (s *Supervisor) Start(ctx context.Context, cfg *model.ChainConfig) error {
	s.mu.Lock()
	if _, exists := s.workers[cfg.ChainID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pool.Ensure(ctx, cfg.ChainID, cfg.RPCURL, cfg.ContractAddress); err != nil {
		return err
	}

	if _, err := s.registry.GetScanCursor(ctx, cfg.ChainID); apperrors.KindOf(err) == apperrors.NotFound {
		if err := s.registry.UpsertScanCursor(ctx, model.NewScanCursor(cfg.ChainID, cfg.StartingBlock)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	w := &worker{
		chainID:  cfg.ChainID,
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: make(chan time.Duration, 1),
	}

	s.mu.Lock()
	s.workers[cfg.ChainID] = w
	s.mu.Unlock()

	s.applyStatus(ctx, w, cfg, model.WorkerStarting, "")
	go s.runLoop(workerCtx, w, cfg)

	return nil
}

// runLoop is the per-chain goroutine: one ticker, ticks handled one at a
// time in arrival order.
func (s *Supervisor) runLoop(ctx context.Context, w *worker, cfg *model.ChainConfig) {
	defer close(w.done)

	s.tick(ctx, w, cfg)
	if ctx.Err() != nil {
		s.applyStatus(ctx, w, cfg, model.WorkerStopped, "")
		return
	}

	ticker := time.NewTicker(cfg.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.applyStatus(ctx, w, cfg, model.WorkerStopped, "")
			return

		case newInterval := <-w.interval:
			ticker.Reset(newInterval)

		case <-ticker.C:
			s.tick(ctx, w, cfg)
		}
	}
}

// tick runs exactly one plan-then-process pass for a chain. Errors move
// the worker into WorkerError without stopping the loop; the next tick
// retries.
func (s *Supervisor) tick(ctx context.Context, w *worker, cfg *model.ChainConfig) {
	tickID := uuid.NewString()
	tickLog := s.log.Chain(cfg.ChainID).WithField("tick_id", tickID)

	cursor, err := s.registry.GetScanCursor(ctx, cfg.ChainID)
	if err != nil {
		tickLog.WithError(err).Error("could not load cursor")
		s.applyStatus(ctx, w, cfg, model.WorkerError, err.Error())
		return
	}

	latest, err := s.pool.LatestBlock(ctx, cfg.ChainID, cfg.RetryAttempts, time.Second)
	if err != nil {
		tickLog.WithError(err).Warn("could not fetch latest block")
		s.applyStatus(ctx, w, cfg, model.WorkerError, err.Error())
		return
	}

	decision := planner.Plan(cursor.LastProcessedBlock, latest, cfg.MaxBlockRange)
	if decision.Idle {
		s.applyStatus(ctx, w, cfg, model.WorkerRunning, "")
		return
	}

	tickLog.WithField("from", decision.From).WithField("to", decision.To).Debug("tick processing window")
	if err := s.processor.ProcessWindow(ctx, cfg, decision.From, decision.To); err != nil {
		tickLog.WithError(err).Warn("window processing failed")
		s.applyStatus(ctx, w, cfg, model.WorkerError, err.Error())
		return
	}

	s.applyStatus(ctx, w, cfg, model.WorkerRunning, "")
}

// UpdateInterval changes a running chain's scan interval without
// interrupting an in-flight tick.
func (s *Supervisor) UpdateInterval(chainID int64, interval time.Duration) error {
	s.mu.Lock()
	w, ok := s.workers[chainID]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewNotFound(chainID)
	}

	select {
	case w.interval <- interval:
	default:
		// Drain the stale pending update before enqueuing the new one.
		select {
		case <-w.interval:
		default:
		}
		w.interval <- interval
	}
	return nil
}

// Stop cancels a chain's worker and waits for its loop to exit, then
// releases its client-pool handle.
func (s *Supervisor) Stop(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	w, ok := s.workers[chainID]
	if ok {
		delete(s.workers, chainID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
	}

	s.pool.Drop(chainID)
	s.setWorkerStatusGauge(chainID, model.WorkerStopped)
	s.persistWorkerStatus(ctx, chainID, model.WorkerStopped, "")
	return nil
}

// Status reports a chain's live worker status, or WorkerStopped if no
// worker is currently running for it. The control plane's own status
// view joins this live value with the persisted cursor/config.
func (s *Supervisor) Status(chainID int64) model.WorkerStatus {
	s.mu.Lock()
	w, ok := s.workers[chainID]
	s.mu.Unlock()
	if !ok {
		return model.WorkerStopped
	}
	return w.getStatus()
}

// GracefulShutdown stops every running worker concurrently, bounded by
// budget.
func (s *Supervisor) GracefulShutdown(budget time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	s.cron.Stop()

	s.mu.Lock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.log.Chain(id).WithError(err).Warn("error during graceful shutdown")
			}
		}()
	}
	wg.Wait()
}

// applyStatus updates a worker's in-memory status and Prometheus gauge,
// then mirrors the transition onto the persisted ChainConfig and
// ScanCursor so it survives a restart and is visible to an operator
// inspecting either document directly. Persistence is skipped when the
// status hasn't changed and there's no error to record, so a long run
// of identical "running" ticks doesn't hit the registry every time.
func (s *Supervisor) applyStatus(ctx context.Context, w *worker, cfg *model.ChainConfig, status model.WorkerStatus, workerErr string) {
	previous := w.getStatus()
	w.setStatus(status)
	s.setWorkerStatusGauge(cfg.ChainID, status)

	if previous == status && status != model.WorkerError {
		return
	}
	s.persistWorkerStatus(ctx, cfg.ChainID, status, workerErr)
}

// persistWorkerStatus mirrors a worker's status onto its ChainConfig and
// ScanCursor documents. Missing documents (e.g. a chain deleted mid-tick)
// are ignored; the next successful operation will recreate them.
func (s *Supervisor) persistWorkerStatus(ctx context.Context, chainID int64, status model.WorkerStatus, workerErr string) {
	now := time.Now().UTC()

	if cfg, err := s.registry.GetChainConfig(ctx, chainID); err == nil {
		cfg.WorkerStatus = status
		if status == model.WorkerStarting {
			cfg.LastWorkerStart = &now
		}
		if status == model.WorkerError {
			cfg.LastWorkerError = workerErr
		} else {
			cfg.LastWorkerError = ""
		}
		if err := s.registry.UpsertChainConfig(ctx, cfg); err != nil {
			s.log.Chain(chainID).WithError(err).Warn("could not persist worker status to chain config")
		}
	}

	if cursor, err := s.registry.GetScanCursor(ctx, chainID); err == nil {
		cursor.WorkerStatus = status
		if status == model.WorkerStarting {
			cursor.LastWorkerStart = &now
		}
		if status == model.WorkerError {
			cursor.LastWorkerError = workerErr
		} else {
			cursor.LastWorkerError = ""
		}
		if err := s.registry.UpsertScanCursor(ctx, cursor); err != nil {
			s.log.Chain(chainID).WithError(err).Warn("could not persist worker status to scan cursor")
		}
	}
}

func (s *Supervisor) setWorkerStatusGauge(chainID int64, status model.WorkerStatus) {
	for _, candidate := range []model.WorkerStatus{model.WorkerStarting, model.WorkerRunning, model.WorkerStopped, model.WorkerError} {
		value := 0.0
		if candidate == status {
			value = 1.0
		}
		s.metrics.WorkerStatus.WithLabelValues(chainIDLabel(chainID), string(candidate)).Set(value)
	}
}

func chainIDLabel(chainID int64) string {
	return fmt.Sprintf("%d", chainID)
}
