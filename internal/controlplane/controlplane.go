// Package controlplane is the Control Plane: the single entry point for
// adding, starting, stopping, updating, deleting, and inspecting chains.
// Every mutation that touches a chain's RPC endpoint goes through a
// probe gate first.
package controlplane

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/cache"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainclient"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainregistry"
	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
	"github.com/lifi-labs/fee-ingestion-engine/internal/supervisor"
)

// AddChainRequest is the validated input shape for AddChain. A zero
// value for StartingBlock, ScanIntervalMS, MaxBlockRange, or
// RetryAttempts means "use the process default"; any non-zero value
// supplied is checked against the same bounds UpdateChain enforces.
type AddChainRequest struct {
	ChainID         int64  `validate:"required,gt=0"`
	Name            string `validate:"required,max=50"`
	RPCURL          string `validate:"required,url"`
	ContractAddress string `validate:"required"`
	StartingBlock   int64
	ScanIntervalMS  int
	MaxBlockRange   int
	RetryAttempts   int
	Enabled         bool
}

// UpdateChainRequest carries only the fields a caller wants to change;
// nil means "leave as-is".
type UpdateChainRequest struct {
	Name            *string
	RPCURL          *string
	ContractAddress *string
	ScanIntervalMS  *int
	MaxBlockRange   *int
	RetryAttempts   *int
}

// ChainStatus joins the persisted config/cursor with the supervisor's
// live worker view.
type ChainStatus struct {
	ChainID            int64
	Name               string
	IsEnabled          bool
	WorkerStatus       model.WorkerStatus
	LastProcessedBlock int64
	LastRunAt          time.Time
	ErrorCount         int
	LastError          string
}

// Defaults bundles the process-wide ChainConfig defaults.
type Defaults struct {
	StartingBlock  int64
	ScanIntervalMS int
	MaxBlockRange  int
	RetryAttempts  int
}

// ControlPlane is the Control Plane.
type ControlPlane struct {
	registry    *chainregistry.Registry
	supervisor  *supervisor.Supervisor
	invalidator *cache.Invalidator
	validate    *validator.Validate
	log         *logging.Logger
	defaults    Defaults
}

// New builds a ControlPlane.
func New(registry *chainregistry.Registry, sup *supervisor.Supervisor, invalidator *cache.Invalidator, log *logging.Logger, defaults Defaults) *ControlPlane {
	return &ControlPlane{
		registry:    registry,
		supervisor:  sup,
		invalidator: invalidator,
		validate:    validator.New(),
		log:         log,
		defaults:    defaults,
	}
}

// AddChain validates, probes, and persists a new chain, starting its
// worker immediately if req.Enabled. No config naming an RPC endpoint is
// ever committed without a successful probe.
func (cp *ControlPlane) AddChain(ctx context.Context, req AddChainRequest) (*model.ChainConfig, error) {
	if err := cp.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.ValidationError, "invalid chain request", err)
	}
	if !model.ValidAddress(req.ContractAddress) {
		return nil, apperrors.NewValidation("contractAddress", "must be a 20-byte hex address")
	}
	if req.StartingBlock < 0 {
		return nil, apperrors.NewValidation("startingBlock", "must not be negative")
	}
	if req.ScanIntervalMS != 0 && (req.ScanIntervalMS < model.MinScanIntervalMS || req.ScanIntervalMS > model.MaxScanIntervalMS) {
		return nil, apperrors.NewValidation("scanIntervalMs", "out of range")
	}
	if req.MaxBlockRange != 0 && (req.MaxBlockRange < model.MinMaxBlockRange || req.MaxBlockRange > model.MaxMaxBlockRange) {
		return nil, apperrors.NewValidation("maxBlockRange", "out of range")
	}
	if req.RetryAttempts != 0 && (req.RetryAttempts < model.MinRetryAttempts || req.RetryAttempts > model.MaxRetryAttempts) {
		return nil, apperrors.NewValidation("retryAttempts", "out of range")
	}

	if _, err := cp.registry.GetChainConfig(ctx, req.ChainID); err == nil {
		return nil, apperrors.NewConflict(req.ChainID)
	} else if apperrors.KindOf(err) != apperrors.NotFound {
		return nil, err
	}

	if err := chainclient.Probe(ctx, req.RPCURL); err != nil {
		return nil, err
	}

	cfg := &model.ChainConfig{
		ChainID:         req.ChainID,
		Name:            req.Name,
		RPCURL:          req.RPCURL,
		ContractAddress: req.ContractAddress,
		StartingBlock:   req.StartingBlock,
		ScanIntervalMS:  req.ScanIntervalMS,
		MaxBlockRange:   req.MaxBlockRange,
		RetryAttempts:   req.RetryAttempts,
		IsEnabled:       req.Enabled,
		WorkerStatus:    model.WorkerStarting,
	}
	cfg.ApplyDefaults(cp.defaults.StartingBlock, cp.defaults.ScanIntervalMS, cp.defaults.MaxBlockRange, cp.defaults.RetryAttempts)

	if err := cp.registry.UpsertChainConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if err := cp.registry.UpsertScanCursor(ctx, model.NewScanCursor(cfg.ChainID, cfg.StartingBlock)); err != nil {
		return nil, err
	}

	if cfg.IsEnabled {
		if err := cp.supervisor.Start(ctx, cfg); err != nil {
			cp.log.Chain(cfg.ChainID).WithError(err).Error("could not start newly added chain")
		}
	}

	cp.invalidate(ctx, cfg.ChainID)
	return cfg, nil
}

// StartChain marks a chain enabled and launches its worker.
func (cp *ControlPlane) StartChain(ctx context.Context, chainID int64) error {
	cfg, err := cp.registry.GetChainConfig(ctx, chainID)
	if err != nil {
		return err
	}
	cfg.IsEnabled = true
	if err := cp.registry.UpsertChainConfig(ctx, cfg); err != nil {
		return err
	}
	err = cp.supervisor.Start(ctx, cfg)
	cp.invalidate(ctx, chainID)
	return err
}

// StopChain halts a chain's worker and marks it disabled.
func (cp *ControlPlane) StopChain(ctx context.Context, chainID int64) error {
	cfg, err := cp.registry.GetChainConfig(ctx, chainID)
	if err != nil {
		return err
	}
	if err := cp.supervisor.Stop(ctx, chainID); err != nil {
		return err
	}
	cfg.IsEnabled = false
	if err := cp.registry.UpsertChainConfig(ctx, cfg); err != nil {
		return err
	}
	cp.invalidate(ctx, chainID)
	return nil
}

// invalidate publishes a cache-invalidation event for chainID, logging
// rather than failing the caller's mutation if publish fails.
func (cp *ControlPlane) invalidate(ctx context.Context, chainID int64) {
	if cp.invalidator == nil {
		return
	}
	if err := cp.invalidator.InvalidateChain(ctx, chainID); err != nil {
		cp.log.Chain(chainID).WithError(err).Warn("cache invalidation publish failed")
	}
}

// UpdateChain applies a partial update. Changing RPCURL requires a
// successful probe before the new config is committed.
func (cp *ControlPlane) UpdateChain(ctx context.Context, chainID int64, req UpdateChainRequest) (*model.ChainConfig, error) {
	cfg, err := cp.registry.GetChainConfig(ctx, chainID)
	if err != nil {
		return nil, err
	}

	intervalChanged := false

	if req.Name != nil {
		if *req.Name == "" || len([]rune(*req.Name)) > 50 {
			return nil, apperrors.NewValidation("name", "must be 1 to 50 characters")
		}
		cfg.Name = *req.Name
	}
	if req.RPCURL != nil && *req.RPCURL != cfg.RPCURL {
		if err := chainclient.Probe(ctx, *req.RPCURL); err != nil {
			return nil, err
		}
		cfg.RPCURL = *req.RPCURL
	}
	if req.ContractAddress != nil {
		if !model.ValidAddress(*req.ContractAddress) {
			return nil, apperrors.NewValidation("contractAddress", "must be a 20-byte hex address")
		}
		cfg.ContractAddress = model.NormalizeAddress(*req.ContractAddress)
	}
	if req.ScanIntervalMS != nil {
		if *req.ScanIntervalMS < model.MinScanIntervalMS || *req.ScanIntervalMS > model.MaxScanIntervalMS {
			return nil, apperrors.NewValidation("scanIntervalMs", "out of range")
		}
		cfg.ScanIntervalMS = *req.ScanIntervalMS
		intervalChanged = true
	}
	if req.MaxBlockRange != nil {
		if *req.MaxBlockRange < model.MinMaxBlockRange || *req.MaxBlockRange > model.MaxMaxBlockRange {
			return nil, apperrors.NewValidation("maxBlockRange", "out of range")
		}
		cfg.MaxBlockRange = *req.MaxBlockRange
	}
	if req.RetryAttempts != nil {
		if *req.RetryAttempts < model.MinRetryAttempts || *req.RetryAttempts > model.MaxRetryAttempts {
			return nil, apperrors.NewValidation("retryAttempts", "out of range")
		}
		cfg.RetryAttempts = *req.RetryAttempts
	}

	if err := cp.registry.UpsertChainConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.IsEnabled {
		if req.RPCURL != nil {
			if err := cp.supervisor.Stop(ctx, chainID); err != nil {
				cp.log.Chain(chainID).WithError(err).Warn("could not stop worker before rpc swap")
			}
			if err := cp.supervisor.Start(ctx, cfg); err != nil {
				cp.log.Chain(chainID).WithError(err).Error("could not restart worker after rpc swap")
			}
		} else if intervalChanged {
			_ = cp.supervisor.UpdateInterval(chainID, cfg.ScanInterval())
		}
	}

	cp.invalidate(ctx, chainID)

	return cfg, nil
}

// DeleteChain stops the chain's worker (if running) and removes its
// config and cursor.
func (cp *ControlPlane) DeleteChain(ctx context.Context, chainID int64) error {
	if err := cp.supervisor.Stop(ctx, chainID); err != nil {
		return err
	}
	if err := cp.registry.DeleteChainConfig(ctx, chainID); err != nil {
		return err
	}
	if err := cp.registry.DeleteScanCursor(ctx, chainID); err != nil {
		return err
	}
	cp.invalidate(ctx, chainID)
	return nil
}

// Status joins a chain's persisted config and cursor with the
// supervisor's live worker status.
func (cp *ControlPlane) Status(ctx context.Context, chainID int64) (*ChainStatus, error) {
	cfg, err := cp.registry.GetChainConfig(ctx, chainID)
	if err != nil {
		return nil, err
	}
	cursor, err := cp.registry.GetScanCursor(ctx, chainID)
	if err != nil {
		return nil, err
	}

	return &ChainStatus{
		ChainID:            chainID,
		Name:               cfg.Name,
		IsEnabled:          cfg.IsEnabled,
		WorkerStatus:       cp.supervisor.Status(chainID),
		LastProcessedBlock: cursor.LastProcessedBlock,
		LastRunAt:          cursor.LastRunAt,
		ErrorCount:         cursor.ErrorCount,
		LastError:          cursor.LastError,
	}, nil
}

// ListStatuses reports the joined status of every configured chain.
func (cp *ControlPlane) ListStatuses(ctx context.Context) ([]*ChainStatus, error) {
	configs, err := cp.registry.ListChainConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ChainStatus, 0, len(configs))
	for _, cfg := range configs {
		status, err := cp.Status(ctx, cfg.ChainID)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out, nil
}
