// Package chainregistry is the authoritative store of ChainConfig and
// ScanCursor documents. It is the only component that talks to the
// `chain_configs` and `scan_cursors` collections.
package chainregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
)

// Registry is the Chain Registry.
type Registry struct {
	configs *mongo.Collection
	cursors *mongo.Collection
}

// New wires a Registry against an already-connected database handle and
// ensures the required unique indexes exist.
func New(ctx context.Context, db *mongo.Database) (*Registry, error) {
	r := &Registry{
		configs: db.Collection("chain_configs"),
		cursors: db.Collection("scan_cursors"),
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure chain registry indexes: %w", err)
	}
	return r, nil
}

func (r *Registry) ensureIndexes(ctx context.Context) error {
	if _, err := r.configs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chain_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := r.cursors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chain_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}

// UpsertChainConfig creates or replaces a chain's configuration.
func (r *Registry) UpsertChainConfig(ctx context.Context, cfg *model.ChainConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	opts := options.Replace().SetUpsert(true)
	_, err := r.configs.ReplaceOne(ctx, bson.M{"chain_id": cfg.ChainID}, cfg, opts)
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	return nil
}

// GetChainConfig returns nil, apperrors.NotFound if the chain is unknown.
func (r *Registry) GetChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	var cfg model.ChainConfig
	err := r.configs.FindOne(ctx, bson.M{"chain_id": chainID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFound(chainID)
	}
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return &cfg, nil
}

// ListChainConfigs returns every configured chain.
func (r *Registry) ListChainConfigs(ctx context.Context) ([]*model.ChainConfig, error) {
	cursor, err := r.configs.Find(ctx, bson.M{})
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	defer cursor.Close(ctx)

	var out []*model.ChainConfig
	for cursor.Next(ctx) {
		var cfg model.ChainConfig
		if err := cursor.Decode(&cfg); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		out = append(out, &cfg)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return out, nil
}

// DeleteChainConfig removes a chain's configuration. Missing chains are
// not an error at this layer; the control plane enforces preconditions.
func (r *Registry) DeleteChainConfig(ctx context.Context, chainID int64) error {
	_, err := r.configs.DeleteOne(ctx, bson.M{"chain_id": chainID})
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	return nil
}

// UpsertScanCursor creates or replaces a chain's scan cursor.
func (r *Registry) UpsertScanCursor(ctx context.Context, cursor *model.ScanCursor) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.cursors.ReplaceOne(ctx, bson.M{"chain_id": cursor.ChainID}, cursor, opts)
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	return nil
}

// GetScanCursor returns nil, apperrors.NotFound if the chain has no cursor.
func (r *Registry) GetScanCursor(ctx context.Context, chainID int64) (*model.ScanCursor, error) {
	var cur model.ScanCursor
	err := r.cursors.FindOne(ctx, bson.M{"chain_id": chainID}).Decode(&cur)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFound(chainID)
	}
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return &cur, nil
}

// ListScanCursors returns every persisted cursor.
func (r *Registry) ListScanCursors(ctx context.Context) ([]*model.ScanCursor, error) {
	cursor, err := r.cursors.Find(ctx, bson.M{})
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	defer cursor.Close(ctx)

	var out []*model.ScanCursor
	for cursor.Next(ctx) {
		var c model.ScanCursor
		if err := cursor.Decode(&c); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		out = append(out, &c)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return out, nil
}

// DeleteScanCursor removes a chain's cursor.
func (r *Registry) DeleteScanCursor(ctx context.Context, chainID int64) error {
	_, err := r.cursors.DeleteOne(ctx, bson.M{"chain_id": chainID})
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	return nil
}
