// Package eventstore is the append-only FeeEvent collection: existence
// checks, batched insertion with idempotent collision handling, and the
// read-path query operations the boundary exposes, kept typed rather
// than a free-form field map.
package eventstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
)

// Store is the Event Store.
type Store struct {
	events *mongo.Collection
}

// New wires a Store and ensures the required indexes exist.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{events: db.Collection("fee_events")}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chain_id", Value: 1},
				{Key: "transaction_hash", Value: 1},
				{Key: "log_index", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "integrator", Value: 1}}},
		{Keys: bson.D{{Key: "chain_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	return err
}

// FindExistingKeys returns the stored keys of every transaction named in
// keys, on keys[0]'s chain (a superset of the matching keys when a
// transaction has other stored logs), used by the Event Processor to
// filter duplicates in one bulk query.
func (s *Store) FindExistingKeys(ctx context.Context, keys []model.NaturalKey) (map[model.NaturalKey]bool, error) {
	existing := make(map[model.NaturalKey]bool, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	chainID := keys[0].ChainID
	txHashes := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k.TransactionHash] {
			seen[k.TransactionHash] = true
			txHashes = append(txHashes, k.TransactionHash)
		}
	}

	filter := bson.M{
		"chain_id":         chainID,
		"transaction_hash": bson.M{"$in": txHashes},
	}
	cursor, err := s.events.Find(ctx, filter, options.Find().SetProjection(bson.M{
		"chain_id": 1, "transaction_hash": 1, "log_index": 1,
	}))
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var key model.NaturalKey
		if err := cursor.Decode(&key); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		existing[key] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return existing, nil
}

// InsertMany bulk-inserts events, treating a unique-key collision on any
// individual row as "already present" rather than a failure.
func (s *Store) InsertMany(ctx context.Context, events []*model.FeeEvent) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]any, 0, len(events))
	for _, e := range events {
		e.CreatedAt = now
		e.UpdatedAt = now
		docs = append(docs, e)
	}

	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	if isDuplicateKeyOnly(err) {
		return nil
	}
	return apperrors.NewStoreError(err)
}

// isDuplicateKeyOnly reports whether a bulk-write error consists solely
// of duplicate-key violations — the idempotent-replay case. Any other
// write error is a genuine StoreError.
func isDuplicateKeyOnly(err error) bool {
	bwe, ok := err.(mongo.BulkWriteException)
	if !ok {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if !we.IsDuplicateKeyError() {
			return false
		}
	}
	return true
}

// Filter is a tagged value describing a read-path query: the read
// boundary stays typed instead of an ad-hoc field map.
type Filter struct {
	ByIntegrator *string
	ByChain      *int64
	From         *time.Time
	To           *time.Time
}

func (f Filter) toBSON() bson.M {
	q := bson.M{}
	if f.ByIntegrator != nil {
		q["integrator"] = model.NormalizeAddress(*f.ByIntegrator)
	}
	if f.ByChain != nil {
		q["chain_id"] = *f.ByChain
	}
	if f.From != nil || f.To != nil {
		ts := bson.M{}
		if f.From != nil {
			ts["$gte"] = *f.From
		}
		if f.To != nil {
			ts["$lte"] = *f.To
		}
		q["timestamp"] = ts
	}
	return q
}

// CountByFilter returns the number of FeeEvents matching filter, part of
// the read boundary the core exposes to the API layer.
func (s *Store) CountByFilter(ctx context.Context, filter Filter) (int64, error) {
	n, err := s.events.CountDocuments(ctx, filter.toBSON())
	if err != nil {
		return 0, apperrors.NewStoreError(err)
	}
	return n, nil
}

// FindByFilter returns a page of FeeEvents matching filter, sorted by
// sortField (ascending if asc, else descending).
func (s *Store) FindByFilter(ctx context.Context, filter Filter, sortField string, asc bool, skip, limit int64) ([]*model.FeeEvent, error) {
	if sortField == "" {
		sortField = "timestamp"
	}
	dir := -1
	if asc {
		dir = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: dir}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := s.events.Find(ctx, filter.toBSON(), opts)
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	defer cursor.Close(ctx)

	var out []*model.FeeEvent
	for cursor.Next(ctx) {
		var e model.FeeEvent
		if err := cursor.Decode(&e); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		out = append(out, &e)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return out, nil
}
