// Package mongostore persists ClassLog records to MongoDB for
// long-running instrumentation services that re-instrument many
// classes across process restarts.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"witnessd/internal/problog"
)

// Store is a MongoDB-backed problog.Store. Each ClassLog is stored as
// a single document keyed by class name, with the encoded probe-log
// bytes held opaquely so the document schema never drifts out of
// sync with the binary codec.
type Store struct {
	collection *mongo.Collection
}

var _ problog.Store = (*Store)(nil)

// New constructs a Store using the provided collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

type classLogDocument struct {
	ClassName string `bson:"_id"`
	Data      []byte `bson:"data"`
}

// Save implements problog.Store.
func (s *Store) Save(ctx context.Context, log *problog.ClassLog) error {
	data, err := problog.EncodeBytes(log)
	if err != nil {
		return fmt.Errorf("encode class log %q: %w", log.ClassName, err)
	}
	doc := classLogDocument{ClassName: log.ClassName, Data: data}
	opts := options.Replace().SetUpsert(true)
	_, err = s.collection.ReplaceOne(ctx, bson.M{"_id": log.ClassName}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save class log %q: %w", log.ClassName, err)
	}
	return nil
}

// Load implements problog.Store.
func (s *Store) Load(ctx context.Context, className string) (*problog.ClassLog, error) {
	var doc classLogDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": className}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, problog.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb load class log %q: %w", className, err)
	}
	log, err := problog.DecodeBytes(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode class log %q: %w", className, err)
	}
	return log, nil
}

// Delete implements problog.Store.
func (s *Store) Delete(ctx context.Context, className string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": className})
	if err != nil {
		return fmt.Errorf("mongodb delete class log %q: %w", className, err)
	}
	if result.DeletedCount == 0 {
		return problog.ErrNotFound
	}
	return nil
}
