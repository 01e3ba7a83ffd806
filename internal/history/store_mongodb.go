package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoRunDocument struct {
	ID           string `bson:"_id"`
	StartedAt    int64  `bson:"started_at"`
	TriggerKind  string `bson:"trigger_kind"`
	TotalFailure bool   `bson:"total_failure"`
	Data         []byte `bson:"data"`
}

// MongoDBStore stores run records in MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("runs")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create runs indexes: %w", err)
	}

	return &MongoDBStore{collection: coll}, nil
}

// Record inserts a run summary.
func (s *MongoDBStore) Record(ctx context.Context, run *RunRecord) error {
	payload, err := serializeRun(run)
	if err != nil {
		return err
	}

	doc := mongoRunDocument{
		ID:           run.ID,
		StartedAt:    run.StartedAt.Unix(),
		TriggerKind:  run.Trigger,
		TotalFailure: run.TotalFailure,
		Data:         payload,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *MongoDBStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	var doc mongoRunDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query run record: %w", err)
	}
	return deserializeRun(doc.Data)
}

// List returns runs ordered by started_at desc, id desc.
func (s *MongoDBStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	limit = normalizeLimit(limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]*RunRecord, 0, limit)
	for cursor.Next(ctx) {
		var doc mongoRunDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode run document: %w", err)
		}
		run, err := deserializeRun(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode run payload: %w", err)
		}
		items = append(items, run)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs cursor: %w", err)
	}
	return items, nil
}

// Close is a no-op; Mongo client lifecycle is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
