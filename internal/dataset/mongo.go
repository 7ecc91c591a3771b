package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is the cloud Dataset backend: each pushed item becomes one
// document in <database>.<datasetID collection prefix><datasetID>.
// Grounded directly on the teacher's MongoStorage.Store
// (internal/storage/database.go), keeping its InsertMany fan-in shape.
type MongoClient struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *slog.Logger
}

// NewMongoClient connects to uri and returns a MongoClient storing dataset
// items in database.
func NewMongoClient(uri, database string, logger *slog.Logger) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &MongoClient{
		client:   client,
		database: client.Database(database),
		logger:   logger.With("component", "mongo_dataset"),
	}, nil
}

func (c *MongoClient) PushItems(ctx context.Context, datasetID string, items [][]byte) error {
	docs := make([]any, len(items))
	for i, item := range items {
		var doc map[string]any
		if err := json.Unmarshal(item, &doc); err != nil {
			return fmt.Errorf("decode dataset item %d for mongodb insert: %w", i, err)
		}
		docs[i] = doc
	}

	collection := c.database.Collection("dataset_" + datasetID)
	insertCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := collection.InsertMany(insertCtx, docs); err != nil {
		return fmt.Errorf("mongodb insert dataset items: %w", err)
	}
	c.logger.Debug("dataset items stored", "dataset_id", datasetID, "count", len(items))
	return nil
}

// Close disconnects the underlying mongo client.
func (c *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}
