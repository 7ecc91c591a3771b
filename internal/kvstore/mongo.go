package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is the cloud-backed Client implementation: each (storeID,
// key) pair is one document in a single collection, indexed on storeID and
// key. Grounded on the teacher's MongoStorage
// (internal/storage/database.go) — same mongo-driver connect/ping
// bootstrap, same per-operation context timeout discipline.
type MongoClient struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

type kvDocument struct {
	StoreID     string `bson:"storeId"`
	Key         string `bson:"key"`
	Data        []byte `bson:"data"`
	ContentType string `bson:"contentType"`
}

// NewMongoClient connects to uri and returns a MongoClient using
// database/collection for KV records.
func NewMongoClient(uri, database, collection string, logger *slog.Logger) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "key", Value: 1}},
	}); err != nil {
		logger.Warn("kv store index creation failed", "error", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &MongoClient{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_kv_store"),
	}, nil
}

func (c *MongoClient) GetValue(storeID, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc kvDocument
	err := c.collection.FindOne(ctx, bson.M{"storeId": storeID, "key": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("mongodb get value %s/%s: %w", storeID, key, err)
	}
	return doc.Data, doc.ContentType, nil
}

func (c *MongoClient) SetValue(storeID, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.collection.UpdateOne(ctx,
		bson.M{"storeId": storeID, "key": key},
		bson.M{"$set": kvDocument{StoreID: storeID, Key: key, Data: data, ContentType: contentType}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb set value %s/%s: %w", storeID, key, err)
	}
	return nil
}

func (c *MongoClient) DeleteRecord(storeID, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.collection.DeleteOne(ctx, bson.M{"storeId": storeID, "key": key})
	if err != nil {
		return fmt.Errorf("mongodb delete %s/%s: %w", storeID, key, err)
	}
	return nil
}

func (c *MongoClient) ListKeys(storeID string, exclusiveStartKey string, limit int) (*ListKeysResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := bson.M{"storeId": storeID}
	if exclusiveStartKey != "" {
		filter["key"] = bson.M{"$gt": exclusiveStartKey}
	}

	opts := options.Find().SetSort(bson.D{{Key: "key", Value: 1}}).SetLimit(int64(limit + 1))
	cur, err := c.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list keys %s: %w", storeID, err)
	}
	defer cur.Close(ctx)

	var docs []kvDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode list keys %s: %w", storeID, err)
	}

	result := &ListKeysResult{}
	for i, d := range docs {
		if i >= limit {
			result.IsTruncated = true
			break
		}
		result.Items = append(result.Items, KeyInfo{Key: d.Key, Size: len(d.Data)})
	}
	if result.IsTruncated && len(result.Items) > 0 {
		result.NextExclusiveStartKey = result.Items[len(result.Items)-1].Key
	}
	return result, nil
}

// Close disconnects the underlying mongo client.
func (c *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}
