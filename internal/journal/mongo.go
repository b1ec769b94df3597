package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperbridge/pkg/types"
)

// MongoStore persists journal entries across three collections: logs,
// webhooks, responses. Insertion order is the seq field alone, an in-process
// counter that MaxSeq seeds from the highest stored value at startup; the
// receive instant is stored as a BSON datetime so the
// timezone-aware value survives round-trips (Mongo normalizes to UTC, the
// -03:00 offset is reattached on emission).
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	logs      *mongo.Collection
	webhooks  *mongo.Collection
	responses *mongo.Collection
	seq       atomic.Int64
}

// OpenMongo connects to the document store and prepares the collections.
func OpenMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	return &MongoStore{
		client:    client,
		db:        db,
		logs:      db.Collection("logs"),
		webhooks:  db.Collection("webhooks"),
		responses: db.Collection("responses"),
	}, nil
}

// Database exposes the underlying database so sibling stores (the strategy
// registry) share one connection.
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// Append assigns the next insertion order and writes to the collection
// matching the entry kind.
func (s *MongoStore) Append(ctx context.Context, e types.Entry) error {
	e.Seq = s.seq.Add(1)

	coll := s.logs
	switch e.Kind {
	case types.KindWebhookReceived:
		coll = s.webhooks
	case types.KindVenueResponse:
		coll = s.responses
	}

	if _, err := coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("append %s: %w", e.Kind, err)
	}
	return nil
}

// RecentLogs returns log entries newest-first, optionally filtered by level.
func (s *MongoStore) RecentLogs(ctx context.Context, limit int, level string) ([]types.Entry, error) {
	filter := bson.M{}
	if level != "" {
		filter["log.level"] = level
	}
	return s.find(ctx, s.logs, filter, limit)
}

// RecentWebhooks returns webhook entries newest-first. See Store for the
// tri-state filter contract.
func (s *MongoStore) RecentWebhooks(ctx context.Context, limit int, strategyIDs []string) ([]types.Entry, error) {
	if strategyIDs != nil && len(strategyIDs) == 0 {
		return []types.Entry{}, nil
	}
	filter := bson.M{}
	if strategyIDs != nil {
		filter["webhook.strategy_id"] = bson.M{"$in": strategyIDs}
	}
	return s.find(ctx, s.webhooks, filter, limit)
}

// RecentResponses returns venue-response entries newest-first, same contract
// as RecentWebhooks.
func (s *MongoStore) RecentResponses(ctx context.Context, limit int, strategyIDs []string) ([]types.Entry, error) {
	if strategyIDs != nil && len(strategyIDs) == 0 {
		return []types.Entry{}, nil
	}
	filter := bson.M{}
	if strategyIDs != nil {
		filter["response.strategy_id"] = bson.M{"$in": strategyIDs}
	}
	return s.find(ctx, s.responses, filter, limit)
}

// ClearLogs removes every log entry and reports the deleted count.
func (s *MongoStore) ClearLogs(ctx context.Context) (int64, error) {
	res, err := s.logs.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear logs: %w", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects from the document store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MaxSeq scans the collections for the highest stored sequence so a restarted
// process keeps insertion order monotonic.
func (s *MongoStore) MaxSeq(ctx context.Context) int64 {
	var maxSeq int64
	for _, coll := range []*mongo.Collection{s.logs, s.webhooks, s.responses} {
		var doc struct {
			Seq int64 `bson:"seq"`
		}
		opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
		if err := coll.FindOne(ctx, bson.M{}, opts).Decode(&doc); err == nil && doc.Seq > maxSeq {
			maxSeq = doc.Seq
		}
	}
	s.seq.Store(maxSeq)
	return maxSeq
}

func (s *MongoStore) find(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int) ([]types.Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll.Name(), err)
	}
	defer cur.Close(ctx)

	entries := []types.Entry{}
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll.Name(), err)
	}
	return entries, nil
}
