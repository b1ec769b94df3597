package strategy

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperbridge/pkg/types"
)

// MongoPersister stores strategies in the strategies collection, keyed by id.
type MongoPersister struct {
	coll *mongo.Collection
}

// NewMongoPersister wraps the strategies collection of the given database.
func NewMongoPersister(db *mongo.Database) *MongoPersister {
	return &MongoPersister{coll: db.Collection("strategies")}
}

// SaveStrategy upserts one strategy record.
func (p *MongoPersister) SaveStrategy(ctx context.Context, s types.Strategy) error {
	filter := bson.M{"_id": s.ID}
	if _, err := p.coll.ReplaceOne(ctx, filter, s, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("save strategy %s: %w", s.ID, err)
	}
	return nil
}

// LoadStrategies reads every persisted strategy.
func (p *MongoPersister) LoadStrategies(ctx context.Context) ([]types.Strategy, error) {
	cur, err := p.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	defer cur.Close(ctx)

	var out []types.Strategy
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode strategies: %w", err)
	}
	return out, nil
}
