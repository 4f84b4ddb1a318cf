package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes provisions every index the services rely on. CreateMany
// is idempotent, so this runs on every startup and in the test harness.
//
// The unique email index backs registration (the count pre-check can
// race), and (recipient_id, is_read) makes the unread counter an index
// lookup instead of a collection scan.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type spec struct {
		collection string
		models     []mongo.IndexModel
	}

	specs := []spec{
		{
			collection: "users",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "email", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
			},
		},
		{
			collection: "orders",
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
				{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
				{Keys: bson.D{{Key: "status", Value: 1}}},
			},
		},
		{
			collection: "messages",
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "is_read", Value: 1}}},
				{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: 1}}},
			},
		},
		{
			collection: "disputes",
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "status", Value: 1}}},
				{Keys: bson.D{{Key: "reporter_id", Value: 1}}},
			},
		},
		{
			collection: "invoices",
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}}},
			},
		},
	}

	for _, s := range specs {
		if _, err := db.Collection(s.collection).Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", s.collection, err)
		}
	}
	return nil
}
