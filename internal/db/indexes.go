package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collections holds the collection names in use, loaded from configuration.
type Collections struct {
	Connections   string
	Messages      string
	Statuses      string
	Notifications string
	Deliveries    string
	Rollups       string
}

// EnsureIndexes creates the secondary, unique and TTL indexes the system
// relies on. Safe to call on every startup; Mongo treats identical index
// specs as no-ops.
//
// TTL indexes double as retention enforcement: connection passive expiry,
// live-status TTL and chat message retention all happen store-side, and
// connection TTL deletions flow through the change stream like any other
// deregistration.
func EnsureIndexes(ctx context.Context, database *mongo.Database, cols Collections, messageRetention time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[string][]mongo.IndexModel{
		cols.Connections: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}}},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		cols.Messages: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(messageRetention.Seconds())),
			},
		},
		cols.Statuses: {
			{
				Keys:    bson.D{{Key: "resource_type", Value: 1}, {Key: "resource_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		cols.Deliveries: {
			{Keys: bson.D{{Key: "notification_id", Value: 1}}},
			// due-for-retry scan: state + next_retry_at
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_retry_at", Value: 1}}},
			{Keys: bson.D{{Key: "first_dispatch_at", Value: 1}}},
		},
	}

	for name, models := range specs {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", name, err)
		}
	}

	// Pre-images let the change stream carry the prior document on deletes
	// and updates, which the mutation-feed reactor needs to classify them.
	cmd := bson.D{
		{Key: "collMod", Value: cols.Connections},
		{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
	}
	if err := database.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("enable change stream pre-images on %s: %w", cols.Connections, err)
	}
	return nil
}
