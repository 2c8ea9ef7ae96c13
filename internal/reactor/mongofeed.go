package reactor

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sngor/bayon-realtime/internal/model"
)

// changeEvent mirrors the fields of a Mongo change stream document the
// reactor cares about.
type changeEvent struct {
	OperationType            string            `bson:"operationType"`
	FullDocument             *model.Connection `bson:"fullDocument"`
	FullDocumentBeforeChange *model.Connection `bson:"fullDocumentBeforeChange"`
}

// MongoFeed adapts a Mongo change stream on the connections collection to
// the Feed interface. The stream is ordered per shard; cross-shard order is
// not guaranteed, matching the feed contract. The collection must have
// changeStreamPreAndPostImages enabled so deletes carry the prior document.
type MongoFeed struct {
	stream *mongo.ChangeStream
}

// NewMongoFeed opens the change stream.
func NewMongoFeed(ctx context.Context, collection *mongo.Collection) (*MongoFeed, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	stream, err := collection.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}
	return &MongoFeed{stream: stream}, nil
}

// Next blocks for the next classified mutation, skipping operation types
// the reactor does not consume.
func (f *MongoFeed) Next(ctx context.Context) (Mutation, error) {
	for f.stream.Next(ctx) {
		var ev changeEvent
		if err := f.stream.Decode(&ev); err != nil {
			return Mutation{}, fmt.Errorf("decode change event: %w", err)
		}

		switch ev.OperationType {
		case "insert":
			return Mutation{Op: OpCreated, After: ev.FullDocument}, nil
		case "delete":
			return Mutation{Op: OpRemoved, Before: ev.FullDocumentBeforeChange}, nil
		case "update", "replace":
			return Mutation{Op: OpModified, Before: ev.FullDocumentBeforeChange, After: ev.FullDocument}, nil
		default:
			// drop/rename/invalidate are not registry mutations
			continue
		}
	}

	if err := f.stream.Err(); err != nil {
		return Mutation{}, fmt.Errorf("change stream: %w", err)
	}
	return Mutation{}, ctx.Err()
}

// Close releases the underlying stream.
func (f *MongoFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}
