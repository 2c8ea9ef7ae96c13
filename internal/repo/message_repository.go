package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/model"
)

var (
	ErrInvalidMessage = errors.New("invalid message: message cannot be nil")
	ErrInvalidRoomID  = errors.New("invalid room ID: cannot be empty")
)

const defaultPageSize = 50

// MessageRepository persists chat messages. Messages are immutable; the
// retention TTL index handles deletion.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	ListByRoom(ctx context.Context, roomID string, limit int64, before time.Time) ([]model.Message, error)
}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(mongoRepo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidMessage
	}
	if msg.RoomID == "" {
		return "", ErrInvalidRoomID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := m.mongoRepo.Create(ctx, *msg)
	if err != nil {
		m.logger.Error("failed to insert message",
			zap.Error(err),
			zap.String("room_id", msg.RoomID),
		)
		return "", fmt.Errorf("insert message: %w", err)
	}

	insertedID := ""
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		insertedID = oid.Hex()
	}

	m.logger.Debug("message inserted",
		zap.String("inserted_id", insertedID),
		zap.String("room_id", msg.RoomID),
	)
	return insertedID, nil
}

// ListByRoom returns messages for a room created before the given time,
// newest first.
func (m *messageRepository) ListByRoom(ctx context.Context, roomID string, limit int64, before time.Time) ([]model.Message, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}
	if limit < 1 || limit > 200 {
		limit = defaultPageSize
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID)
	if !before.IsZero() {
		filter = filter.Lt("created_at", before)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	msgs, err := m.mongoRepo.FindAll(ctx, filter.Build(), opts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("list messages for room %s: %w", roomID, err)
	}
	return msgs, nil
}
