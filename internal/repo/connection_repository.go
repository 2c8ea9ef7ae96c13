package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/model"
)

var (
	ErrAlreadyExists = errors.New("connection already registered")
	ErrNotFound      = errors.New("connection not found")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second
)

// ConnectionRegistry is the durable store of active realtime sessions.
// Registration is create-only: a second Register with the same id fails
// with ErrAlreadyExists and leaves the original record untouched. All other
// mutations are idempotent so concurrent execution units never need locks.
type ConnectionRegistry interface {
	Register(ctx context.Context, conn model.Connection) error
	Deregister(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error
	Lookup(ctx context.Context, id string) (*model.Connection, error)
	QueryByUser(ctx context.Context, userID string) ([]model.Connection, error)
	QueryByRoom(ctx context.Context, roomID string) ([]model.Connection, error)
	SetRoom(ctx context.Context, id, roomID, roomType string) error
	ClearRoom(ctx context.Context, id string) error
	All(ctx context.Context) ([]model.Connection, error)
}

// connectionStore is the slice of the generic Mongo repository the registry
// uses, narrowed so tests can substitute the store.
type connectionStore interface {
	Create(ctx context.Context, document model.Connection) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter bson.M) (*model.Connection, error)
	FindAll(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]model.Connection, error)
	Update(ctx context.Context, filter bson.M, update bson.M) (*mongo.UpdateResult, error)
	Delete(ctx context.Context, filter bson.M) (*mongo.DeleteResult, error)
	Collection() *mongo.Collection
}

type connectionRegistry struct {
	mongoRepo connectionStore
	ttl       time.Duration
	logger    *zap.Logger
}

// NewConnectionRegistry creates the Mongo-backed registry. ttl is the
// passive-expiry window; Touch pushes expires_at forward by it.
func NewConnectionRegistry(mongoRepo *db.Repository[model.Connection], ttl time.Duration, logger *zap.Logger) ConnectionRegistry {
	return &connectionRegistry{
		mongoRepo: mongoRepo,
		ttl:       ttl,
		logger:    logger,
	}
}

func (r *connectionRegistry) Register(ctx context.Context, conn model.Connection) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	conn = registrationDefaults(conn, time.Now().UTC(), r.ttl)

	_, err := r.mongoRepo.Create(ctx, conn)
	if err != nil {
		if db.IsDuplicateKey(err) {
			r.logger.Warn("duplicate connection registration",
				zap.String("connection_id", conn.ID),
				zap.String("user_id", conn.UserID),
			)
			return ErrAlreadyExists
		}
		return fmt.Errorf("register connection: %w", err)
	}

	r.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.UserID),
	)
	return nil
}

// registrationDefaults fills the bookkeeping fields a caller may omit;
// caller-supplied values are kept.
func registrationDefaults(conn model.Connection, now time.Time, ttl time.Duration) model.Connection {
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	if conn.LastActivity.IsZero() {
		conn.LastActivity = now
	}
	if conn.ExpiresAt.IsZero() {
		conn.ExpiresAt = now.Add(ttl)
	}
	if conn.Status == "" {
		conn.Status = model.ConnectionActive
	}
	return conn
}

// Deregister removes the record. Absent records are not an error; the
// disconnect path must always succeed from the caller's view.
func (r *connectionRegistry) Deregister(ctx context.Context, id string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := r.mongoRepo.Delete(ctx, db.NewFilter().Eq("_id", id).Build()); err != nil {
		return fmt.Errorf("deregister connection %s: %w", id, err)
	}
	return nil
}

// Touch refreshes last_activity and pushes expiry forward. No-op if absent.
func (r *connectionRegistry) Touch(ctx context.Context, id string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.mongoRepo.Update(ctx, db.NewFilter().Eq("_id", id).Build(), bson.M{
		"last_activity": now,
		"expires_at":    now.Add(r.ttl),
	})
	if err != nil {
		return fmt.Errorf("touch connection %s: %w", id, err)
	}
	return nil
}

func (r *connectionRegistry) Lookup(ctx context.Context, id string) (*model.Connection, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conn, err := r.mongoRepo.FindOne(ctx, db.NewFilter().Eq("_id", id).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup connection %s: %w", id, err)
	}
	return conn, nil
}

func (r *connectionRegistry) QueryByUser(ctx context.Context, userID string) ([]model.Connection, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conns, err := r.mongoRepo.FindAll(ctx, db.NewFilter().Eq("user_id", userID).Build())
	if err != nil {
		return nil, fmt.Errorf("query connections by user %s: %w", userID, err)
	}
	return conns, nil
}

// QueryByRoom is a snapshot read; it may race with concurrent joins and
// leaves, which presence semantics accept.
func (r *connectionRegistry) QueryByRoom(ctx context.Context, roomID string) ([]model.Connection, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conns, err := r.mongoRepo.FindAll(ctx, db.NewFilter().Eq("room_id", roomID).Build())
	if err != nil {
		return nil, fmt.Errorf("query connections by room %s: %w", roomID, err)
	}
	return conns, nil
}

// SetRoom writes the room fields. room_joined_at is always rewritten so a
// rejoin of the same room still surfaces on the mutation feed.
func (r *connectionRegistry) SetRoom(ctx context.Context, id, roomID, roomType string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.mongoRepo.Update(ctx, db.NewFilter().Eq("_id", id).Build(), bson.M{
		"room_id":        roomID,
		"room_type":      roomType,
		"room_joined_at": now,
		"last_activity":  now,
	})
	if err != nil {
		return fmt.Errorf("set room for connection %s: %w", id, err)
	}
	return nil
}

// ClearRoom removes the room fields. No-op when the connection is roomless
// or absent.
func (r *connectionRegistry) ClearRoom(ctx context.Context, id string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.Collection().UpdateOne(ctx,
		db.NewFilter().Eq("_id", id).Build(),
		bson.M{
			"$unset": bson.M{"room_id": "", "room_type": "", "room_joined_at": ""},
			"$set":   bson.M{"last_activity": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("clear room for connection %s: %w", id, err)
	}
	return nil
}

// All returns every registered session, for the monitor endpoint.
func (r *connectionRegistry) All(ctx context.Context) ([]model.Connection, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conns, err := r.mongoRepo.FindAll(ctx, db.Empty())
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
