package reactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/hub"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

type memoryRegistry struct {
	conns map[string]model.Connection
}

func newMemoryRegistry(conns ...model.Connection) *memoryRegistry {
	r := &memoryRegistry{conns: make(map[string]model.Connection)}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *memoryRegistry) Register(_ context.Context, conn model.Connection) error {
	if _, ok := r.conns[conn.ID]; ok {
		return repo.ErrAlreadyExists
	}
	r.conns[conn.ID] = conn
	return nil
}

func (r *memoryRegistry) Deregister(_ context.Context, id string) error {
	delete(r.conns, id)
	return nil
}

func (r *memoryRegistry) Touch(context.Context, string) error { return nil }

func (r *memoryRegistry) Lookup(_ context.Context, id string) (*model.Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (r *memoryRegistry) QueryByUser(_ context.Context, userID string) ([]model.Connection, error) {
	var out []model.Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRegistry) QueryByRoom(_ context.Context, roomID string) ([]model.Connection, error) {
	var out []model.Connection
	for _, c := range r.conns {
		if c.RoomID == roomID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRegistry) SetRoom(_ context.Context, id, roomID, roomType string) error {
	c, ok := r.conns[id]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now()
	c.RoomID, c.RoomType, c.RoomJoinedAt = roomID, roomType, &now
	r.conns[id] = c
	return nil
}

func (r *memoryRegistry) ClearRoom(_ context.Context, id string) error {
	c, ok := r.conns[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.RoomID, c.RoomType, c.RoomJoinedAt = "", "", nil
	r.conns[id] = c
	return nil
}

func (r *memoryRegistry) All(context.Context) ([]model.Connection, error) {
	var out []model.Connection
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out, nil
}

type sentEvent struct {
	targets []string
	ev      event.Outbound
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, targets []string, ev event.Outbound) map[string]hub.Outcome {
	b.mu.Lock()
	b.sent = append(b.sent, sentEvent{targets: targets, ev: ev})
	b.mu.Unlock()

	out := make(map[string]hub.Outcome, len(targets))
	for _, id := range targets {
		out[id] = hub.OutcomeDelivered
	}
	return out
}

func (b *recordingBroadcaster) snapshot() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.sent...)
}

type staticResolver struct {
	collaborators map[string][]string
}

func (r staticResolver) Collaborators(_ context.Context, userID string) ([]string, error) {
	return r.collaborators[userID], nil
}

func conn(id, userID, roomID string, joinedAt *time.Time) model.Connection {
	return model.Connection{
		ID:           id,
		UserID:       userID,
		RoomID:       roomID,
		RoomType:     "document",
		RoomJoinedAt: joinedAt,
		Status:       "online",
	}
}

func eventTypes(sent []sentEvent) []string {
	out := make([]string, 0, len(sent))
	for _, s := range sent {
		out = append(out, s.ev.Type)
	}
	return out
}

func TestFirstConnectionEmitsUserOnline(t *testing.T) {
	alice := conn("c1", "alice", "", nil)
	registry := newMemoryRegistry(alice, conn("c2", "bob", "", nil))
	broadcaster := &recordingBroadcaster{}
	resolver := staticResolver{collaborators: map[string][]string{"alice": {"bob"}}}
	r := New(registry, resolver, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpCreated, After: &alice})

	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, event.TypeUserOnline, broadcaster.sent[0].ev.Type)
	assert.Equal(t, []string{"c2"}, broadcaster.sent[0].targets)
}

func TestSecondConnectionEmitsNothing(t *testing.T) {
	first := conn("c1", "alice", "", nil)
	second := conn("c2", "alice", "", nil)
	registry := newMemoryRegistry(first, second)
	broadcaster := &recordingBroadcaster{}
	resolver := staticResolver{collaborators: map[string][]string{"alice": {"bob"}}}
	r := New(registry, resolver, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpCreated, After: &second})

	require.NoError(t, err)
	assert.Empty(t, broadcaster.sent)
}

func TestLastRemovalEmitsUserOffline(t *testing.T) {
	gone := conn("c1", "alice", "", nil)
	// Registry no longer holds alice's connection: the removal already
	// happened upstream.
	registry := newMemoryRegistry(conn("c9", "bob", "", nil))
	broadcaster := &recordingBroadcaster{}
	resolver := staticResolver{collaborators: map[string][]string{"alice": {"bob"}}}
	r := New(registry, resolver, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpRemoved, Before: &gone})

	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, event.TypeUserOffline, broadcaster.sent[0].ev.Type)
	assert.Equal(t, []string{"c9"}, broadcaster.sent[0].targets)
}

func TestRemovalWithRemainingSessionEmitsNothing(t *testing.T) {
	gone := conn("c1", "alice", "", nil)
	registry := newMemoryRegistry(conn("c2", "alice", "", nil))
	broadcaster := &recordingBroadcaster{}
	r := New(registry, staticResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpRemoved, Before: &gone})

	require.NoError(t, err)
	assert.Empty(t, broadcaster.sent)
}

func TestRoomSwitchEmitsLeaveThenJoin(t *testing.T) {
	joined := time.Now()
	before := conn("c1", "alice", "room-a", &joined)
	after := conn("c1", "alice", "room-b", &joined)
	registry := newMemoryRegistry(
		after,
		conn("c2", "bob", "room-a", &joined),
		conn("c3", "carol", "room-b", &joined),
	)
	broadcaster := &recordingBroadcaster{}
	r := New(registry, staticResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpModified, Before: &before, After: &after})

	require.NoError(t, err)
	require.Equal(t, []string{event.TypeUserLeft, event.TypeUserJoined}, eventTypes(broadcaster.sent))
	assert.Equal(t, []string{"c2"}, broadcaster.sent[0].targets, "leave goes to the old room")
	assert.Equal(t, []string{"c3"}, broadcaster.sent[1].targets, "join goes to the new room")
}

func TestRoomJoinExcludesTheMovingConnection(t *testing.T) {
	joined := time.Now()
	before := conn("c1", "alice", "", nil)
	after := conn("c1", "alice", "room-a", &joined)
	registry := newMemoryRegistry(after, conn("c2", "bob", "room-a", &joined))
	broadcaster := &recordingBroadcaster{}
	r := New(registry, staticResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpModified, Before: &before, After: &after})

	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, event.TypeUserJoined, broadcaster.sent[0].ev.Type)
	assert.Equal(t, []string{"c2"}, broadcaster.sent[0].targets)
}

func TestRejoinSameRoomReEmitsJoin(t *testing.T) {
	first := time.Now().Add(-time.Minute)
	second := time.Now()
	before := conn("c1", "alice", "room-a", &first)
	after := conn("c1", "alice", "room-a", &second)
	registry := newMemoryRegistry(after, conn("c2", "bob", "room-a", &second))
	broadcaster := &recordingBroadcaster{}
	r := New(registry, staticResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpModified, Before: &before, After: &after})

	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
	assert.Equal(t, event.TypeUserJoined, broadcaster.sent[0].ev.Type)
}

func TestUnrelatedFieldChangeEmitsNothing(t *testing.T) {
	joined := time.Now()
	before := conn("c1", "alice", "room-a", &joined)
	after := conn("c1", "alice", "room-a", &joined)
	after.LastActivity = time.Now()
	registry := newMemoryRegistry(after, conn("c2", "bob", "room-a", &joined))
	broadcaster := &recordingBroadcaster{}
	r := New(registry, staticResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpModified, Before: &before, After: &after})

	require.NoError(t, err)
	assert.Empty(t, broadcaster.sent)
}

type feedStep struct {
	mutation Mutation
	err      error
}

// scriptedFeed replays its steps, then blocks until the context ends.
type scriptedFeed struct {
	steps  []feedStep
	next   int
	closed bool
}

func (f *scriptedFeed) Next(ctx context.Context) (Mutation, error) {
	if f.next >= len(f.steps) {
		<-ctx.Done()
		return Mutation{}, ctx.Err()
	}
	step := f.steps[f.next]
	f.next++
	return step.mutation, step.err
}

func (f *scriptedFeed) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestRunReopensFeedAfterFailure(t *testing.T) {
	alice := conn("c1", "alice", "", nil)
	registry := newMemoryRegistry(alice, conn("c2", "bob", "", nil))
	broadcaster := &recordingBroadcaster{}
	resolver := staticResolver{collaborators: map[string][]string{"alice": {"bob"}}}
	r := New(registry, resolver, broadcaster, zap.NewNop())
	r.retryMin, r.retryMax = time.Millisecond, time.Millisecond

	broken := &scriptedFeed{steps: []feedStep{{err: errors.New("stream reset")}}}
	healthy := &scriptedFeed{steps: []feedStep{{mutation: Mutation{Op: OpCreated, After: &alice}}}}
	feeds := []*scriptedFeed{broken, healthy}

	opened := 0
	open := func(context.Context) (Feed, error) {
		feed := feeds[opened]
		opened++
		return feed, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, open)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(broadcaster.snapshot()) == 1
	}, time.Second, 5*time.Millisecond, "mutation after a feed failure must still fan out")

	cancel()
	<-done

	assert.Equal(t, 2, opened)
	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
	assert.Equal(t, event.TypeUserOnline, broadcaster.snapshot()[0].ev.Type)
	assert.Equal(t, []string{"c2"}, broadcaster.snapshot()[0].targets)
}

func TestRunRetriesFailedOpen(t *testing.T) {
	alice := conn("c1", "alice", "", nil)
	registry := newMemoryRegistry(alice)
	broadcaster := &recordingBroadcaster{}
	r := New(registry, NoopResolver{}, broadcaster, zap.NewNop())
	r.retryMin, r.retryMax = time.Millisecond, time.Millisecond

	feed := &scriptedFeed{steps: []feedStep{{mutation: Mutation{Op: OpCreated, After: &alice}}}}
	opened := 0
	open := func(context.Context) (Feed, error) {
		opened++
		if opened == 1 {
			return nil, errors.New("change streams unavailable")
		}
		return feed, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, open)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(broadcaster.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 2, opened)
	assert.True(t, feed.closed)
}

func TestNoopResolverReachesNobody(t *testing.T) {
	alice := conn("c1", "alice", "", nil)
	registry := newMemoryRegistry(alice)
	broadcaster := &recordingBroadcaster{}
	r := New(registry, NoopResolver{}, broadcaster, zap.NewNop())

	err := r.Apply(context.Background(), Mutation{Op: OpCreated, After: &alice})

	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
	assert.Empty(t, broadcaster.sent[0].targets)
}
