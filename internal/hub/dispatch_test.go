package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

type memRegistry struct {
	mu    sync.Mutex
	conns map[string]model.Connection
}

func newMemRegistry(conns ...model.Connection) *memRegistry {
	r := &memRegistry{conns: make(map[string]model.Connection)}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *memRegistry) Register(_ context.Context, conn model.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; ok {
		return repo.ErrAlreadyExists
	}
	r.conns[conn.ID] = conn
	return nil
}

func (r *memRegistry) Deregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

func (r *memRegistry) Touch(context.Context, string) error { return nil }

func (r *memRegistry) Lookup(_ context.Context, id string) (*model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (r *memRegistry) QueryByUser(_ context.Context, userID string) ([]model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRegistry) QueryByRoom(_ context.Context, roomID string) ([]model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Connection
	for _, c := range r.conns {
		if c.RoomID == roomID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRegistry) SetRoom(_ context.Context, id, roomID, roomType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now()
	c.RoomID, c.RoomType, c.RoomJoinedAt = roomID, roomType, &now
	r.conns[id] = c
	return nil
}

func (r *memRegistry) ClearRoom(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.RoomID, c.RoomType, c.RoomJoinedAt = "", "", nil
	r.conns[id] = c
	return nil
}

func (r *memRegistry) All(context.Context) ([]model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Connection
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out, nil
}

type fakeMessages struct {
	mu       sync.Mutex
	inserted []model.Message
}

func (f *fakeMessages) InsertMessage(_ context.Context, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *msg)
	return msg.MessageID, nil
}

func (f *fakeMessages) ListByRoom(context.Context, string, int64, time.Time) ([]model.Message, error) {
	return nil, nil
}

type fakeStatuses struct {
	mu       sync.Mutex
	upserted []model.LiveStatus
}

func (f *fakeStatuses) UpsertStatus(_ context.Context, status *model.LiveStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, *status)
	return nil
}

func (f *fakeStatuses) GetStatus(context.Context, string, string) (*model.LiveStatus, error) {
	return nil, nil
}

type dispatchFixture struct {
	hub      *Hub
	registry *memRegistry
	messages *fakeMessages
	statuses *fakeStatuses
}

func newDispatchFixture(conns ...model.Connection) *dispatchFixture {
	registry := newMemRegistry(conns...)
	messages := &fakeMessages{}
	statuses := &fakeStatuses{}
	h := NewHub(registry, messages, statuses, nil, time.Hour, zap.NewNop())
	return &dispatchFixture{hub: h, registry: registry, messages: messages, statuses: statuses}
}

// addSession attaches a conn-less client to the hub's shards so broadcasts
// resolve it as a local session.
func (f *dispatchFixture) addSession(connectionID, userID string) *Client {
	c := newClient(connectionID, userID, nil, f.hub)
	f.hub.addClient(c)
	return c
}

func receive(t *testing.T, c *Client) event.Outbound {
	t.Helper()
	select {
	case ev := <-c.egress:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an outbound event")
		return event.Outbound{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.egress:
		t.Fatalf("unexpected outbound event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownActionReportsErrorAndKeepsConnection(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{Action: "teleport"}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeError, ev.Type)
	assert.Contains(t, string(ev.Data), "UNKNOWN_ACTION")
	assert.Contains(t, string(ev.Data), event.ActionSendMessage)
	assert.False(t, alice.IsClosed())
}

func TestSendMessagePersistsAndFansOutExcludingSender(t *testing.T) {
	fix := newDispatchFixture(
		model.Connection{ID: "c1", UserID: "alice", RoomID: "room-a"},
		model.Connection{ID: "c2", UserID: "bob", RoomID: "room-a"},
		model.Connection{ID: "c3", UserID: "carol", RoomID: "room-b"},
	)
	alice := fix.addSession("c1", "alice")
	bob := fix.addSession("c2", "bob")
	carol := fix.addSession("c3", "carol")

	fix.hub.handleInbound(event.Inbound{
		Action: event.ActionSendMessage,
		RoomID: "room-a",
		Message: &event.InboundMessage{
			Body: "hello room",
			Type: "text",
		},
	}, alice)

	require.Len(t, fix.messages.inserted, 1)
	assert.Equal(t, "alice", fix.messages.inserted[0].SenderID)
	assert.Equal(t, "room-a", fix.messages.inserted[0].RoomID)

	bobEv := receive(t, bob)
	assert.Equal(t, event.TypeChatMessage, bobEv.Type)
	assert.Contains(t, string(bobEv.Data), "hello room")

	// The sender gets a confirmation, never an echo of the message.
	aliceEv := receive(t, alice)
	assert.Equal(t, event.TypeMessageConfirmation, aliceEv.Type)
	assertNoEvent(t, alice)

	assertNoEvent(t, carol)
}

func TestSendMessageWithoutBodyIsRejected(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{
		Action: event.ActionSendMessage,
		RoomID: "room-a",
	}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeError, ev.Type)
	assert.Contains(t, string(ev.Data), "INVALID_MESSAGE")
	assert.Empty(t, fix.messages.inserted)
}

func TestJoinRoomUpdatesRegistryAndConfirms(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{
		Action:   event.ActionJoinRoom,
		RoomID:   "room-a",
		RoomType: "document",
	}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeRoomJoined, ev.Type)

	record, err := fix.registry.Lookup(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "room-a", record.RoomID)
	assert.NotNil(t, record.RoomJoinedAt)
}

func TestLeaveRoomWhenRoomlessStillConfirms(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{Action: event.ActionLeaveRoom}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeRoomLeft, ev.Type)
}

type faultyLookupRegistry struct {
	*memRegistry
	lookupErr error
}

func (r *faultyLookupRegistry) Lookup(context.Context, string) (*model.Connection, error) {
	return nil, r.lookupErr
}

func TestLeaveRoomLogsWhenLookupFails(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	registry := &faultyLookupRegistry{
		memRegistry: newMemRegistry(model.Connection{ID: "c1", UserID: "alice", RoomID: "room-a"}),
		lookupErr:   errors.New("store down"),
	}
	h := NewHub(registry, &fakeMessages{}, &fakeStatuses{}, nil, time.Hour, zap.New(core))
	alice := newClient("c1", "alice", nil, h)
	h.addClient(alice)

	h.handleInbound(event.Inbound{Action: event.ActionLeaveRoom}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeRoomLeft, ev.Type)
	require.Equal(t, 1, logs.FilterMessage("failed to look up connection on leave").Len())

	// The room fields stay untouched for a later leave or passive expiry.
	record, err := registry.memRegistry.Lookup(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "room-a", record.RoomID)
}

func TestLeaveRoomForUnknownConnectionConfirmsQuietly(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := NewHub(newMemRegistry(), &fakeMessages{}, &fakeStatuses{}, nil, time.Hour, zap.New(core))
	ghost := newClient("ghost", "alice", nil, h)
	h.addClient(ghost)

	h.handleInbound(event.Inbound{Action: event.ActionLeaveRoom}, ghost)

	ev := receive(t, ghost)
	assert.Equal(t, event.TypeRoomLeft, ev.Type)
	assert.Zero(t, logs.Len())
}

func TestUpdateStatusFallsBackToOwnerConnections(t *testing.T) {
	fix := newDispatchFixture(
		model.Connection{ID: "c1", UserID: "alice"},
		model.Connection{ID: "c2", UserID: "alice"},
		model.Connection{ID: "c3", UserID: "bob"},
	)
	first := fix.addSession("c1", "alice")
	second := fix.addSession("c2", "alice")
	bob := fix.addSession("c3", "bob")

	fix.hub.handleInbound(event.Inbound{
		Action:       event.ActionUpdateStatus,
		ResourceType: "export",
		ResourceID:   "exp-1",
		Status:       "running",
		Progress:     40,
	}, first)

	require.Len(t, fix.statuses.upserted, 1)
	assert.Equal(t, "export", fix.statuses.upserted[0].ResourceType)
	assert.Equal(t, 40, fix.statuses.upserted[0].Progress)

	// Both owner sessions receive the live update; the acting session also
	// gets the confirmation.
	types := map[string]int{}
	types[receive(t, first).Type]++
	types[receive(t, first).Type]++
	assert.Equal(t, 1, types[event.TypeLiveUpdate])
	assert.Equal(t, 1, types[event.TypeUpdateConfirmation])

	secondEv := receive(t, second)
	assert.Equal(t, event.TypeLiveUpdate, secondEv.Type)

	assertNoEvent(t, bob)
}

func TestUpdateStatusTargetsExplicitRecipientsFirst(t *testing.T) {
	fix := newDispatchFixture(
		model.Connection{ID: "c1", UserID: "alice", RoomID: "room-a"},
		model.Connection{ID: "c2", UserID: "bob", RoomID: "room-a"},
		model.Connection{ID: "c3", UserID: "carol"},
	)
	alice := fix.addSession("c1", "alice")
	bob := fix.addSession("c2", "bob")
	carol := fix.addSession("c3", "carol")

	fix.hub.handleInbound(event.Inbound{
		Action:       event.ActionUpdateStatus,
		ResourceType: "export",
		ResourceID:   "exp-1",
		Status:       "done",
		Recipients:   []string{"carol"},
		Rooms:        []string{"room-a"},
	}, alice)

	carolEv := receive(t, carol)
	assert.Equal(t, event.TypeLiveUpdate, carolEv.Type)

	// Recipients take precedence over rooms, so room-a members see nothing.
	assertNoEvent(t, bob)

	aliceEv := receive(t, alice)
	assert.Equal(t, event.TypeUpdateConfirmation, aliceEv.Type)
}

func TestUpdateStatusPersistsEvenWithNoLiveTargets(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{
		Action:       event.ActionUpdateStatus,
		ResourceType: "export",
		ResourceID:   "exp-1",
		Status:       "running",
		Recipients:   []string{"nobody-online"},
	}, alice)

	require.Len(t, fix.statuses.upserted, 1)
	ev := receive(t, alice)
	assert.Equal(t, event.TypeUpdateConfirmation, ev.Type)
}

func TestUpdateStatusWithoutResourceIsRejected(t *testing.T) {
	fix := newDispatchFixture(model.Connection{ID: "c1", UserID: "alice"})
	alice := fix.addSession("c1", "alice")

	fix.hub.handleInbound(event.Inbound{Action: event.ActionUpdateStatus, Status: "running"}, alice)

	ev := receive(t, alice)
	assert.Equal(t, event.TypeError, ev.Type)
	assert.Contains(t, string(ev.Data), "INVALID_STATUS")
	assert.Empty(t, fix.statuses.upserted)
}
