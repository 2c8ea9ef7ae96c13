package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/auth"
	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/metrics"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	envelope event.Inbound
	client   *Client
}

type clientBucket struct {
	sync.RWMutex
	clients map[string]*Client
}

// Hub owns the websocket sessions served by this process. Only the socket
// plumbing is in-process state; presence, rooms and membership always come
// from the durable registry so any execution unit sees the same world.
type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	registry   repo.ConnectionRegistry
	messages   repo.MessageRepository
	statuses   repo.StatusRepository
	validator  *auth.TokenValidator
	logger     *zap.Logger

	statusTTL time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub starts the manager loop and the inbound worker pool.
func NewHub(
	registry repo.ConnectionRegistry,
	messages repo.MessageRepository,
	statuses repo.StatusRepository,
	validator *auth.TokenValidator,
	statusTTL time.Duration,
	logger *zap.Logger,
) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096), // buffer for burst handling
		registry:   registry,
		messages:   messages,
		statuses:   statuses,
		validator:  validator,
		statusTTL:  statusTTL,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			clients: make(map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}

					h.handleInbound(in.envelope, in.client)
				}
			}
		}()
	}

	return h
}

func getShard(connectionID string) uint32 {
	if connectionID == "" {
		return 0
	}

	h := sha1.Sum([]byte(connectionID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// localClient resolves a connection id to the client served by this
// process, or nil when the session lives elsewhere or is already gone.
func (h *Hub) localClient(connectionID string) *Client {
	b := h.shards[getShard(connectionID)]
	b.RLock()
	defer b.RUnlock()
	return b.clients[connectionID]
}

// localCount returns the number of sessions served by this process.
func (h *Hub) localCount() int {
	total := 0
	for _, b := range h.shards {
		b.RLock()
		total += len(b.clients)
		b.RUnlock()
	}
	return total
}

func (h *Hub) addClient(c *Client) {
	b := h.shards[getShard(c.ID)]
	b.Lock()
	b.clients[c.ID] = c
	b.Unlock()

	metrics.ActiveConnections.Inc()
	h.logger.Info("client registered",
		zap.String("connection_id", c.ID),
		zap.String("user_id", c.userID),
	)
}

func (h *Hub) removeClient(c *Client) {
	b := h.shards[getShard(c.ID)]
	b.Lock()
	_, exists := b.clients[c.ID]
	if exists {
		delete(b.clients, c.ID)
	}
	b.Unlock()

	if !exists {
		return
	}

	// The registry record goes first so the mutation feed sees the removal;
	// failures here are logged and the socket still closes. Disconnect always
	// succeeds from the peer's point of view.
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := h.registry.Deregister(ctx, c.ID); err != nil {
		h.logger.Error("failed to deregister connection",
			zap.Error(err),
			zap.String("connection_id", c.ID),
		)
	}

	c.Close()
	metrics.ActiveConnections.Dec()
	h.logger.Info("client removed", zap.String("connection_id", c.ID))
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// Stop closes every local session and stops the worker pool.
func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.shards {
		shard.RLock()
		for _, client := range shard.clients {
			client.Close()
		}
		shard.RUnlock()
	}

	close(h.inbound)
	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	switch origin {
	case "", "http://localhost:4200":
		return true
	case "https://app.bayon.io":
		return true
	default:
		return false
	}
}

// ServeWS performs the handshake: credential validation first, then the
// conditional registry insert, then the socket pumps. Auth failures close
// the socket without registering anything.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	userID, err := h.validator.Validate(token)
	if err != nil {
		h.logger.Warn("handshake rejected", zap.Error(err))
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID := uuid.New().String()
	record := model.Connection{
		ID:     connectionID,
		UserID: userID,
	}

	ctx, cancel := context.WithTimeout(r.Context(), registerTimeout)
	defer cancel()
	if err := h.registry.Register(ctx, record); err != nil {
		h.logger.Error("failed to register connection",
			zap.Error(err),
			zap.String("connection_id", connectionID),
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(connectionID, userID, conn, h)

	select {
	case h.register <- client:
		go client.ReadMessages()
		go client.WriteMessages()
		client.Send(event.NewOutbound(event.TypeConnectionConfirmed, event.ConnectionConfirmedPayload{
			ConnectionID: connectionID,
			UserID:       userID,
			Timestamp:    time.Now().Unix(),
		}))
	case <-time.After(registerTimeout):
		h.logger.Error("failed to register client: timeout", zap.String("connection_id", connectionID))
		client.Close()
		conn.Close()
	}
}
