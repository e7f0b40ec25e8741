package notification

import (
	"context"
	"encoding/json"
	"expvar"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
)

// Redis channels shared by every API instance.
const (
	userEventsChannel   = "ws:user_events"
	availabilityChannel = "ws:availability"
	subscribeKeyPrefix  = "ws:subscribe:"

	// maxWatchesPerConn caps the resources one connection may follow.
	maxWatchesPerConn = 50
	// subscribesPerMinute caps subscribe messages per user across instances.
	subscribesPerMinute = 120
)

// Event types sent to websocket clients.
const (
	EventNotification = "notification:new"
	EventAvailability = "availability:changed"
	EventError        = "error"
)

var (
	wsConnectionsGauge   = expvar.NewInt("websocket_connections")
	wsEventsSentTotal    = expvar.NewInt("websocket_events_sent_total")
	wsEventsDroppedTotal = expvar.NewInt("websocket_events_dropped_total")
)

type userEventMessage struct {
	UserID           string          `json:"user_id"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// WSEvent is the envelope of every message pushed to a client.
type WSEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Connection represents a WebSocket connection
type Connection struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte

	watches int // guarded by Hub.mu
}

// Hub fans out notifications and availability changes to websocket clients. With Redis
// configured, events published on any instance reach clients connected to every instance.
type Hub struct {
	// Local connections (this server instance only)
	connections map[uuid.UUID]map[*Connection]bool

	// Local availability subscriptions: resourceID -> connections
	watchers map[uuid.UUID]map[*Connection]bool

	redis  *redis.Client
	pubsub *redis.PubSub

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

// NewHub creates a new WebSocket hub. redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client) *Hub {
	return NewHubWithInstanceID(redisClient, uuid.NewString())
}

// NewHubWithInstanceID creates a new WebSocket hub with explicit instance identifier.
func NewHubWithInstanceID(redisClient *redis.Client, instanceID string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		watchers:    make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  instanceID,
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, userEventsChannel, availabilityChannel)
	}
	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.UserID] == nil {
				h.connections[conn.UserID] = make(map[*Connection]bool)
			}
			h.connections[conn.UserID][conn] = true
			h.mu.Unlock()
			wsConnectionsGauge.Add(1)
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User connected to WebSocket")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.UserID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
					wsConnectionsGauge.Add(-1)
				}
				if len(conns) == 0 {
					delete(h.connections, conn.UserID)
				}
			}
			for resourceID, conns := range h.watchers {
				delete(conns, conn)
				if len(conns) == 0 {
					delete(h.watchers, resourceID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User disconnected from WebSocket")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Channel {
			case userEventsChannel:
				h.handleUserEventPayload(msg.Payload)
			case availabilityChannel:
				var change availability.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				h.broadcastAvailability(&change)
			}
		}
	}
}

func (h *Hub) handleUserEventPayload(payload string) {
	var event userEventMessage
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return
	}
	if event.SenderInstanceID == h.instanceID {
		return
	}
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return
	}
	h.sendLocal(userID, []byte(event.Payload))
}

// Register adds a connection. It is a no-op once the hub has shut down.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.ctx.Done():
	}
}

// Unregister removes a connection. It is a no-op once the hub has shut down.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// Watch subscribes the connection to availability changes of a resource. It returns
// false when the connection already follows maxWatchesPerConn resources.
func (h *Hub) Watch(conn *Connection, resourceID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers[resourceID][conn] {
		return true
	}
	if conn.watches >= maxWatchesPerConn {
		return false
	}
	if h.watchers[resourceID] == nil {
		h.watchers[resourceID] = make(map[*Connection]bool)
	}
	h.watchers[resourceID][conn] = true
	conn.watches++
	return true
}

// Unwatch removes an availability subscription.
func (h *Hub) Unwatch(conn *Connection, resourceID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers[resourceID][conn] {
		delete(h.watchers[resourceID], conn)
		conn.watches--
		if len(h.watchers[resourceID]) == 0 {
			delete(h.watchers, resourceID)
		}
	}
}

// AllowSubscribe counts a subscribe request against the user's per-minute budget.
// Without Redis, or when Redis is unreachable, requests are allowed.
func (h *Hub) AllowSubscribe(ctx context.Context, userID uuid.UUID) bool {
	if h.redis == nil {
		return true
	}
	key := subscribeKeyPrefix + userID.String() + ":" + strconv.FormatInt(time.Now().Unix()/60, 10)

	pipe := h.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("Subscribe rate limit check failed")
		return true
	}
	return incr.Val() <= subscribesPerMinute
}

// PublishAvailability delivers a change to every watcher of the affected resources,
// on all instances when Redis is configured.
func (h *Hub) PublishAvailability(ctx context.Context, change availability.Change) error {
	if h.redis != nil {
		data, err := json.Marshal(change)
		if err != nil {
			return err
		}
		err = h.redis.Publish(ctx, availabilityChannel, data).Err()
		if err == nil {
			return nil
		}
		// Fallback to local broadcast
		log.Error().Err(err).Str("channel", availabilityChannel).Msg("Redis publish failed")
	}
	h.broadcastAvailability(&change)
	return nil
}

func (h *Hub) broadcastAvailability(change *availability.Change) {
	data, err := json.Marshal(WSEvent{Type: EventAvailability, Data: change})
	if err != nil {
		return
	}

	ids := change.Resources
	if change.ResourceID != uuid.Nil {
		ids = append([]uuid.UUID{change.ResourceID}, ids...)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[*Connection]bool)
	for _, id := range ids {
		for conn := range h.watchers[id] {
			if sent[conn] {
				continue
			}
			sent[conn] = true
			deliver(conn, data)
		}
	}
}

// SendToUser sends payload as JSON to all connections of the user on any instance.
func (h *Hub) SendToUser(userID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.sendLocal(userID, data)
	if h.redis == nil {
		return nil
	}

	msg, err := json.Marshal(userEventMessage{
		UserID:           userID.String(),
		Payload:          data,
		SenderInstanceID: h.instanceID,
	})
	if err != nil {
		return err
	}
	return h.redis.Publish(h.ctx, userEventsChannel, msg).Err()
}

func (h *Hub) sendLocal(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections[userID] {
		deliver(conn, data)
	}
}

func deliver(conn *Connection, data []byte) {
	select {
	case conn.Send <- data:
		wsEventsSentTotal.Add(1)
	default:
		wsEventsDroppedTotal.Add(1)
		log.Warn().Str("user_id", conn.UserID.String()).Msg("WebSocket send buffer full")
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
