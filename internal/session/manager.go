// Package session implements the WebSocket Session Manager: connection
// lifecycle, chat/generation bookkeeping in Redis, response subscription
// fan-out from the Broker Bridge, and the per-connection bounded send queue.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/chatworkbench/streampipe/internal/broker"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

// Options configures a Manager.
type Options struct {
	Redis     *redis.Client
	Broker    *broker.Broker
	Telemetry telemetry.Provider
	// SendQueueSize bounds each connection's outbound frame channel. Defaults to 256.
	SendQueueSize int
}

// Manager is the WebSocket Session Manager.
type Manager struct {
	rdb       *redis.Client
	broker    *broker.Broker
	telemetry telemetry.Provider
	queueSize int

	mu          sync.Mutex
	connections map[string]*connection
	responses   map[string]*responseSubs

	contentMu sync.Mutex
	content   map[string]*contentBuffer
}

// New constructs a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("session: redis client is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("session: broker is required")
	}
	queueSize := opts.SendQueueSize
	if queueSize == 0 {
		queueSize = 256
	}
	telemetryProvider := opts.Telemetry
	if telemetryProvider.Logger == nil {
		telemetryProvider = telemetry.NewNoopProvider()
	}
	return &Manager{
		rdb:         opts.Redis,
		broker:      opts.Broker,
		telemetry:   telemetryProvider,
		queueSize:   queueSize,
		connections: map[string]*connection{},
		responses:   map[string]*responseSubs{},
		content:     map[string]*contentBuffer{},
	}, nil
}

const (
	connectionTTL = 24 * time.Hour
	chatMappingTTL = time.Hour
	generationTTL  = time.Hour
)

func connKey(connectionID string) string   { return fmt.Sprintf("ws:conn:%s", connectionID) }
func chatConnKey(chatID string) string     { return fmt.Sprintf("ws:chat:%s:connection", chatID) }
func generationKey(chatID string) string   { return fmt.Sprintf("ws:gen:%s", chatID) }

type connection struct {
	id           string
	conn         *websocket.Conn
	send         chan Frame
	done         chan struct{}
	mu           sync.Mutex
	activeChats  map[string]struct{}
	lastActivity time.Time
}

// Connect registers a new WebSocket connection and starts its write pump.
func (m *Manager) Connect(ctx context.Context, connectionID string, wsConn *websocket.Conn) error {
	c := &connection{
		id:          connectionID,
		conn:        wsConn,
		send:        make(chan Frame, m.queueSize),
		done:        make(chan struct{}),
		activeChats: map[string]struct{}{},
		lastActivity: time.Now().UTC(),
	}

	m.mu.Lock()
	m.connections[connectionID] = c
	m.mu.Unlock()

	go m.writePump(c)

	now := c.lastActivity.Format(time.RFC3339)
	if err := m.rdb.HSet(ctx, connKey(connectionID), map[string]any{
		"created_at":    now,
		"last_activity": now,
	}).Err(); err != nil {
		m.telemetry.Logger.Warn(ctx, "session: failed to write connection record", "connection_id", connectionID, "error", err.Error())
	}
	if err := m.rdb.Expire(ctx, connKey(connectionID), connectionTTL).Err(); err != nil {
		m.telemetry.Logger.Warn(ctx, "session: failed to set connection TTL", "connection_id", connectionID, "error", err.Error())
	}

	return nil
}

// Disconnect tears down a connection: stops the write pump, closes the
// socket, and removes its KV bookkeeping (including chat and generation keys
// for chats this connection registered).
func (m *Manager) Disconnect(ctx context.Context, connectionID string) {
	m.mu.Lock()
	c, ok := m.connections[connectionID]
	if ok {
		delete(m.connections, connectionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	close(c.done)
	_ = c.conn.Close()

	c.mu.Lock()
	chats := make([]string, 0, len(c.activeChats))
	for chatID := range c.activeChats {
		chats = append(chats, chatID)
	}
	c.mu.Unlock()

	if err := m.rdb.Del(ctx, connKey(connectionID)).Err(); err != nil {
		m.telemetry.Logger.Warn(ctx, "session: failed to delete connection record", "connection_id", connectionID, "error", err.Error())
	}
	for _, chatID := range chats {
		_ = m.rdb.Del(ctx, chatConnKey(chatID)).Err()
		_ = m.rdb.Del(ctx, generationKey(chatID)).Err()
	}
}

// RegisterChat associates chatID with connectionID and writes the reverse
// lookup key used to route deliveries back to the right connection.
func (m *Manager) RegisterChat(ctx context.Context, connectionID, chatID string) error {
	m.mu.Lock()
	c, ok := m.connections[connectionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown connection %q", connectionID)
	}

	c.mu.Lock()
	c.activeChats[chatID] = struct{}{}
	c.mu.Unlock()

	return m.rdb.Set(ctx, chatConnKey(chatID), connectionID, chatMappingTTL).Err()
}

// TrackGeneration marks chatID as having an active generation for messageID.
func (m *Manager) TrackGeneration(ctx context.Context, chatID, messageID string) error {
	return m.rdb.Set(ctx, generationKey(chatID), messageID, generationTTL).Err()
}

// StopGeneration clears the active-generation marker for chatID.
func (m *Manager) StopGeneration(ctx context.Context, chatID string) error {
	return m.rdb.Del(ctx, generationKey(chatID)).Err()
}

// ActiveGeneration returns the response_id tracked for chatID, if any.
func (m *Manager) ActiveGeneration(ctx context.Context, chatID string) (string, bool, error) {
	responseID, err := m.rdb.Get(ctx, generationKey(chatID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return responseID, true, nil
}

// UpdateHeartbeat refreshes a connection's last_activity, both in memory and
// in its Redis record's TTL.
func (m *Manager) UpdateHeartbeat(ctx context.Context, connectionID string) {
	m.mu.Lock()
	c, ok := m.connections[connectionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.lastActivity = time.Now().UTC()
	c.mu.Unlock()

	if err := m.rdb.HSet(ctx, connKey(connectionID), "last_activity", c.lastActivity.Format(time.RFC3339)).Err(); err != nil {
		m.telemetry.Logger.Warn(ctx, "session: failed to refresh heartbeat", "connection_id", connectionID, "error", err.Error())
		return
	}
	_ = m.rdb.Expire(ctx, connKey(connectionID), connectionTTL).Err()
}

// SendMessage frames data as a FrameType message and enqueues it on
// connectionID's send channel, dropping (and logging) if the queue is full
// rather than blocking the caller.
func (m *Manager) SendMessage(ctx context.Context, connectionID string, t FrameType, data any) error {
	m.mu.Lock()
	c, ok := m.connections[connectionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown connection %q", connectionID)
	}

	frame := NewFrame(t, data)
	select {
	case c.send <- frame:
	default:
		m.telemetry.Logger.Warn(ctx, "session: send queue full, dropping frame", "connection_id", connectionID, "frame_type", string(t))
		return fmt.Errorf("session: send queue full for connection %q", connectionID)
	}

	m.UpdateHeartbeat(ctx, connectionID)
	return nil
}

// writePump is the single goroutine allowed to write to a connection's
// socket, guaranteeing per-connection send ordering.
func (m *Manager) writePump(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				m.telemetry.Logger.Warn(context.Background(), "session: write failed, disconnecting", "connection_id", c.id, "error", err.Error())
				m.Disconnect(context.Background(), c.id)
				return
			}
		}
	}
}
