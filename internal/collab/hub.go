package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"collab-service/internal/models"
	"collab-service/internal/repository"
	"collab-service/internal/services"

	"github.com/google/uuid"
)

// cursorColors is the palette a joining user's color is picked from. The
// first entry doubles as the fallback cursor color.
var cursorColors = []string{
	"#3b82f6", "#ef4444", "#10b981", "#f59e0b",
	"#8b5cf6", "#ec4899", "#14b8a6", "#f97316",
}

func pickColor() string {
	return cursorColors[rand.Intn(len(cursorColors))]
}

// ClientMessage pairs an inbound message with the connection it arrived on.
type ClientMessage struct {
	Client  *Client
	Message *Message
}

// Hub owns all local room state for one server instance: which connections
// are in which room and the latest advisory cursor per (room, user). All maps
// are mutated only by the Run loop; the mutex guards read access from other
// goroutines.
type Hub struct {
	instanceID string

	// Local connections per note room
	rooms map[string]map[*Client]bool

	// Latest cursor per room and user. Ephemeral, never persisted.
	cursors map[string]map[string]*RemoteCursorData

	register      chan *Client
	unregister    chan *Client
	handleMessage chan *ClientMessage

	presence repository.PresenceRepository
	bus      EventBus
	access   services.NoteAccessChecker

	// storeTimeout bounds every presence-store and bus round-trip made from
	// the hub loop.
	storeTimeout   time.Duration
	cursorThrottle time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

func NewHub(presence repository.PresenceRepository, bus EventBus, access services.NoteAccessChecker, storeTimeout, cursorThrottle time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		instanceID:     uuid.New().String(),
		rooms:          make(map[string]map[*Client]bool),
		cursors:        make(map[string]map[string]*RemoteCursorData),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		handleMessage:  make(chan *ClientMessage),
		presence:       presence,
		bus:            bus,
		access:         access,
		storeTimeout:   storeTimeout,
		cursorThrottle: cursorThrottle,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// InstanceID identifies this process on the fan-out envelope.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Run is the hub event loop. It subscribes to the event bus once, then serves
// register/unregister requests, inbound client messages, and bus events from
// a single goroutine so room state needs no locking on the write side.
func (h *Hub) Run() {
	busEvents, err := h.bus.Subscribe(h.ctx)
	if err != nil {
		// Cross-instance fan-out is degraded but same-instance relay still
		// works; run with a drained channel rather than failing the process.
		slog.Error("Failed to subscribe to event bus, cross-instance fanout disabled", "error", err)
		ch := make(chan *FanoutEvent)
		close(ch)
		busEvents = ch
	}

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case clientMsg := <-h.handleMessage:
			h.handleClientMessage(clientMsg)

		case event, ok := <-busEvents:
			if !ok {
				busEvents = nil
				continue
			}
			h.handleBusEvent(event)

		case <-h.ctx.Done():
			slog.Info("Collaboration hub shutting down", "instanceID", h.instanceID)
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
	if err := h.bus.Close(); err != nil {
		slog.Debug("Error closing event bus", "error", err)
	}
}

func (h *Hub) registerClient(client *Client) {
	slog.Info("Client connected",
		"clientID", client.id, "userID", client.identity.UserID, "instanceID", h.instanceID)
}

// unregisterClient runs the disconnect path. It must be idempotent and must
// never be blocked by a downstream outage.
func (h *Hub) unregisterClient(client *Client) {
	h.leaveRoom(client)
	client.closeSendChannel()
	slog.Info("Client disconnected",
		"clientID", client.id, "userID", client.identity.UserID)
}

func (h *Hub) handleClientMessage(clientMsg *ClientMessage) {
	client := clientMsg.Client
	msg := clientMsg.Message

	switch msg.Type {
	case EventJoinRoom:
		var data JoinRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.NoteID == "" {
			slog.Warn("Ignoring malformed join_room payload",
				"clientID", client.id, "userID", client.identity.UserID, "error", err)
			return
		}
		h.handleJoin(client, data.NoteID)

	case EventLeaveRoom:
		var data JoinRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Warn("Ignoring malformed leave_room payload",
				"clientID", client.id, "userID", client.identity.UserID, "error", err)
			return
		}
		h.leaveRoom(client)

	case EventClientCursor:
		h.handleCursor(client, msg.Data)

	case EventClientTextUpdate:
		h.handleTextUpdate(client, msg.Data)
	}
}

// handleJoin admits an authenticated connection into a note room: access
// check, presence write, fan-out publish, then the membership snapshot back
// to the joiner. Store-then-publish order matters: a concurrently joining
// peer's snapshot read must already see this writer.
func (h *Hub) handleJoin(client *Client, noteID string) {
	ctx, cancel := context.WithTimeout(h.ctx, h.storeTimeout)
	defer cancel()

	if _, err := h.access.CanAccess(ctx, client.identity.UserID, noteID); err != nil {
		slog.Warn("Join denied",
			"clientID", client.id, "userID", client.identity.UserID, "noteID", noteID, "error", err)
		client.SendError("Access denied to this note")
		return
	}

	// A connection belongs to at most one room.
	if client.Room() != "" {
		h.leaveRoom(client)
	}

	h.mu.Lock()
	if h.rooms[noteID] == nil {
		h.rooms[noteID] = make(map[*Client]bool)
	}
	h.rooms[noteID][client] = true
	h.mu.Unlock()

	color := pickColor()
	client.setSession(noteID, color)

	user := &models.PresenceUser{
		UserID:      client.identity.UserID,
		UserName:    client.identity.DisplayName,
		Color:       color,
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	}

	// Best effort from here on: a presence-store or bus outage degrades
	// cross-instance visibility but must not fail the join.
	if err := h.presence.AddPresence(ctx, noteID, user); err != nil {
		slog.Error("Failed to write presence",
			"userID", user.UserID, "noteID", noteID, "error", err)
	}

	h.publish(FanoutUserJoined, noteID, user)

	snapshot, err := h.presence.RoomSnapshot(ctx, noteID)
	if err != nil {
		slog.Error("Failed to read presence snapshot",
			"noteID", noteID, "error", err)
		snapshot = []*models.PresenceUser{user}
	}

	if msg, err := NewMessage(EventPresenceSync, snapshot); err == nil {
		client.Send(msg)
	}

	slog.Info("Client joined room",
		"clientID", client.id, "userID", user.UserID, "noteID", noteID, "roomSize", len(snapshot))
}

// leaveRoom is the single leave/disconnect path. Calling it twice, or with no
// active room, is a no-op. Downstream failures are logged and swallowed; TTL
// expiry is the fallback consistency mechanism.
func (h *Hub) leaveRoom(client *Client) {
	roomID := client.Room()
	if roomID == "" {
		return
	}

	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
			delete(h.cursors, roomID)
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	if err := h.presence.RemovePresence(ctx, roomID, client.identity.UserID); err != nil {
		slog.Warn("Failed to remove presence on leave",
			"userID", client.identity.UserID, "noteID", roomID, "error", err)
	}

	h.publish(FanoutUserLeft, roomID, UserLeftData{UserID: client.identity.UserID})

	client.clearSession()

	slog.Info("Client left room",
		"clientID", client.id, "userID", client.identity.UserID, "noteID", roomID)
}

// handleCursor throttles, re-derives the sender's identity server-side, and
// publishes the cursor to the bus. No presence write: cursors are advisory.
func (h *Hub) handleCursor(client *Client, raw json.RawMessage) {
	if !client.cursorLimiter.Allow() {
		return
	}

	var data CursorData
	if err := json.Unmarshal(raw, &data); err != nil || data.NoteID == "" {
		slog.Warn("Ignoring malformed client_cursor payload",
			"clientID", client.id, "userID", client.identity.UserID, "error", err)
		return
	}

	// Only a joined connection may broadcast into its room.
	if client.Room() != data.NoteID {
		return
	}

	color := client.Color()
	if color == "" {
		color = cursorColors[0]
	}

	// Identity fields come from the authenticated connection, never from the
	// client payload.
	payload := RemoteCursorData{
		UserID:         client.identity.UserID,
		UserName:       client.identity.DisplayName,
		Color:          color,
		CursorPosition: data.CursorPosition,
		SelectionEnd:   data.SelectionEnd,
	}

	h.publish(FanoutCursorUpdate, data.NoteID, payload)
}

// handleTextUpdate relays an in-flight edit to every other local connection
// in the room. Last write wins; durable saves go through the notes REST
// surface on the client's own debounce, never through here.
func (h *Hub) handleTextUpdate(client *Client, raw json.RawMessage) {
	var data TextUpdateData
	if err := json.Unmarshal(raw, &data); err != nil || data.NoteID == "" {
		slog.Warn("Ignoring malformed client_text_update payload",
			"clientID", client.id, "userID", client.identity.UserID, "error", err)
		return
	}

	if client.Room() != data.NoteID {
		return
	}

	msg, err := NewMessage(EventRemoteTextUpdate, NewRemoteTextUpdate(client.identity.UserID, data.Content))
	if err != nil {
		return
	}

	h.broadcastToRoom(data.NoteID, msg, client)
}

// handleBusEvent is the local room relay: every fan-out event received from
// the bus is dispatched verbatim to the locally connected members of its
// room, regardless of which instance produced it.
func (h *Hub) handleBusEvent(event *FanoutEvent) {
	var eventType EventType
	switch event.Type {
	case FanoutUserJoined:
		eventType = EventUserJoined
	case FanoutUserLeft:
		eventType = EventUserLeft
		h.dropCursor(event)
	case FanoutCursorUpdate:
		eventType = EventRemoteCursor
		h.rememberCursor(event)
	default:
		slog.Warn("Ignoring unknown fanout event type", "type", event.Type)
		return
	}

	msg := &Message{Type: eventType, Data: event.Payload}
	h.broadcastToRoom(event.NoteID, msg, nil)
}

// rememberCursor keeps the latest cursor per (room, user). Overwritten on
// every event, dropped with the room; purely instance-local.
func (h *Hub) rememberCursor(event *FanoutEvent) {
	var cursor RemoteCursorData
	if err := json.Unmarshal(event.Payload, &cursor); err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[event.NoteID]; !ok {
		return
	}
	if h.cursors[event.NoteID] == nil {
		h.cursors[event.NoteID] = make(map[string]*RemoteCursorData)
	}
	h.cursors[event.NoteID][cursor.UserID] = &cursor
}

func (h *Hub) dropCursor(event *FanoutEvent) {
	var left UserLeftData
	if err := json.Unmarshal(event.Payload, &left); err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cursors, ok := h.cursors[event.NoteID]; ok {
		delete(cursors, left.UserID)
	}
}

// LatestCursor returns the most recent cursor seen for a user in a room.
func (h *Hub) LatestCursor(roomID, userID string) (*RemoteCursorData, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cursor, ok := h.cursors[roomID][userID]
	return cursor, ok
}

// RoomSize reports how many local connections are in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) broadcastToRoom(roomID string, msg *Message, except *Client) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != except {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Send(msg); err != nil {
			slog.Debug("Failed to deliver room message",
				"clientID", client.id, "noteID", roomID, "error", err)
		}
	}
}

// publish wraps a payload in the fan-out envelope and publishes it. Failures
// are logged and swallowed: the local relay keeps working for same-instance
// peers even when cross-instance fan-out is degraded.
func (h *Hub) publish(fanoutType FanoutType, noteID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal fanout payload", "type", fanoutType, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	event := &FanoutEvent{
		Type:             fanoutType,
		NoteID:           noteID,
		Payload:          data,
		SourceInstanceID: h.instanceID,
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		slog.Error("Failed to publish fanout event",
			"type", fanoutType, "noteID", noteID, "error", err)
	}
}
