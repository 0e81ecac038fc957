package collab

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"collab-service/internal/auth"
	"collab-service/internal/models"
)

// Shared helpers for the collaboration tests. The in-memory presence store
// and broker mirror the Redis semantics closely enough to exercise the hub
// without a live server; the *_integration_test.go files cover real Redis.

// memPresence is an in-memory stand-in for the Redis presence store. Metadata
// and membership are tracked separately so TTL expiry (metadata gone, set
// entry still there) can be simulated with ForceExpire.
type memPresence struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	meta    map[string]*models.PresenceUser
}

func newMemPresence() *memPresence {
	return &memPresence{
		members: make(map[string]map[string]bool),
		meta:    make(map[string]*models.PresenceUser),
	}
}

func (p *memPresence) metaKey(roomID, userID string) string {
	return roomID + ":" + userID
}

func (p *memPresence) AddPresence(ctx context.Context, roomID string, user *models.PresenceUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[roomID] == nil {
		p.members[roomID] = make(map[string]bool)
	}
	p.members[roomID][user.UserID] = true
	p.meta[p.metaKey(roomID, user.UserID)] = user
	return nil
}

func (p *memPresence) RemovePresence(ctx context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[roomID], userID)
	delete(p.meta, p.metaKey(roomID, userID))
	return nil
}

func (p *memPresence) RoomSnapshot(ctx context.Context, roomID string) ([]*models.PresenceUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]*models.PresenceUser, 0, len(p.members[roomID]))
	for userID := range p.members[roomID] {
		user, ok := p.meta[p.metaKey(roomID, userID)]
		if !ok {
			// Metadata expired; prune the stale member like the Redis store.
			delete(p.members[roomID], userID)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// ForceExpire simulates TTL elapse on the metadata key without a leave.
func (p *memPresence) ForceExpire(roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.meta, p.metaKey(roomID, userID))
}

// memBroker connects any number of in-process event buses, standing in for
// the shared Redis pub/sub channel. Every published event is delivered to
// every subscriber, the publisher's own instance included.
type memBroker struct {
	mu   sync.Mutex
	subs []chan *FanoutEvent
}

func newMemBroker() *memBroker {
	return &memBroker{}
}

func (b *memBroker) NewBus() EventBus {
	return &memBus{broker: b}
}

func (b *memBroker) publish(event *FanoutEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub <- event
	}
}

type memBus struct {
	broker *memBroker
	sub    chan *FanoutEvent
}

func (b *memBus) Publish(ctx context.Context, event *FanoutEvent) error {
	b.broker.publish(event)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context) (<-chan *FanoutEvent, error) {
	b.sub = make(chan *FanoutEvent, 256)
	b.broker.mu.Lock()
	b.broker.subs = append(b.broker.subs, b.sub)
	b.broker.mu.Unlock()
	return b.sub, nil
}

func (b *memBus) Close() error {
	return nil
}

// accessFunc adapts a function to the access-checker interface.
type accessFunc func(ctx context.Context, userID, noteID string) (models.SharePermission, error)

func (f accessFunc) CanAccess(ctx context.Context, userID, noteID string) (models.SharePermission, error) {
	return f(ctx, userID, noteID)
}

func allowAll(ctx context.Context, userID, noteID string) (models.SharePermission, error) {
	return models.PermissionEdit, nil
}

type testEnv struct {
	hub      *Hub
	presence *memPresence
	broker   *memBroker
}

func newTestEnv(t *testing.T, access accessFunc) *testEnv {
	t.Helper()
	presence := newMemPresence()
	broker := newMemBroker()
	hub := NewHub(presence, broker.NewBus(), access, time.Second, 50*time.Millisecond)
	go hub.Run()
	t.Cleanup(hub.Stop)
	// Let the hub loop subscribe before the test publishes anything.
	time.Sleep(10 * time.Millisecond)
	return &testEnv{hub: hub, presence: presence, broker: broker}
}

// newTestHubOn adds a second hub instance sharing the env's presence store
// and broker, simulating another server process.
func (e *testEnv) newTestHubOn(t *testing.T, access accessFunc) *Hub {
	t.Helper()
	hub := NewHub(e.presence, e.broker.NewBus(), access, time.Second, 50*time.Millisecond)
	go hub.Run()
	t.Cleanup(hub.Stop)
	time.Sleep(10 * time.Millisecond)
	return hub
}

func newTestClient(hub *Hub, userID, name string) *Client {
	return NewClient(hub, nil, auth.Identity{UserID: userID, DisplayName: name}, 50*time.Millisecond)
}

// sendToHub pushes a raw client message through the hub loop.
func sendToHub(t *testing.T, hub *Hub, client *Client, eventType EventType, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	select {
	case hub.handleMessage <- &ClientMessage{Client: client, Message: &Message{Type: eventType, Data: data}}:
	case <-time.After(time.Second):
		t.Fatal("timeout sending message to hub")
	}
}

func sendRawToHub(t *testing.T, hub *Hub, client *Client, eventType EventType, raw string) {
	t.Helper()
	select {
	case hub.handleMessage <- &ClientMessage{Client: client, Message: &Message{Type: eventType, Data: json.RawMessage(raw)}}:
	case <-time.After(time.Second):
		t.Fatal("timeout sending message to hub")
	}
}

// receive reads the next message queued for the client.
func receive(t *testing.T, client *Client, timeout time.Duration) *Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to unmarshal outbound message: %v", err)
		}
		return &msg
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

// receiveType drains the client's queue until a message of the wanted type
// arrives.
func receiveType(t *testing.T, client *Client, want EventType, timeout time.Duration) *Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case data := <-client.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("failed to unmarshal outbound message: %v", err)
			}
			if msg.Type == want {
				return &msg
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s message", want)
			return nil
		}
	}
}

// tryReceiveType reports whether a message of the wanted type arrives before
// the timeout, without failing the test when it does not.
func tryReceiveType(client *Client, want EventType, timeout time.Duration) (*Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case data := <-client.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == want {
				return &msg, true
			}
		case <-deadline:
			return nil, false
		}
	}
}
