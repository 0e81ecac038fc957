package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"collab-service/internal/models"
)

func joinRoom(t *testing.T, hub *Hub, client *Client, noteID string) {
	t.Helper()
	sendToHub(t, hub, client, EventJoinRoom, JoinRoomData{NoteID: noteID})
	receiveType(t, client, EventPresenceSync, time.Second)
	// The joiner's own user_joined comes back through the relay; drain it so
	// tests only see events from peers.
	receiveType(t, client, EventUserJoined, time.Second)
}

func decodeSync(t *testing.T, msg *Message) []models.PresenceUser {
	t.Helper()
	var users []models.PresenceUser
	if err := json.Unmarshal(msg.Data, &users); err != nil {
		t.Fatalf("failed to decode presence_sync: %v", err)
	}
	return users
}

func TestJoinVisibility(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")

	sendToHub(t, env.hub, bob, EventJoinRoom, JoinRoomData{NoteID: "note-1"})
	sync := decodeSync(t, receiveType(t, bob, EventPresenceSync, time.Second))

	if len(sync) != 2 {
		t.Fatalf("expected presence_sync with 2 users, got %d", len(sync))
	}

	seen := map[string]bool{}
	for _, u := range sync {
		seen[u.UserID] = true
	}
	if !seen["user-a"] || !seen["user-b"] {
		t.Errorf("presence_sync missing a member: %v", seen)
	}

	// Alice sees Bob arrive through the fan-out relay.
	joined := receiveType(t, alice, EventUserJoined, time.Second)
	var user models.PresenceUser
	if err := json.Unmarshal(joined.Data, &user); err != nil {
		t.Fatalf("failed to decode user_joined: %v", err)
	}
	if user.UserID != "user-b" {
		t.Errorf("expected user_joined for user-b, got %s", user.UserID)
	}
	if user.UserName != "Bob" {
		t.Errorf("expected userName Bob, got %s", user.UserName)
	}
}

func TestLeaveCleanup(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")

	// Ungraceful disconnect of Alice.
	select {
	case env.hub.unregister <- alice:
	case <-time.After(time.Second):
		t.Fatal("timeout unregistering client")
	}

	left := receiveType(t, bob, EventUserLeft, time.Second)
	var data UserLeftData
	if err := json.Unmarshal(left.Data, &data); err != nil {
		t.Fatalf("failed to decode user_left: %v", err)
	}
	if data.UserID != "user-a" {
		t.Errorf("expected user_left for user-a, got %s", data.UserID)
	}

	snapshot, err := env.presence.RoomSnapshot(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].UserID != "user-b" {
		t.Errorf("expected snapshot with only user-b, got %+v", snapshot)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	joinRoom(t, env.hub, alice, "note-1")

	sendToHub(t, env.hub, alice, EventLeaveRoom, JoinRoomData{NoteID: "note-1"})
	// Second leave and a leave with no active room are no-ops.
	sendToHub(t, env.hub, alice, EventLeaveRoom, JoinRoomData{NoteID: "note-1"})

	waitFor(t, func() bool { return alice.Room() == "" })

	if size := env.hub.RoomSize("note-1"); size != 0 {
		t.Errorf("expected empty room, got %d clients", size)
	}
}

func TestJoinDeniedKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, userID, noteID string) (models.SharePermission, error) {
		if noteID == "secret-note" {
			return "", context.Canceled
		}
		return models.PermissionEdit, nil
	})

	alice := newTestClient(env.hub, "user-a", "Alice")

	sendToHub(t, env.hub, alice, EventJoinRoom, JoinRoomData{NoteID: "secret-note"})
	errMsg := receiveType(t, alice, EventError, time.Second)

	var data ErrorData
	if err := json.Unmarshal(errMsg.Data, &data); err != nil {
		t.Fatalf("failed to decode error event: %v", err)
	}
	if data.Message == "" {
		t.Error("expected a non-empty error message")
	}
	if alice.Room() != "" {
		t.Errorf("denied join must not set a room, got %q", alice.Room())
	}

	// The same connection can still join a permitted room.
	joinRoom(t, env.hub, alice, "note-1")
	if alice.Room() != "note-1" {
		t.Errorf("expected room note-1 after second join, got %q", alice.Room())
	}
}

func TestSingleRoomPerConnection(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, alice, "note-2")

	if alice.Room() != "note-2" {
		t.Errorf("expected current room note-2, got %q", alice.Room())
	}
	if size := env.hub.RoomSize("note-1"); size != 0 {
		t.Errorf("expected to be removed from note-1, still %d clients", size)
	}

	snapshot, _ := env.presence.RoomSnapshot(context.Background(), "note-1")
	if len(snapshot) != 0 {
		t.Errorf("expected empty note-1 presence, got %+v", snapshot)
	}
}

func TestCursorSpoofingResistance(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")

	// Bob forges Alice's identity in the payload.
	sendRawToHub(t, env.hub, bob, EventClientCursor,
		`{"noteId":"note-1","cursorPosition":7,"userId":"user-a","userName":"Alice"}`)

	cursor := receiveType(t, alice, EventRemoteCursor, time.Second)
	var data RemoteCursorData
	if err := json.Unmarshal(cursor.Data, &data); err != nil {
		t.Fatalf("failed to decode remote_cursor: %v", err)
	}

	if data.UserID != "user-b" {
		t.Errorf("expected rebroadcast with sender's userId user-b, got %s", data.UserID)
	}
	if data.UserName != "Bob" {
		t.Errorf("expected authenticated name Bob, got %s", data.UserName)
	}
	if data.CursorPosition != 7 {
		t.Errorf("expected cursorPosition 7, got %d", data.CursorPosition)
	}
}

func TestCursorThrottle(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")

	for i := 0; i < 100; i++ {
		sendToHub(t, env.hub, bob, EventClientCursor, CursorData{NoteID: "note-1", CursorPosition: i})
	}

	forwarded := 0
	for {
		if _, ok := tryReceiveType(alice, EventRemoteCursor, 100*time.Millisecond); !ok {
			break
		}
		forwarded++
	}

	// 100 events in well under one throttle window: at most the initial
	// burst token plus one refill may pass.
	if forwarded == 0 {
		t.Error("expected at least one cursor event to be forwarded")
	}
	if forwarded > 2 {
		t.Errorf("expected at most 2 forwarded cursor events, got %d", forwarded)
	}
}

func TestTextUpdateNoSelfEcho(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")
	carol := newTestClient(env.hub, "user-c", "Carol")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")
	joinRoom(t, env.hub, carol, "note-1")

	sendToHub(t, env.hub, alice, EventClientTextUpdate, TextUpdateData{NoteID: "note-1", Content: "hello"})

	for _, peer := range []*Client{bob, carol} {
		update := receiveType(t, peer, EventRemoteTextUpdate, time.Second)
		var data RemoteTextUpdateData
		if err := json.Unmarshal(update.Data, &data); err != nil {
			t.Fatalf("failed to decode remote_text_update: %v", err)
		}
		if data.UserID != "user-a" {
			t.Errorf("expected update from user-a, got %s", data.UserID)
		}
		if data.Content != "hello" {
			t.Errorf("expected content hello, got %q", data.Content)
		}
		if data.Timestamp == 0 {
			t.Error("expected a server timestamp")
		}
	}

	if _, ok := tryReceiveType(alice, EventRemoteTextUpdate, 100*time.Millisecond); ok {
		t.Error("sender must not receive an echo of its own text update")
	}
}

func TestTTLSelfHealing(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")

	// Alice's instance crashes: metadata expires without an explicit leave.
	env.presence.ForceExpire("note-1", "user-a")

	sendToHub(t, env.hub, bob, EventJoinRoom, JoinRoomData{NoteID: "note-1"})
	sync := decodeSync(t, receiveType(t, bob, EventPresenceSync, time.Second))

	if len(sync) != 1 || sync[0].UserID != "user-b" {
		t.Errorf("expected expired user excluded from presence_sync, got %+v", sync)
	}
}

func TestCrossInstanceFanout(t *testing.T) {
	env := newTestEnv(t, allowAll)
	hub2 := env.newTestHubOn(t, allowAll)

	// Bob is connected to the second instance.
	bob := newTestClient(hub2, "user-b", "Bob")
	joinRoom(t, hub2, bob, "note-1")

	// Alice joins on the first instance.
	alice := newTestClient(env.hub, "user-a", "Alice")
	sendToHub(t, env.hub, alice, EventJoinRoom, JoinRoomData{NoteID: "note-1"})
	sync := decodeSync(t, receiveType(t, alice, EventPresenceSync, time.Second))

	if len(sync) != 2 {
		t.Fatalf("expected snapshot across instances with 2 users, got %d", len(sync))
	}

	joined := receiveType(t, bob, EventUserJoined, time.Second)
	var user models.PresenceUser
	if err := json.Unmarshal(joined.Data, &user); err != nil {
		t.Fatalf("failed to decode user_joined: %v", err)
	}
	if user.UserID != "user-a" {
		t.Errorf("expected user_joined for user-a on instance 2, got %s", user.UserID)
	}

	// Cursor events cross instances too.
	sendToHub(t, env.hub, alice, EventClientCursor, CursorData{NoteID: "note-1", CursorPosition: 3})
	cursor := receiveType(t, bob, EventRemoteCursor, time.Second)
	var data RemoteCursorData
	if err := json.Unmarshal(cursor.Data, &data); err != nil {
		t.Fatalf("failed to decode remote_cursor: %v", err)
	}
	if data.UserID != "user-a" || data.CursorPosition != 3 {
		t.Errorf("unexpected cursor payload: %+v", data)
	}
}

func TestMalformedPayloadIgnored(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")

	sendRawToHub(t, env.hub, bob, EventJoinRoom, `{"noteId":`)
	sendRawToHub(t, env.hub, bob, EventClientCursor, `"not an object"`)
	sendRawToHub(t, env.hub, bob, EventClientTextUpdate, `{}`)

	// The hub survives and keeps relaying valid traffic.
	sendToHub(t, env.hub, bob, EventClientTextUpdate, TextUpdateData{NoteID: "note-1", Content: "still here"})
	update := receiveType(t, alice, EventRemoteTextUpdate, time.Second)
	var data RemoteTextUpdateData
	if err := json.Unmarshal(update.Data, &data); err != nil {
		t.Fatalf("failed to decode remote_text_update: %v", err)
	}
	if data.Content != "still here" {
		t.Errorf("expected relay to keep working, got %q", data.Content)
	}
}

func TestCursorFromUnjoinedRoomDropped(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-2")

	sendToHub(t, env.hub, bob, EventClientCursor, CursorData{NoteID: "note-1", CursorPosition: 1})

	if _, ok := tryReceiveType(alice, EventRemoteCursor, 100*time.Millisecond); ok {
		t.Error("cursor into a room the sender has not joined must be dropped")
	}
}

func TestLatestCursorRetained(t *testing.T) {
	env := newTestEnv(t, allowAll)

	alice := newTestClient(env.hub, "user-a", "Alice")
	bob := newTestClient(env.hub, "user-b", "Bob")

	joinRoom(t, env.hub, alice, "note-1")
	joinRoom(t, env.hub, bob, "note-1")

	sendToHub(t, env.hub, bob, EventClientCursor, CursorData{NoteID: "note-1", CursorPosition: 42})
	receiveType(t, alice, EventRemoteCursor, time.Second)

	cursor, ok := env.hub.LatestCursor("note-1", "user-b")
	if !ok {
		t.Fatal("expected latest cursor to be retained")
	}
	if cursor.CursorPosition != 42 {
		t.Errorf("expected position 42, got %d", cursor.CursorPosition)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
