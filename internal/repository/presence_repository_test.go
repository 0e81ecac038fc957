package repository

import (
	"context"
	"testing"
	"time"

	"collab-service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// testRoom returns a unique room id so parallel runs don't collide.
func testRoom() string {
	return "test-room-" + uuid.New().String()
}

func TestPresenceRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	repo := NewPresenceRepository(client, time.Minute)
	ctx := context.Background()
	room := testRoom()

	alice := &models.PresenceUser{
		UserID:      "user-a",
		UserName:    "Alice",
		Color:       "#3b82f6",
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	}
	bob := &models.PresenceUser{
		UserID:      "user-b",
		UserName:    "Bob",
		Color:       "#ef4444",
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := repo.AddPresence(ctx, room, alice); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}
	if err := repo.AddPresence(ctx, room, bob); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}

	snapshot, err := repo.RoomSnapshot(ctx, room)
	if err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 members, got %d", len(snapshot))
	}

	byID := map[string]*models.PresenceUser{}
	for _, u := range snapshot {
		byID[u.UserID] = u
	}
	if byID["user-a"] == nil || byID["user-a"].UserName != "Alice" {
		t.Errorf("unexpected metadata for user-a: %+v", byID["user-a"])
	}

	if err := repo.RemovePresence(ctx, room, "user-a"); err != nil {
		t.Fatalf("RemovePresence failed: %v", err)
	}

	snapshot, err = repo.RoomSnapshot(ctx, room)
	if err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].UserID != "user-b" {
		t.Errorf("expected only user-b after removal, got %+v", snapshot)
	}

	repo.RemovePresence(ctx, room, "user-b")
}

func TestPresenceLastWriteWins(t *testing.T) {
	client := newTestRedis(t)
	repo := NewPresenceRepository(client, time.Minute)
	ctx := context.Background()
	room := testRoom()

	// Two tabs of the same user: the later metadata write wins, membership
	// holds a single entry.
	first := &models.PresenceUser{UserID: "user-a", UserName: "Alice", Color: "#3b82f6"}
	second := &models.PresenceUser{UserID: "user-a", UserName: "Alice", Color: "#10b981"}

	if err := repo.AddPresence(ctx, room, first); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}
	if err := repo.AddPresence(ctx, room, second); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}

	snapshot, err := repo.RoomSnapshot(ctx, room)
	if err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected a single entry for the duplicated user, got %d", len(snapshot))
	}
	if snapshot[0].Color != "#10b981" {
		t.Errorf("expected last write to win, got color %s", snapshot[0].Color)
	}

	repo.RemovePresence(ctx, room, "user-a")
}

func TestPresenceTTLExpiryHealsSnapshot(t *testing.T) {
	client := newTestRedis(t)
	repo := NewPresenceRepository(client, 50*time.Millisecond)
	ctx := context.Background()
	room := testRoom()

	stale := &models.PresenceUser{UserID: "user-a", UserName: "Alice", Color: "#3b82f6"}
	fresh := NewPresenceRepository(client, time.Minute)
	alive := &models.PresenceUser{UserID: "user-b", UserName: "Bob", Color: "#ef4444"}

	if err := repo.AddPresence(ctx, room, stale); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}
	if err := fresh.AddPresence(ctx, room, alive); err != nil {
		t.Fatalf("AddPresence failed: %v", err)
	}

	// Let the short-TTL metadata key expire; no explicit leave happens.
	time.Sleep(100 * time.Millisecond)

	snapshot, err := repo.RoomSnapshot(ctx, room)
	if err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].UserID != "user-b" {
		t.Errorf("expected expired member excluded, got %+v", snapshot)
	}

	// The stale set entry was pruned lazily during the snapshot read.
	members, err := client.SMembers(ctx, "room:"+room+":members").Result()
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "user-b" {
		t.Errorf("expected pruned member set, got %v", members)
	}

	fresh.RemovePresence(ctx, room, "user-b")
}
