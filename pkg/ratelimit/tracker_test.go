package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return mr, client
}

func TestTracker_InMemory(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	state, err := tracker.GetState(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != nil {
		t.Errorf("GetState() = %+v, want nil before any throttle", state)
	}

	if err := tracker.RecordThrottle(ctx, "api.example.com", 30*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	state, err = tracker.GetState(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state == nil || state.LastWait != 30*time.Second {
		t.Fatalf("GetState() = %+v, want LastWait 30s", state)
	}

	cooldown := tracker.Cooldown(ctx, "api.example.com")
	if cooldown <= 25*time.Second || cooldown > 30*time.Second {
		t.Errorf("Cooldown() = %v, want about 30s", cooldown)
	}
	if got := tracker.Cooldown(ctx, "other.example.com"); got != 0 {
		t.Errorf("Cooldown(other host) = %v, want 0", got)
	}
}

func TestTracker_Redis(t *testing.T) {
	mr, client := setupMiniRedis(t)
	ctx := context.Background()

	writer := NewTracker(client, zerolog.Nop())
	if err := writer.RecordThrottle(ctx, "api.example.com", 10*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	if !mr.Exists(RedisKeyPrefix + "api.example.com") {
		t.Fatal("throttle state not stored in redis")
	}
	if ttl := mr.TTL(RedisKeyPrefix + "api.example.com"); ttl != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", ttl)
	}

	// A second tracker sharing the same redis sees the cooldown.
	reader := NewTracker(client, zerolog.Nop())
	state, err := reader.GetState(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state == nil || state.Host != "api.example.com" {
		t.Fatalf("GetState() = %+v", state)
	}
	if reader.Cooldown(ctx, "api.example.com") <= 0 {
		t.Error("expected active cooldown from shared state")
	}

	mr.FastForward(11 * time.Second)
	state, err = reader.GetState(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != nil {
		t.Errorf("GetState() = %+v, want nil after expiry", state)
	}
}

func TestTracker_ZeroWaitNotShared(t *testing.T) {
	mr, client := setupMiniRedis(t)
	tracker := NewTracker(client, zerolog.Nop())

	if err := tracker.RecordThrottle(context.Background(), "api.example.com", 0); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	if mr.Exists(RedisKeyPrefix + "api.example.com") {
		t.Error("zero wait should not be written to redis")
	}
}

func TestTracker_RedisUnavailable(t *testing.T) {
	mr, client := setupMiniRedis(t)
	tracker := NewTracker(client, zerolog.Nop())
	mr.Close()

	ctx := context.Background()
	if err := tracker.RecordThrottle(ctx, "api.example.com", time.Second); err == nil {
		t.Error("expected error when redis is down")
	}
	if got := tracker.Cooldown(ctx, "api.example.com"); got != 0 {
		t.Errorf("Cooldown() = %v, want 0 when state cannot be read", got)
	}
}
