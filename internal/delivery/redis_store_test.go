package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestKey(t *testing.T) {
	if got := Key(42, "stage:iv-meeting"); got != "42:stage:iv-meeting" {
		t.Fatalf("Key = %q", got)
	}
}

func TestBeginClaimsOnce(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	key := Key(42, "stage:drafting")

	claimed, err := store.BeginDelivery(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !claimed {
		t.Fatal("first Begin should claim the key")
	}

	claimed, err = store.BeginDelivery(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	if claimed {
		t.Fatal("second Begin should report a duplicate")
	}
}

func TestBeginReclaimsAfterTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	key := Key(7, "calendar")

	if claimed, err := store.BeginDelivery(ctx, key, 50*time.Millisecond); err != nil || !claimed {
		t.Fatalf("first Begin: claimed=%v err=%v", claimed, err)
	}

	s.FastForward(100 * time.Millisecond)

	claimed, err := store.BeginDelivery(ctx, key, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Begin after TTL: %v", err)
	}
	if !claimed {
		t.Fatal("expired key should be claimable again")
	}
}

func TestEndDeliveryFreesKey(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	key := Key(42, "stage:drafting")

	if claimed, err := store.BeginDelivery(ctx, key, time.Minute); err != nil || !claimed {
		t.Fatalf("Begin: claimed=%v err=%v", claimed, err)
	}

	if err := store.EndDelivery(ctx, key); err != nil {
		t.Fatalf("End: %v", err)
	}

	claimed, err := store.BeginDelivery(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
	if !claimed {
		t.Fatal("released key should be claimable again before the TTL")
	}
}

func TestBeginDistinctTriggersIndependent(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if claimed, _ := store.BeginDelivery(ctx, Key(42, "stage:drafting"), time.Minute); !claimed {
		t.Fatal("stage key should claim")
	}
	if claimed, _ := store.BeginDelivery(ctx, Key(42, "calendar"), time.Minute); !claimed {
		t.Fatal("calendar key for same matter should claim independently")
	}
	if claimed, _ := store.BeginDelivery(ctx, Key(43, "stage:drafting"), time.Minute); !claimed {
		t.Fatal("same trigger for another matter should claim independently")
	}
}
