package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/shakenfist/ostrich/pkg/engine"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRedisStoreFromClient(client)
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, engine.ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	checkState(t, got)
}

func TestRedisStoreKey(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	store := NewRedisStoreFromClient(client, WithKey("host-a:state"))
	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !mr.Exists("host-a:state") {
		t.Error("expected state under the custom key")
	}
	if mr.Exists(DefaultRedisKey) {
		t.Error("did not expect state under the default key")
	}

	if err := store.Remove(ctx); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, engine.ErrNoState) {
		t.Errorf("expected ErrNoState after remove, got %v", err)
	}
}

func TestRedisStoreConnect(t *testing.T) {
	mr, _ := setupRedis(t)
	store := NewRedisStore(mr.Addr(), "", 0)
	defer store.Close()

	if err := store.Save(context.Background(), engine.NewState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisStoreFromClient(client)
	mr.Close()

	err := store.Save(context.Background(), engine.NewState())
	if err == nil {
		t.Fatal("expected an error when redis is down")
	}
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr, client := setupRedis(t)
	if err := mr.Set(DefaultRedisKey, "{broken"); err != nil {
		t.Fatal(err)
	}

	_, err := NewRedisStoreFromClient(client).Load(context.Background())
	if err == nil || errors.Is(err, engine.ErrNoState) {
		t.Fatalf("expected a decode error, got %v", err)
	}
}
