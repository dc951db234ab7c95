package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "room", KindRequests); err != nil || found {
		t.Fatalf("expected miss on empty store, found=%v err=%v", found, err)
	}
	if err := store.Put(ctx, "room", KindRequests, []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, found, err := store.Get(ctx, "room", KindRequests)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if string(payload) != `[{"id":1}]` {
		t.Fatalf("unexpected payload %s", payload)
	}
	// The two kinds are independent.
	if _, found, _ := store.Get(ctx, "room", KindSources); found {
		t.Fatal("sources blob must be independent of requests blob")
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	original := []byte(`{"chat":true}`)
	if err := store.Put(ctx, "room", KindSources, original); err != nil {
		t.Fatalf("put: %v", err)
	}
	original[2] = 'X'
	payload, _, err := store.Get(ctx, "room", KindSources)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(payload) != `{"chat":true}` {
		t.Fatalf("store must not share buffers with callers, got %s", payload)
	}
}

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "rooms.json")
	ctx := context.Background()

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "streamer", KindRequests, []byte(`[{"id":7}]`)); err != nil {
		t.Fatalf("put requests: %v", err)
	}
	if err := store.Put(ctx, "streamer", KindSources, []byte(`{"minDonation":5}`)); err != nil {
		t.Fatalf("put sources: %v", err)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	payload, found, err := reopened.Get(ctx, "streamer", KindRequests)
	if err != nil || !found {
		t.Fatalf("expected requests blob after reopen, found=%v err=%v", found, err)
	}
	if string(payload) != `[{"id":7}]` {
		t.Fatalf("unexpected requests payload %s", payload)
	}
	if _, found, _ = reopened.Get(ctx, "other", KindRequests); found {
		t.Fatal("unexpected blob for unknown room")
	}
}

func TestJSONStoreOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	ctx := context.Background()
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "streamer", KindRequests, []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "streamer", KindRequests, []byte(`[]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	payload, _, err := store.Get(ctx, "streamer", KindRequests)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(payload) != `[]` {
		t.Fatalf("last write must win, got %s", payload)
	}
}
