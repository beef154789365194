package pastes

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSQLStoreInsertRejectsDuplicateID(t *testing.T) {
	store, err := NewSQLStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	paste := &Paste{ID: "abc", Content: "one", CreatedAtMillis: testEpoch.UnixMilli()}
	if err := store.Insert(context.Background(), paste); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	duplicate := &Paste{ID: "abc", Content: "two", CreatedAtMillis: testEpoch.UnixMilli()}
	if err := store.Insert(context.Background(), duplicate); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}

	stored, err := store.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.Content != "one" {
		t.Fatalf("expected original content to survive, got %q", stored.Content)
	}
}

func TestSQLStoreGetMissingReturnsNotFound(t *testing.T) {
	store, err := NewSQLStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.ConsumeView(context.Background(), "nope", testEpoch); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLStorePurgeDeadRemovesTombstonesOnly(t *testing.T) {
	db := openTestDatabase(t)
	store, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	expired := testEpoch.Add(-time.Minute).UnixMilli()
	future := testEpoch.Add(time.Minute).UnixMilli()
	fixtures := []*Paste{
		{ID: "expired", Content: "x", ExpiresAtMillis: &expired},
		{ID: "exhausted", Content: "x", MaxViews: int64Pointer(1), ViewCount: 1},
		{ID: "alive-ttl", Content: "x", ExpiresAtMillis: &future},
		{ID: "alive-quota", Content: "x", MaxViews: int64Pointer(2), ViewCount: 1},
		{ID: "alive-forever", Content: "x"},
	}
	for _, fixture := range fixtures {
		if err := store.Insert(context.Background(), fixture); err != nil {
			t.Fatalf("failed to insert %s: %v", fixture.ID, err)
		}
	}

	removed, err := store.PurgeDead(context.Background(), testEpoch)
	if err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pastes purged, got %d", removed)
	}
	for _, id := range []PasteID{"alive-ttl", "alive-quota", "alive-forever"} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Fatalf("expected %s to survive purge: %v", id, err)
		}
	}
}

func TestSQLStorePing(t *testing.T) {
	store, err := NewSQLStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}
