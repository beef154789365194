package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "pastes.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) pastes.Store {
		return openTestStore(t)
	})
}

func TestPurgeDeadCountsExpiredAndExhausted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute).UnixMilli()
	atNow := now.UnixMilli()
	one := int64(1)
	fixtures := []*pastes.Paste{
		{ID: "expired", Content: "x", ExpiresAtMillis: &past},
		{ID: "boundary", Content: "x", ExpiresAtMillis: &atNow},
		{ID: "exhausted", Content: "x", MaxViews: &one},
	}
	for _, fixture := range fixtures {
		if err := store.Insert(ctx, fixture); err != nil {
			t.Fatalf("insert %s: %v", fixture.ID, err)
		}
	}
	if _, err := store.ConsumeView(ctx, "exhausted", now); err != nil {
		t.Fatalf("consume: %v", err)
	}

	removed, err := store.PurgeDead(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "boundary"); err != nil {
		t.Fatalf("paste expiring exactly at the cutoff must survive: %v", err)
	}

	removed, err = store.PurgeDead(ctx, now.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected boundary paste removed once past expiry, got %d", removed)
	}
}

func TestCancelledContextLeavesCounterUntouched(t *testing.T) {
	store := openTestStore(t)
	if err := store.Insert(context.Background(), &pastes.Paste{ID: "abc", Content: "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ConsumeView(ctx, "abc", time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	paste, err := store.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if paste.ViewCount != 0 {
		t.Fatalf("cancelled read must not count, got %d", paste.ViewCount)
	}
}

func TestReopenPreservesCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Insert(context.Background(), &pastes.Paste{ID: "persist", Content: "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.ConsumeView(context.Background(), "persist", time.Now()); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	paste, err := reopened.Get(context.Background(), "persist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if paste.ViewCount != 1 {
		t.Fatalf("expected persisted view count 1, got %d", paste.ViewCount)
	}
}
