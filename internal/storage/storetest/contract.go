// Package storetest holds the behavioural contract every pastes.Store backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

// Factory builds an empty store for one subtest. Cleanup is the caller's responsibility via t.Cleanup.
type Factory func(t *testing.T) pastes.Store

var sequence atomic.Int64

// Run exercises the full store contract against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("InsertThenGet", func(t *testing.T) { testInsertThenGet(t, factory(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, factory(t)) })
	t.Run("MissingIsNotFound", func(t *testing.T) { testMissingIsNotFound(t, factory(t)) })
	t.Run("QuotaCountsDown", func(t *testing.T) { testQuotaCountsDown(t, factory(t)) })
	t.Run("StrictExpiry", func(t *testing.T) { testStrictExpiry(t, factory(t)) })
	t.Run("UnlimitedKeepsCounting", func(t *testing.T) { testUnlimitedKeepsCounting(t, factory(t)) })
	t.Run("ConcurrentSingleView", func(t *testing.T) { testConcurrentSingleView(t, factory(t)) })
	t.Run("ConcurrentQuota", func(t *testing.T) { testConcurrentQuota(t, factory(t)) })
	t.Run("PurgeDead", func(t *testing.T) { testPurgeDead(t, factory(t)) })
}

func baseInstant() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano()%1_000_000_000, sequence.Add(1))
}

func int64Pointer(value int64) *int64 {
	return &value
}

func mustInsert(t *testing.T, store pastes.Store, paste *pastes.Paste) pastes.PasteID {
	t.Helper()
	if err := store.Insert(context.Background(), paste); err != nil {
		t.Fatalf("failed to insert paste %s: %v", paste.ID, err)
	}
	return pastes.PasteID(paste.ID)
}

func mustViewCount(t *testing.T, store pastes.Store, id pastes.PasteID) int64 {
	t.Helper()
	paste, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get paste %s: %v", id, err)
	}
	return paste.ViewCount
}

func testInsertThenGet(t *testing.T, store pastes.Store) {
	base := baseInstant()
	expiresAt := base.Add(time.Hour).UnixMilli()
	id := mustInsert(t, store, &pastes.Paste{
		ID:              uniqueID("get"),
		Content:         "line one\nline two",
		CreatedAtMillis: base.UnixMilli(),
		ExpiresAtMillis: &expiresAt,
		MaxViews:        int64Pointer(3),
	})

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.Content != "line one\nline two" {
		t.Fatalf("unexpected content %q", stored.Content)
	}
	if stored.CreatedAtMillis != base.UnixMilli() {
		t.Fatalf("unexpected created_at %d", stored.CreatedAtMillis)
	}
	if stored.ExpiresAtMillis == nil || *stored.ExpiresAtMillis != expiresAt {
		t.Fatalf("unexpected expires_at %v", stored.ExpiresAtMillis)
	}
	if stored.MaxViews == nil || *stored.MaxViews != 3 {
		t.Fatalf("unexpected max_views %v", stored.MaxViews)
	}
	if stored.ViewCount != 0 {
		t.Fatalf("expected zero views, got %d", stored.ViewCount)
	}
}

func testDuplicateID(t *testing.T, store pastes.Store) {
	base := baseInstant()
	id := uniqueID("dup")
	mustInsert(t, store, &pastes.Paste{ID: id, Content: "original", CreatedAtMillis: base.UnixMilli()})

	err := store.Insert(context.Background(), &pastes.Paste{ID: id, Content: "imposter", CreatedAtMillis: base.UnixMilli()})
	if !errors.Is(err, pastes.ErrDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	stored, err := store.Get(context.Background(), pastes.PasteID(id))
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.Content != "original" {
		t.Fatalf("duplicate insert overwrote content: %q", stored.Content)
	}
}

func testMissingIsNotFound(t *testing.T, store pastes.Store) {
	id := pastes.PasteID(uniqueID("missing"))
	if _, err := store.Get(context.Background(), id); !errors.Is(err, pastes.ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if _, err := store.ConsumeView(context.Background(), id, baseInstant()); !errors.Is(err, pastes.ErrNotFound) {
		t.Fatalf("expected not found on consume, got %v", err)
	}
}

func testQuotaCountsDown(t *testing.T, store pastes.Store) {
	base := baseInstant()
	id := mustInsert(t, store, &pastes.Paste{
		ID:              uniqueID("quota"),
		Content:         "quota",
		CreatedAtMillis: base.UnixMilli(),
		MaxViews:        int64Pointer(3),
	})

	for expected := int64(1); expected <= 3; expected++ {
		paste, err := store.ConsumeView(context.Background(), id, base)
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", expected, err)
		}
		if paste.ViewCount != expected {
			t.Fatalf("read %d: expected post-increment count %d, got %d", expected, expected, paste.ViewCount)
		}
		if paste.Content != "quota" {
			t.Fatalf("read %d: unexpected content %q", expected, paste.Content)
		}
	}
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := store.ConsumeView(context.Background(), id, base); !errors.Is(err, pastes.ErrNotFound) {
			t.Fatalf("expected exhausted paste to be not found, got %v", err)
		}
	}
	if count := mustViewCount(t, store, id); count != 3 {
		t.Fatalf("expected view count to stop at 3, got %d", count)
	}
}

func testStrictExpiry(t *testing.T, store pastes.Store) {
	base := baseInstant()
	expiresAt := base.Add(time.Minute)
	id := mustInsert(t, store, &pastes.Paste{
		ID:              uniqueID("ttl"),
		Content:         "ttl",
		CreatedAtMillis: base.UnixMilli(),
		ExpiresAtMillis: int64Pointer(expiresAt.UnixMilli()),
	})

	if _, err := store.ConsumeView(context.Background(), id, expiresAt); err != nil {
		t.Fatalf("expected read at expiry instant to succeed, got %v", err)
	}
	for _, epsilon := range []time.Duration{time.Nanosecond, time.Millisecond, time.Minute} {
		if _, err := store.ConsumeView(context.Background(), id, expiresAt.Add(epsilon)); !errors.Is(err, pastes.ErrNotFound) {
			t.Fatalf("expected not found %s after expiry, got %v", epsilon, err)
		}
	}
	if count := mustViewCount(t, store, id); count != 1 {
		t.Fatalf("expected only one counted view, got %d", count)
	}
}

func testUnlimitedKeepsCounting(t *testing.T, store pastes.Store) {
	base := baseInstant()
	id := mustInsert(t, store, &pastes.Paste{ID: uniqueID("unlimited"), Content: "free", CreatedAtMillis: base.UnixMilli()})

	for expected := int64(1); expected <= 5; expected++ {
		paste, err := store.ConsumeView(context.Background(), id, base.Add(24*365*time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paste.ViewCount != expected || paste.MaxViews != nil {
			t.Fatalf("unexpected paste state %+v", paste)
		}
	}
}

func testConcurrentSingleView(t *testing.T, store pastes.Store) {
	for _, readers := range []int{2, 10, 100} {
		base := baseInstant()
		id := mustInsert(t, store, &pastes.Paste{
			ID:              uniqueID("race"),
			Content:         "race",
			CreatedAtMillis: base.UnixMilli(),
			MaxViews:        int64Pointer(1),
		})
		successes, notFound, failures := raceConsume(store, id, base, readers)
		if failures != 0 {
			t.Fatalf("readers=%d: %d unexpected errors", readers, failures)
		}
		if successes != 1 || notFound != int64(readers-1) {
			t.Fatalf("readers=%d: expected exactly one success, got %d successes and %d not found", readers, successes, notFound)
		}
		if count := mustViewCount(t, store, id); count != 1 {
			t.Fatalf("readers=%d: expected view count 1, got %d", readers, count)
		}
	}
}

func testConcurrentQuota(t *testing.T, store pastes.Store) {
	base := baseInstant()
	id := mustInsert(t, store, &pastes.Paste{
		ID:              uniqueID("quota-race"),
		Content:         "quota-race",
		CreatedAtMillis: base.UnixMilli(),
		MaxViews:        int64Pointer(7),
	})
	successes, notFound, failures := raceConsume(store, id, base, 50)
	if failures != 0 {
		t.Fatalf("%d unexpected errors", failures)
	}
	if successes != 7 || notFound != 43 {
		t.Fatalf("expected 7 successes and 43 not found, got %d/%d", successes, notFound)
	}
	if count := mustViewCount(t, store, id); count != 7 {
		t.Fatalf("expected view count 7, got %d", count)
	}
}

func raceConsume(store pastes.Store, id pastes.PasteID, now time.Time, readers int) (int64, int64, int64) {
	var successes, notFound, failures atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeView(context.Background(), id, now)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, pastes.ErrNotFound):
				notFound.Add(1)
			default:
				failures.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return successes.Load(), notFound.Load(), failures.Load()
}

func testPurgeDead(t *testing.T, store pastes.Store) {
	purger, ok := store.(pastes.Purger)
	if !ok {
		t.Skip("store relies on native expiry")
	}

	base := baseInstant()
	past := base.Add(-time.Hour).UnixMilli()
	future := base.Add(time.Hour).UnixMilli()
	expired := mustInsert(t, store, &pastes.Paste{ID: uniqueID("expired"), Content: "x", CreatedAtMillis: past - 1000, ExpiresAtMillis: &past})
	exhausted := mustInsert(t, store, &pastes.Paste{ID: uniqueID("exhausted"), Content: "x", CreatedAtMillis: base.UnixMilli(), MaxViews: int64Pointer(1)})
	aliveTTL := mustInsert(t, store, &pastes.Paste{ID: uniqueID("alive-ttl"), Content: "x", CreatedAtMillis: base.UnixMilli(), ExpiresAtMillis: &future})
	aliveQuota := mustInsert(t, store, &pastes.Paste{ID: uniqueID("alive-quota"), Content: "x", CreatedAtMillis: base.UnixMilli(), MaxViews: int64Pointer(2)})

	for _, id := range []pastes.PasteID{exhausted, aliveQuota} {
		if _, err := store.ConsumeView(context.Background(), id, base); err != nil {
			t.Fatalf("unexpected consume error: %v", err)
		}
	}

	if _, err := purger.PurgeDead(context.Background(), base); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}

	for _, id := range []pastes.PasteID{expired, exhausted} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, pastes.ErrNotFound) {
			t.Fatalf("expected %s to be purged, got %v", id, err)
		}
	}
	for _, id := range []pastes.PasteID{aliveTTL, aliveQuota} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Fatalf("expected %s to survive purge, got %v", id, err)
		}
	}
}
