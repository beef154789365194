package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/storetest"
)

const mongoURIEnv = "PASTEBIN_TEST_MONGO_URI"

func TestStoreContract(t *testing.T) {
	uri := os.Getenv(mongoURIEnv)
	if uri == "" {
		t.Skipf("%s not set", mongoURIEnv)
	}

	storetest.Run(t, func(t *testing.T) pastes.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := Open(ctx, Options{
			URI:        uri,
			Database:   "pastebin_test",
			Collection: fmt.Sprintf("pastes_%d", time.Now().UnixNano()),
			Grace:      time.Hour,
		})
		if err != nil {
			t.Fatalf("open mongo store: %v", err)
		}
		t.Cleanup(func() {
			_ = store.collection.Drop(context.Background())
			_ = store.Close()
		})
		return store
	})
}

func TestDocumentPasteCopiesOptionalFields(t *testing.T) {
	expires := int64(1700000060000)
	maxViews := int64(4)
	doc := document{ID: "abc", Content: "hi", CreatedAtMillis: 1700000000000, ExpiresAtMillis: &expires, MaxViews: &maxViews, ViewCount: 4}

	paste := doc.paste()
	if paste.ID != "abc" || paste.Content != "hi" || paste.ViewCount != 4 {
		t.Fatalf("unexpected paste %+v", paste)
	}
	if !paste.QuotaExhausted() {
		t.Fatalf("expected exhausted paste")
	}
	if got := paste.ExpiresAt(); got == nil || got.UnixMilli() != expires {
		t.Fatalf("unexpected expiry %v", got)
	}
}
