package storage

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/config"
	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/boltstore"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/storetest"
)

func openForTest(t *testing.T, cfg config.AppConfig) pastes.Store {
	t.Helper()
	store, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open %s store: %v", cfg.StorageDriver, err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) pastes.Store {
		return openForTest(t, config.AppConfig{
			StorageDriver: config.DriverSQLite,
			DatabasePath:  filepath.Join(t.TempDir(), "pastes.db"),
		})
	})
}

func TestOpenBoltSelectsBoltStore(t *testing.T) {
	store := openForTest(t, config.AppConfig{
		StorageDriver: config.DriverBolt,
		BoltPath:      filepath.Join(t.TempDir(), "pastes.bolt"),
	})
	if _, ok := store.(*boltstore.Store); !ok {
		t.Fatalf("expected bolt store, got %T", store)
	}
	if _, ok := store.(pastes.Purger); !ok {
		t.Fatalf("expected bolt store to support purging")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.AppConfig{StorageDriver: "etcd"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
