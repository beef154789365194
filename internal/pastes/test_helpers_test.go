package pastes

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

type sequentialIDProvider struct {
	prefix string
	next   atomic.Int64
}

func (p *sequentialIDProvider) NewID() (string, error) {
	return fmt.Sprintf("%s%d", p.prefix, p.next.Add(1)), nil
}

type staticIDProvider struct {
	ids   []string
	index int
}

func (p *staticIDProvider) NewID() (string, error) {
	if p.index >= len(p.ids) {
		return "", fmt.Errorf("exhausted ids")
	}
	id := p.ids[p.index]
	p.index++
	return id, nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "pastes.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Paste{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, ids IDProvider) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	store, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("failed to build sql store: %v", err)
	}
	if ids == nil {
		ids = &sequentialIDProvider{prefix: "p"}
	}
	service, err := NewService(ServiceConfig{
		Store:      store,
		IDProvider: ids,
		Clock: func() time.Time {
			return testEpoch
		},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func int64Pointer(value int64) *int64 {
	return &value
}

func loadViewCount(t *testing.T, db *gorm.DB, id PasteID) int64 {
	t.Helper()
	var paste Paste
	if err := db.Where("id = ?", id.String()).Take(&paste).Error; err != nil {
		t.Fatalf("failed to reload paste %s: %v", id, err)
	}
	return paste.ViewCount
}
