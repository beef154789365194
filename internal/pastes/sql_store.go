package pastes

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

const (
	aliveByTimeCondition  = "(expires_at_ms IS NULL OR expires_at_ms >= ?)"
	aliveByQuotaCondition = "(max_views IS NULL OR view_count < max_views)"
)

// SQLStore implements Store on a GORM database.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps an initialized GORM handle whose schema includes Paste.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Insert(ctx context.Context, paste *Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(paste)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id PasteID) (*Paste, error) {
	var paste Paste
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&paste).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &paste, nil
}

// ConsumeView runs the conditional increment and the read-back in one transaction.
// The UPDATE both evaluates liveness and takes the row lock, so no reader acts on a stale count.
func (s *SQLStore) ConsumeView(ctx context.Context, id PasteID, now time.Time) (*Paste, error) {
	var consumed Paste
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Paste{}).
			Where("id = ?", id.String()).
			Where(aliveByTimeCondition, CutoffMillis(now)).
			Where(aliveByQuotaCondition).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id.String()).Take(&consumed).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &consumed, nil
}

func (s *SQLStore) PurgeDead(ctx context.Context, before time.Time) (int, error) {
	result := s.db.WithContext(ctx).
		Where("(expires_at_ms IS NOT NULL AND expires_at_ms < ?) OR (max_views IS NOT NULL AND view_count >= max_views)",
			CutoffMillis(before)).
		Delete(&Paste{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
