package pastes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 64

var (
	// ErrInvalidInput indicates a malformed creation request.
	ErrInvalidInput = errors.New("pastes: invalid input")
	// ErrNotFound covers pastes that never existed, expired by time, or exhausted their view quota.
	ErrNotFound = errors.New("pastes: not found")
	// ErrStorageUnavailable indicates the storage collaborator failed; callers may retry.
	ErrStorageUnavailable = errors.New("pastes: storage unavailable")
	// ErrDuplicateID is reported by stores when an identifier is already taken.
	ErrDuplicateID = errors.New("pastes: duplicate id")
)

// PasteID represents a validated paste identifier.
type PasteID string

// NewPasteID validates raw input and returns a PasteID.
func NewPasteID(rawInput string) (PasteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrNotFound)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrNotFound, maxIdentifierLength)
	}
	return PasteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PasteID) String() string {
	return string(id)
}

// Paste models the persisted paste record. Instants are stored as Unix milliseconds.
type Paste struct {
	ID              string `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Content         string `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
	ExpiresAtMillis *int64 `gorm:"column:expires_at_ms;index:idx_pastes_expires_at" json:"expires_at_ms,omitempty"`
	MaxViews        *int64 `gorm:"column:max_views" json:"max_views,omitempty"`
	ViewCount       int64  `gorm:"column:view_count;not null;default:0" json:"view_count"`
}

// TableName provides the explicit table binding for GORM.
func (Paste) TableName() string {
	return "pastes"
}

// CreatedAt returns the creation instant.
func (p Paste) CreatedAt() time.Time {
	return time.UnixMilli(p.CreatedAtMillis).UTC()
}

// ExpiresAt returns the expiry instant, or nil when the paste never expires by time.
func (p Paste) ExpiresAt() *time.Time {
	if p.ExpiresAtMillis == nil {
		return nil
	}
	expiresAt := time.UnixMilli(*p.ExpiresAtMillis).UTC()
	return &expiresAt
}

// CreateRequest describes the caller-supplied creation input.
type CreateRequest struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

// Created is returned by a successful Create.
type Created struct {
	ID        PasteID
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// View is the result of a successful ConsumeView.
type View struct {
	Content        string
	RemainingViews *int64
	ExpiresAt      *time.Time
	ViewCount      int64
}

func newView(paste *Paste) View {
	return View{
		Content:        paste.Content,
		RemainingViews: paste.RemainingViews(),
		ExpiresAt:      paste.ExpiresAt(),
		ViewCount:      paste.ViewCount,
	}
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
