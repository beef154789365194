package pastes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errIDSpaceExhausted  = errors.New("no free identifier after retries")
	noOpLogger           = zap.NewNop()
)

const (
	defaultMaxContentBytes = 1 << 20
	defaultMaxIDAttempts   = 3
	// MaxTTLSeconds is the largest ttl_seconds whose duration fits in time.Duration.
	MaxTTLSeconds = math.MaxInt64 / int64(time.Second)
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "pastes.service.new"
	opCreate       = "pastes.create"
	opConsumeView  = "pastes.consume_view"
	opPing         = "pastes.ping"
	reasonNotFound = "not_found"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func storageFailure(operation, reason string, cause error) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrStorageUnavailable, cause))
}

type ServiceConfig struct {
	Store           Store
	Clock           func() time.Time
	IDProvider      IDProvider
	Logger          *zap.Logger
	MaxContentBytes int
	MaxIDAttempts   int
}

// Service is the paste lifecycle engine.
type Service struct {
	store           Store
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	maxContentBytes int
	maxIDAttempts   int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	maxContentBytes := cfg.MaxContentBytes
	if maxContentBytes <= 0 {
		maxContentBytes = defaultMaxContentBytes
	}

	maxIDAttempts := cfg.MaxIDAttempts
	if maxIDAttempts <= 0 {
		maxIDAttempts = defaultMaxIDAttempts
	}

	return &Service{
		store:           cfg.Store,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		maxContentBytes: maxContentBytes,
		maxIDAttempts:   maxIDAttempts,
	}, nil
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

// MaxContentBytes reports the largest accepted paste body.
func (s *Service) MaxContentBytes() int {
	if s == nil || s.maxContentBytes <= 0 {
		return defaultMaxContentBytes
	}
	return s.maxContentBytes
}

// Create validates the request and persists a new paste with a zero view count.
func (s *Service) Create(ctx context.Context, request CreateRequest, now time.Time) (Created, error) {
	if s.store == nil {
		s.logError(opCreate, "missing_store", errMissingStore)
		return Created{}, newServiceError(opCreate, "missing_store", errMissingStore)
	}
	if err := s.validateCreate(request); err != nil {
		return Created{}, err
	}

	createdAt := now.UTC().Truncate(time.Millisecond)
	paste := Paste{
		Content:         request.Content,
		CreatedAtMillis: createdAt.UnixMilli(),
		ViewCount:       0,
	}
	if request.TTLSeconds != nil {
		// Rounded up so the stored expiry is never earlier than now + ttl.
		expiresAtMillis := CutoffMillis(now.Add(time.Duration(*request.TTLSeconds) * time.Second))
		if expiresAtMillis <= paste.CreatedAtMillis {
			return Created{}, newServiceError(opCreate, "invalid_ttl_seconds",
				fmt.Errorf("%w: ttl_seconds does not yield a future expiry", ErrInvalidInput))
		}
		paste.ExpiresAtMillis = pointerTo(expiresAtMillis)
	}
	if request.MaxViews != nil {
		paste.MaxViews = pointerTo(*request.MaxViews)
	}

	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return Created{}, newServiceError(opCreate, "id_generation_failed", err)
		}
		paste.ID = id

		err = s.store.Insert(ctx, &paste)
		if errors.Is(err, ErrDuplicateID) {
			s.loggerOrDefault().Warn("paste id collision",
				zap.String("operation", opCreate),
				zap.String("paste_id", id),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.logError(opCreate, "store_failed", err, zap.String("paste_id", id))
			return Created{}, storageFailure(opCreate, "store_failed", err)
		}

		return Created{
			ID:        PasteID(id),
			CreatedAt: createdAt,
			ExpiresAt: paste.ExpiresAt(),
		}, nil
	}

	s.logError(opCreate, "id_space_exhausted", errIDSpaceExhausted, zap.Int("attempts", s.maxIDAttempts))
	return Created{}, storageFailure(opCreate, "id_space_exhausted", errIDSpaceExhausted)
}

func (s *Service) validateCreate(request CreateRequest) error {
	if strings.TrimSpace(request.Content) == "" {
		return newServiceError(opCreate, "invalid_content", fmt.Errorf("%w: content is required", ErrInvalidInput))
	}
	if len(request.Content) > s.MaxContentBytes() {
		return newServiceError(opCreate, "content_too_large",
			fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidInput, s.MaxContentBytes()))
	}
	if request.TTLSeconds != nil && (*request.TTLSeconds < 1 || *request.TTLSeconds > MaxTTLSeconds) {
		return newServiceError(opCreate, "invalid_ttl_seconds",
			fmt.Errorf("%w: ttl_seconds must be between 1 and %d", ErrInvalidInput, MaxTTLSeconds))
	}
	if request.MaxViews != nil && *request.MaxViews < 1 {
		return newServiceError(opCreate, "invalid_max_views", fmt.Errorf("%w: max_views must be >= 1", ErrInvalidInput))
	}
	return nil
}

// ConsumeView atomically checks liveness at now and consumes one view.
// Absent, time-expired and quota-exhausted pastes are all reported as ErrNotFound.
func (s *Service) ConsumeView(ctx context.Context, rawID string, now time.Time) (View, error) {
	if s.store == nil {
		s.logError(opConsumeView, "missing_store", errMissingStore)
		return View{}, newServiceError(opConsumeView, "missing_store", errMissingStore)
	}
	id, err := NewPasteID(rawID)
	if err != nil {
		return View{}, newServiceError(opConsumeView, reasonNotFound, err)
	}

	paste, err := s.store.ConsumeView(ctx, id, now)
	if errors.Is(err, ErrNotFound) {
		return View{}, newServiceError(opConsumeView, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opConsumeView, "store_failed", err, zap.String("paste_id", id.String()))
		return View{}, storageFailure(opConsumeView, "store_failed", err)
	}
	return newView(paste), nil
}

// Ping checks the storage collaborator.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return newServiceError(opPing, "missing_store", errMissingStore)
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logError(opPing, "store_failed", err)
		return storageFailure(opPing, "store_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("pastes service error", attrs...)
}
