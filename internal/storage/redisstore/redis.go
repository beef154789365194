package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	defaultKeyPrefix = "pastebin:paste:"
	defaultRetention = time.Minute

	fieldContent   = "content"
	fieldCreatedAt = "created_at_ms"
	fieldExpiresAt = "expires_at_ms"
	fieldMaxViews  = "max_views"
	fieldViewCount = "view_count"
)

// insertScript writes the hash only when the key is free.
// ARGV: content, created_at_ms, expires_at_ms, max_views, pexpireat ("" when absent).
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'content', ARGV[1], 'created_at_ms', ARGV[2], 'view_count', 0)
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'expires_at_ms', ARGV[3])
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'max_views', ARGV[4])
end
if ARGV[5] ~= '' then
  redis.call('PEXPIREAT', KEYS[1], ARGV[5])
end
return 1
`)

// consumeScript evaluates liveness against the cutoff and increments the counter.
// ARGV: cutoff_ms, retention_ms. Returns nil for dead or absent pastes.
var consumeScript = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'content', 'created_at_ms', 'expires_at_ms', 'max_views', 'view_count')
if not fields[1] then
  return false
end
local expires = fields[3]
if expires and tonumber(expires) < tonumber(ARGV[1]) then
  return false
end
local max = fields[4]
if max and tonumber(fields[5]) >= tonumber(max) then
  return false
end
local views = redis.call('HINCRBY', KEYS[1], 'view_count', 1)
if max and views >= tonumber(max) then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {fields[1], fields[2], expires or '', max or '', tostring(views)}
`)

// Options configures the Redis-backed store.
type Options struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// Retention keeps dead pastes around after expiry or exhaustion before Redis evicts them.
	Retention time.Duration
}

// Store implements pastes.Store on Redis hashes. Expiry is delegated to native key TTLs,
// so the store does not implement pastes.Purger.
type Store struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *Store {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{client: client, keyPrefix: prefix, retention: retention}
}

func (s *Store) key(id string) string {
	return s.keyPrefix + id
}

// Insert stores the paste unless the id is taken.
func (s *Store) Insert(ctx context.Context, paste *pastes.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}

	expiresAt, maxViews, evictAt := "", "", ""
	if paste.ExpiresAtMillis != nil {
		expiresAt = strconv.FormatInt(*paste.ExpiresAtMillis, 10)
		evictAt = strconv.FormatInt(*paste.ExpiresAtMillis+s.retention.Milliseconds(), 10)
	}
	if paste.MaxViews != nil {
		maxViews = strconv.FormatInt(*paste.MaxViews, 10)
	}

	inserted, err := insertScript.Run(ctx, s.client, []string{s.key(paste.ID)},
		paste.Content,
		strconv.FormatInt(paste.CreatedAtMillis, 10),
		expiresAt,
		maxViews,
		evictAt,
	).Int()
	if err != nil {
		return fmt.Errorf("insert paste: %w", err)
	}
	if inserted == 0 {
		return pastes.ErrDuplicateID
	}
	return nil
}

// Get reads the paste hash without touching the counter.
func (s *Store) Get(ctx context.Context, id pastes.PasteID) (*pastes.Paste, error) {
	values, err := s.client.HGetAll(ctx, s.key(id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load paste: %w", err)
	}
	if len(values) == 0 {
		return nil, pastes.ErrNotFound
	}
	return pasteFromHash(id.String(), values)
}

// ConsumeView runs the liveness check and increment as one server-side script.
func (s *Store) ConsumeView(ctx context.Context, id pastes.PasteID, now time.Time) (*pastes.Paste, error) {
	reply, err := consumeScript.Run(ctx, s.client, []string{s.key(id.String())},
		pastes.CutoffMillis(now),
		s.retention.Milliseconds(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, pastes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume view: %w", err)
	}
	return pasteFromReply(id.String(), reply)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func pasteFromHash(id string, values map[string]string) (*pastes.Paste, error) {
	return buildPaste(id,
		values[fieldContent],
		values[fieldCreatedAt],
		values[fieldExpiresAt],
		values[fieldMaxViews],
		values[fieldViewCount],
	)
}

func pasteFromReply(id string, reply []string) (*pastes.Paste, error) {
	if len(reply) != 5 {
		return nil, fmt.Errorf("unexpected consume reply length %d", len(reply))
	}
	return buildPaste(id, reply[0], reply[1], reply[2], reply[3], reply[4])
}

func buildPaste(id, content, createdAt, expiresAt, maxViews, viewCount string) (*pastes.Paste, error) {
	paste := &pastes.Paste{ID: id, Content: content}

	var err error
	if paste.CreatedAtMillis, err = parseInt(fieldCreatedAt, createdAt); err != nil {
		return nil, err
	}
	if paste.ViewCount, err = parseInt(fieldViewCount, viewCount); err != nil {
		return nil, err
	}
	if expiresAt != "" {
		value, err := parseInt(fieldExpiresAt, expiresAt)
		if err != nil {
			return nil, err
		}
		paste.ExpiresAtMillis = &value
	}
	if maxViews != "" {
		value, err := parseInt(fieldMaxViews, maxViews)
		if err != nil {
			return nil, err
		}
		paste.MaxViews = &value
	}
	return paste, nil
}

func parseInt(field, raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return value, nil
}
