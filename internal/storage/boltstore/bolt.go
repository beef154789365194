package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

var (
	pasteBucket     = []byte("pastes")
	expireBucket    = []byte("expires")
	exhaustedBucket = []byte("exhausted")
)

// Store implements pastes.Store backed by BoltDB.
// Bolt allows a single writer at a time, so each Update transaction is linearizable.
type Store struct {
	db *bolt.DB
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pasteBucket, expireBucket, exhaustedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Insert persists a new paste, failing with pastes.ErrDuplicateID when the id is taken.
func (s *Store) Insert(ctx context.Context, paste *pastes.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, _, err := buckets(tx)
		if err != nil {
			return err
		}
		if existing := pBucket.Get([]byte(paste.ID)); existing != nil {
			return pastes.ErrDuplicateID
		}
		if err := pBucket.Put([]byte(paste.ID), data); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}
		if paste.ExpiresAtMillis != nil {
			if err := eBucket.Put(expireKey(*paste.ExpiresAtMillis, paste.ID), []byte(paste.ID)); err != nil {
				return fmt.Errorf("index expiry: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id pastes.PasteID) (*pastes.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *pastes.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		paste, err := decode(bucket.Get([]byte(id.String())))
		if err != nil {
			return err
		}
		out = paste
		return nil
	})
	return out, err
}

// ConsumeView evaluates liveness and increments the counter inside one write transaction.
func (s *Store) ConsumeView(ctx context.Context, id pastes.PasteID, now time.Time) (*pastes.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *pastes.Paste
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, _, xBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		paste, err := decode(pBucket.Get([]byte(id.String())))
		if err != nil {
			return err
		}
		if !paste.IsAliveAt(now) {
			return pastes.ErrNotFound
		}

		paste.ViewCount++
		data, err := json.Marshal(paste)
		if err != nil {
			return fmt.Errorf("marshal paste: %w", err)
		}
		if err := pBucket.Put([]byte(paste.ID), data); err != nil {
			return fmt.Errorf("save view count: %w", err)
		}
		if paste.QuotaExhausted() {
			if err := xBucket.Put([]byte(paste.ID), nil); err != nil {
				return fmt.Errorf("index exhaustion: %w", err)
			}
		}
		out = paste
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeDead removes quota-exhausted pastes and pastes whose expiry lies before the cutoff of before.
func (s *Store) PurgeDead(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := pastes.CutoffMillis(before)
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, xBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		var expiredKeys, expiredIDs [][]byte
		cursor := eBucket.Cursor()
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			if int64(binary.BigEndian.Uint64(key[:8])) >= cutoff {
				break
			}
			expiredKeys = append(expiredKeys, append([]byte(nil), key...))
			expiredIDs = append(expiredIDs, append([]byte(nil), val...))
		}
		for i, id := range expiredIDs {
			if pBucket.Get(id) != nil {
				if err := pBucket.Delete(id); err != nil {
					return fmt.Errorf("delete expired paste %s: %w", id, err)
				}
				removed++
			}
			if err := xBucket.Delete(id); err != nil {
				return fmt.Errorf("delete exhaustion index: %w", err)
			}
			if err := eBucket.Delete(expiredKeys[i]); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
		}

		var exhaustedIDs [][]byte
		if err := xBucket.ForEach(func(key, _ []byte) error {
			exhaustedIDs = append(exhaustedIDs, append([]byte(nil), key...))
			return nil
		}); err != nil {
			return err
		}
		for _, id := range exhaustedIDs {
			paste, err := decode(pBucket.Get(id))
			if err == nil {
				if err := pBucket.Delete(id); err != nil {
					return fmt.Errorf("delete exhausted paste %s: %w", id, err)
				}
				if paste.ExpiresAtMillis != nil {
					if err := eBucket.Delete(expireKey(*paste.ExpiresAtMillis, paste.ID)); err != nil {
						return fmt.Errorf("delete expiry index: %w", err)
					}
				}
				removed++
			} else if !errors.Is(err, pastes.ErrNotFound) {
				return err
			}
			if err := xBucket.Delete(id); err != nil {
				return fmt.Errorf("delete exhaustion index: %w", err)
			}
		}
		return nil
	})
	return removed, err
}

// Ping verifies the database file is readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, *bolt.Bucket, error) {
	pBucket := tx.Bucket(pasteBucket)
	eBucket := tx.Bucket(expireBucket)
	xBucket := tx.Bucket(exhaustedBucket)
	if pBucket == nil || eBucket == nil || xBucket == nil {
		return nil, nil, nil, errors.New("buckets not initialized")
	}
	return pBucket, eBucket, xBucket, nil
}

func decode(raw []byte) (*pastes.Paste, error) {
	if raw == nil {
		return nil, pastes.ErrNotFound
	}
	var paste pastes.Paste
	if err := json.Unmarshal(raw, &paste); err != nil {
		return nil, fmt.Errorf("unmarshal paste: %w", err)
	}
	return &paste, nil
}

func expireKey(expiresAtMillis int64, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(expiresAtMillis))
	copy(key[8:], id)
	return key
}
