package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	defaultCollection = "pastes"
	disconnectTimeout = 10 * time.Second
)

// Options configures the MongoDB-backed store.
type Options struct {
	URI        string
	Database   string
	Collection string
	// Grace delays the server-side TTL removal of expired pastes.
	Grace time.Duration
}

type document struct {
	ID              string     `bson:"_id"`
	Content         string     `bson:"content"`
	CreatedAtMillis int64      `bson:"created_at_ms"`
	ExpiresAtMillis *int64     `bson:"expires_at_ms,omitempty"`
	MaxViews        *int64     `bson:"max_views,omitempty"`
	ViewCount       int64      `bson:"view_count"`
	PurgeAt         *time.Time `bson:"purge_at,omitempty"`
}

func (d document) paste() *pastes.Paste {
	return &pastes.Paste{
		ID:              d.ID,
		Content:         d.Content,
		CreatedAtMillis: d.CreatedAtMillis,
		ExpiresAtMillis: d.ExpiresAtMillis,
		MaxViews:        d.MaxViews,
		ViewCount:       d.ViewCount,
	}
}

// Store implements pastes.Store and pastes.Purger on a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	grace      time.Duration
}

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	collectionName := opts.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	store := &Store{
		client:     client,
		collection: client.Database(opts.Database).Collection(collectionName),
		grace:      opts.Grace,
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// EnsureIndexes creates the expiry lookup and TTL indexes.
// The TTL index only fires on purge_at, which is absent for pastes without an expiry.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at_ms", Value: 1}},
			Options: options.Index().SetName("expires_at_ms"),
		},
		{
			Keys:    bson.D{{Key: "purge_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_purge_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Insert stores the paste, mapping duplicate _id violations to pastes.ErrDuplicateID.
func (s *Store) Insert(ctx context.Context, paste *pastes.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	doc := document{
		ID:              paste.ID,
		Content:         paste.Content,
		CreatedAtMillis: paste.CreatedAtMillis,
		ExpiresAtMillis: paste.ExpiresAtMillis,
		MaxViews:        paste.MaxViews,
		ViewCount:       paste.ViewCount,
	}
	if paste.ExpiresAtMillis != nil {
		purgeAt := time.UnixMilli(*paste.ExpiresAtMillis).Add(s.grace).UTC()
		doc.PurgeAt = &purgeAt
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pastes.ErrDuplicateID
		}
		return fmt.Errorf("insert paste: %w", err)
	}
	return nil
}

// Get loads a paste without touching the counter.
func (s *Store) Get(ctx context.Context, id pastes.PasteID) (*pastes.Paste, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pastes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load paste: %w", err)
	}
	return doc.paste(), nil
}

// ConsumeView matches only live documents and increments them in a single FindOneAndUpdate.
func (s *Store) ConsumeView(ctx context.Context, id pastes.PasteID, now time.Time) (*pastes.Paste, error) {
	filter := bson.M{
		"_id": id.String(),
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"expires_at_ms": bson.M{"$exists": false}},
				bson.M{"expires_at_ms": bson.M{"$gte": pastes.CutoffMillis(now)}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"max_views": bson.M{"$exists": false}},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$view_count", "$max_views"}}},
			}},
		},
	}
	update := bson.M{"$inc": bson.M{"view_count": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc document
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pastes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume view: %w", err)
	}
	return doc.paste(), nil
}

// PurgeDead deletes expired and quota-exhausted documents.
func (s *Store) PurgeDead(ctx context.Context, before time.Time) (int, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"expires_at_ms": bson.M{"$lt": pastes.CutoffMillis(before)}},
		bson.M{"$and": bson.A{
			bson.M{"max_views": bson.M{"$exists": true}},
			bson.M{"$expr": bson.M{"$gte": bson.A{"$view_count", "$max_views"}}},
		}},
	}}
	result, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("purge pastes: %w", err)
	}
	return int(result.DeletedCount), nil
}

// Ping checks the primary.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
