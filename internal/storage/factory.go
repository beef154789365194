package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/config"
	"github.com/MarcoPoloResearchLab/pastebin/internal/database"
	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/boltstore"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/dynamostore"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/mongostore"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage/redisstore"
)

// Open creates the store selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (pastes.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.StorageDriver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return pastes.NewSQLStore(db)

	case config.DriverBolt:
		store, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info("bolt storage initialized", zap.String("path", cfg.BoltPath))
		return store, nil

	case config.DriverRedis:
		store, err := redisstore.Open(ctx, redisstore.Options{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Retention: cfg.RetentionGrace,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("redis storage initialized", zap.String("address", cfg.Redis.Address), zap.Int("db", cfg.Redis.DB))
		return store, nil

	case config.DriverMongoDB:
		store, err := mongostore.Open(ctx, mongostore.Options{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Grace:      cfg.RetentionGrace,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("mongodb storage initialized",
			zap.String("database", cfg.Mongo.Database),
			zap.String("collection", cfg.Mongo.Collection))
		return store, nil

	case config.DriverDynamoDB:
		store, err := dynamostore.Open(ctx, dynamostore.Options{
			Table:    cfg.Dynamo.Table,
			Region:   cfg.Dynamo.Region,
			Endpoint: cfg.Dynamo.Endpoint,
			Grace:    cfg.RetentionGrace,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("dynamodb storage initialized",
			zap.String("table", cfg.Dynamo.Table),
			zap.String("region", cfg.Dynamo.Region))
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
