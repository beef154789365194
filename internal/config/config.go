package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PASTEBIN"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "pastebin.db"
	defaultBoltPath          = "pastebin.bolt"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultStorageDriver     = DriverSQLite
	defaultRedisAddress      = "localhost:6379"
	defaultMongoURI          = "mongodb://localhost:27017"
	defaultMongoDatabase     = "pastebin"
	defaultMongoCollection   = "pastes"
	defaultDynamoTable       = "pastes"
	defaultDynamoRegion      = "us-east-1"
	defaultIDScheme          = "nanoid"
	defaultIDLength          = 12
	defaultMaxContentBytes   = 1 << 20
	defaultRetentionInterval = 0
	defaultRetentionGrace    = 24 * time.Hour

	minIDLength     = 6
	minUUIDIDLength = 8
	maxIDLength     = 32
)

// Storage drivers accepted by storage.driver.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
	DriverMongoDB  = "mongodb"
	DriverDynamoDB = "dynamodb"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	PublicBaseURL     string
	AllowedOrigins    []string
	LogLevel          string
	LogFormat         string
	StorageDriver     string
	DatabasePath      string
	BoltPath          string
	Redis             RedisConfig
	Mongo             MongoConfig
	Dynamo            DynamoConfig
	IDScheme          string
	IDLength          int
	MaxContentBytes   int
	RetentionInterval time.Duration
	RetentionGrace    time.Duration
	DeterministicTime bool
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_base_url", "")
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("bolt.path", defaultBoltPath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("mongodb.uri", defaultMongoURI)
	configViper.SetDefault("mongodb.database", defaultMongoDatabase)
	configViper.SetDefault("mongodb.collection", defaultMongoCollection)
	configViper.SetDefault("dynamodb.table", defaultDynamoTable)
	configViper.SetDefault("dynamodb.region", defaultDynamoRegion)
	configViper.SetDefault("dynamodb.endpoint", "")
	configViper.SetDefault("ids.scheme", defaultIDScheme)
	configViper.SetDefault("ids.length", defaultIDLength)
	configViper.SetDefault("pastes.max_content_bytes", defaultMaxContentBytes)
	configViper.SetDefault("retention.interval", defaultRetentionInterval)
	configViper.SetDefault("retention.grace", defaultRetentionGrace)
	configViper.SetDefault("testing.deterministic_time", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		PublicBaseURL:  strings.TrimSuffix(strings.TrimSpace(configViper.GetString("http.public_base_url")), "/"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		StorageDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		BoltPath:       configViper.GetString("bolt.path"),
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		Mongo: MongoConfig{
			URI:        configViper.GetString("mongodb.uri"),
			Database:   configViper.GetString("mongodb.database"),
			Collection: configViper.GetString("mongodb.collection"),
		},
		Dynamo: DynamoConfig{
			Table:    configViper.GetString("dynamodb.table"),
			Region:   configViper.GetString("dynamodb.region"),
			Endpoint: configViper.GetString("dynamodb.endpoint"),
		},
		IDScheme:          strings.ToLower(strings.TrimSpace(configViper.GetString("ids.scheme"))),
		IDLength:          configViper.GetInt("ids.length"),
		MaxContentBytes:   configViper.GetInt("pastes.max_content_bytes"),
		RetentionInterval: configViper.GetDuration("retention.interval"),
		RetentionGrace:    configViper.GetDuration("retention.grace"),
		DeterministicTime: configViper.GetBool("testing.deterministic_time"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			return fmt.Errorf("bolt.path is required")
		}
	case DriverRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return fmt.Errorf("redis.address is required")
		}
	case DriverMongoDB:
		if strings.TrimSpace(c.Mongo.URI) == "" || strings.TrimSpace(c.Mongo.Database) == "" || strings.TrimSpace(c.Mongo.Collection) == "" {
			return fmt.Errorf("mongodb.uri, mongodb.database and mongodb.collection are required")
		}
	case DriverDynamoDB:
		if strings.TrimSpace(c.Dynamo.Table) == "" {
			return fmt.Errorf("dynamodb.table is required")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}

	minLength := minIDLength
	switch c.IDScheme {
	case "nanoid":
	case "uuid":
		minLength = minUUIDIDLength
	default:
		return fmt.Errorf("ids.scheme %q is not supported", c.IDScheme)
	}
	if c.IDLength < minLength || c.IDLength > maxIDLength {
		return fmt.Errorf("ids.length must be between %d and %d for scheme %s", minLength, maxIDLength, c.IDScheme)
	}

	if c.MaxContentBytes <= 0 {
		return fmt.Errorf("pastes.max_content_bytes must be positive")
	}
	if c.RetentionInterval < 0 {
		return fmt.Errorf("retention.interval must not be negative")
	}
	if c.RetentionGrace < 0 {
		return fmt.Errorf("retention.grace must not be negative")
	}
	if c.PublicBaseURL != "" {
		parsed, err := url.Parse(c.PublicBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.public_base_url must include scheme and host")
		}
	}
	return nil
}
