package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/config"
	"github.com/MarcoPoloResearchLab/pastebin/internal/logging"
	"github.com/MarcoPoloResearchLab/pastebin/internal/metrics"
	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
	"github.com/MarcoPoloResearchLab/pastebin/internal/retention"
	"github.com/MarcoPoloResearchLab/pastebin/internal/server"
	"github.com/MarcoPoloResearchLab/pastebin/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pastebin-api",
		Short: "Pastebin backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and exhausted pastes once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("public-base-url", defaults.GetString("http.public_base_url"), "Base URL used in share links (derived from the request when empty)")
	flags.String("storage-driver", defaults.GetString("storage.driver"), "Storage driver (sqlite, bolt, redis, mongodb, dynamodb)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("bolt-path", defaults.GetString("bolt.path"), "BoltDB file path")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address")
	flags.String("mongodb-uri", defaults.GetString("mongodb.uri"), "MongoDB connection URI")
	flags.String("dynamodb-table", defaults.GetString("dynamodb.table"), "DynamoDB table name")
	flags.String("dynamodb-endpoint", defaults.GetString("dynamodb.endpoint"), "DynamoDB endpoint override")
	flags.String("id-scheme", defaults.GetString("ids.scheme"), "Identifier scheme (nanoid, uuid)")
	flags.Int("id-length", defaults.GetInt("ids.length"), "Identifier length")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.Duration("retention-interval", defaults.GetDuration("retention.interval"), "Interval between retention sweeps (0 disables)")
	flags.Duration("retention-grace", defaults.GetDuration("retention.grace"), "How long dead pastes are kept before removal")
	flags.Bool("deterministic-time", defaults.GetBool("testing.deterministic_time"), "Honour the X-Test-Now-Ms request header")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "bolt.path", "bolt-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "mongodb.uri", "mongodb-uri")
	bindFlag(cmd, "dynamodb.table", "dynamodb-table")
	bindFlag(cmd, "dynamodb.endpoint", "dynamodb-endpoint")
	bindFlag(cmd, "ids.scheme", "id-scheme")
	bindFlag(cmd, "ids.length", "id-length")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "retention.interval", "retention-interval")
	bindFlag(cmd, "retention.grace", "retention-grace")
	bindFlag(cmd, "testing.deterministic_time", "deterministic-time")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type runtime struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   pastes.Store
	metrics *metrics.Metrics
}

func openRuntime(ctx context.Context) (*runtime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, appConfig, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &runtime{
		config:  appConfig,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
	}, nil
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func (r *runtime) newSweeper() (*retention.Sweeper, error) {
	purger, ok := r.store.(pastes.Purger)
	if !ok {
		return nil, nil
	}
	return retention.NewSweeper(retention.Config{
		Purger:   purger,
		Interval: r.config.RetentionInterval,
		Grace:    r.config.RetentionGrace,
		Logger:   r.logger,
		Recorder: r.metrics,
	})
}

func runSweep(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper, err := rt.newSweeper()
	if err != nil {
		return err
	}
	if sweeper == nil {
		return fmt.Errorf("storage driver %s expires pastes natively and has nothing to sweep", rt.config.StorageDriver)
	}
	removed, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	rt.logger.Info("sweep finished", zap.Int("removed", removed))
	return nil
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	idProvider, err := pastes.NewIDProvider(rt.config.IDScheme, rt.config.IDLength)
	if err != nil {
		return err
	}

	pasteService, err := pastes.NewService(pastes.ServiceConfig{
		Store:           rt.store,
		Clock:           time.Now,
		IDProvider:      idProvider,
		Logger:          logger,
		MaxContentBytes: rt.config.MaxContentBytes,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		PasteService:      pasteService,
		Logger:            logger,
		Metrics:           rt.metrics,
		PublicBaseURL:     rt.config.PublicBaseURL,
		AllowedOrigins:    rt.config.AllowedOrigins,
		DeterministicTime: rt.config.DeterministicTime,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt.config.RetentionInterval > 0 {
		sweeper, err := rt.newSweeper()
		if err != nil {
			return err
		}
		if sweeper != nil {
			logger.Info("retention sweeper enabled",
				zap.Duration("interval", rt.config.RetentionInterval),
				zap.Duration("grace", rt.config.RetentionGrace))
			go sweeper.Run(signalCtx)
		} else {
			logger.Info("retention sweeper skipped; storage expires pastes natively",
				zap.String("driver", rt.config.StorageDriver))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", rt.config.HTTPAddress),
			zap.String("storage_driver", rt.config.StorageDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
