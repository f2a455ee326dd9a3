package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/providentiaww/dam-sync/cmd/dam-sync/auth"
	"github.com/providentiaww/dam-sync/cmd/dam-sync/handlers"
	"github.com/providentiaww/dam-sync/internal/cache"
	"github.com/providentiaww/dam-sync/internal/changeset"
	"github.com/providentiaww/dam-sync/internal/config"
	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/materializer"
	"github.com/providentiaww/dam-sync/internal/oauth"
	"github.com/providentiaww/dam-sync/internal/queue"
	"github.com/providentiaww/dam-sync/internal/scheduler"
	"github.com/providentiaww/dam-sync/internal/storage"
	"github.com/providentiaww/dam-sync/internal/worker"
)

const ServiceVersion = "v1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	config.LoadEnv(envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Log.Level))
	logger.Infof("Starting dam-sync %s", ServiceVersion)

	if err := run(cfg, logger); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx := context.Background()

	backend, err := storage.NewBackend(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		DatabaseURL: cfg.Storage.DatabaseURL,
		RecordsFile: cfg.Storage.RecordsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	defer backend.Records.Close()
	logger.Infof("Record store initialized (driver=%s)", cfg.Storage.Driver)

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		rdb, err = cache.NewRedisClientFromURL(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Infof("Redis connected")
	}

	tokens, err := newTokenStore(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}

	oauthClient, err := oauth.NewClient(oauth.Config{
		ClientID:     cfg.DAM.ClientID,
		ClientSecret: cfg.DAM.ClientSecret,
		AuthURL:      cfg.DAM.AuthURL,
		TokenURL:     cfg.DAM.TokenURL,
		RedirectURI:  cfg.DAM.RedirectURI,
		Timeout:      cfg.DAM.RequestTimeout,
		StateSecret:  cfg.DAM.StateSecret,
		StateTTL:     cfg.DAM.StateTTL,
	}, tokens, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OAuth client: %w", err)
	}

	var providerOpts []oauth.ProviderOption
	if rdb != nil {
		providerOpts = append(providerOpts, oauth.WithLocker(cache.NewRedisLocker(rdb, "")))
	}
	provider := oauth.NewProvider(tokens, oauthClient, logger, providerOpts...)

	version, err := dam.ParseVersion(cfg.DAM.APIVersion)
	if err != nil {
		return err
	}
	damClient := dam.NewClient(dam.Config{
		BaseURL: cfg.DAM.BaseURL,
		Version: version,
		Timeout: cfg.DAM.RequestTimeout,
	}, provider, logger)

	q, err := newQueue(ctx, cfg, backend, rdb, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	mat := materializer.New(damClient, backend.Records, materializer.NewDiskStore(cfg.Sync.CacheDir), materializer.Options{
		SizeLimit:     cfg.Sync.SizeLimit,
		RenditionMode: cfg.Sync.RenditionMode,
		ImageFormat:   cfg.Sync.ImageFormat,
		ImageQuality:  cfg.Sync.ImageQuality,
	}, logger)

	refresher := worker.NewRefreshWorker(backend.Records, damClient, mat, cfg.Sync.DeleteOnRemoteRemoval, logger)
	drainer := worker.NewDrainer(q, refresher, worker.DrainOptions{
		Lease:        cfg.Queue.LeaseDuration,
		Budget:       cfg.Sync.DrainBudget,
		RequeueDelay: cfg.Sync.RequeueDelay(),
	}, logger)

	collector := changeset.NewCollector(damClient, backend.Cursor, backend.Records, q, changeset.Options{
		PageSize:  cfg.Sync.PageSize,
		Transcode: cfg.Sync.RenditionMode == config.RenditionTranscode,
	}, logger)

	sched := scheduler.New(collector, drainer, scheduler.Config{
		SyncInterval:  cfg.Sync.Interval,
		DrainInterval: cfg.Sync.DrainInterval,
	}, logger)
	sched.Start()
	defer sched.Stop()

	h := handlers.New(handlers.Deps{
		Authorizer:  oauthClient,
		Tokens:      provider,
		Prober:      damClient,
		Queue:       q,
		Cursor:      backend.Cursor,
		Store:       backend.Records,
		Runner:      sched,
		RedirectURI: cfg.DAM.RedirectURI,
		Logger:      logger,
	})
	if cfg.Server.AdminToken == "" {
		logger.Warnf("ADMIN_TOKEN is not set; admin endpoints are disabled")
	}
	router := handlers.NewRouter(h, auth.NewAdminMiddleware(cfg.Server.AdminToken).Handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Infof("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
	return nil
}

// newTokenStore keeps tokens next to the records when a database is configured.
// The file driver has no database, so tokens live in memory and the operator
// re-authorizes after a restart.
func newTokenStore(ctx context.Context, cfg *config.Config, backend *storage.Backend, logger logging.Logger) (oauth.TokenStore, error) {
	if backend.DB == nil {
		logger.Warnf("STORE_DRIVER=file keeps the DAM token in memory only")
		return oauth.NewMemoryTokenStore(), nil
	}

	var sealer *oauth.Sealer
	if cfg.Storage.TokenEncryptionKey != "" {
		s, err := oauth.NewSealer(cfg.Storage.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
		}
		sealer = s
	} else {
		logger.Warnf("TOKEN_ENCRYPTION_KEY is not set; DAM tokens are stored unencrypted")
	}

	store, err := oauth.NewSQLTokenStore(ctx, backend.DB, sealer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}
	return store, nil
}

func newQueue(ctx context.Context, cfg *config.Config, backend *storage.Backend, rdb *redis.Client, logger logging.Logger) (queue.Queue, error) {
	var suspension queue.SuspensionStore
	switch {
	case rdb != nil:
		suspension = queue.NewRedisSuspensionStore(rdb, "")
	case backend.DB != nil:
		s, err := queue.NewSQLSuspensionStore(ctx, backend.DB)
		if err != nil {
			return nil, err
		}
		suspension = s
	default:
		suspension = queue.NewMemorySuspensionStore()
	}

	switch cfg.Queue.Driver {
	case "amqp":
		q, err := queue.NewAMQPQueue(cfg.Queue.AMQPURL, cfg.Queue.Name, suspension, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		return q, nil
	case "memory":
		logger.Warnf("QUEUE_DRIVER=memory loses queued jobs on restart")
		return queue.NewMemoryQueue(cfg.Queue.Name, suspension), nil
	default:
		q, err := queue.NewSQLQueue(ctx, backend.DB, cfg.Queue.Name, suspension)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize queue: %w", err)
		}
		return q, nil
	}
}
