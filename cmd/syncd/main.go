package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/internal/api"
	"github.com/aegis-mobile/synccore/internal/app"
	"github.com/aegis-mobile/synccore/internal/app/maintenance"
	"github.com/aegis-mobile/synccore/internal/cache"
	"github.com/aegis-mobile/synccore/internal/database"
	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/keystore"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/resolver"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/syncer"
	"github.com/aegis-mobile/synccore/internal/transport"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("syncd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Sync.BaseURL) == "" {
		return errors.New("sync.base_url must be configured")
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime default", zap.String("key", key))
	}

	db, err := database.Open(database.Config{Driver: "sqlite", Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	keys, err := buildKeyStore(cfg)
	if err != nil {
		return err
	}

	st, err := store.New(db, keys)
	if err != nil {
		return fmt.Errorf("initialise store: %w", err)
	}
	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("initialise store: %w", err)
	}

	bus := events.NewBus()

	monitor := transport.NewMonitor(bus, cfg.Network.ProbeURL,
		transport.WithProbeInterval(cfg.Network.ProbeInterval))
	monitor.Start(ctx)
	defer monitor.Stop()

	managedCache, err := cache.New(db, st.Crypto(), bus,
		cache.WithBudget(cfg.Cache.BudgetMB<<20))
	if err != nil {
		return fmt.Errorf("initialise cache: %w", err)
	}

	q, err := queue.New(db, bus,
		queue.WithOnline(monitor.Online),
		queue.WithBatchSize(cfg.Queue.BatchSize),
		queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries),
		queue.WithBackoff(cfg.Queue.BaseDelay, cfg.Queue.BackoffFactor, cfg.Queue.MaxDelay))
	if err != nil {
		return fmt.Errorf("initialise queue: %w", err)
	}
	defer q.Shutdown()

	remote, err := transport.NewHTTPRemote(cfg.Sync.BaseURL,
		transport.WithToken(cfg.Sync.Token))
	if err != nil {
		return fmt.Errorf("initialise transport: %w", err)
	}

	registerDeliveryHandlers(q, st, remote)

	res, err := resolver.New(st, q)
	if err != nil {
		return fmt.Errorf("initialise resolver: %w", err)
	}

	orchestrator, err := syncer.New(st, q, res, remote, monitor, bus,
		syncer.WithSchedules(cfg.Sync.FullSchedule, cfg.Sync.IncrementalSchedule),
		syncer.WithSettleDelay(cfg.Sync.SettleDelay),
		syncer.WithUploadChunkSize(cfg.Sync.UploadChunkSize),
		syncer.WithIncrementalUploadLimit(cfg.Sync.IncrementalUploadLimit))
	if err != nil {
		return fmt.Errorf("initialise orchestrator: %w", err)
	}
	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orchestrator.Shutdown()

	cleaner := maintenance.NewCleaner(st, managedCache, db,
		maintenance.WithRetentionSchedule(cfg.Maintenance.RetentionSchedule),
		maintenance.WithOptimizeSchedule(cfg.Maintenance.OptimizeSchedule))
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(api.Deps{
		Config:       cfg,
		Store:        st,
		Cache:        managedCache,
		Queue:        q,
		Resolver:     res,
		Orchestrator: orchestrator,
		Connectivity: monitor,
	})
	if err != nil {
		return fmt.Errorf("build ops router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("ops server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = multierr.Append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}
	if err, ok := <-serverErr; ok && err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server error: %w", err))
	}
	if errs != nil {
		return errs
	}

	log.Info("daemon stopped gracefully")
	return nil
}

// registerDeliveryHandlers wires every queue action to record upload: the
// payload carries only references, the entity itself is read from the
// encrypted store at delivery time.
func registerDeliveryHandlers(q *queue.Queue, st *store.Store, remote transport.Remote) {
	handler := func(ctx context.Context, item models.QueueItem) error {
		kind, ok := models.KindForTable(item.TargetTable)
		if !ok {
			// Actions without a backing table (analytics beacons) have
			// nothing to upload beyond the queue payload itself.
			return nil
		}

		entity, err := st.Get(ctx, kind, item.RecordID)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted locally between enqueue and delivery.
			return nil
		}
		if err != nil {
			return err
		}

		env, err := transport.EncodeEntity(entity)
		if err != nil {
			return err
		}
		if err := remote.Upload(ctx, kind, []transport.Envelope{env}); err != nil {
			return err
		}
		return st.MarkSynced(ctx, kind, item.RecordID)
	}

	for _, action := range queue.Actions() {
		q.Register(action, handler)
	}
}

func buildKeyStore(cfg *app.Config) (keystore.Store, error) {
	if key := strings.TrimSpace(cfg.Database.EncryptionKey); key != "" {
		raw, err := app.DecodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("decode database.encryption_key: %w", err)
		}
		return keystore.Fixed(raw), nil
	}
	return keystore.NewFileStore(cfg.Keystore.Path)
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
