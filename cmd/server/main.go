package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bcnelson/splunk-eam/internal/api"
	"github.com/bcnelson/splunk-eam/internal/auth"
	"github.com/bcnelson/splunk-eam/internal/automation"
	"github.com/bcnelson/splunk-eam/internal/config"
	"github.com/bcnelson/splunk-eam/internal/dispatch"
	"github.com/bcnelson/splunk-eam/internal/lock"
	"github.com/bcnelson/splunk-eam/internal/logging"
	"github.com/bcnelson/splunk-eam/internal/registry"
	"github.com/bcnelson/splunk-eam/internal/storage"
	"github.com/bcnelson/splunk-eam/internal/storage/memory"
	redisstore "github.com/bcnelson/splunk-eam/internal/storage/redis"
	"github.com/bcnelson/splunk-eam/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	authority := auth.New(store, cfg.Auth.TokenTTL, logger)
	if cfg.Auth.RootPassword != "" {
		if _, err := authority.EnsureRootCredential(ctx, cfg.Auth.RootUsername, cfg.Auth.RootPassword); err != nil {
			return fmt.Errorf("seeding root credential: %w", err)
		}
	} else if _, err := store.GetRootCredential(ctx); err != nil {
		logger.Warn("no root credential configured; set AUTH_ROOT_PASSWORD to enable login")
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}

	locks := lock.NewManager(store, cfg.Lock.Lease, cfg.Lock.RenewInterval, logger)
	reg := registry.New(store, locks, cfg.Splunk.StackDefaults(), logger)

	router := api.NewRouter(api.Deps{
		Authority:  authority,
		Registry:   reg,
		Locks:      locks,
		Dispatcher: dispatch.New(reg, locks, backend, logger),
		Logger:     logger,
		LoginRate:  cfg.Auth.LoginRate,
		LoginBurst: cfg.Auth.LoginBurst,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 4,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting splunk-eam",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled()),
			zap.String("store", cfg.Store.Backend),
			zap.String("automation", cfg.Automation.Backend),
		)
		var err error
		if cfg.Server.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	// Redis expires tokens and leases itself.
	if cfg.Store.Backend != "redis" {
		g.Go(func() error {
			return storage.NewJanitor(store, cfg.Store.SweepInterval, logger).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("using in-memory store; tokens and stacks are lost on restart")
		return memory.New(), nil
	case "redis":
		return redisstore.New(ctx, redisstore.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case "sql":
		// Create data directory if needed (for SQLite)
		if cfg.Database.Driver == "sqlite3" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		return sql.New(cfg.Database.Driver, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openBackend(cfg *config.Config, logger *zap.Logger) (automation.Backend, error) {
	if cfg.Automation.Backend == "shim" {
		logger.Info("using recording shim for automation", zap.String("file", cfg.Automation.ShimFile))
		return automation.NewFileShim(cfg.Automation.ShimFile, logger), nil
	}
	return automation.NewAnsible(automation.AnsibleConfig{
		Bin:           cfg.Automation.PlaybookBin,
		PlaybookDir:   cfg.Automation.PlaybookDir,
		ExtraArgs:     cfg.Automation.ExtraArgs,
		Timeout:       cfg.Automation.Timeout,
		MaxConcurrent: cfg.Automation.MaxConcurrent,
	}, logger)
}
