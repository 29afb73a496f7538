package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"commercepay/config"
	"commercepay/core/events"
	"commercepay/core/genesis"
	"commercepay/core/state"
	"commercepay/gateway"
	"commercepay/native/commerce"
	"commercepay/observability/logging"
	"commercepay/scheduler"
	"commercepay/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the daemon configuration file")
	flag.Parse()

	logger := logging.Setup("commerced", strings.TrimSpace(os.Getenv("COMMERCE_ENV")))
	if err := run(*configPath, logger); err != nil {
		logger.Error("commerced failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	currencies, err := cfg.Currencies()
	if err != nil {
		return err
	}
	tick, err := cfg.SchedulerTick()
	if err != nil {
		return err
	}
	skew, err := cfg.TimestampSkew()
	if err != nil {
		return err
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) == "" {
		db = storage.NewMemDB()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		leveldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		db = leveldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	applied, err := genesis.Apply(manager, cfg.GenesisAllocations)
	if err != nil {
		return fmt.Errorf("apply genesis allocations: %w", err)
	}
	if applied {
		logger.Info("genesis allocations applied", "accounts", strconv.Itoa(len(cfg.GenesisAllocations)))
	}

	engine := commerce.NewEngine()
	engine.SetState(func() commerce.State { return manager.Begin() })
	engine.SetRecognizedCurrencies(currencies)
	engine.SetRecordDeposit(cfg.Deposit())

	settler := scheduler.New(engine, tick, logger)
	if cfg.SchedulerEnabled {
		engine.SetEmitter(events.Multi(settler))
	}

	secrets := make(map[string]string, len(cfg.APIKeys))
	limits := make(map[string]gateway.RateLimit, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		secrets[key.Key] = key.Secret
		if key.RateLimit > 0 {
			limits[key.Key] = gateway.RateLimit{PerSecond: key.RateLimit, Burst: int(key.RateLimit) + 1}
		}
	}
	auth := gateway.NewAuthenticator(secrets, skew, nil)

	var idem *gateway.IdempotencyStore
	if strings.TrimSpace(cfg.DataDir) != "" {
		idem, err = gateway.NewIdempotencyStore(filepath.Join(cfg.DataDir, "idempotency.db"))
		if err != nil {
			return err
		}
		defer idem.Close()
	}

	server := gateway.NewServer(engine, auth, idem, limits, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.SchedulerEnabled {
		go settler.Run(ctx)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
