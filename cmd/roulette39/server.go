package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/palee/roulette39/internal/config"
	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/gateway"
	"github.com/palee/roulette39/internal/store"
)

// recordRetention is how long bet, round and recharge history is kept.
const recordRetention = 14 * 24 * time.Hour

// ServerCmd runs the roulette server.
type ServerCmd struct {
	Config string `kong:"default='roulette39.hcl',help='Path to HCL config file'"`
	Addr   string `kong:"help='Listen address, overrides the config file'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg.Server.LogLevel, c.Debug)

	addr := cfg.ListenAddr()
	if c.Addr != "" {
		addr = c.Addr
	}

	ctx := setupSignalHandler(logger)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	clock := quartz.NewReal()
	broadcaster := gateway.NewBroadcaster()
	manager := engine.NewManager(ctx, st, broadcaster, clock, logger, nil)
	defer manager.Shutdown()

	service := gateway.NewService(manager, logger)
	hub := gateway.NewHub(service, logger)
	defer hub.Stop()
	broadcaster.Add(hub)

	if cfg.NATS.URL != "" {
		ng, err := gateway.ConnectNATS(cfg.NATS.URL, cfg.ReconnectWait(), service, logger)
		if err != nil {
			return fmt.Errorf("nats gateway: %w", err)
		}
		defer ng.Close()
		broadcaster.Add(ng)
	}

	// Pre-declared channels run from boot; everything else starts on first
	// client contact.
	for _, ch := range cfg.Channels {
		manager.Channel(ch.ID).Start()
	}

	// History cleanup runs daily.
	clock.TickerFunc(ctx, 24*time.Hour, func() error {
		if err := st.PurgeOldRecords(ctx, recordRetention); err != nil {
			logger.Error("Failed to purge old records", "error", err)
		}
		return nil
	}, "purge")

	api := gateway.NewHTTPAPI(service, hub, logger)
	srv := &http.Server{Addr: addr, Handler: api.Router()}

	logger.Info("Starting roulette server", "addr", addr,
		"channels", len(cfg.Channels), "nats", cfg.NATS.URL != "", "version", version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore picks postgres when a DSN is configured, otherwise an in-memory
// store seeded with the demo accounts.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, error) {
	if cfg.Database.DSN != "" {
		p, err := store.NewPostgres(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := p.Init(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
		return p, nil
	}

	logger.Warn("No database DSN configured, using in-memory store")
	mem := store.NewMemory()
	seedDemoAccounts(mem, rand.New(rand.NewSource(time.Now().UnixNano())))
	return mem, nil
}

// seedDemoAccounts mirrors the postgres seed: player001..player100, password
// "1234", random opening balances.
func seedDemoAccounts(mem *store.Memory, rng *rand.Rand) {
	for i := 1; i <= 100; i++ {
		balance := decimal.NewFromInt(10000 + rng.Int63n(20000))
		mem.AddAccount(fmt.Sprintf("player%03d", i), "1234", fmt.Sprintf("Player %03d", i), balance)
	}
}
