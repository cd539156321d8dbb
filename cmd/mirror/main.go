package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mempool-mirror/internal/config"
	"mempool-mirror/internal/decoder"
	"mempool-mirror/internal/ethereum"
	"mempool-mirror/internal/executor"
	"mempool-mirror/internal/filter"
	"mempool-mirror/internal/notify"
	"mempool-mirror/internal/observability"
	"mempool-mirror/internal/pipeline"
	"mempool-mirror/internal/position"
	"mempool-mirror/internal/registry"
	"mempool-mirror/internal/resolver"
	"mempool-mirror/internal/risk"
	"mempool-mirror/internal/storage"
	"mempool-mirror/internal/storage/memory"
	"mempool-mirror/internal/storage/migrations"
	pgstore "mempool-mirror/internal/storage/postgres"
	"mempool-mirror/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Configuration error: %v", err)
	}

	metrics := observability.NewMetrics("mempool_mirror")

	// Start metrics server if enabled
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(cfg.Pipeline.ShutdownGrace + 30*time.Second):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, cfg, metrics)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, metrics *observability.Metrics) error {
	// Tracked-account registry with live reload (file watch + SIGHUP).
	reg, err := registry.Load(cfg.Registry.Path, log.New(os.Stdout, "[registry] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("load tracked accounts: %w", err)
	}
	go func() {
		if err := reg.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("Registry watch stopped: %v", err)
		}
	}()
	go func() {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := reg.Reload(); err != nil {
					logger.Printf("SIGHUP reload failed, keeping previous snapshot: %v", err)
				}
			}
		}
	}()

	// Chain clients.
	feedLogger := log.New(os.Stdout, "[feed] ", log.LstdFlags)
	wsCfg := ethereum.DefaultWSConfig()
	wsCfg.ReconnectBase = cfg.Feed.ReconnectBase
	wsCfg.ReconnectMax = cfg.Feed.ReconnectMax
	ws, err := ethereum.NewWSClient(ctx, cfg.Chain.WSEndpoint, &wsCfg, feedLogger, metrics)
	if err != nil {
		return fmt.Errorf("connect pending-transaction feed: %w", err)
	}
	defer ws.Close()

	rpc := ethereum.NewRPCClient(cfg.Chain.HTTPEndpoint)

	// Venue client.
	ven := venue.NewClient(venue.Config{
		BaseURL:       cfg.Venue.BaseURL,
		APIKey:        cfg.Venue.APIKey,
		APISecret:     cfg.Venue.APISecret,
		Passphrase:    cfg.Venue.Passphrase,
		ChainID:       cfg.Venue.ChainID,
		WalletAddress: cfg.Venue.WalletAddress,
		SlippagePct:   cfg.Venue.SlippagePct,
	}, log.New(os.Stdout, "[venue] ", log.LstdFlags), metrics)

	// Stores.
	var tradeLog storage.TradeLogStore = memory.NewTradeLogStore()
	var history storage.PositionHistoryStore = memory.NewPositionHistoryStore()
	if !cfg.Storage.UseMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		tradeLog = pgstore.NewTradeLogStore(pool)
		history = pgstore.NewPositionHistoryStore(pool)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, log.New(os.Stdout, "[notify] ", log.LstdFlags))
	}

	// Pipeline stages.
	dec := decoder.New()
	minWei, err := parseWei(cfg.Sizing.MinAmountInWei)
	if err != nil {
		return fmt.Errorf("sizing.min_amount_in_wei: %w", err)
	}
	fil := filter.New(filter.Config{
		ConfidenceFloor: cfg.Sizing.ConfidenceFloor,
		BaseFraction:    cfg.Sizing.BaseFraction,
		CapMultiplier:   cfg.Sizing.CapMultiplier,
		MinNotionalUSD:  cfg.Sizing.MinNotionalUSD,
		MinAmountInWei:  minWei,
		CapitalUSD:      cfg.Position.CapitalUSD,
	}, reg, dec, log.New(os.Stdout, "[filter] ", log.LstdFlags), metrics)

	val := risk.NewValidator(risk.Config{
		MaxPriceImpactPct: cfg.Risk.MaxPriceImpactPct,
		MaxGasEstimate:    cfg.Risk.MaxGasEstimate,
	}, ven, log.New(os.Stdout, "[risk] ", log.LstdFlags), metrics)

	exec := executor.New(executor.Config{
		MaxAttempts:    cfg.Executor.MaxAttempts,
		RetryBase:      cfg.Executor.RetryBase,
		RetryMax:       cfg.Executor.RetryMax,
		ConfirmTimeout: cfg.Executor.ConfirmTimeout,
		PollInterval:   cfg.Executor.PollInterval,
		QuoteTTL:       cfg.Risk.QuoteTTL,
	}, ven, rpc, log.New(os.Stdout, "[executor] ", log.LstdFlags), metrics)

	positions := position.NewManager(position.Config{
		TakeProfitMultiplier: cfg.Position.TakeProfitMultiplier,
		StopLossMultiplier:   cfg.Position.StopLossMultiplier,
		MaxHold:              cfg.Position.MaxHold,
		TickInterval:         cfg.Position.TickInterval,
		CapitalUSD:           cfg.Position.CapitalUSD,
		MaxCapitalFraction:   cfg.Position.MaxCapitalFraction,
	}, ven, pipeline.NewCloseBroker(val, exec), history, tradeLog, notifier,
		log.New(os.Stdout, "[position] ", log.LstdFlags), metrics)

	res := resolver.New(rpc, resolver.Config{
		BatchSize:   cfg.Resolver.BatchSize,
		BatchWindow: cfg.Resolver.BatchWindow,
		Concurrency: cfg.Resolver.Concurrency,
	}, log.New(os.Stdout, "[resolver] ", log.LstdFlags), metrics)

	p := pipeline.New(pipeline.Config{
		QueueSize:     cfg.Pipeline.QueueSize,
		ShutdownGrace: cfg.Pipeline.ShutdownGrace,
	}, ws, res, dec, fil, val, exec, positions, tradeLog,
		log.New(os.Stdout, "[pipeline] ", log.LstdFlags), metrics)
	p.SetCloseAllOnStop(cfg.Stop.CloseAll)

	// Emergency stop: flag file or SIGUSR1.
	if cfg.Stop.FlagPath != "" {
		go func() {
			if err := p.WatchStopFlag(ctx, cfg.Stop.FlagPath); err != nil {
				logger.Printf("Stop-flag watch failed: %v", err)
			}
		}()
	}
	go func() {
		usr := make(chan os.Signal, 1)
		signal.Notify(usr, syscall.SIGUSR1)
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr:
				p.EmergencyStop(ctx)
			}
		}
	}()

	logger.Printf("Mirroring %d tracked accounts, capital $%.2f (max fraction %.2f)",
		reg.Len(), cfg.Position.CapitalUSD, cfg.Position.MaxCapitalFraction)

	return p.Run(ctx)
}

func parseWei(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal integer: %q", s)
	}
	return n, nil
}
