package main

import (
	"context"
	"errors"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"portfolioLedger/config"
	"portfolioLedger/internal/adapters/binanceclient"
	"portfolioLedger/internal/adapters/logger"
	"portfolioLedger/internal/adapters/marketclient"
	"portfolioLedger/internal/adapters/postgres"
	"portfolioLedger/internal/adapters/sqlite"
	"portfolioLedger/internal/app"
	"portfolioLedger/internal/breaker"
	"portfolioLedger/internal/cli"
	"portfolioLedger/internal/pricing"
	"portfolioLedger/internal/ports"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
		return 1
	}

	// 2. Initialize Logger
	appLogger := logger.NewZapLogger(cfg.LogLevel)
	defer appLogger.Sync()
	appLogger.Debug(ctx, "Logger initialized", ports.Fields{"level": cfg.LogLevel.String()})

	// 3. Initialize Store (Database Adapter)
	store, err := openStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize store", ports.Fields{"driver": cfg.DBDriver})
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing store")
		}
	}()

	// 4. Initialize Price Source
	source, err := openPriceSource(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price source", ports.Fields{"source": cfg.PriceSource})
		return 1
	}

	// 5. Initialize Pricing Gateway
	gateway, err := pricing.NewGateway(pricing.Config{
		Source: source,
		Logger: appLogger,
		Breaker: breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenDuration:     cfg.BreakerOpenDuration,
			HalfOpenTrials:   cfg.BreakerHalfOpenTrials,
		},
		CallTimeout: cfg.PricingCallTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize pricing gateway")
		return 1
	}

	// 6. Initialize Trade Executor
	executor, err := app.NewTradeExecutor(
		app.ExecutorConfig{HistoryWindow: cfg.HistoryWindow()},
		appLogger,
		gateway,
		store, // ledger
		store, // journal
		store, // transaction manager
	)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade executor")
		return 1
	}

	// 7. Run the command
	if err := cli.Execute(ctx, cli.Deps{Service: executor, Pricing: gateway}, os.Args[1:]); err != nil {
		var tradeErr *cli.TradeFailedError
		if !errors.As(err, &tradeErr) {
			snap := gateway.Snapshot()
			appLogger.Debug(ctx, "Command failed", ports.Fields{
				"error":                err.Error(),
				"breaker":              snap.State.String(),
				"consecutive_failures": snap.ConsecutiveFailures,
			})
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, appLogger ports.Logger) (ports.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.NewRepository(ctx, postgres.Config{
			DSN:    cfg.DatabaseDSN,
			Logger: appLogger,
		})
	default:
		return sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
	}
}

func openPriceSource(ctx context.Context, cfg *config.Config, appLogger ports.Logger) (ports.PriceSource, error) {
	switch cfg.PriceSource {
	case config.SourceBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			QuoteAsset: cfg.QuoteAsset,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, err
		}
		// Connectivity is only reported; the breaker handles an unreachable source.
		if err := client.Ping(ctx); err != nil {
			appLogger.Warn(ctx, "Binance ping failed", ports.Fields{"error": err.Error()})
		}
		return client, nil
	default:
		mcfg := marketclient.ConfigDefaults()
		mcfg.BaseURL = cfg.MarketServiceURL
		mcfg.RateLimitPerMin = cfg.MarketRateLimitPerMin
		mcfg.Logger = appLogger
		return marketclient.NewClient(mcfg)
	}
}
