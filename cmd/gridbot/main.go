package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridbot/internal/backtest"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/exchange/binance"
	"gridbot/internal/grid"
	"gridbot/internal/infrastructure/health"
	"gridbot/internal/infrastructure/metrics"
	"gridbot/internal/marketdata"
	"gridbot/internal/ranker"
	"gridbot/internal/rotator"
	"gridbot/internal/scanner"
	"gridbot/internal/scorer"
	"gridbot/internal/store"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/logging"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Exit codes consumed by the process supervisor.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitAuth      = 3
	exitVenue     = 4
	exitInterrupt = 130
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/gridbot.yaml", "Path to application config")
	symbolsPath := flag.String("symbols", "configs/symbols.json", "Path to engine symbols document")
	backtestCSV := flag.String("backtest", "", "Replay a candle CSV instead of trading")
	backtestSym := flag.String("symbol", "", "Symbol for backtest mode")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
		return exitOK
	}

	appCfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}

	logger, err := logging.NewLoggerFromString(appCfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitConfig
	}

	engineCfg, err := config.LoadEngineConfig(*symbolsPath)
	if err != nil {
		logger.Error("Engine config rejected", "error", err)
		return exitConfig
	}

	if *backtestCSV != "" {
		return runBacktest(*backtestCSV, *backtestSym, engineCfg, logger)
	}
	return runLive(appCfg, engineCfg, logger)
}

func runLive(appCfg *config.AppConfig, engineCfg *config.EngineConfig, logger core.ILogger) int {
	logger.Info("Starting gridbot", "version", version, "exchange", appCfg.Exchange.Name)

	tel, err := telemetry.Setup("gridbot")
	if err != nil {
		logger.Error("Telemetry setup failed", "error", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	holder := telemetry.GetGlobalMetrics()

	exch := binance.New(binance.Config{
		APIKey:    appCfg.Exchange.APIKey,
		SecretKey: appCfg.Exchange.SecretKey,
		BaseURL:   appCfg.Exchange.BaseURL,
		StreamURL: appCfg.Exchange.StreamURL,
		Timeout:   time.Duration(appCfg.Exchange.TimeoutSec) * time.Second,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := exch.LoadMarkets(ctx); err != nil {
		logger.Error("Failed to load markets", "error", err)
		return exitCodeFor(err)
	}

	balance, err := exch.FetchBalance(ctx, appCfg.Exchange.QuoteAsset)
	if err != nil {
		logger.Error("Failed to fetch balance", "error", err)
		return exitCodeFor(err)
	}
	logger.Info("Account balance",
		"asset", balance.Asset, "available", balance.Available, "total", balance.Total)

	// Positions left open by a previous session are logged up front so
	// operators can reconcile them against the restored grid state.
	positions, err := exch.FetchPositions(ctx, "")
	if err != nil {
		logger.Warn("Failed to fetch open positions", "error", err)
	}
	for _, pos := range positions {
		logger.Info("Open position on venue",
			"symbol", pos.Symbol, "side", pos.Side, "qty", pos.Qty,
			"entry", pos.EntryPrice, "unrealized", pos.Unrealized)
	}

	st, err := store.NewSQLiteStore(appCfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open state store", "error", err)
		return exitFailure
	}
	defer st.Close()

	symbols := engineCfg.EnabledSymbols()
	provider := marketdata.NewProvider(exch, logger)
	if err := provider.Start(ctx, symbols); err != nil {
		logger.Error("Market data start failed", "error", err)
		return exitVenue
	}
	defer func() { _ = provider.Stop() }()

	ledger := engine.NewLedger(balance.Available)
	sup := engine.NewSupervisor(
		exch, provider, ledger, st, logger, holder,
		decimal.NewFromFloat(engineCfg.Global.MaxDrawdown),
		engineCfg.Global.MaxPositions,
	)
	defer sup.StopAll()

	for _, sym := range symbols {
		params := gridParamsFor(engineCfg.Symbols[sym], engineCfg.Global)
		if err := sup.StartSymbol(ctx, sym, params); err != nil {
			logger.Error("Failed to start symbol", "symbol", sym, "error", err)
			return exitCodeFor(err)
		}
	}
	logger.Info("Grid workers started", "symbols", symbols)

	monitor := health.NewManager(logger)
	monitor.Register("market_data", func() error {
		if !provider.Healthy() {
			return apperrors.ErrUnhealthy
		}
		return nil
	})
	monitor.Register("stream", func() error {
		if !exch.StreamHealthy() {
			return apperrors.ErrUnhealthy
		}
		return nil
	})

	var opsServer *metrics.Server
	if appCfg.Telemetry.EnableMetrics && appCfg.Telemetry.MetricsPort > 0 {
		opsServer = metrics.NewServer(appCfg.Telemetry.MetricsPort, monitor.Handler(), logger)
		opsServer.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = opsServer.Stop(stopCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	reporter := engine.NewHeartbeatReporter(sup, logger,
		time.Duration(appCfg.System.HeartbeatInterval)*time.Second)
	reporter.SetHealthMonitor(monitor)
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})

	sc := scorer.New(provider, logger, holder)
	scn := scanner.New(provider, scanner.Config{
		QuoteAsset:     appCfg.Exchange.QuoteAsset,
		Days:           appCfg.Scanner.Days,
		MinAmplitude:   appCfg.Scanner.MinAmplitude,
		MaxAmplitude:   appCfg.Scanner.MaxAmplitude,
		MaxTotalChange: appCfg.Scanner.MaxTotalChange,
		MinVolume24h:   appCfg.Scanner.MinVolume24h,
		BatchSize:      appCfg.Scanner.BatchSize,
		TopN:           appCfg.Scanner.TopN,
		Blocklist:      appCfg.Scanner.Blocklist,
	}, logger, holder)

	rk := ranker.New(sc, nil, logger)
	rk.SetUpdateInterval(time.Duration(appCfg.Rotator.UpdateIntervalMin) * time.Minute)
	rot := rotator.New(rk, sup, st, nil, logger, holder, rotator.Config{
		Cooldown:          time.Duration(appCfg.Rotator.MinCooldownHours) * time.Hour,
		MaxPerWeek:        appCfg.Rotator.MaxRotationsPerWeek,
		ScoreGapThreshold: appCfg.Rotator.ScoreThreshold,
		RejectionTTL:      time.Duration(appCfg.Rotator.RejectionCooldownHrs) * time.Hour,
	})

	g.Go(func() error {
		rotationLoop(gctx, scn, rk, rot, sup, engineCfg, logger,
			time.Duration(appCfg.Rotator.UpdateIntervalMin)*time.Minute)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	sup.StopAll()
	_ = g.Wait()
	logger.Info("gridbot stopped")

	if sig == syscall.SIGINT {
		return exitInterrupt
	}
	return exitOK
}

// rotationLoop periodically rescans the universe, refreshes rankings,
// and acts on rotation signals for running symbols.
func rotationLoop(ctx context.Context, scn *scanner.Scanner, rk *ranker.Ranker,
	rot *rotator.Rotator, sup *engine.Supervisor, engineCfg *config.EngineConfig,
	logger core.ILogger, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		candidates, err := scn.Scan(ctx)
		if err != nil {
			logger.Warn("Universe scan failed", "error", err)
			continue
		}

		running := make(map[string]bool)
		universe := make([]string, 0, len(candidates))
		for _, c := range candidates {
			universe = append(universe, c.Symbol)
		}
		for _, st := range sup.Status() {
			if st.Running {
				running[st.Symbol] = true
				universe = appendUnique(universe, st.Symbol)
			}
		}
		rk.SetUniverse(universe)

		for sym := range running {
			sig, err := rot.Evaluate(ctx, sym)
			if err != nil {
				logger.Warn("Rotation evaluation failed", "symbol", sym, "error", err)
				continue
			}
			if sig == nil {
				continue
			}
			if err := executeRotation(ctx, sig, rot, sup, engineCfg, logger); err != nil {
				logger.Error("Rotation failed", "from", sig.FromSymbol, "to", sig.ToSymbol, "error", err)
			}
		}
	}
}

// executeRotation stops the outgoing grid and starts the incoming one
// with the outgoing symbol's parameters unless the target has its own.
func executeRotation(ctx context.Context, sig *core.RotationSignal, rot *rotator.Rotator,
	sup *engine.Supervisor, engineCfg *config.EngineConfig, logger core.ILogger) error {

	symCfg, ok := engineCfg.Symbols[sig.ToSymbol]
	if !ok {
		symCfg = engineCfg.Symbols[sig.FromSymbol]
	}
	params := gridParamsFor(symCfg, engineCfg.Global)

	if err := sup.StopSymbol(sig.FromSymbol); err != nil {
		return err
	}
	if err := sup.StartSymbol(ctx, sig.ToSymbol, params); err != nil {
		return err
	}
	logger.Info("Rotated grid", "from", sig.FromSymbol, "to", sig.ToSymbol, "gap", sig.ScoreDiff)
	return rot.RecordRotation(ctx, sig)
}

func runBacktest(csvPath, symbol string, engineCfg *config.EngineConfig, logger core.ILogger) int {
	if symbol == "" {
		fmt.Fprintln(os.Stderr, "backtest mode requires -symbol")
		return exitConfig
	}
	symCfg, ok := engineCfg.Symbols[symbol]
	if !ok {
		fmt.Fprintf(os.Stderr, "symbol %s not present in engine config\n", symbol)
		return exitConfig
	}

	candles, err := backtest.LoadCandlesCSV(csvPath)
	if err != nil {
		logger.Error("Failed to load candles", "error", err)
		return exitConfig
	}

	result, err := backtest.Run(context.Background(), backtest.Config{
		Symbol:         symbol,
		Params:         gridParamsFor(symCfg, engineCfg.Global),
		OpeningBalance: decimal.NewFromInt(10000),
		MaxDrawdown:    decimal.NewFromFloat(engineCfg.Global.MaxDrawdown),
		MaxPositions:   engineCfg.Global.MaxPositions,
	}, backtest.TicksFromCandles(candles), logger)
	if err != nil {
		logger.Error("Backtest failed", "error", err)
		return exitFailure
	}

	fmt.Printf("ticks: %d  trades: %d\n", result.Ticks, len(result.Trades))
	fmt.Printf("realized pnl: %s  final equity: %s\n", result.RealizedPnL, result.FinalEquity)
	fmt.Printf("open exposure: long %s short %s\n", result.LongExposure, result.ShortExposure)
	if result.Halted {
		fmt.Printf("halted: %s\n", result.StopReason)
	}
	return exitOK
}

// gridParamsFor converts one symbol's config entry to grid parameters.
func gridParamsFor(sc config.SymbolConfig, global config.GlobalConfig) grid.Params {
	return grid.Params{
		BaseQty:             decimal.NewFromFloat(sc.InitialQuantity),
		TakeProfitSpacing:   decimal.NewFromFloat(sc.TakeProfitSpacing),
		GridSpacing:         decimal.NewFromFloat(sc.GridSpacing),
		Leverage:            int64(sc.Leverage),
		ThresholdMultiplier: decimal.NewFromFloat(sc.ThresholdMultiplier),
		LimitMultiplier:     decimal.NewFromFloat(sc.LimitMultiplier),
		FeePct:              decimal.NewFromFloat(global.FeePct),
	}
}

// exitCodeFor maps startup errors to process exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrAuthenticationFailed):
		return exitAuth
	case errors.Is(err, apperrors.ErrConfigurationInvalid):
		return exitConfig
	default:
		return exitVenue
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
