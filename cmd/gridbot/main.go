package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridbot/internal/backtest"
	"gridbot/internal/bot"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/dashboard"
	"gridbot/internal/exchange"
	"gridbot/internal/exchange/binance"
	"gridbot/pkg/logging"
	"gridbot/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "backtest":
		os.Exit(backtestCmd(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: gridbot <command> [flags]

Commands:
  run       Start the trading bot (paper or live per config)
  backtest  Replay a candle CSV through the configured grid
  version   Show version and exit

Run 'gridbot <command> -h' for command flags.
`)
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/gridbot.yaml", "Path to configuration file")
	withDashboard := fs.Bool("dashboard", false, "Force the dashboard on regardless of config")
	noDashboard := fs.Bool("no-dashboard", false, "Force the dashboard off regardless of config")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *withDashboard {
		cfg.Dashboard.Enabled = true
	}
	if *noDashboard {
		cfg.Dashboard.Enabled = false
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting gridbot",
		"version", version,
		"exchange", cfg.Exchange.Name,
		"pairs", len(cfg.Grids),
		"paper_trading", cfg.PaperTrading.Enabled,
	)

	tel, err := telemetry.Setup("gridbot")
	if err != nil {
		logger.Warn("Telemetry setup failed, continuing without it", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", "error", err)
			}
		}()
	}
	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	}

	opts := bot.Options{}
	if !cfg.PaperTrading.Enabled {
		venue := binance.NewClient(binance.Config{
			APIKey:    string(cfg.Exchange.APIKey),
			APISecret: string(cfg.Exchange.APISecret),
			Sandbox:   cfg.Exchange.Sandbox,
		}, logger)
		adapter, err := exchange.NewLiveExchange(venue, cfg.Exchange.RateLimitMs, logger)
		if err != nil {
			logger.Error("Failed to create live adapter", "error", err)
			return 1
		}
		opts.Adapter = adapter
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator := bot.New(cfg, opts, logger)
	if err := orchestrator.Start(ctx); err != nil {
		logger.Error("Bot start failed", "error", err)
		return 1
	}

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Options{
			Addr:           fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port),
			EnableControls: cfg.Dashboard.EnableControls,
		}, orchestrator, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Dashboard server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-orchestrator.Done():
		// Loop exited on its own, typically an emergency halt
		logger.Warn("Bot loop exited, shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := orchestrator.Stop(stopCtx); err != nil {
		logger.Error("Shutdown did not complete cleanly", "error", err)
		return 1
	}

	snap := orchestrator.StateSnapshot()
	if snap.Status == core.StatusError {
		logger.Error("Bot exited in error state", "halted", snap.GlobalHalt)
		return 1
	}
	logger.Info("Shutdown complete")
	return 0
}

func backtestCmd(args []string) int {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "configs/gridbot.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to OHLCV candle CSV (required)")
	initialBalance := fs.Float64("initial-balance", 0, "Override the starting quote balance")
	initialBase := fs.Float64("initial-base", 0, "Starting base asset balance")
	fs.Parse(args)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "backtest requires -data pointing at a candle CSV")
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	logging.SetGlobalLogger(logger)

	runnerCfg := backtest.RunnerConfig{
		Grid:         cfg.Grids[0],
		InitialQuote: cfg.Pool.InitialBalanceQuote,
		InitialBase:  *initialBase,
		FeePct:       cfg.PaperTrading.SimulatedFeePct,
	}
	if *initialBalance > 0 {
		runnerCfg.InitialQuote = *initialBalance
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := backtest.RunFromCSV(ctx, runnerCfg, *dataPath, logger)
	if err != nil {
		logger.Error("Backtest failed", "error", err)
		return 1
	}

	fmt.Println(report.Summary())
	return 0
}
