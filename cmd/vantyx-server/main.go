// vantyx-server is the chat relay: it validates browser requests, streams
// completions from the upstream AI provider over SSE and tracks spend
// against the monthly budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/config"
	"github.com/mujians/vantyx-assistant/pkg/providers"
	"github.com/mujians/vantyx-assistant/pkg/server"
	"github.com/mujians/vantyx-assistant/pkg/telemetry"
	"github.com/mujians/vantyx-assistant/pkg/usage"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "vantyx-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Upstream.APIKey == "" {
		return fmt.Errorf("missing upstream API key (VANTYX_UPSTREAM_API_KEY)")
	}

	logger, err := buildLogger(cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	sink, err := telemetry.Init(cfg.Telemetry.SentryDSN, cfg.Telemetry.Environment, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer sink.Close()

	tracker := usage.NewTracker(logger.Named("usage"))
	monitor := usage.NewBudgetMonitor(tracker, cfg.Budget.MonthlyLimitUSD, cfg.Budget.Thresholds)

	var provider providers.LLMProvider = providers.NewHTTPProvider(cfg.Upstream.APIKey, cfg.Upstream.APIBase)
	provider = providers.NewResilientProvider(provider, logger.Named("breaker"))
	provider = providers.NewTrackedProvider(provider, tracker, monitor, sink, logger.Named("tracking"))

	pruner := usage.NewPruner(tracker, monitor, cfg.Budget.PruneSchedule, logger.Named("pruner"))
	if err := pruner.Start(); err != nil {
		return fmt.Errorf("start pruner: %w", err)
	}
	defer pruner.Stop()

	srv := server.New(cfg.Server, provider, tracker, monitor, sink, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
