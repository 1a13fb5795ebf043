// Package main runs an orderless transaction node: the HTTP API, the faucet
// and the transaction processor, started in dependency order through the
// service registry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cmatc13/orderless/internal/api"
	"github.com/cmatc13/orderless/internal/node"
	"github.com/cmatc13/orderless/internal/processor"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/health"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
	"github.com/cmatc13/orderless/pkg/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fs := pflag.NewFlagSet("orderless-node", pflag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	opts := config.DefaultLoadOptions()
	opts.ConfigFile = *configFile
	opts.Flags = fs
	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       logging.ParseLevel(cfg.Log.Level),
		Format:      logging.ParseFormat(cfg.Log.Format),
		Output:      os.Stdout,
		ServiceName: "orderless-node",
		Environment: cfg.Log.Environment,
	})
	if err := run(cfg, logger, *configFile); err != nil {
		logger.Error("Node stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger, configFile string) error {
	if configFile != "" {
		logger.Info("Configuration loaded from file", "path", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(metrics.Config{
		Namespace:         cfg.Metrics.Namespace,
		ServiceName:       "orderless-node",
		RuntimeCollectors: true,
	})

	n, err := node.Open(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Queue.Close(); err != nil {
			logger.Warn("Failed to close queue", "error", err.Error())
		}
	}()

	storeService := storage.NewService(n.Store)
	processorService := processor.NewTransactionProcessorService(n.Processor, storage.ServiceName)

	healthRegistry := health.NewRegistry(logger)
	healthRegistry.Register(processor.ServiceName, health.ServiceChecker(processor.ServiceName,
		func(context.Context) error { return processorService.Health() }))
	apiService := api.NewAPIService(api.NewServer(cfg, n, logger, m, healthRegistry))

	registry := service.NewRegistry(logger)
	for _, svc := range []service.Service{storeService, processorService, apiService} {
		if err := registry.Register(svc); err != nil {
			return err
		}
	}

	logger.Info("Starting all services",
		"chain_id", cfg.Node.ChainID,
		"storage", cfg.Storage.Backend,
		"kafka", cfg.Kafka.Enabled,
		"port", cfg.API.Port,
	)
	if err := registry.StartAll(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = registry.StopAll(shutdownCtx)
		return err
	}
	logger.Info("All services started successfully")

	<-ctx.Done()
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.StopAll(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
