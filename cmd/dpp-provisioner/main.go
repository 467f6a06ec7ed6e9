package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/qrdia/dpp-provisioner/internal/config"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/gateway/remote"
	"github.com/qrdia/dpp-provisioner/internal/gateway/simulated"
	"github.com/qrdia/dpp-provisioner/internal/history"
	"github.com/qrdia/dpp-provisioner/internal/logging"
	"github.com/qrdia/dpp-provisioner/internal/notify"
	"github.com/qrdia/dpp-provisioner/internal/scan"
	"github.com/qrdia/dpp-provisioner/internal/server"
	"github.com/qrdia/dpp-provisioner/internal/service"
	"github.com/qrdia/dpp-provisioner/internal/session"
	"github.com/qrdia/dpp-provisioner/internal/storage/bolt"
)

// HistoryKey is where the provisioning ledger lives in the store.
const HistoryKey = "qrdia_history"

func main() {
	flags := pflag.NewFlagSet("dpp-provisioner", pflag.ExitOnError)
	configPath := flags.String("config", "config.yaml", "path to config file")
	envFile := flags.String("env-file", ".env", "path to a dotenv file")
	flags.String("addr", "", "operator API listen address")
	flags.String("backend-url", "", "provisioning backend base URL")
	flags.Bool("demo", false, "start with the simulated backend")
	flags.String("db", "", "bolt database path")
	flags.String("scan-source", "", "file to read bootstrap payloads from, - for stdin")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Parse(os.Args[1:])

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("%v", err)
	}
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("provisioner stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := bolt.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sim := simulated.New(store, simulated.Options{
		MinDelay: cfg.Simulator.MinDelay,
		MaxDelay: cfg.Simulator.MaxDelay,
		FailMACs: cfg.Simulator.FailMACs,
	})
	if cfg.Simulator.Seed {
		if err := sim.Seed(ctx); err != nil {
			return fmt.Errorf("seed simulator: %w", err)
		}
	}

	var network gateway.Gateway
	var backend server.Pinger
	if cfg.Backend.BaseURL != "" {
		client, err := remote.New(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.RequestTimeout)
		if err != nil {
			return fmt.Errorf("init backend client: %w", err)
		}
		network, backend = client, client
	} else {
		logger.Warn("no backend.base_url configured, network mode falls back to the simulator")
	}
	sw := gateway.NewSwitch(store, sim, network, cfg.Simulator.DemoDefault)

	g, ctx := errgroup.WithContext(ctx)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		notifier = tg
		g.Go(func() error { return tg.Run(ctx) })
	}

	ledger := history.New(store, HistoryKey)
	provisioning := service.NewProvisioningService(session.NewStore(), sw, ledger, notifier, logger, service.ProvisioningOptions{
		CallTimeout: cfg.Session.CallTimeout,
		MaxParallel: cfg.Session.MaxParallel,
	})

	if src := cfg.Scan.Source; src != "" {
		reader, closer, err := openSource(src)
		if err != nil {
			return fmt.Errorf("open scan source: %w", err)
		}
		defer closer.Close()
		loop := scan.NewLoop(scan.NewLineSource(reader), provisioning, cfg.Scan.Interval, logger)
		g.Go(func() error { return loop.Run(ctx) })
	}

	srv := server.New(cfg, provisioning, service.NewHistoryService(ledger), sw, service.NewAuthService(cfg), backend, logger).
		WithFailureInjection(sim)
	g.Go(func() error {
		logger.Info("operator API listening", "addr", cfg.HTTP.Addr)
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSource(src string) (io.Reader, io.Closer, error) {
	if src == "-" {
		return os.Stdin, io.NopCloser(nil), nil
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
