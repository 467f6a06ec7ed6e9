package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/qrdia/dpp-provisioner/internal/config"
	"github.com/qrdia/dpp-provisioner/internal/crypto"
	"github.com/qrdia/dpp-provisioner/internal/hostapd"
	"github.com/qrdia/dpp-provisioner/internal/logging"
	"github.com/qrdia/dpp-provisioner/internal/server"
	"github.com/qrdia/dpp-provisioner/internal/service"
	"github.com/qrdia/dpp-provisioner/internal/storage/bolt"
)

func main() {
	flags := pflag.NewFlagSet("dpp-backend", pflag.ExitOnError)
	configPath := flags.String("config", "config.yaml", "path to config file")
	envFile := flags.String("env-file", ".env", "path to a dotenv file")
	flags.String("listen", "", "backend API listen address")
	flags.String("registry-db", "", "bolt database path for the device registry")
	flags.String("interface", "", "hostapd control interface name")
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
		logger.Error("backend stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := bolt.New(cfg.BackendServer.StoragePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var sealer *crypto.Sealer
	if cfg.Storage.SealKey != "" {
		if sealer, err = crypto.NewSealer(cfg.Storage.SealKey); err != nil {
			return fmt.Errorf("init sealer: %w", err)
		}
	}

	var configurator service.Configurator = service.NopConfigurator{}
	var health server.Pinger
	if cfg.Hostapd.Enabled {
		client := hostapd.NewClient(cfg.Hostapd.SocketDir, cfg.Hostapd.Interface, cfg.Hostapd.Timeout)
		configurator = hostapd.NewConfigurator(client, logger)
		health = client
		logger.Info("hostapd configurator enabled", "socket", client.SocketPath())
	} else {
		logger.Warn("hostapd disabled, devices are registered without a DPP exchange")
	}

	registry := service.NewRegistryService(store, configurator, sealer, logger)
	srv := server.NewBackend(server.BackendConfig{
		Addr:         cfg.BackendServer.Addr,
		Token:        cfg.BackendServer.Token,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, registry, health, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("backend API listening", "addr", cfg.BackendServer.Addr)
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
