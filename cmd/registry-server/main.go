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

	"github.com/liquidnet/asset-registry/internal/api/server"
	"github.com/liquidnet/asset-registry/internal/chain"
	"github.com/liquidnet/asset-registry/internal/config"
	"github.com/liquidnet/asset-registry/internal/domainproof"
	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/store"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "registry-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("starting asset registry",
		zap.String("db_path", cfg.DBPath),
		zap.String("esplora_url", cfg.EsploraURL),
	)
	if cfg.DomainProofBase != "" {
		logger.Warn("development mode: domain proofs are fetched from a fixed base",
			zap.String("base", cfg.DomainProofBase))
	}

	db, err := store.Open(store.Config{
		Path:    cfg.DBPath,
		HookCmd: cfg.HookCmd,
		Chain:   chain.NewClient(cfg.EsploraURL, cfg.HTTPTimeout),
		Proof:   domainproof.New(cfg.DomainProofBase, cfg.HTTPTimeout),
	})
	if err != nil {
		logger.Fatal("failed to open asset database", zap.Error(err))
	}

	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, db)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error(err, zap.String("component", "server"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err)
	}
}
