package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anyhost/meshnet/internal/common"
	"github.com/anyhost/meshnet/meshnet"
)

var (
	listenAddr string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a Service that listens for inbound sessions",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().StringVarP(&listenAddr, "addr", "a", "/ip4/0.0.0.0/tcp/9000", "Multiaddr to listen on")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddrs = []string{listenAddr}
	}

	identity, err := meshnet.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	registry, err := meshnet.NewProtocolRegistry([]*meshnet.ProtocolMeta{
		meshnet.NewEchoProtocolMeta(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to build protocol registry: %w", err)
	}

	svc := meshnet.NewService(meshnet.ServiceOptions{
		Registry: registry,
		Config:   cfg,
		Identity: identity,
		Logger:   logger,
	})

	go svc.Run()

	for _, addr := range cfg.ListenAddrs {
		svc.Listen(meshnet.Multiaddr(addr))
	}

	logger.Info("peer listening", slog.Any("addrs", cfg.ListenAddrs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	svc.Control().Shutdown(false)
	<-svc.Terminated()
	return nil
}

func loadServiceConfig() (*common.ServiceConfig, error) {
	if configFile == "" {
		return common.DefaultServiceConfig(), nil
	}
	cfg, err := common.LoadServiceConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
