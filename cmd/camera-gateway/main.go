package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/gateway"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadGateway(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewGatewayLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	client, err := gateway.New(gateway.Config{
		SignalURL:  cfg.DialURL(),
		Streams:    cfg.Streams,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to configure gateway", "err", err)
		os.Exit(2)
	}

	// SignalURL, not DialURL: the latter carries credentials.
	logger.Info("starting camera-gateway",
		"signal_url", cfg.SignalURL,
		"streams", cfg.Streams,
		"reconnect_delay", cfg.ReconnectDelay.String(),
		"ice_servers", len(cfg.ICEServers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Maintain(ctx, cfg.ReconnectDelay); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway exited", "err", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
