package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/hls"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	logger.Info("starting camera-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"hls_path", cfg.HLSPath,
		"streams", len(cfg.Streams),
		"live_threshold_seconds", cfg.LiveThresholdSeconds,
		"min_live_segments", cfg.MinLiveSegments,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ICE server configuration is invalid; /webrtc/ice and /readyz will report it", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()
	router := signaling.NewRouter(logger, m)
	sig := signaling.NewWebSocketServer(router, signaling.WebSocketConfig{
		Origins:              origin.NewPolicy(cfg.AllowedOrigins),
		AuthMode:             cfg.AuthMode,
		Verifier:             verifier,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		Logger:               logger,
		Metrics:              m,
	})
	monitor := hls.NewMonitor(hls.MonitorConfig{
		Dir:                  cfg.HLSPath,
		LiveThresholdSeconds: cfg.LiveThresholdSeconds,
		MinLiveSegments:      cfg.MinLiveSegments,
		Concurrency:          cfg.HealthCheckConcurrency,
		Metrics:              m,
		Logger:               logger,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
		Router:    router,
		Signaling: sig,
		Monitor:   monitor,
		Metrics:   m,
		Verifier:  verifier,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	// Shutdown does not touch hijacked connections.
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags values win; go run and dev builds fall back to VCS stamping.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
