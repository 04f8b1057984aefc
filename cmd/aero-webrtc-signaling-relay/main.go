package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/tlsconfig"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
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

	var tlsCfg *tls.Config
	if cfg.TLSEnabled() {
		tlsCfg, err = tlsconfig.Load(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSPassphrase)
		if err != nil {
			logger.Error("failed to load TLS material",
				"err", err,
				"cert_file", cfg.TLSCertFile,
				"key_file", cfg.TLSKeyFile,
			)
			os.Exit(2)
		}
	}

	logger.Info("starting aero-webrtc-signaling-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"tls", tlsCfg != nil,
		"ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"peer_send_queue", cfg.PeerSendQueueSize,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, tlsCfg)
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	rooms := room.NewTable()
	registry := signaling.NewRegistry(rooms, cfg.PeerSendQueueSize)
	if err := registerCollectors(m, registry, rooms); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(2)
	}

	sig := signaling.NewServer(signaling.Config{
		Registry:             registry,
		Router:               signaling.NewRouter(registry, rooms, logger, m),
		Metrics:              m,
		Logger:               logger,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are invisible to Shutdown, so close them
	// explicitly first.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func registerCollectors(m *metrics.Metrics, registry *signaling.Registry, rooms *room.Table) error {
	if err := m.Registry().Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := m.Registry().Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}
	if err := m.RegisterGauge("peers", "Connected signaling peers.", func() float64 {
		return float64(registry.Len())
	}); err != nil {
		return err
	}
	return m.RegisterGauge("rooms", "Rooms with at least one member.", func() float64 {
		return float64(rooms.Len())
	})
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
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
