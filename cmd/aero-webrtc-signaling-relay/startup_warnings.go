package main

import (
	"context"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.TLSEnabled() {
		level := slog.LevelInfo
		if cfg.Mode == config.ModeProd {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "startup security warning: TLS is not configured; signaling traffic (SDP, ICE candidates) is sent in plaintext unless a proxy terminates TLS",
			"warning_code", "tls_disabled",
			"mode", cfg.Mode,
		)
	}

	if origin.NewPolicy(cfg.AllowedOrigins).AllowsAny() {
		level := slog.LevelInfo
		if cfg.Mode == config.ModeProd {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "startup security warning: ALLOWED_ORIGINS contains '*' (any web page can join rooms)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large while --mode=prod",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /webrtc/ice and /readyz will fail until fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}
}
