package main

import (
	"log/slog"
	"os"
	"slices"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
)

// minJWTSecretBytes matches the HS256 key size.
const minJWTSecretBytes = 32

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication for /signal and /hls",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeJWT && len(cfg.JWTSecret) < minJWTSecretBytes {
		logger.Warn("startup security warning: JWT_SECRET is shorter than 32 bytes",
			"warning_code", "jwt_secret_short",
			"jwt_secret_bytes", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (SDP payloads are a few KiB; large caps increase per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	// Not a security issue, but every stream would report OFFLINE.
	if fi, err := os.Stat(cfg.HLSPath); err != nil || !fi.IsDir() {
		attrs := []any{
			"warning_code", "hls_path_missing",
			"hls_path", cfg.HLSPath,
			"mode", cfg.Mode,
		}
		if err != nil {
			attrs = append(attrs, "err", err)
		}
		logger.Warn("startup warning: HLS_PATH is not a readable directory; streams will report OFFLINE", attrs...)
	}
}
