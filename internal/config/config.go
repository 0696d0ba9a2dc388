package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/origin"
)

const (
	envVarListenAddr      = "CAMERA_RELAY_LISTEN_ADDR"
	envVarLogFormat       = "CAMERA_RELAY_LOG_FORMAT"
	envVarLogLevel        = "CAMERA_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "CAMERA_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "CAMERA_RELAY_MODE"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Signaling / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Stream health.
	envVarHLSPath                = "HLS_PATH"
	envVarLiveThresholdSeconds   = "STREAM_LIVE_THRESHOLD_SECONDS"
	envVarMinLiveSegments        = "STREAM_MIN_LIVE_SEGMENTS"
	envVarRecommendedPollMs      = "STREAM_RECOMMENDED_POLL_MS"
	envVarStreamCatalog          = "STREAM_CATALOG"
	envVarHealthCheckConcurrency = "HEALTH_CHECK_CONCURRENCY"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultAuthMode AuthMode = AuthModeNone

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultHLSPath                = "./hls"
	DefaultLiveThresholdSeconds   = 12
	DefaultMinLiveSegments        = 2
	DefaultRecommendedPollMs      = 4000
	MinRecommendedPollMs          = 1000
	DefaultHealthCheckConcurrency = 8
	DefaultStreamCatalog          = "mystream:Main Entrance"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// AllowedOrigins is the set of browser origins allowed to open the
	// signaling WebSocket. Empty means same-host only.
	AllowedOrigins []string

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	HLSPath                string
	LiveThresholdSeconds   int
	MinLiveSegments        int
	RecommendedPollMs      int
	HealthCheckConcurrency int
	Streams                []Stream

	// ICEServers is advertised to browsers via GET /webrtc/ice.
	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports a problem with the ICE server env vars. It does not
// fail startup because signaling itself does not need ICE servers.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	authModeStr := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	hlsPath := envOrDefault(lookup, envVarHLSPath, DefaultHLSPath)
	streamCatalog := envOrDefault(lookup, envVarStreamCatalog, DefaultStreamCatalog)

	ice := lookupICEEnv(lookup)

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	liveThresholdSeconds, err := envIntOrDefault(lookup, envVarLiveThresholdSeconds, DefaultLiveThresholdSeconds)
	if err != nil {
		return Config{}, err
	}
	minLiveSegments, err := envIntOrDefault(lookup, envVarMinLiveSegments, DefaultMinLiveSegments)
	if err != nil {
		return Config{}, err
	}
	recommendedPollMs, err := envIntOrDefault(lookup, envVarRecommendedPollMs, DefaultRecommendedPollMs)
	if err != nil {
		return Config{}, err
	}
	healthCheckConcurrency, err := envIntOrDefault(lookup, envVarHealthCheckConcurrency, DefaultHealthCheckConcurrency)
	if err != nil {
		return Config{}, err
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs := flag.NewFlagSet("camera-signal-relay", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Signaling auth mode: none, api_key or jwt (env "+envVarAuthMode+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes; larger messages are dropped (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Per-connection signaling message rate; excess messages are dropped (env "+envVarMaxSignalingMessagesPerSecond+")")

	fs.StringVar(&hlsPath, "hls-path", hlsPath, "Directory holding <streamId>.m3u8 manifests and their segments (env "+envVarHLSPath+")")
	fs.IntVar(&liveThresholdSeconds, "live-threshold-seconds", liveThresholdSeconds, "Manifest age in seconds after which a stream is stale (env "+envVarLiveThresholdSeconds+")")
	fs.IntVar(&minLiveSegments, "min-live-segments", minLiveSegments, "Minimum manifest segment count for a stream to be live (env "+envVarMinLiveSegments+")")
	fs.IntVar(&recommendedPollMs, "recommended-poll-ms", recommendedPollMs, "Health poll interval suggested to clients in milliseconds (env "+envVarRecommendedPollMs+")")
	fs.IntVar(&healthCheckConcurrency, "health-check-concurrency", healthCheckConcurrency, "Max streams checked in parallel (env "+envVarHealthCheckConcurrency+")")
	fs.StringVar(&streamCatalog, "streams", streamCatalog, "Stream catalog as id:name;id2:name2 (env "+envVarStreamCatalog+")")

	ice.registerFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// Flags/env may override these defaults, but if neither is set we choose
	// mode-dependent defaults after the final mode is known.
	logFormatFlagSet := false
	logLevelFlagSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatFlagSet = true
		case "log-level":
			logLevelFlagSet = true
		}
	})
	if !logFormatFlagSet && !envLogFormatSet {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelFlagSet && !envLogLevelSet {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	switch authMode {
	case AuthModeAPIKey:
		if strings.TrimSpace(apiKey) == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
		}
	case AuthModeJWT:
		if strings.TrimSpace(jwtSecret) == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
		}
	}

	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max signaling message bytes must be > 0")
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("max signaling messages per second must be > 0")
	}

	if strings.TrimSpace(hlsPath) == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envVarHLSPath)
	}
	if liveThresholdSeconds < 0 {
		return Config{}, fmt.Errorf("live threshold seconds must be >= 0")
	}
	if minLiveSegments < 1 {
		return Config{}, fmt.Errorf("min live segments must be >= 1")
	}
	if recommendedPollMs < MinRecommendedPollMs {
		recommendedPollMs = MinRecommendedPollMs
	}
	if healthCheckConcurrency <= 0 {
		return Config{}, fmt.Errorf("health check concurrency must be > 0")
	}

	streams, err := ParseStreamCatalog(streamCatalog)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarStreamCatalog, err)
	}

	cfg := Config{
		ListenAddr:                    listenAddr,
		LogFormat:                     logFormat,
		LogLevel:                      logLevel,
		ShutdownTimeout:               shutdownTimeout,
		Mode:                          mode,
		AllowedOrigins:                allowedOrigins,
		AuthMode:                      authMode,
		APIKey:                        apiKey,
		JWTSecret:                     jwtSecret,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		HLSPath:                       hlsPath,
		LiveThresholdSeconds:          liveThresholdSeconds,
		MinLiveSegments:               minLiveSegments,
		RecommendedPollMs:             recommendedPollMs,
		HealthCheckConcurrency:        healthCheckConcurrency,
		Streams:                       streams,
	}

	iceServers, err := ice.servers()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	return newLogger(cfg.LogFormat, cfg.LogLevel)
}

func newLogger(format LogFormat, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch format {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

// parseAllowedOrigins accepts "*" or a comma-separated list of
// scheme://host[:port] origins.
func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, part := range splitCommaSeparated(raw) {
		if part == "*" {
			out = append(out, part)
			continue
		}
		normalized, err := normalizeOriginValue(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", envVarAllowedOrigins, part, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeOriginValue(raw string) (string, error) {
	normalized, _, ok := origin.Normalize(raw)
	if !ok || normalized == "null" {
		return "", fmt.Errorf("expected scheme://host[:port] with scheme http or https")
	}
	return normalized, nil
}
