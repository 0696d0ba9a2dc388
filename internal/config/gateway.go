package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarGatewaySignalURL      = "SIGNAL_URL"
	envVarGatewayStreams        = "GATEWAY_STREAMS"
	envVarGatewayReconnectDelay = "GATEWAY_RECONNECT_DELAY"
	envVarGatewayAPIKey         = "GATEWAY_API_KEY"
	envVarGatewayToken          = "GATEWAY_TOKEN"
	envVarGatewayMode           = "CAMERA_GATEWAY_MODE"
	envVarGatewayLogFormat      = "CAMERA_GATEWAY_LOG_FORMAT"
	envVarGatewayLogLevel       = "CAMERA_GATEWAY_LOG_LEVEL"

	DefaultGatewaySignalURL      = "ws://localhost:8080/signal"
	DefaultGatewayStreams        = "mystream"
	DefaultGatewayReconnectDelay = 3 * time.Second
)

// GatewayConfig configures the camera gateway process.
type GatewayConfig struct {
	SignalURL      string
	Streams        []string
	ReconnectDelay time.Duration

	// APIKey or Token is appended to SignalURL as the apiKey/token query
	// parameter when the relay requires authentication.
	APIKey string
	Token  string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ICEServers []webrtc.ICEServer
}

// DialURL returns SignalURL with credentials attached.
func (c GatewayConfig) DialURL() string {
	if c.APIKey == "" && c.Token == "" {
		return c.SignalURL
	}
	u, err := url.Parse(c.SignalURL)
	if err != nil {
		return c.SignalURL
	}
	q := u.Query()
	if c.APIKey != "" {
		q.Set("apiKey", c.APIKey)
	}
	if c.Token != "" {
		q.Set("token", c.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func LoadGateway(args []string) (GatewayConfig, error) {
	return loadGateway(os.LookupEnv, args)
}

func loadGateway(lookup func(string) (string, bool), args []string) (GatewayConfig, error) {
	signalURL := envOrDefault(lookup, envVarGatewaySignalURL, DefaultGatewaySignalURL)
	streamsStr := envOrDefault(lookup, envVarGatewayStreams, DefaultGatewayStreams)
	apiKey := envOrDefault(lookup, envVarGatewayAPIKey, "")
	token := envOrDefault(lookup, envVarGatewayToken, "")
	modeStr := envOrDefault(lookup, envVarGatewayMode, string(DefaultMode))
	logFormatStr := envOrDefault(lookup, envVarGatewayLogFormat, "")
	logLevelStr := envOrDefault(lookup, envVarGatewayLogLevel, "")
	ice := lookupICEEnv(lookup)

	reconnectDelay := DefaultGatewayReconnectDelay
	if raw, ok := lookup(envVarGatewayReconnectDelay); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid %s %q: %w", envVarGatewayReconnectDelay, raw, err)
		}
		reconnectDelay = d
	}

	fs := flag.NewFlagSet("camera-gateway", flag.ContinueOnError)
	fs.StringVar(&signalURL, "signal-url", signalURL, "Relay signaling WebSocket URL (env "+envVarGatewaySignalURL+")")
	fs.StringVar(&streamsStr, "streams", streamsStr, "Comma-separated stream ids served by this gateway (env "+envVarGatewayStreams+")")
	fs.DurationVar(&reconnectDelay, "reconnect-delay", reconnectDelay, "Delay before reconnecting to the relay (env "+envVarGatewayReconnectDelay+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "API key presented to the relay (env "+envVarGatewayAPIKey+")")
	fs.StringVar(&token, "token", token, "JWT presented to the relay (env "+envVarGatewayToken+")")
	fs.StringVar(&modeStr, "mode", modeStr, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (default depends on mode)")
	ice.registerFlags(fs)

	if err := fs.Parse(args); err != nil {
		return GatewayConfig{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return GatewayConfig{}, err
	}
	if logFormatStr == "" {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if logLevelStr == "" {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return GatewayConfig{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return GatewayConfig{}, err
	}

	u, err := url.Parse(strings.TrimSpace(signalURL))
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid %s %q: %w", envVarGatewaySignalURL, signalURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return GatewayConfig{}, fmt.Errorf("invalid %s %q: scheme must be ws or wss", envVarGatewaySignalURL, signalURL)
	}

	var streams []string
	for _, id := range splitCommaSeparated(streamsStr) {
		if !IsValidStreamID(id) {
			return GatewayConfig{}, fmt.Errorf("invalid stream id %q in %s", id, envVarGatewayStreams)
		}
		streams = append(streams, id)
	}
	if len(streams) == 0 {
		return GatewayConfig{}, fmt.Errorf("%s must list at least one stream", envVarGatewayStreams)
	}
	if reconnectDelay <= 0 {
		return GatewayConfig{}, fmt.Errorf("reconnect delay must be > 0")
	}

	iceServers, err := ice.servers()
	if err != nil {
		return GatewayConfig{}, err
	}

	return GatewayConfig{
		SignalURL:      u.String(),
		Streams:        streams,
		ReconnectDelay: reconnectDelay,
		APIKey:         apiKey,
		Token:          token,
		Mode:           mode,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		ICEServers:     iceServers,
	}, nil
}

func NewGatewayLogger(cfg GatewayConfig) (*slog.Logger, error) {
	return newLogger(cfg.LogFormat, cfg.LogLevel)
}
