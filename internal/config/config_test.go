package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("AuthMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if cfg.HLSPath != DefaultHLSPath {
		t.Fatalf("HLSPath=%q, want %q", cfg.HLSPath, DefaultHLSPath)
	}
	if cfg.LiveThresholdSeconds != 12 {
		t.Fatalf("LiveThresholdSeconds=%d, want 12", cfg.LiveThresholdSeconds)
	}
	if cfg.MinLiveSegments != 2 {
		t.Fatalf("MinLiveSegments=%d, want 2", cfg.MinLiveSegments)
	}
	if cfg.RecommendedPollMs != 4000 {
		t.Fatalf("RecommendedPollMs=%d, want 4000", cfg.RecommendedPollMs)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if want := []Stream{{ID: "mystream", Name: "Main Entrance"}}; !reflect.DeepEqual(cfg.Streams, want) {
		t.Fatalf("Streams=%v, want %v", cfg.Streams, want)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestExplicitLogFormatSurvivesModeChange(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarLogFormat: "text",
	}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestHealthSettingsFromEnvAndFlags(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarHLSPath:              "/srv/hls",
		envVarLiveThresholdSeconds: "20",
		envVarMinLiveSegments:      "3",
		envVarStreamCatalog:        "front:Front Door;back",
	}), []string{"--recommended-poll-ms", "2500", "--shutdown-timeout", "5s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HLSPath != "/srv/hls" {
		t.Fatalf("HLSPath=%q, want /srv/hls", cfg.HLSPath)
	}
	if cfg.LiveThresholdSeconds != 20 || cfg.MinLiveSegments != 3 {
		t.Fatalf("thresholds=(%d,%d), want (20,3)", cfg.LiveThresholdSeconds, cfg.MinLiveSegments)
	}
	if cfg.RecommendedPollMs != 2500 {
		t.Fatalf("RecommendedPollMs=%d, want 2500", cfg.RecommendedPollMs)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout=%v, want 5s", cfg.ShutdownTimeout)
	}
	want := []Stream{{ID: "front", Name: "Front Door"}, {ID: "back", Name: "back"}}
	if !reflect.DeepEqual(cfg.Streams, want) {
		t.Fatalf("Streams=%v, want %v", cfg.Streams, want)
	}
}

func TestRecommendedPollIsFloored(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarRecommendedPollMs: "200",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RecommendedPollMs != MinRecommendedPollMs {
		t.Fatalf("RecommendedPollMs=%d, want %d", cfg.RecommendedPollMs, MinRecommendedPollMs)
	}
}

func TestAuthModeRequiresSecrets(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "api_key"}), nil); err == nil {
		t.Fatalf("expected error for api_key without API_KEY")
	}
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "jwt"}), nil); err == nil {
		t.Fatalf("expected error for jwt without JWT_SECRET")
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarAuthMode:  "JWT",
		envVarJWTSecret: "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT || cfg.JWTSecret != "s3cret" {
		t.Fatalf("auth=(%q,%q), want (jwt,s3cret)", cfg.AuthMode, cfg.JWTSecret)
	}
}

func TestInvalidValues(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"mode":              {envVarMode: "staging"},
		"log level":         {envVarLogLevel: "loud"},
		"auth mode":         {envVarAuthMode: "basic"},
		"threshold":         {envVarLiveThresholdSeconds: "-1"},
		"min segments":      {envVarMinLiveSegments: "0"},
		"non-numeric":       {envVarMinLiveSegments: "two"},
		"message bytes":     {envVarMaxSignalingMessageBytes: "0"},
		"origin path":       {envVarAllowedOrigins: "https://example.com/app"},
		"origin scheme":     {envVarAllowedOrigins: "ftp://example.com"},
		"catalog id":        {envVarStreamCatalog: "../etc:bad"},
		"shutdown timeout":  {envVarShutdownTimeout: "soon"},
		"check concurrency": {envVarHealthCheckConcurrency: "0"},
	} {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAllowedOriginsAreNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "HTTPS://Example.com, http://localhost:5173/, *",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CAMERA_RELAY_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CAMERA_RELAY_TEST_DOTENV", "")
	os.Unsetenv("CAMERA_RELAY_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CAMERA_RELAY_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("env=%q, want from-file", got)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CAMERA_RELAY_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CAMERA_RELAY_TEST_DOTENV", "from-env")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CAMERA_RELAY_TEST_DOTENV"); got != "from-env" {
		t.Fatalf("env=%q, want from-env", got)
	}
}
