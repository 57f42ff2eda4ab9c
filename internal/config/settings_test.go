package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orchestra/internal/logging"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(LoadOptions{LookupEnv: noEnv})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Server.Port != 7777 || settings.Server.MaxPortAttempts != 10 {
		t.Fatalf("unexpected server defaults %+v", settings.Server)
	}
	if settings.Server.MaxFrameBytes != 1<<20 {
		t.Fatalf("expected 1 MiB frame limit, got %d", settings.Server.MaxFrameBytes)
	}
	if settings.Heartbeat.Interval != 30*time.Second || settings.Heartbeat.Timeout != 90*time.Second {
		t.Fatalf("unexpected heartbeat defaults %+v", settings.Heartbeat)
	}
	if settings.Persistence.Path != ".orchestra/messages.db" || settings.Persistence.MaxEntries != 10000 {
		t.Fatalf("unexpected persistence defaults %+v", settings.Persistence)
	}
	if settings.Replay.Limit != 100 || settings.Replay.Window != 5*time.Minute {
		t.Fatalf("unexpected replay defaults %+v", settings.Replay)
	}
	if settings.Log.Level != logging.LevelInfo {
		t.Fatalf("expected info level, got %q", settings.Log.Level)
	}
	if settings.Path != "" {
		t.Fatalf("expected no file, got %q", settings.Path)
	}
	if settings.Sources["server.port"] != SourceDefault {
		t.Fatalf("expected default source, got %q", settings.Sources["server.port"])
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "orchestra.toml", `[server]
port = 8000
host = "127.0.0.1"
max-frame-bytes = 2048

[log]
level = "debug"
`)
	settings, err := Load(LoadOptions{
		Path: path,
		LookupEnv: envMap(map[string]string{
			"ORCHESTRA_SERVER_PORT":            "8100",
			"ORCHESTRA_SERVER_ALLOWED_ORIGINS": "ui.example, localhost",
		}),
		Overrides: map[string]any{"server.port": int64(8200)},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Server.Port != 8200 || settings.Sources["server.port"] != SourceFlag {
		t.Fatalf("expected flag to win, got %d from %s", settings.Server.Port, settings.Sources["server.port"])
	}
	if settings.Server.Host != "127.0.0.1" || settings.Sources["server.host"] != SourceFile {
		t.Fatalf("expected file host, got %q from %s", settings.Server.Host, settings.Sources["server.host"])
	}
	if settings.Server.MaxFrameBytes != 2048 {
		t.Fatalf("expected file frame limit, got %d", settings.Server.MaxFrameBytes)
	}
	if len(settings.Server.AllowedOrigins) != 2 || settings.Sources["server.allowed-origins"] != SourceEnv {
		t.Fatalf("expected env origins, got %v", settings.Server.AllowedOrigins)
	}
	if settings.Log.Level != logging.LevelDebug {
		t.Fatalf("expected debug from file, got %q", settings.Log.Level)
	}
	if settings.Path != path {
		t.Fatalf("expected path %q, got %q", path, settings.Path)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "orchestra.yaml", `server:
  port: 9100
persistence:
  path: ""
replay:
  window-ms: 1000
unexpected: 1
`)
	settings, err := Load(LoadOptions{Path: path, LookupEnv: noEnv})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Server.Port != 9100 {
		t.Fatalf("expected 9100, got %d", settings.Server.Port)
	}
	if settings.Persistence.Path != "" {
		t.Fatalf("expected memory persistence, got %q", settings.Persistence.Path)
	}
	if settings.Replay.Window != time.Second {
		t.Fatalf("expected 1s window, got %v", settings.Replay.Window)
	}
	if len(settings.Unknown) != 1 || settings.Unknown[0] != "unexpected" {
		t.Fatalf("expected unknown key to be reported, got %v", settings.Unknown)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		opts LoadOptions
		want string
	}{
		{
			name: "env not a number",
			opts: LoadOptions{LookupEnv: envMap(map[string]string{"ORCHESTRA_SERVER_PORT": "abc"})},
			want: "ORCHESTRA_SERVER_PORT",
		},
		{
			name: "port out of range",
			opts: LoadOptions{LookupEnv: noEnv, Overrides: map[string]any{"server.port": int64(70000)}},
			want: "out of range",
		},
		{
			name: "bad log level",
			opts: LoadOptions{LookupEnv: noEnv, Overrides: map[string]any{"log.level": "loud"}},
			want: "unknown log level",
		},
		{
			name: "unknown override",
			opts: LoadOptions{LookupEnv: noEnv, Overrides: map[string]any{"server.colour": "blue"}},
			want: "unknown setting",
		},
		{
			name: "timeout shorter than interval",
			opts: LoadOptions{LookupEnv: noEnv, Overrides: map[string]any{"heartbeat.timeout-ms": int64(10)}},
			want: "heartbeat.timeout-ms",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "orchestra.toml", "server = [")
	if _, err := Load(LoadOptions{Path: path, LookupEnv: noEnv}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseOverrides(t *testing.T) {
	overrides, err := ParseOverrides([]string{"Server.Port=9000", "log.level=debug", "server.rate-limit=2.5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if overrides["server.port"] != int64(9000) {
		t.Fatalf("expected int override, got %#v", overrides["server.port"])
	}
	if overrides["log.level"] != "debug" {
		t.Fatalf("expected string override, got %#v", overrides["log.level"])
	}
	settings, err := Load(LoadOptions{LookupEnv: noEnv, Overrides: overrides})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Server.RateLimit != 2.5 {
		t.Fatalf("expected rate 2.5, got %v", settings.Server.RateLimit)
	}
	if _, err := ParseOverrides([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing value")
	}
	if _, err := ParseOverrides([]string{"=1"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestKeysListsEverySetting(t *testing.T) {
	all := Keys()
	want := map[string]bool{"server.port": false, "heartbeat.timeout-ms": false, "log.level": false}
	for _, key := range all {
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("expected %s in %v", key, all)
		}
	}
}

func TestLoadTelemetryFromEnv(t *testing.T) {
	settings, err := Load(LoadOptions{LookupEnv: envMap(map[string]string{
		"ORCHESTRA_TELEMETRY_ENABLED":  "true",
		"ORCHESTRA_TELEMETRY_ENDPOINT": "collector:4318",
	})})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !settings.Telemetry.Enabled || settings.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("unexpected telemetry %+v", settings.Telemetry)
	}
	if settings.Telemetry.ServiceName != "orchestra" {
		t.Fatalf("expected default service name, got %q", settings.Telemetry.ServiceName)
	}
}
