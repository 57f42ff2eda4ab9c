// Package config resolves orchestra settings from built-in defaults, an
// optional TOML or YAML file, ORCHESTRA_* environment variables, and
// command-line overrides, in that order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"orchestra/internal/config/keys"
	"orchestra/internal/logging"
)

const (
	EnvPrefix   = "ORCHESTRA_"
	EnvConfig   = "ORCHESTRA_CONFIG"
	DefaultPath = ".orchestra/config.toml"
)

//go:embed defaults.toml
var defaultsPayload []byte

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

type Settings struct {
	Server      ServerSettings
	Heartbeat   HeartbeatSettings
	Persistence PersistenceSettings
	Replay      ReplaySettings
	Log         LogSettings
	Telemetry   TelemetrySettings

	// Path is the config file that was read, empty when none existed.
	Path    string
	Sources map[string]Source
	// Unknown lists file keys that match no setting.
	Unknown []string
}

type ServerSettings struct {
	Host            string
	Port            int
	MaxPortAttempts int
	MaxFrameBytes   int
	AuthToken       string
	AllowedOrigins  []string
	MetricsInterval time.Duration
	RateLimit       float64
	RateBurst       int
}

type HeartbeatSettings struct {
	Interval time.Duration
	Timeout  time.Duration
}

type PersistenceSettings struct {
	// Path of the SQLite history file. Empty keeps history in memory.
	Path       string
	MaxEntries int
}

type ReplaySettings struct {
	Limit  int
	Window time.Duration
}

type LogSettings struct {
	Level logging.Level
}

// TelemetrySettings configures OTLP/HTTP trace export.
type TelemetrySettings struct {
	Enabled            bool
	Endpoint           string
	ServiceName        string
	ResourceAttributes string
}

type LoadOptions struct {
	// Path of the config file. A missing file is not an error.
	Path string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Overrides come from flags, keyed by dotted setting name.
	Overrides map[string]any
}

// Load resolves settings. Every value's origin is recorded in Sources.
func Load(opts LoadOptions) (Settings, error) {
	defaults, err := keys.DecodeTOML(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("built-in defaults: %w", err)
	}
	values := defaults.Flat()
	sources := make(map[string]Source, len(values))
	for key := range values {
		sources[key] = SourceDefault
	}

	settings := Settings{}
	if path := strings.TrimSpace(opts.Path); path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case err == nil:
			store, err := keys.Decode(path, payload)
			if err != nil {
				return Settings{}, fmt.Errorf("config file %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				if _, known := values[key]; !known {
					settings.Unknown = append(settings.Unknown, key)
					continue
				}
				values[key] = value
				sources[key] = SourceFile
			}
			settings.Path = path
		case errors.Is(err, os.ErrNotExist):
		default:
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
	}
	sort.Strings(settings.Unknown)

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for key := range values {
		if raw, ok := lookup(keys.EnvName(EnvPrefix, key)); ok {
			values[key] = raw
			sources[key] = SourceEnv
		}
	}

	for key, value := range opts.Overrides {
		normalized := keys.NormalizeKey(key)
		if _, known := values[normalized]; !known {
			return Settings{}, fmt.Errorf("unknown setting %q", key)
		}
		values[normalized] = value
		sources[normalized] = SourceFlag
	}

	r := resolver{values: values, sources: sources}
	settings.Server = ServerSettings{
		Host:            r.stringValue("server.host"),
		Port:            r.intValue("server.port"),
		MaxPortAttempts: r.intValue("server.max-port-attempts"),
		MaxFrameBytes:   r.intValue("server.max-frame-bytes"),
		AuthToken:       r.stringValue("server.auth-token"),
		AllowedOrigins:  r.listValue("server.allowed-origins"),
		MetricsInterval: r.durationValue("server.metrics-interval-ms"),
		RateLimit:       r.floatValue("server.rate-limit"),
		RateBurst:       r.intValue("server.rate-burst"),
	}
	settings.Heartbeat = HeartbeatSettings{
		Interval: r.durationValue("heartbeat.interval-ms"),
		Timeout:  r.durationValue("heartbeat.timeout-ms"),
	}
	settings.Persistence = PersistenceSettings{
		Path:       r.stringValue("persistence.path"),
		MaxEntries: r.intValue("persistence.max-entries"),
	}
	settings.Replay = ReplaySettings{
		Limit:  r.intValue("replay.limit"),
		Window: r.durationValue("replay.window-ms"),
	}
	settings.Log = LogSettings{Level: r.levelValue("log.level")}
	settings.Telemetry = TelemetrySettings{
		Enabled:            r.boolValue("telemetry.enabled"),
		Endpoint:           r.stringValue("telemetry.endpoint"),
		ServiceName:        r.stringValue("telemetry.service-name"),
		ResourceAttributes: r.stringValue("telemetry.resource-attributes"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Settings{}, err
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	settings.Sources = sources
	return settings, nil
}

// Keys lists every recognized setting name.
func Keys() []string {
	defaults, err := keys.DecodeTOML(defaultsPayload)
	if err != nil {
		return nil
	}
	return defaults.Keys()
}

func (s Settings) validate() error {
	var errs []error
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", s.Server.Port))
	}
	if s.Server.MaxPortAttempts < 1 {
		errs = append(errs, fmt.Errorf("server.max-port-attempts must be at least 1"))
	}
	if s.Server.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max-frame-bytes must be positive"))
	}
	if s.Server.RateLimit < 0 || s.Server.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("server.rate-limit and server.rate-burst must not be negative"))
	}
	if s.Server.MetricsInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.metrics-interval-ms must be positive"))
	}
	if s.Heartbeat.Interval <= 0 || s.Heartbeat.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat intervals must be positive"))
	} else if s.Heartbeat.Timeout < s.Heartbeat.Interval {
		errs = append(errs, fmt.Errorf("heartbeat.timeout-ms must not be shorter than heartbeat.interval-ms"))
	}
	if s.Persistence.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("persistence.max-entries must be positive"))
	}
	if s.Replay.Limit <= 0 || s.Replay.Window <= 0 {
		errs = append(errs, fmt.Errorf("replay.limit and replay.window-ms must be positive"))
	}
	return errors.Join(errs...)
}

// resolver converts raw values and collects every conversion error.
type resolver struct {
	values  map[string]any
	sources map[string]Source
	errs    []error
}

func (r *resolver) fail(key string, err error) {
	source := r.sources[key]
	if source == SourceEnv {
		r.errs = append(r.errs, fmt.Errorf("%s (from %s): %w", key, keys.EnvName(EnvPrefix, key), err))
		return
	}
	r.errs = append(r.errs, fmt.Errorf("%s (from %s): %w", key, source, err))
}

func (r *resolver) intValue(key string) int {
	value, err := keys.Int(r.values[key])
	if err != nil {
		r.fail(key, err)
	}
	return int(value)
}

func (r *resolver) boolValue(key string) bool {
	value, err := keys.Bool(r.values[key])
	if err != nil {
		r.fail(key, err)
	}
	return value
}

func (r *resolver) floatValue(key string) float64 {
	value, err := keys.Float(r.values[key])
	if err != nil {
		r.fail(key, err)
	}
	return value
}

func (r *resolver) stringValue(key string) string {
	value, err := keys.String(r.values[key])
	if err != nil {
		r.fail(key, err)
	}
	return value
}

func (r *resolver) listValue(key string) []string {
	value, err := keys.Strings(r.values[key])
	if err != nil {
		r.fail(key, err)
	}
	return value
}

func (r *resolver) durationValue(key string) time.Duration {
	return time.Duration(r.intValue(key)) * time.Millisecond
}

func (r *resolver) levelValue(key string) logging.Level {
	raw := r.stringValue(key)
	level, ok := logging.ParseLevel(raw)
	if !ok {
		r.fail(key, fmt.Errorf("unknown log level %q", raw))
		return logging.LevelInfo
	}
	return level
}

// SourceFields renders Sources for a debug log line.
func (s Settings) SourceFields() map[string]string {
	fields := make(map[string]string, len(s.Sources))
	for key, source := range s.Sources {
		fields[key] = string(source)
	}
	return fields
}
