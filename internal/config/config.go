/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	DBBackend DatabaseBackend
	DBDSN     string

	ZoneConfigPath  string // path to the zones.json device/channel map
	SystemSoundRoot string // directory of pre-recorded chimes/jingles/background tracks

	TTSBinary   string // piper (or compatible) executable
	TTSVoiceDir string
	TTSDefaultVoice string

	SchedulerTickInterval time.Duration
	HeartbeatWarnAfter    time.Duration
	HeartbeatKillAfter    time.Duration
	RehydrationEnabled    bool

	SirenRampSteps    int
	SirenRampDuration time.Duration
	SirenDefaultLevel float64

	JWTSigningKey     string
	AdminUsers        []string
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration

	MetricsBind  string
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"PA_ENV", "RLM_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"PA_HTTP_BIND", "RLM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"PA_HTTP_PORT", "RLM_HTTP_PORT"}, 8080),

		DBBackend: DatabaseBackend(getEnvAny([]string{"PA_DB_BACKEND", "RLM_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"PA_DB_DSN", "RLM_DB_DSN"}, "pa_controller.db"),

		ZoneConfigPath:  getEnvAny([]string{"PA_ZONE_CONFIG", "RLM_ZONE_CONFIG"}, "./zones_config.json"),
		SystemSoundRoot: getEnvAny([]string{"PA_SOUND_ROOT", "RLM_SOUND_ROOT"}, "./sounds"),

		TTSBinary:       getEnvAny([]string{"PA_TTS_BINARY", "RLM_TTS_BINARY"}, "piper"),
		TTSVoiceDir:     getEnvAny([]string{"PA_TTS_VOICE_DIR", "RLM_TTS_VOICE_DIR"}, "./voices"),
		TTSDefaultVoice: getEnvAny([]string{"PA_TTS_DEFAULT_VOICE", "RLM_TTS_DEFAULT_VOICE"}, "amy"),

		SchedulerTickInterval: time.Duration(getEnvIntAny([]string{"PA_SCHEDULER_TICK_SECONDS", "RLM_SCHEDULER_TICK_SECONDS"}, 1)) * time.Second,
		HeartbeatWarnAfter:    time.Duration(getEnvIntAny([]string{"PA_HEARTBEAT_WARN_SECONDS", "RLM_HEARTBEAT_WARN_SECONDS"}, 15)) * time.Second,
		HeartbeatKillAfter:    time.Duration(getEnvIntAny([]string{"PA_HEARTBEAT_KILL_SECONDS", "RLM_HEARTBEAT_KILL_SECONDS"}, 25)) * time.Second,
		RehydrationEnabled:    getEnvBoolAny([]string{"PA_REHYDRATE_ON_START", "RLM_REHYDRATE_ON_START"}, true),

		SirenRampSteps:    getEnvIntAny([]string{"PA_SIREN_RAMP_STEPS", "RLM_SIREN_RAMP_STEPS"}, 20),
		SirenRampDuration: time.Duration(getEnvIntAny([]string{"PA_SIREN_RAMP_MILLIS", "RLM_SIREN_RAMP_MILLIS"}, 5000)) * time.Millisecond,
		SirenDefaultLevel: getEnvFloatAny([]string{"PA_SIREN_DEFAULT_LEVEL", "RLM_SIREN_DEFAULT_LEVEL"}, 0.6),

		JWTSigningKey:     getEnvAny([]string{"PA_JWT_SIGNING_KEY", "RLM_JWT_SIGNING_KEY"}, ""),
		AdminUsers:        splitAndTrim(getEnvAny([]string{"PA_ADMIN_USERS", "RLM_ADMIN_USERS"}, "System,System Admin,Admin")),
		AdminUsername:     getEnvAny([]string{"PA_ADMIN_USERNAME", "RLM_ADMIN_USERNAME"}, "admin"),
		AdminPasswordHash: getEnvAny([]string{"PA_ADMIN_PASSWORD_HASH", "RLM_ADMIN_PASSWORD_HASH"}, ""),
		TokenTTL:          time.Duration(getEnvIntAny([]string{"PA_TOKEN_TTL_MINUTES", "RLM_TOKEN_TTL_MINUTES"}, 720)) * time.Minute,

		MetricsBind:       getEnvAny([]string{"PA_METRICS_BIND", "RLM_METRICS_BIND"}, "127.0.0.1:9000"),
		TracingEnabled:    getEnvBoolAny([]string{"PA_TRACING_ENABLED", "RLM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PA_OTLP_ENDPOINT", "RLM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PA_TRACING_SAMPLE_RATE", "RLM_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("PA_DB_DSN or RLM_DB_DSN must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("PA_JWT_SIGNING_KEY or RLM_JWT_SIGNING_KEY must be set in production")
		}
		if cfg.ZoneConfigPath == "" {
			return nil, fmt.Errorf("PA_ZONE_CONFIG must be set in production")
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use PA_ENV (or RLM_ENV)",
		"JWT_SIGNING_KEY":     "use PA_JWT_SIGNING_KEY (or RLM_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use PA_TRACING_ENABLED (or RLM_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use PA_OTLP_ENDPOINT (or RLM_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use PA_TRACING_SAMPLE_RATE (or RLM_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
