// Package config manages the rendezvous daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables, merged on top of a
// built-in default layer (SPEC_FULL.md §1.1).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete rendezvous daemon configuration.
type Config struct {
	Transport  TransportConfig  `koanf:"transport"`
	Identity   IdentityConfig   `koanf:"identity"`
	Membership MembershipConfig `koanf:"membership"`
	Heartbeat  HeartbeatConfig  `koanf:"heartbeat"`
	Request    RequestConfig    `koanf:"request"`
	Notify     NotifyConfig     `koanf:"notify"`
	Admin      AdminConfig      `koanf:"admin"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
}

// TransportConfig holds the WebSocket listener configuration.
type TransportConfig struct {
	// Addr is the HTTP/WebSocket listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
	// Path is the URL path the /ws handler is mounted under.
	Path string `koanf:"path"`
}

// IdentityConfig holds bearer-token verification settings.
type IdentityConfig struct {
	// JWKSAddr is the key-server address used to resolve signing keys
	// by `kid`. Nothing reads it: the current verifier is HMAC-only and
	// keys off HMACSecrets instead.
	JWKSAddr string `koanf:"jwks_addr"`
	// HMACSecrets maps a token's `kid` header to its shared secret,
	// allowing multiple keys active at once for hitless rotation. A
	// single-entry map needs no `kid` header on issued tokens at all.
	HMACSecrets map[string]string `koanf:"hmac_secrets"`
	// ExpectedIssuer rejects tokens whose iss claim does not match,
	// when non-empty.
	ExpectedIssuer string `koanf:"expected_issuer"`
	// ClockSkew tolerates drift when validating exp/nbf.
	ClockSkew time.Duration `koanf:"clock_skew"`
}

// MembershipConfig holds the active-network resolver's upstream
// settings.
type MembershipConfig struct {
	// BaseURL is the membership service's base URL.
	BaseURL string `koanf:"base_url"`
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// MaxElapsed bounds the total retry budget for a lookup.
	MaxElapsed time.Duration `koanf:"max_elapsed"`
}

// HeartbeatConfig holds the connection-liveness sweep settings.
type HeartbeatConfig struct {
	// Interval is the sweep period (spec.md §4.7 default: 30s).
	Interval time.Duration `koanf:"interval"`
}

// RequestConfig holds the connection-request registry settings.
type RequestConfig struct {
	// TTL is the lifetime of a pending connection request before it
	// expires unanswered (spec.md §4.1 default: 30s).
	TTL time.Duration `koanf:"ttl"`
}

// NotifyConfig holds the Slack presence-notifier settings. Disabled
// when Enabled is false; when Enabled is true, Validate rejects an empty
// BotToken or ChannelID.
type NotifyConfig struct {
	Enabled   bool   `koanf:"enabled"`
	BotToken  string `koanf:"bot_token"`
	ChannelID string `koanf:"channel_id"`
}

// AdminConfig holds the plain-JSON introspection surface's listener.
type AdminConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Addr: ":8080",
			Path: "/ws",
		},
		Identity: IdentityConfig{
			ClockSkew: 30 * time.Second,
		},
		Membership: MembershipConfig{
			RequestTimeout: 2 * time.Second,
			MaxElapsed:     3 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Request: RequestConfig{
			TTL: 30 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
		Admin: AdminConfig{
			Addr: ":8081",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rendezvous
// configuration. Variables are named RENDEZVOUS_<section>_<key>, e.g.
// RENDEZVOUS_TRANSPORT_ADDR.
const envPrefix = "RENDEZVOUS_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (RENDEZVOUS_ prefix), and merges on
// top of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RENDEZVOUS_TRANSPORT_ADDR   -> transport.addr
//	RENDEZVOUS_IDENTITY_JWKS_ADDR -> identity.jwks_addr
//	RENDEZVOUS_MEMBERSHIP_BASE_URL -> membership.base_url
//	RENDEZVOUS_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RENDEZVOUS_TRANSPORT_ADDR -> transport.addr.
// Strips the RENDEZVOUS_ prefix, lowercases, and replaces the first _
// (the section separator) with ., so multi-word keys such as
// identity.jwks_addr keep their underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base
// layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"transport.addr":           defaults.Transport.Addr,
		"transport.path":           defaults.Transport.Path,
		"identity.clock_skew":      defaults.Identity.ClockSkew.String(),
		"membership.request_timeout": defaults.Membership.RequestTimeout.String(),
		"membership.max_elapsed":   defaults.Membership.MaxElapsed.String(),
		"heartbeat.interval":       defaults.Heartbeat.Interval.String(),
		"request.ttl":              defaults.Request.TTL.String(),
		"notify.enabled":           defaults.Notify.Enabled,
		"admin.addr":               defaults.Admin.Addr,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyTransportAddr indicates the WebSocket listen address is empty.
	ErrEmptyTransportAddr = errors.New("transport.addr must not be empty")

	// ErrEmptyTransportPath indicates the WebSocket mount path is empty.
	ErrEmptyTransportPath = errors.New("transport.path must not be empty")

	// ErrInvalidHeartbeatInterval indicates the heartbeat interval is non-positive.
	ErrInvalidHeartbeatInterval = errors.New("heartbeat.interval must be > 0")

	// ErrInvalidRequestTTL indicates the request TTL is non-positive.
	ErrInvalidRequestTTL = errors.New("request.ttl must be > 0")

	// ErrNotifyMissingChannel indicates notify.enabled is true but no channel was configured.
	ErrNotifyMissingChannel = errors.New("notify.channel_id must be set when notify.enabled is true")

	// ErrNotifyMissingToken indicates notify.enabled is true but no bot token was configured.
	ErrNotifyMissingToken = errors.New("notify.bot_token must be set when notify.enabled is true")
)

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Transport.Addr == "" {
		return ErrEmptyTransportAddr
	}

	if cfg.Transport.Path == "" {
		return ErrEmptyTransportPath
	}

	if cfg.Heartbeat.Interval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	if cfg.Request.TTL <= 0 {
		return ErrInvalidRequestTTL
	}

	if cfg.Notify.Enabled {
		if cfg.Notify.ChannelID == "" {
			return ErrNotifyMissingChannel
		}
		if cfg.Notify.BotToken == "" {
			return ErrNotifyMissingToken
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
