package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultInstance        = "main"
	DefaultHTTPAddr        = ":8080"
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultGraphAPIVersion = "v21.0"
	DefaultJWTExpiresIn    = "24h"
	DefaultSweepSchedule   = "@every 10m"
	DefaultStaleAfter      = "35m"
	DefaultFallbackBotID   = 1
)

// Config represents the global ~/.focos/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`
	// DataDir overrides the per-instance directory under ~/.focos/instances.
	DataDir string `toml:"data_dir"`

	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Webhook      WebhookConfig      `toml:"webhook"`
	Auth         AuthConfig         `toml:"auth"`
	WhatsApp     WhatsAppConfig     `toml:"whatsapp"`
	Media        MediaConfig        `toml:"media"`
	Assignment   AssignmentConfig   `toml:"assignment"`
	Realtime     RealtimeConfig     `toml:"realtime"`
	Integrations IntegrationsConfig `toml:"integrations"`
	Outbox       OutboxConfig       `toml:"outbox"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicURL is the externally reachable base URL, used to build media links.
	PublicURL string `toml:"public_url"`
}

type WebhookConfig struct {
	VerifyToken string `toml:"verify_token"`
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string `toml:"app_secret"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type WhatsAppConfig struct {
	GraphBaseURL   string `toml:"graph_base_url"`
	APIVersion     string `toml:"api_version"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type MediaConfig struct {
	MaxBytes       int64 `toml:"max_bytes"`
	TimeoutSeconds int   `toml:"timeout_seconds"`
}

type AssignmentConfig struct {
	SweepSchedule string `toml:"sweep_schedule"`
	StaleAfter    string `toml:"stale_after"`
	FallbackBotID int64  `toml:"fallback_bot_id"`
}

type RealtimeConfig struct {
	RateLimit     int    `toml:"rate_limit"`
	RateWindow    string `toml:"rate_window"`
	PruneInterval string `toml:"prune_interval"`
}

type IntegrationsConfig struct {
	CacheTTL string `toml:"cache_ttl"`
}

type OutboxConfig struct {
	PollInterval string  `toml:"poll_interval"`
	RPS          float64 `toml:"rps"`
	Burst        int     `toml:"burst"`
}

// Default returns a config populated with every default value.
func Default() Config {
	return Config{
		DefaultInstance: DefaultInstance,
		Log:             LogConfig{Level: "info"},
		Server:          ServerConfig{Addr: DefaultHTTPAddr},
		Auth:            AuthConfig{JWTExpiresIn: DefaultJWTExpiresIn},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL:   DefaultGraphBaseURL,
			APIVersion:     DefaultGraphAPIVersion,
			TimeoutSeconds: 20,
		},
		Media: MediaConfig{
			MaxBytes:       100 * 1024 * 1024,
			TimeoutSeconds: 30,
		},
		Assignment: AssignmentConfig{
			SweepSchedule: DefaultSweepSchedule,
			StaleAfter:    DefaultStaleAfter,
			FallbackBotID: DefaultFallbackBotID,
		},
		Realtime: RealtimeConfig{
			RateLimit:     30,
			RateWindow:    "1m",
			PruneInterval: "1m",
		},
		Integrations: IntegrationsConfig{CacheTTL: "10m"},
		Outbox: OutboxConfig{
			PollInterval: "500ms",
			RPS:          20,
			Burst:        5,
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing; use LoadOrDefault when a file is optional.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := Default()
		applyEnv(&d)
		return &d, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if c.Webhook.VerifyToken == "" {
		return errors.New("webhook.verify_token is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	for name, raw := range map[string]string{
		"auth.jwt_expires_in":     c.Auth.JWTExpiresIn,
		"assignment.stale_after":  c.Assignment.StaleAfter,
		"realtime.rate_window":    c.Realtime.RateWindow,
		"realtime.prune_interval": c.Realtime.PruneInterval,
		"integrations.cache_ttl":  c.Integrations.CacheTTL,
		"outbox.poll_interval":    c.Outbox.PollInterval,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration setting, falling back to def when it is empty or invalid.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

var envStrings = map[string]func(*Config) *string{
	"FOCOS_HTTP_ADDR":      func(c *Config) *string { return &c.Server.Addr },
	"FOCOS_PUBLIC_URL":     func(c *Config) *string { return &c.Server.PublicURL },
	"FOCOS_DATA_DIR":       func(c *Config) *string { return &c.DataDir },
	"FOCOS_LOG_LEVEL":      func(c *Config) *string { return &c.Log.Level },
	"FOCOS_VERIFY_TOKEN":   func(c *Config) *string { return &c.Webhook.VerifyToken },
	"FOCOS_APP_SECRET":     func(c *Config) *string { return &c.Webhook.AppSecret },
	"FOCOS_JWT_SECRET":     func(c *Config) *string { return &c.Auth.JWTSecret },
	"FOCOS_GRAPH_BASE_URL": func(c *Config) *string { return &c.WhatsApp.GraphBaseURL },
}

func applyEnv(cfg *Config) {
	for key, field := range envStrings {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field(cfg) = v
		}
	}
	if v, ok := os.LookupEnv("FOCOS_FALLBACK_BOT_ID"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Assignment.FallbackBotID = id
		}
	}
}
