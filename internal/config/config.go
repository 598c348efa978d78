package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// DefaultModel is the built-in fallback when neither the session nor
	// the settings store names a model.
	DefaultModel = "qwen/qwen-2-72b-instruct"

	// PlaceholderAPIKey is the template value shipped in sample configs;
	// treated the same as an unset trial key.
	PlaceholderAPIKey = "YOUR_OPENROUTER_API_KEY_HERE"

	DefaultProviderType   = "openai"
	DefaultOpenAIBaseURL  = "https://openrouter.ai/api/v1"
	DefaultGoogleBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	DefaultReferer        = "https://kostiks.com"
	DefaultAppTitle       = "snapback-luo"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18690
	DefaultTimeoutSeconds = 60
	DefaultSessionTTL     = "30m"
	DefaultSessionSweep   = "@every 10m"
	DefaultBufSize        = 100
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Session  SessionConfig  `json:"session"`
}

type ProviderConfig struct {
	Type        string `json:"type,omitempty"` // "openai" (default) or "google"
	TrialAPIKey string `json:"trialApiKey,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
	Referer     string `json:"referer,omitempty"`
	Title       string `json:"title,omitempty"`
}

type GatewayConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type SessionConfig struct {
	TTL        string `json:"ttl,omitempty"`        // idle lifetime, Go duration
	SweepEvery string `json:"sweepEvery,omitempty"` // cron spec for the expiry sweep
}

func DefaultConfig() *Config {
	return &Config{
		// Provider.Type stays empty here so LoadConfig can infer "google"
		// from GEMINI_API_KEY; the end of LoadConfig fills the default.
		Provider: ProviderConfig{
			Referer: DefaultReferer,
			Title:   DefaultAppTitle,
		},
		Gateway: GatewayConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Channels: ChannelsConfig{},
		Store:    StoreConfig{},
		Session: SessionConfig{
			TTL:        DefaultSessionTTL,
			SweepEvery: DefaultSessionSweep,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".snapback")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Provider.TrialAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Provider.TrialAPIKey == "" {
		cfg.Provider.TrialAPIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "google"
		}
	}
	if typ := os.Getenv("SNAPBACK_PROVIDER"); typ != "" {
		cfg.Provider.Type = typ
	}
	if url := os.Getenv("SNAPBACK_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("SNAPBACK_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("SNAPBACK_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if port := os.Getenv("SNAPBACK_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}

	if cfg.Provider.Type == "" {
		cfg.Provider.Type = DefaultProviderType
	}
	if cfg.Provider.BaseURL == "" {
		switch cfg.Provider.Type {
		case "google":
			cfg.Provider.BaseURL = DefaultGoogleBaseURL
		default:
			cfg.Provider.BaseURL = DefaultOpenAIBaseURL
		}
	}
	if cfg.Provider.Referer == "" {
		cfg.Provider.Referer = DefaultReferer
	}
	if cfg.Provider.Title == "" {
		cfg.Provider.Title = DefaultAppTitle
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(ConfigDir(), "data", "snapback.db")
	}
	if cfg.Gateway.TimeoutSeconds <= 0 {
		cfg.Gateway.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Session.TTL == "" {
		cfg.Session.TTL = DefaultSessionTTL
	}
	if cfg.Session.SweepEvery == "" {
		cfg.Session.SweepEvery = DefaultSessionSweep
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
