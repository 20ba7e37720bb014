package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/web"
)

// defaultToken matches the controller firmware's factory token.
const defaultToken = "devtoken"

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		Token          string   `yaml:"token"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Mock        bool  `yaml:"mock"`
	AllowedPins []int `yaml:"allowed_pins"`
	Store       struct {
		Driver string `yaml:"driver"` // "bolt" or "sqlite"
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Chat struct {
		APIURL  string        `yaml:"api_url"`
		APIKey  string        `yaml:"api_key"`
		BotID   string        `yaml:"bot_id"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"chat"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	Automation struct {
		ScriptsDir string `yaml:"scripts_dir"`
	} `yaml:"automation"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Replay struct {
		MaxSkew  time.Duration `yaml:"max_skew"`
		NonceTTL time.Duration `yaml:"nonce_ttl"`
	} `yaml:"replay"`
	Heartbeat struct {
		SSEInterval    time.Duration `yaml:"sse_interval"`
		WSPingInterval time.Duration `yaml:"ws_ping_interval"`
		WSPongTimeout  time.Duration `yaml:"ws_pong_timeout"`
	} `yaml:"heartbeat"`
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("store.driver must be bolt or sqlite, got %q", c.Store.Driver)
	}
	if c.Web.Token == "" {
		return fmt.Errorf("web.token is required")
	}
	for _, p := range c.AllowedPins {
		if p < 0 {
			return fmt.Errorf("allowed_pins: invalid pin %d", p)
		}
	}
	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"chat.timeout", c.Chat.Timeout},
		{"replay.max_skew", c.Replay.MaxSkew},
		{"replay.nonce_ttl", c.Replay.NonceTTL},
		{"heartbeat.sse_interval", c.Heartbeat.SSEInterval},
		{"heartbeat.ws_ping_interval", c.Heartbeat.WSPingInterval},
		{"heartbeat.ws_pong_timeout", c.Heartbeat.WSPongTimeout},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", iv.name, iv.d)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// loadConfig reads path, expands ${VAR} references, applies environment
// overrides and fills defaults. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("LIGHTLINK_TOKEN"); v != "" {
		cfg.Web.Token = v
	}
	if getenv("LIGHTLINK_MOCK") == "1" {
		cfg.Mock = true
	}
	if v := getenv("CHATBASE_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := getenv("CHATBASE_BOT_ID"); v != "" {
		cfg.Chat.BotID = v
	}
	if v := getenv("CHATBASE_API_URL"); v != "" {
		cfg.Chat.APIURL = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Web.Token == "" {
		cfg.Web.Token = defaultToken
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "bolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "lightlink.db"
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = 30 * time.Second
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lightlink"
	}
	if cfg.Automation.ScriptsDir == "" {
		cfg.Automation.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Replay.MaxSkew == 0 {
		cfg.Replay.MaxSkew = core.DefaultMaxSkew
	}
	if cfg.Replay.NonceTTL == 0 {
		cfg.Replay.NonceTTL = core.DefaultNonceTTL
	}
	if cfg.Heartbeat.SSEInterval == 0 {
		cfg.Heartbeat.SSEInterval = web.DefaultSSEInterval
	}
	if cfg.Heartbeat.WSPingInterval == 0 {
		cfg.Heartbeat.WSPingInterval = web.DefaultPingInterval
	}
	if cfg.Heartbeat.WSPongTimeout == 0 {
		cfg.Heartbeat.WSPongTimeout = web.DefaultPongTimeout
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
