package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/web"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LIGHTLINK_TOKEN", "LIGHTLINK_MOCK", "CHATBASE_API_KEY", "CHATBASE_BOT_ID", "CHATBASE_API_URL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
	if cfg.Web.Token != defaultToken {
		t.Errorf("token = %q", cfg.Web.Token)
	}
	if cfg.Store.Driver != "bolt" || cfg.Store.Path != "lightlink.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.MQTT.TopicPrefix != "lightlink" {
		t.Errorf("topic prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Replay.MaxSkew != core.DefaultMaxSkew || cfg.Replay.NonceTTL != core.DefaultNonceTTL {
		t.Errorf("replay = %+v", cfg.Replay)
	}
	if cfg.Heartbeat.SSEInterval != web.DefaultSSEInterval {
		t.Errorf("sse interval = %s", cfg.Heartbeat.SSEInterval)
	}
	if cfg.Mock {
		t.Error("mock should default to false")
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_MQTT_PASSWORD", "s3cret")
	path := writeConfig(t, `
web:
  listen: ":9090"
  token: filetoken
  allowed_origins: ["http://panel.local"]
mock: true
allowed_pins: [19, 21]
store:
  driver: sqlite
  path: /tmp/lights.db
chat:
  timeout: 5s
mqtt:
  enabled: true
  broker: tcp://broker:1883
  password: ${TEST_MQTT_PASSWORD}
serial:
  port: /dev/ttyUSB0
  baud: 57600
replay:
  max_skew: 30s
heartbeat:
  ws_ping_interval: 10s
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Listen != ":9090" || cfg.Web.Token != "filetoken" {
		t.Errorf("web = %+v", cfg.Web)
	}
	if len(cfg.Web.AllowedOrigins) != 1 || cfg.Web.AllowedOrigins[0] != "http://panel.local" {
		t.Errorf("allowed origins = %v", cfg.Web.AllowedOrigins)
	}
	if !cfg.Mock {
		t.Error("mock should be true")
	}
	if len(cfg.AllowedPins) != 2 {
		t.Errorf("allowed pins = %v", cfg.AllowedPins)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/tmp/lights.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Chat.Timeout != 5*time.Second {
		t.Errorf("chat timeout = %s", cfg.Chat.Timeout)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("mqtt password = %q, want expanded env", cfg.MQTT.Password)
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.Baud != 57600 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Replay.MaxSkew != 30*time.Second || cfg.Replay.NonceTTL != core.DefaultNonceTTL {
		t.Errorf("replay = %+v", cfg.Replay)
	}
	if cfg.Heartbeat.WSPingInterval != 10*time.Second || cfg.Heartbeat.WSPongTimeout != web.DefaultPongTimeout {
		t.Errorf("heartbeat = %+v", cfg.Heartbeat)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIGHTLINK_TOKEN", "envtoken")
	t.Setenv("LIGHTLINK_MOCK", "1")
	t.Setenv("CHATBASE_API_KEY", "key")
	t.Setenv("CHATBASE_BOT_ID", "bot")
	t.Setenv("CHATBASE_API_URL", "http://chat.local/api")

	path := writeConfig(t, "web:\n  token: filetoken\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Token != "envtoken" {
		t.Errorf("token = %q, env should win", cfg.Web.Token)
	}
	if !cfg.Mock {
		t.Error("LIGHTLINK_MOCK=1 should enable mock mode")
	}
	if cfg.Chat.APIKey != "key" || cfg.Chat.BotID != "bot" || cfg.Chat.APIURL != "http://chat.local/api" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "web: [unterminated\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"empty token", func(c *Config) { c.Web.Token = "" }, "web.token"},
		{"negative pin", func(c *Config) { c.AllowedPins = []int{-1} }, "allowed_pins"},
		{"zero sse interval", func(c *Config) { c.Heartbeat.SSEInterval = 0 }, "heartbeat.sse_interval"},
		{"negative skew", func(c *Config) { c.Replay.MaxSkew = -time.Second }, "replay.max_skew"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			setDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var cfg Config
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	logger := newLogger(&cfg)
	if logger == nil {
		t.Fatal("nil logger")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}
