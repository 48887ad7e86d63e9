package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	requireMention := true
	return &Config{
		Channels: ChannelsConfig{
			Teams: TeamsConfig{
				WebhookPort:    3978,
				WebhookPath:    "/api/messages",
				DMPolicy:       "pairing",
				RequireMention: &requireMention,
				ReplyStyle:     "thread",
				TextChunkLimit: 4000,
				MediaMaxMB:     20,
			},
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 60,
			Workers:      8,
		},
		Assistant: AssistantConfig{
			TimeoutSec: 120,
		},
		Database: DatabaseConfig{
			DataDir: "~/.teamsclaw",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("TEAMSCLAW_APP_ID", &c.Channels.Teams.AppID)
	envStr("TEAMSCLAW_APP_PASSWORD", &c.Channels.Teams.AppPassword)
	envStr("TEAMSCLAW_TENANT_ID", &c.Channels.Teams.TenantID)
	envStr("TEAMSCLAW_WEBHOOK_SECRET", &c.Channels.Teams.WebhookSecret)
	envStr("TEAMSCLAW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("TEAMSCLAW_ASSISTANT_URL", &c.Assistant.URL)
	envStr("TEAMSCLAW_ASSISTANT_TOKEN", &c.Assistant.Token)

	// Auto-enable the channel if credentials are provided via env
	if c.Channels.Teams.AppID != "" && c.Channels.Teams.AppPassword != "" {
		c.Channels.Teams.Enabled = true
	}

	// Gateway host/port
	envStr("TEAMSCLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("TEAMSCLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database
	envStr("TEAMSCLAW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TEAMSCLAW_MODE", &c.Database.Mode)
	envStr("TEAMSCLAW_DATA_DIR", &c.Database.DataDir)

	// Telemetry
	envStr("TEAMSCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TEAMSCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TEAMSCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("TEAMSCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TEAMSCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secrets are stripped from the
// written copy so env-provided credentials never land in config.json.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return err
	}
	cp.StripSecrets()

	out, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, out, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the gateway status surface to avoid exposing secrets to WS clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Channels.Teams.AppPassword)
	maskNonEmpty(&cp.Channels.Teams.WebhookSecret)
	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Assistant.Token)

	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk to ensure secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.Channels.Teams.AppPassword = ""
	c.Channels.Teams.WebhookSecret = ""
	c.Gateway.Token = ""
	c.Assistant.Token = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// DataDirPath returns the expanded data directory path.
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.DataDir)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
