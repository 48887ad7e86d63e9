package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Teamsclaw gateway.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Routing   RoutingConfig   `json:"routing,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Assistant AssistantConfig `json:"assistant"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig configures Postgres for managed mode.
// PostgresDSN is NEVER read from config.json (secret), only from env TEAMSCLAW_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                  // from env TEAMSCLAW_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"`     // "standalone" (default) or "managed"
	DataDir     string `json:"data_dir,omitempty"` // standalone sqlite location (default: ~/.teamsclaw)
}

// IsManagedMode returns true if the gateway is running in managed mode.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// GatewayConfig controls the gateway server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`           // bearer token for WS/HTTP auth
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket CORS whitelist (empty = allow all)
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // webhook requests per minute per caller (default 60, 0 = disabled)
	Workers        int      `json:"workers,omitempty"`         // session worker pool size (default 8)
}

// AssistantConfig points at the backend assistant service.
type AssistantConfig struct {
	URL          string `json:"url"`
	Token        string `json:"token,omitempty"`         // from env TEAMSCLAW_ASSISTANT_TOKEN
	TimeoutSec   int    `json:"timeout_sec,omitempty"`   // default 120
	FailureReply string `json:"failure_reply,omitempty"` // sent when the assistant errors ("" = stay silent)
}

// PairingConfig controls the pairing DM policy store.
type PairingConfig struct {
	Storage string `json:"storage,omitempty"` // pairing state file (default: <data_dir>/pairing.json)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "teamsclaw-gateway")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens)
}

// RoutingConfig carries per-scope policy overrides.
// Resolution order is conversation > team > channel defaults, field by field.
type RoutingConfig struct {
	Teams         map[string]PolicyOverride `json:"teams,omitempty"`         // keyed by team id
	Conversations map[string]PolicyOverride `json:"conversations,omitempty"` // keyed by conversation id
}

// PolicyOverride overrides policy fields at a narrower scope.
// nil/empty fields inherit from the next layer up.
type PolicyOverride struct {
	DMPolicy       string              `json:"dm_policy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	ReplyStyle     string              `json:"reply_style,omitempty"` // "thread" or "top-level"
}

// AssistantTimeout returns the configured assistant timeout as a duration.
func (a AssistantConfig) AssistantTimeout() time.Duration {
	if a.TimeoutSec > 0 {
		return time.Duration(a.TimeoutSec) * time.Second
	}
	return 120 * time.Second
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channels = src.Channels
	c.Routing = src.Routing
	c.Gateway = src.Gateway
	c.Assistant = src.Assistant
	c.Pairing = src.Pairing
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
