package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Teams TeamsConfig `json:"teams"`
}

// TeamsConfig configures the Bot Framework (Microsoft Teams) channel.
type TeamsConfig struct {
	Enabled        bool                `json:"enabled"`
	AppID          string              `json:"app_id"`
	AppPassword    string              `json:"app_password"`
	TenantID       string              `json:"tenant_id,omitempty"`
	WebhookPort    int                 `json:"webhook_port,omitempty"`   // default 3978
	WebhookPath    string              `json:"webhook_path,omitempty"`   // default "/api/messages"
	WebhookSecret  string              `json:"webhook_secret,omitempty"` // optional shared secret query check
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`        // "pairing" (default), "allowlist", "open", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"`  // require @bot mention in groups/channels (default true)
	ReplyStyle     string              `json:"reply_style,omitempty"`      // "thread" (default) or "top-level"
	TextChunkLimit int                 `json:"text_chunk_limit,omitempty"` // default 4000
	GraphEnabled   bool                `json:"graph_enabled,omitempty"`    // unlocks channel media + history fetch
	MediaMaxMB     int                 `json:"media_max_mb,omitempty"`     // default 20
	ServiceURL     string              `json:"service_url,omitempty"`      // fallback when an activity carries none
}
