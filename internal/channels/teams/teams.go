// Package teams implements the Bot Framework (Microsoft Teams) channel:
// webhook ingress, activity normalization, connector sends, and the
// capability-gated Graph fetcher.
package teams

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/capability"
	"github.com/nextlevelbuilder/teamsclaw/internal/channels"
	"github.com/nextlevelbuilder/teamsclaw/internal/config"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

// ProviderName identifies this channel on the bus and in session keys.
const ProviderName = "teams"

const (
	defaultWebhookPort    = 3978
	defaultWebhookPath    = "/api/messages"
	defaultTextChunkLimit = 4000
	defaultMediaMaxMB     = 20
)

// Channel connects the Bot Framework provider to the gateway.
type Channel struct {
	*channels.BaseChannel
	cfg        config.TeamsConfig
	refs       store.RefStore
	auth       *authenticator
	tokens     *tokenProvider
	dedupe     *dedupeCache
	limiter    *channels.WebhookRateLimiter
	tier       capability.Tier
	httpServer *http.Server

	chunkLimit int
	mediaMaxMB int
}

// New creates the Teams channel.
func New(cfg config.TeamsConfig, msgBus *bus.MessageBus, refs store.RefStore, rateLimitRPM int) (*Channel, error) {
	if cfg.AppID == "" || cfg.AppPassword == "" {
		return nil, fmt.Errorf("teams app_id and app_password are required")
	}

	chunkLimit := cfg.TextChunkLimit
	if chunkLimit <= 0 {
		chunkLimit = defaultTextChunkLimit
	}
	mediaMax := cfg.MediaMaxMB
	if mediaMax <= 0 {
		mediaMax = defaultMediaMaxMB
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(ProviderName, msgBus),
		cfg:         cfg,
		refs:        refs,
		auth:        newAuthenticator(cfg.AppID, cfg.WebhookSecret),
		tokens:      newTokenProvider(context.Background(), cfg.AppID, cfg.AppPassword, cfg.TenantID),
		dedupe:      newDedupeCache(),
		limiter:     channels.NewWebhookRateLimiter(rateLimitRPM),
		tier:        capability.TierFromConfig(cfg.GraphEnabled),
		chunkLimit:  chunkLimit,
		mediaMaxMB:  mediaMax,
	}, nil
}

// Tier returns the Graph permission tier the channel runs at.
func (c *Channel) Tier() capability.Tier { return c.tier }

// Start brings up the webhook server.
func (c *Channel) Start(_ context.Context) error {
	port := c.cfg.WebhookPort
	if port <= 0 {
		port = defaultWebhookPort
	}
	path := c.cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	slog.Info("starting teams webhook server", "port", port, "path", path, "tier", c.tier)

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handleWebhook)

	c.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("teams webhook server error", "error", err)
		}
	}()

	c.SetRunning(true)
	return nil
}

// Stop shuts down the webhook server.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.httpServer == nil {
		return nil
	}
	return c.httpServer.Shutdown(ctx)
}

// Fetcher returns the capability-gated Graph/attachment fetcher.
func (c *Channel) Fetcher() *Fetcher {
	return &Fetcher{tokens: c.tokens, maxBytes: int64(c.mediaMaxMB) << 20}
}
