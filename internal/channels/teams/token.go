package teams

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	connectorTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	connectorScope    = "https://api.botframework.com/.default"
	graphScope        = "https://graph.microsoft.com/.default"
)

// tokenProvider caches client-credential tokens for the Bot connector and
// Microsoft Graph. oauth2's reuse token source handles refresh.
type tokenProvider struct {
	connector oauth2.TokenSource
	graph     oauth2.TokenSource
}

func newTokenProvider(ctx context.Context, appID, appPassword, tenantID string) *tokenProvider {
	connectorCfg := &clientcredentials.Config{
		ClientID:     appID,
		ClientSecret: appPassword,
		TokenURL:     connectorTokenURL,
		Scopes:       []string{connectorScope},
	}

	tp := &tokenProvider{
		connector: connectorCfg.TokenSource(ctx),
	}

	// Graph tokens are tenant-scoped; without a tenant the graph fetcher
	// stays disabled regardless of tier.
	if tenantID != "" {
		graphCfg := &clientcredentials.Config{
			ClientID:     appID,
			ClientSecret: appPassword,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
			Scopes:       []string{graphScope},
		}
		tp.graph = graphCfg.TokenSource(ctx)
	}
	return tp
}

// ConnectorClient returns an HTTP client that injects connector bearer tokens.
func (t *tokenProvider) ConnectorClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, t.connector)
}

// GraphClient returns an HTTP client for Microsoft Graph, or an error when no
// tenant is configured.
func (t *tokenProvider) GraphClient(ctx context.Context) (*http.Client, error) {
	if t.graph == nil {
		return nil, fmt.Errorf("graph client requires tenant_id")
	}
	return oauth2.NewClient(ctx, t.graph), nil
}
