package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/capability"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// Fetcher downloads attachments and history. Every method checks the
// capability set before touching the network so a tier denial costs nothing.
// Fetches run in the background; the webhook ack never waits on them.
type Fetcher struct {
	tokens   *tokenProvider
	maxBytes int64
}

// Fetch picks the download path for the conversation kind: connector token
// for DM attachments, Graph for group/channel media.
func (f *Fetcher) Fetch(ctx context.Context, set capability.Set, kind bus.ConversationType, att bus.Attachment) ([]byte, error) {
	if kind == bus.ConversationDirect {
		return f.FetchDMAttachment(ctx, set, att)
	}
	return f.FetchChannelMedia(ctx, set, att)
}

// FetchDMAttachment downloads a DM attachment via its content URL using the
// connector token. Works at every tier.
func (f *Fetcher) FetchDMAttachment(ctx context.Context, set capability.Set, att bus.Attachment) ([]byte, error) {
	if err := set.Require(capability.CanFetchDMAttachment); err != nil {
		return nil, err
	}
	if att.ContentURL == "" {
		return nil, fmt.Errorf("attachment %q has no content url", att.Name)
	}
	return f.download(ctx, f.tokens.ConnectorClient(ctx), att.ContentURL)
}

// FetchChannelMedia downloads channel/group media through Graph. Requires the
// GraphEnabled tier.
func (f *Fetcher) FetchChannelMedia(ctx context.Context, set capability.Set, att bus.Attachment) ([]byte, error) {
	if err := set.Require(capability.CanFetchChannelMedia); err != nil {
		return nil, err
	}
	if att.ContentURL == "" {
		return nil, fmt.Errorf("attachment %q has no content url", att.Name)
	}
	client, err := f.tokens.GraphClient(ctx)
	if err != nil {
		return nil, err
	}
	return f.download(ctx, client, att.ContentURL)
}

// HistoryMessage is one prior message returned by the history fetch.
type HistoryMessage struct {
	ID        string `json:"id"`
	SenderID  string
	Text      string
	CreatedAt string `json:"createdDateTime"`
}

// FetchHistory pulls recent messages for a chat through Graph. Requires the
// GraphEnabled tier.
func (f *Fetcher) FetchHistory(ctx context.Context, set capability.Set, conversationID string, limit int) ([]HistoryMessage, error) {
	if err := set.Require(capability.CanFetchHistory); err != nil {
		return nil, err
	}
	client, err := f.tokens.GraphClient(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	endpoint := fmt.Sprintf("%s/chats/%s/messages?$top=%d", graphBase, url.PathEscape(conversationID), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph history: status %d", resp.StatusCode)
	}

	var payload struct {
		Value []struct {
			ID              string `json:"id"`
			CreatedDateTime string `json:"createdDateTime"`
			From            *struct {
				User *struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"from"`
			Body struct {
				Content string `json:"content"`
			} `json:"body"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("graph history: decode: %w", err)
	}

	out := make([]HistoryMessage, 0, len(payload.Value))
	for _, m := range payload.Value {
		msg := HistoryMessage{ID: m.ID, Text: m.Body.Content, CreatedAt: m.CreatedDateTime}
		if m.From != nil && m.From.User != nil {
			msg.SenderID = m.From.User.ID
		}
		out = append(out, msg)
	}
	return out, nil
}

func (f *Fetcher) download(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("download: %d bytes exceeds limit %d", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("download: body exceeds limit %d", f.maxBytes)
	}
	return data, nil
}
