package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// outActivity is the minimal connector payload for a text message.
type outActivity struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	TextFormat string `json:"textFormat,omitempty"`
	ReplyToID  string `json:"replyToId,omitempty"`
}

// Send delivers an outbound message through the Bot connector, chunking long
// text at the configured limit. Metadata key "reply_style" selects threading;
// personal and group chats have no threads, so the connector posts top-level
// there regardless.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("teams channel not running")
	}
	serviceURL := msg.ServiceURL
	if serviceURL == "" {
		serviceURL = c.cfg.ServiceURL
	}
	if serviceURL == "" {
		return fmt.Errorf("no service url for conversation %s", msg.ConversationID)
	}

	replyToID := ""
	if msg.Metadata["reply_style"] == "thread" {
		replyToID = msg.ReplyToID
	}

	return c.sendChunkedText(ctx, serviceURL, msg.ConversationID, replyToID, msg.Content)
}

func (c *Channel) sendChunkedText(ctx context.Context, serviceURL, conversationID, replyToID, text string) error {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > c.chunkLimit {
			cutAt := c.chunkLimit
			if idx := strings.LastIndex(text[:c.chunkLimit], "\n"); idx > c.chunkLimit/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		if err := c.postActivity(ctx, serviceURL, conversationID, replyToID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// postActivity POSTs one activity to the connector. Posting to
// .../activities/{replyToId} threads the reply under that message.
func (c *Channel) postActivity(ctx context.Context, serviceURL, conversationID, replyToID, text string) error {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimSuffix(serviceURL, "/"), url.PathEscape(conversationID))
	if replyToID != "" {
		endpoint += "/" + url.PathEscape(replyToID)
	}

	payload := outActivity{
		Type:       "message",
		Text:       text,
		TextFormat: "markdown",
		ReplyToID:  replyToID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.tokens.ConnectorClient(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("connector send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("connector send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
