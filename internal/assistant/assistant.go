// Package assistant is the HTTP boundary to the backend assistant. The
// gateway hands it a normalized request and gets back reply text; everything
// about how the reply is produced lives on the other side of this boundary.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/teamsclaw/internal/config"
)

// Request is what the gateway sends for one inbound message.
type Request struct {
	SessionKey       string            `json:"session_key"`
	Text             string            `json:"text"`
	SenderID         string            `json:"sender_id"`
	SenderName       string            `json:"sender_name,omitempty"`
	ConversationType string            `json:"conversation_type"`
	Capabilities     []string          `json:"capabilities"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Attachment carries fetched attachment content to the assistant.
// Content is base64 on the wire.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

// Responder produces a reply for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Client posts requests to the configured assistant URL.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// NewClient builds a client from the assistant config.
func NewClient(cfg config.AssistantConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("assistant url is required")
	}
	return &Client{
		url:   cfg.URL,
		token: cfg.Token,
		client: &http.Client{
			Timeout: cfg.AssistantTimeout(),
		},
	}, nil
}

// Respond posts the request and returns the reply text.
func (c *Client) Respond(ctx context.Context, req Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("assistant request: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("assistant response: decode: %w", err)
	}
	return out.Reply, nil
}
