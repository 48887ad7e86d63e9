package bus

import (
	"context"
	"encoding/json"
	"time"
)

// ConversationType classifies where an inbound event originated.
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// Attachment describes a file or media item referenced by an inbound event.
// ContentURL may require elevated permissions to fetch (see capability package).
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
}

// InboundEvent is a provider webhook event normalized by a channel.
// Immutable once published to the bus.
type InboundEvent struct {
	Provider         string           `json:"provider"`
	EventID          string           `json:"event_id"`
	ConversationID   string           `json:"conversation_id"`
	ConversationType ConversationType `json:"conversation_type"`
	SenderID         string           `json:"sender_id"`
	SenderName       string           `json:"sender_name,omitempty"`
	Text             string           `json:"text"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
	MentionsBot      bool             `json:"mentions_bot,omitempty"`
	ReplyToID        string           `json:"reply_to_id,omitempty"` // provider message id to thread replies under
	ServiceURL       string           `json:"service_url,omitempty"`
	TenantID         string           `json:"tenant_id,omitempty"`
	TeamID           string           `json:"team_id,omitempty"` // group/channel scope id for policy overrides
	Timestamp        time.Time        `json:"timestamp"`
	Raw              json.RawMessage  `json:"-"`
}

// OutboundMessage is a reply or proactive message to be sent by a channel.
type OutboundMessage struct {
	Provider       string            `json:"provider"`
	ConversationID string            `json:"conversation_id"`
	ServiceURL     string            `json:"service_url,omitempty"`
	Content        string            `json:"content"`
	ReplyToID      string            `json:"reply_to_id,omitempty"` // set for threaded replies
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side event broadcast to WebSocket observers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event names broadcast by the gateway.
const (
	EventInbound  = "gateway.inbound"
	EventDecision = "gateway.decision"
	EventOutbound = "gateway.outbound"
	EventShutdown = "gateway.shutdown"
)

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between the
// channels and the gateway run loop.
type MessageRouter interface {
	PublishInbound(ev InboundEvent)
	ConsumeInbound(ctx context.Context) (InboundEvent, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
