// Package store holds the conversation reference model and its storage
// backends. A conversation reference is the addressing record needed to
// initiate a proactive send; it is written at every ingress and never
// auto-deleted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// ErrNotFound marks a reference lookup miss.
var ErrNotFound = errors.New("not found")

// ConversationReference is the durable addressing record for one conversation.
type ConversationReference struct {
	Provider         string               `json:"provider"`
	ConversationID   string               `json:"conversation_id"`
	ConversationType bus.ConversationType `json:"conversation_type"`
	ServiceURL       string               `json:"service_url,omitempty"`
	TenantID         string               `json:"tenant_id,omitempty"`
	LastSeenAt       time.Time            `json:"last_seen_at"`
}

// RefFromEvent builds the reference recorded at ingress for an inbound event.
func RefFromEvent(ev bus.InboundEvent) ConversationReference {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ConversationReference{
		Provider:         ev.Provider,
		ConversationID:   ev.ConversationID,
		ConversationType: ev.ConversationType,
		ServiceURL:       ev.ServiceURL,
		TenantID:         ev.TenantID,
		LastSeenAt:       ts,
	}
}

// RefStore persists conversation references.
//
// Upsert merge rules: LastSeenAt only advances (a stale write never regresses
// it) and empty incoming fields never clobber stored values. Concurrent
// upserts for the same conversation must both land.
type RefStore interface {
	Upsert(ctx context.Context, ref ConversationReference) error
	Get(ctx context.Context, provider, conversationID string) (ConversationReference, error)
	List(ctx context.Context, provider string) ([]ConversationReference, error)
	Close() error
}

// merge applies the upsert rules to an existing record. Shared by the memory
// store; the SQL backends express the same rules in the UPSERT statement.
func merge(existing, incoming ConversationReference) ConversationReference {
	out := existing
	if incoming.ConversationType != "" {
		out.ConversationType = incoming.ConversationType
	}
	if incoming.ServiceURL != "" {
		out.ServiceURL = incoming.ServiceURL
	}
	if incoming.TenantID != "" {
		out.TenantID = incoming.TenantID
	}
	if incoming.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = incoming.LastSeenAt
	}
	return out
}
