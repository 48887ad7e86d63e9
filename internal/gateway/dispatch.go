package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/routing"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

// ErrNoConversationReference means a proactive send targeted a conversation
// the gateway has never seen. Hard failure; the caller decides what to do,
// nothing is retried.
var ErrNoConversationReference = errors.New("no conversation reference")

// Dispatcher turns reply and proactive requests into outbound messages.
// Replies address the origin carried in the Route; proactive sends are the
// only path that reads the reference store.
type Dispatcher struct {
	bus  *bus.MessageBus
	refs store.RefStore
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(msgBus *bus.MessageBus, refs store.RefStore) *Dispatcher {
	return &Dispatcher{bus: msgBus, refs: refs}
}

// Reply sends content back to the conversation the route came from. The
// resolved reply style rides along as metadata; the channel decides whether
// threading applies.
func (d *Dispatcher) Reply(ctx context.Context, route routing.Route, content string) error {
	if content == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := bus.OutboundMessage{
		Provider:       route.ReplyTo.Provider,
		ConversationID: route.ReplyTo.ConversationID,
		ServiceURL:     route.ReplyTo.ServiceURL,
		Content:        content,
		ReplyToID:      route.ReplyTo.ReplyToID,
		Metadata:       map[string]string{"reply_style": route.Policy.ReplyStyle},
	}
	d.bus.PublishOutbound(msg)
	d.bus.Broadcast(bus.Event{Name: bus.EventOutbound, Payload: msg})
	return nil
}

// SendProactive sends to a conversation by its stored reference. Requires a
// prior inbound contact; without one this fails with
// ErrNoConversationReference.
func (d *Dispatcher) SendProactive(ctx context.Context, provider, conversationID, content string) error {
	ref, err := d.refs.Get(ctx, provider, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrNoConversationReference, provider, conversationID)
	}
	if err != nil {
		return fmt.Errorf("lookup conversation reference: %w", err)
	}

	msg := bus.OutboundMessage{
		Provider:       ref.Provider,
		ConversationID: ref.ConversationID,
		ServiceURL:     ref.ServiceURL,
		Content:        content,
	}
	d.bus.PublishOutbound(msg)
	d.bus.Broadcast(bus.Event{Name: bus.EventOutbound, Payload: msg})
	return nil
}
