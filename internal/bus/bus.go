// Package bus carries normalized events between the webhook channels and the
// gateway run loop, and broadcasts observer events to WebSocket clients.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const queueSize = 256

// MessageBus is an in-process message queue with event broadcast.
// Inbound and outbound queues are bounded; publishing to a full queue drops
// the message with a warning rather than blocking the webhook ack path.
type MessageBus struct {
	inbound  chan InboundEvent
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates a MessageBus with bounded queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundEvent, queueSize),
		outbound:    make(chan OutboundMessage, queueSize),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound event for the gateway run loop.
func (b *MessageBus) PublishInbound(ev InboundEvent) {
	select {
	case b.inbound <- ev:
	default:
		slog.Warn("inbound queue full, dropping event",
			"provider", ev.Provider,
			"event_id", ev.EventID,
		)
	}
}

// ConsumeInbound blocks until an inbound event is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case <-ctx.Done():
		return InboundEvent{}, false
	case ev := <-b.inbound:
		return ev, true
	}
}

// PublishOutbound enqueues an outbound message for channel dispatch.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"provider", msg.Provider,
			"conversation_id", msg.ConversationID,
		)
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under an id. Handlers must be
// non-blocking; Broadcast calls them synchronously.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to all subscribers.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
