// Package channels provides the channel abstraction between external
// messaging providers and the gateway run loop. Each provider (currently the
// Bot Framework / Teams channel) normalizes webhook payloads into bus events
// and delivers outbound messages.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// Channel is implemented by every provider integration.
type Channel interface {
	// Name returns the provider identifier (e.g. "teams").
	Name() string

	// Start begins accepting provider events. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the provider.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing events.
	IsRunning() bool
}

// BaseChannel provides shared state for channel implementations.
// Implementations embed this struct.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

// NewBaseChannel creates a BaseChannel.
func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
