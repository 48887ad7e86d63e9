package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

type fakeChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func newFakeChannel(name string, b *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, b)}
}

func (f *fakeChannel) Start(context.Context) error { f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(context.Context) error  { f.SetRunning(false); return nil }

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManagerDispatchesOutbound(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := newFakeChannel("teams", b)
	m.RegisterChannel("teams", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(ctx)

	b.PublishOutbound(bus.OutboundMessage{
		Provider:       "teams",
		ConversationID: "a:1",
		Content:        "hi",
	})

	deadline := time.After(2 * time.Second)
	for ch.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("outbound message was not dispatched")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sent[0].ConversationID != "a:1" {
		t.Errorf("ConversationID = %q", ch.sent[0].ConversationID)
	}
}

func TestManagerUnknownProviderDropped(t *testing.T) {
	b := bus.New()
	m := NewManager(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll(ctx)

	// Must not panic or block.
	b.PublishOutbound(bus.OutboundMessage{Provider: "nope", Content: "x"})
	time.Sleep(50 * time.Millisecond)
}

func TestSendToChannel(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := newFakeChannel("teams", b)
	m.RegisterChannel("teams", ch)

	err := m.SendToChannel(context.Background(), "teams", bus.OutboundMessage{
		Provider: "teams", ConversationID: "a:1", Content: "direct",
	})
	if err != nil {
		t.Fatalf("SendToChannel: %v", err)
	}
	if ch.sentCount() != 1 {
		t.Fatal("message not delivered")
	}

	if err := m.SendToChannel(context.Background(), "missing", bus.OutboundMessage{}); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestWebhookRateLimiter(t *testing.T) {
	r := NewWebhookRateLimiter(3)

	for i := 0; i < 3; i++ {
		if !r.Allow("caller") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if r.Allow("caller") {
		t.Error("burst exceeded, should be denied")
	}
	if !r.Allow("other") {
		t.Error("different key should be unaffected")
	}
}

func TestWebhookRateLimiterDisabled(t *testing.T) {
	r := NewWebhookRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !r.Allow("x") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
}
