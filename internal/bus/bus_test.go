package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New()
	b.PublishInbound(InboundEvent{Provider: "teams", EventID: "e1", Text: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.EventID != "e1" || ev.Text != "hi" {
		t.Errorf("event = %+v", ev)
	}
}

func TestConsumeInboundCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("cancelled consume should report no event")
	}
}

func TestPublishOutboundFullQueueDrops(t *testing.T) {
	b := New()
	for i := 0; i < queueSize+10; i++ {
		b.PublishOutbound(OutboundMessage{Provider: "teams"})
	}
	// Drained count caps at queueSize; the overflow was dropped, not blocked.
	drained := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, ok := b.SubscribeOutbound(ctx)
		cancel()
		if !ok {
			break
		}
		drained++
	}
	if drained != queueSize {
		t.Errorf("drained = %d, want %d", drained, queueSize)
	}
}

func TestBroadcastSubscribeUnsubscribe(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("c1", func(ev Event) { got = append(got, "c1:"+ev.Name) })
	b.Subscribe("c2", func(ev Event) { got = append(got, "c2:"+ev.Name) })

	b.Broadcast(Event{Name: EventInbound})
	if len(got) != 2 {
		t.Fatalf("got %v, want both subscribers called", got)
	}

	b.Unsubscribe("c2")
	got = nil
	b.Broadcast(Event{Name: EventOutbound})
	if len(got) != 1 || got[0] != "c1:"+EventOutbound {
		t.Errorf("after unsubscribe got %v", got)
	}
}
