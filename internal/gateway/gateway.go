// Package gateway runs the event loop between the webhook channels and the
// backend assistant, and serves the observer WebSocket / HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/teamsclaw/internal/assistant"
	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/capability"
	"github.com/nextlevelbuilder/teamsclaw/internal/routing"
)

const (
	defaultWorkers  = 8
	workerQueueSize = 64

	// pairingReplyDebounce keeps an unpaired sender from receiving a code
	// message for every DM they fire off.
	pairingReplyDebounce = 60 * time.Second
)

// PairingRequester creates (or refreshes) a pairing request for a sender.
type PairingRequester interface {
	RequestPairing(provider, senderID, chatID string) (string, error)
}

// MediaFetcher downloads attachment content, subject to the capability set.
type MediaFetcher interface {
	Fetch(ctx context.Context, set capability.Set, kind bus.ConversationType, att bus.Attachment) ([]byte, error)
}

// Engine is the gateway run loop: consume inbound events, route, resolve
// capabilities, call the assistant, dispatch the reply.
//
// Events are sharded across workers by session key, so replies within one
// conversation keep arrival order while conversations proceed in parallel.
type Engine struct {
	bus        *bus.MessageBus
	router     *routing.Router
	snapshot   atomic.Pointer[routing.Snapshot]
	responder  assistant.Responder
	dispatcher *Dispatcher
	pairing    PairingRequester
	fetcher    MediaFetcher
	tier       capability.Tier

	workers      int
	failureReply string

	pairingDebounce sync.Map // provider+senderID → time.Time
}

// NewEngine creates the run loop. pairing may be nil (no pairing-code
// replies); fetcher may be nil (attachments are never downloaded).
func NewEngine(msgBus *bus.MessageBus, router *routing.Router, snapshot *routing.Snapshot,
	responder assistant.Responder, dispatcher *Dispatcher, pairing PairingRequester,
	fetcher MediaFetcher, tier capability.Tier, workers int, failureReply string) *Engine {

	if workers <= 0 {
		workers = defaultWorkers
	}
	e := &Engine{
		bus:          msgBus,
		router:       router,
		responder:    responder,
		dispatcher:   dispatcher,
		pairing:      pairing,
		fetcher:      fetcher,
		tier:         tier,
		workers:      workers,
		failureReply: failureReply,
	}
	e.snapshot.Store(snapshot)
	return e
}

// SetSnapshot swaps the policy snapshot. Events already in flight keep the
// snapshot they were routed with.
func (e *Engine) SetSnapshot(s *routing.Snapshot) {
	e.snapshot.Store(s)
}

// Run consumes inbound events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	queues := make([]chan bus.InboundEvent, e.workers)
	for i := range queues {
		queues[i] = make(chan bus.InboundEvent, workerQueueSize)
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := range queues {
		queue := queues[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-queue:
					e.process(ctx, ev)
				}
			}
		})
	}

	g.Go(func() error {
		for {
			ev, ok := e.bus.ConsumeInbound(ctx)
			if !ok {
				return nil
			}
			key := routing.BuildSessionKey(ev.Provider, ev.ConversationType, ev.SenderID, ev.ConversationID)
			select {
			case <-ctx.Done():
				return nil
			case queues[shard(string(key), e.workers)] <- ev:
			}
		}
	})

	err := g.Wait()
	e.bus.Broadcast(bus.Event{Name: bus.EventShutdown})
	return err
}

func (e *Engine) process(ctx context.Context, ev bus.InboundEvent) {
	e.bus.Broadcast(bus.Event{Name: bus.EventInbound, Payload: ev})

	route, err := e.router.Route(ev, e.snapshot.Load())
	e.bus.Broadcast(bus.Event{Name: bus.EventDecision, Payload: map[string]any{
		"session_key": string(route.Key),
		"decision":    string(route.Decision),
		"reason":      route.Reason,
	}})

	switch route.Decision {
	case routing.DecisionIgnore:
		return
	case routing.DecisionReject:
		if !errors.Is(err, routing.ErrPolicyDenied) && err != nil {
			slog.Warn("routing failed", "session_key", route.Key, "error", err)
		}
		e.maybeSendPairingCode(ctx, ev, route)
		return
	}

	caps := capability.Resolve(ev.ConversationType, e.tier)
	req := assistant.Request{
		SessionKey:       string(route.Key),
		Text:             ev.Text,
		SenderID:         ev.SenderID,
		SenderName:       ev.SenderName,
		ConversationType: string(ev.ConversationType),
		Capabilities:     caps.Flags(),
	}
	if e.fetcher != nil && len(ev.Attachments) > 0 {
		req.Attachments = e.fetchAttachments(ctx, ev, caps)
	}

	reply, err := e.responder.Respond(ctx, req)
	if err != nil {
		slog.Error("assistant call failed",
			"session_key", route.Key,
			"error", err,
		)
		if e.failureReply != "" {
			if rerr := e.dispatcher.Reply(ctx, route, e.failureReply); rerr != nil {
				slog.Warn("failure reply not sent", "session_key", route.Key, "error", rerr)
			}
		}
		return
	}

	if err := e.dispatcher.Reply(ctx, route, reply); err != nil {
		slog.Error("reply dispatch failed", "session_key", route.Key, "error", err)
	}
}

// fetchAttachments downloads what the capability set allows and hands the
// content to the assistant. Denials are expected at the basic tier and skip
// quietly; transport failures drop the attachment but never the message.
func (e *Engine) fetchAttachments(ctx context.Context, ev bus.InboundEvent, caps capability.Set) []assistant.Attachment {
	out := make([]assistant.Attachment, 0, len(ev.Attachments))
	for _, att := range ev.Attachments {
		data, err := e.fetcher.Fetch(ctx, caps, ev.ConversationType, att)
		if err != nil {
			if errors.Is(err, capability.ErrCapabilityDenied) {
				slog.Debug("attachment fetch denied",
					"name", att.Name,
					"conversation_type", ev.ConversationType,
					"tier", e.tier,
				)
			} else {
				slog.Warn("attachment fetch failed", "name", att.Name, "error", err)
			}
			continue
		}
		out = append(out, assistant.Attachment{
			Name:        att.Name,
			ContentType: att.ContentType,
			Content:     data,
		})
	}
	return out
}

// maybeSendPairingCode answers an unpaired DM with a pairing code, debounced
// per sender.
func (e *Engine) maybeSendPairingCode(ctx context.Context, ev bus.InboundEvent, route routing.Route) {
	if e.pairing == nil ||
		ev.ConversationType != bus.ConversationDirect ||
		route.Policy.DMPolicy != routing.DMPairing {
		return
	}

	debounceKey := ev.Provider + ":" + ev.SenderID
	if last, ok := e.pairingDebounce.Load(debounceKey); ok {
		if time.Since(last.(time.Time)) < pairingReplyDebounce {
			return
		}
	}

	code, err := e.pairing.RequestPairing(ev.Provider, ev.SenderID, ev.ConversationID)
	if err != nil {
		slog.Debug("pairing request failed", "sender_id", ev.SenderID, "error", err)
		return
	}

	text := fmt.Sprintf(
		"Access not configured.\n\nYour user id: %s\nPairing code: %s\n\nAsk the bot owner to approve this code.",
		ev.SenderID, code)
	if err := e.dispatcher.Reply(ctx, route, text); err != nil {
		slog.Warn("pairing reply not sent", "sender_id", ev.SenderID, "error", err)
		return
	}
	e.pairingDebounce.Store(debounceKey, time.Now())
	slog.Info("pairing reply sent", "sender_id", ev.SenderID, "code", code)
}

func shard(key string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
