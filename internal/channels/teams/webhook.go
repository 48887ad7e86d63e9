package teams

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

const (
	// ackDeadline bounds webhook handling. Bot Framework treats a slow ack
	// as a delivery failure and redelivers, so everything on this path must
	// finish well inside it.
	ackDeadline = 15 * time.Second

	maxBodyBytes = 1 << 20 // 1 MiB

	upsertAttempts = 3
	upsertBackoff  = 200 * time.Millisecond
)

var tracer = otel.Tracer("teamsclaw/channels/teams")

// handleWebhook is the Bot Framework ingress. Order matters: rate limit,
// authenticate, parse, dedupe, record the conversation reference, publish,
// ack. Slow work (Graph fetches, the assistant call) happens after the ack,
// driven by the gateway run loop.
func (c *Channel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ackDeadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "teams.webhook", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if !c.limiter.Allow(callerKey(r)) {
		slog.Warn("teams webhook rate limited", "remote", r.RemoteAddr)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	if err := c.auth.Authenticate(r); err != nil {
		slog.Warn("teams webhook auth failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev, ok, err := ParseActivity(body, c.cfg.AppID)
	if err != nil {
		slog.Warn("teams webhook malformed payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !ok {
		// Non-message activity (typing, conversationUpdate, ...): ack and drop.
		w.WriteHeader(http.StatusOK)
		return
	}

	span.SetAttributes(
		attribute.String("conversation.id", ev.ConversationID),
		attribute.String("conversation.type", string(ev.ConversationType)),
	)

	if c.dedupe.Check(ev.EventID) {
		slog.Debug("teams duplicate activity", "event_id", ev.EventID)
		w.WriteHeader(http.StatusOK)
		return
	}

	// The reference must be durable before the ack: a 500 here makes the
	// provider redeliver. The id is marked seen only after the upsert lands,
	// so the redelivery replays the full pipeline instead of being suppressed.
	if err := c.upsertRef(ctx, store.RefFromEvent(ev)); err != nil {
		slog.Error("teams reference upsert failed",
			"conversation_id", ev.ConversationID,
			"error", err,
		)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}

	c.dedupe.Mark(ev.EventID)
	c.Bus().PublishInbound(ev)

	slog.Debug("teams activity accepted",
		"event_id", ev.EventID,
		"sender_id", ev.SenderID,
		"conversation_type", ev.ConversationType,
	)
	w.WriteHeader(http.StatusOK)
}

// upsertRef retries transient store failures with backoff, bounded by the
// ack deadline carried in ctx.
func (c *Channel) upsertRef(ctx context.Context, ref store.ConversationReference) error {
	var err error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(upsertBackoff * time.Duration(attempt)):
			}
		}
		if err = c.refs.Upsert(ctx, ref); err == nil {
			return nil
		}
	}
	return err
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
