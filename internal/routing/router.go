package routing

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// ErrPolicyDenied marks an event refused by routing policy. Rejection is a
// steady-state outcome: callers ack the webhook and drop the event.
var ErrPolicyDenied = errors.New("policy denied")

// Decision is the routing verdict for an inbound event.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionIgnore Decision = "ignore" // silent drop, not an error
	DecisionReject Decision = "reject"
)

// ReplyTo is the origin addressing captured at ingress. Replies use this
// directly so they never depend on a store lookup.
type ReplyTo struct {
	Provider       string
	ConversationID string
	ServiceURL     string
	ReplyToID      string
}

// Route is the routing outcome for one event.
type Route struct {
	Key      SessionKey
	Decision Decision
	Reason   string
	Policy   Policy
	ReplyTo  ReplyTo
}

// PairingChecker reports whether a sender has completed pairing.
// Implemented by the pairing store; the router only asks yes/no.
type PairingChecker interface {
	IsPaired(provider, senderID string) bool
}

// Router admits or drops inbound events according to the resolved policy.
type Router struct {
	pairing PairingChecker
}

// NewRouter creates a Router. pairing may be nil; then the pairing policy
// admits only allowlisted senders.
func NewRouter(pairing PairingChecker) *Router {
	return &Router{pairing: pairing}
}

// Route derives the session key, resolves the policy at the event's scope,
// and decides whether the event proceeds to the assistant.
//
// DMs are gated by dmPolicy; group and channel messages are gated by
// requireMention. An unmentioned group message is Ignored, not Rejected:
// the bot is expected to stay silent in conversations it merely observes.
func (r *Router) Route(ev bus.InboundEvent, snapshot *Snapshot) (Route, error) {
	policy := snapshot.Resolve(ev)
	route := Route{
		Key:      BuildSessionKey(ev.Provider, ev.ConversationType, ev.SenderID, ev.ConversationID),
		Policy:   policy,
		ReplyTo: ReplyTo{
			Provider:       ev.Provider,
			ConversationID: ev.ConversationID,
			ServiceURL:     ev.ServiceURL,
			ReplyToID:      ev.ReplyToID,
		},
	}

	if ev.ConversationType == bus.ConversationDirect {
		return r.routeDM(ev, policy, route)
	}

	if policy.RequireMention && !ev.MentionsBot {
		route.Decision = DecisionIgnore
		route.Reason = "mention required"
		slog.Debug("event ignored: mention required",
			"provider", ev.Provider,
			"conversation_id", ev.ConversationID,
			"sender_id", ev.SenderID,
		)
		return route, nil
	}

	route.Decision = DecisionAllow
	return route, nil
}

func (r *Router) routeDM(ev bus.InboundEvent, policy Policy, route Route) (Route, error) {
	switch policy.DMPolicy {
	case DMDisabled:
		return r.reject(route, ev, "dm disabled")
	case DMOpen:
		route.Decision = DecisionAllow
		return route, nil
	case DMAllowlist:
		if !allowed(policy.AllowFrom, ev.SenderID) {
			return r.reject(route, ev, "sender not in allowlist")
		}
		route.Decision = DecisionAllow
		return route, nil
	case DMPairing, "":
		paired := r.pairing != nil && r.pairing.IsPaired(ev.Provider, ev.SenderID)
		if paired || allowed(policy.AllowFrom, ev.SenderID) {
			route.Decision = DecisionAllow
			return route, nil
		}
		return r.reject(route, ev, "sender not paired")
	default:
		return r.reject(route, ev, fmt.Sprintf("unknown dm policy %q", policy.DMPolicy))
	}
}

func (r *Router) reject(route Route, ev bus.InboundEvent, reason string) (Route, error) {
	route.Decision = DecisionReject
	route.Reason = reason
	slog.Debug("event rejected",
		"provider", ev.Provider,
		"sender_id", ev.SenderID,
		"reason", reason,
	)
	return route, fmt.Errorf("%w: %s", ErrPolicyDenied, reason)
}
