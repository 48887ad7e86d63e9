package routing

import (
	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/config"
)

// DM policy values.
const (
	DMPairing   = "pairing"
	DMAllowlist = "allowlist"
	DMOpen      = "open"
	DMDisabled  = "disabled"
)

// Reply style values.
const (
	ReplyThread   = "thread"
	ReplyTopLevel = "top-level"
)

// Policy is the fully resolved routing policy for one event.
type Policy struct {
	DMPolicy       string
	AllowFrom      []string
	RequireMention bool
	ReplyStyle     string
}

// Snapshot is an immutable view of the policy configuration. The gateway
// swaps the whole snapshot on config reload; an event in flight keeps the
// snapshot it was routed with.
type Snapshot struct {
	base          Policy
	teams         map[string]config.PolicyOverride
	conversations map[string]config.PolicyOverride
}

// NewSnapshot builds a Snapshot from the channel config and scope overrides.
func NewSnapshot(teams config.TeamsConfig, routing config.RoutingConfig) *Snapshot {
	base := Policy{
		DMPolicy:       teams.DMPolicy,
		AllowFrom:      teams.AllowFrom,
		RequireMention: true,
		ReplyStyle:     teams.ReplyStyle,
	}
	if base.DMPolicy == "" {
		base.DMPolicy = DMPairing
	}
	if teams.RequireMention != nil {
		base.RequireMention = *teams.RequireMention
	}
	if base.ReplyStyle == "" {
		base.ReplyStyle = ReplyThread
	}

	return &Snapshot{
		base:          base,
		teams:         routing.Teams,
		conversations: routing.Conversations,
	}
}

// Resolve returns the effective policy for an event, merging scope overrides
// field by field: conversation > team > channel defaults. A layer that does
// not set a field inherits the value from the layer above it.
func (s *Snapshot) Resolve(ev bus.InboundEvent) Policy {
	p := s.base

	if ev.TeamID != "" {
		if ov, ok := s.teams[ev.TeamID]; ok {
			applyOverride(&p, ov)
		}
	}
	if ov, ok := s.conversations[ev.ConversationID]; ok {
		applyOverride(&p, ov)
	}
	return p
}

func applyOverride(p *Policy, ov config.PolicyOverride) {
	if ov.DMPolicy != "" {
		p.DMPolicy = ov.DMPolicy
	}
	if len(ov.AllowFrom) > 0 {
		p.AllowFrom = ov.AllowFrom
	}
	if ov.RequireMention != nil {
		p.RequireMention = *ov.RequireMention
	}
	if ov.ReplyStyle != "" {
		p.ReplyStyle = ov.ReplyStyle
	}
}

func allowed(allowFrom []string, senderID string) bool {
	for _, id := range allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
