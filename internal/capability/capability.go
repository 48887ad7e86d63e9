// Package capability maps permission tiers to operation flags.
//
// The gateway runs with one of two Graph permission tiers, fixed at startup:
// Basic (RSC-only app registration) or GraphEnabled (application permissions
// granted for file and history access). Resolution is pure so callers can
// guard operations before touching the network.
package capability

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// ErrCapabilityDenied marks an operation the current tier does not permit.
var ErrCapabilityDenied = errors.New("capability denied")

// Tier is the Graph permission level, set at startup from config.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierGraphEnabled Tier = "graph"
)

// TierFromConfig maps the graph_enabled flag to a Tier.
func TierFromConfig(graphEnabled bool) Tier {
	if graphEnabled {
		return TierGraphEnabled
	}
	return TierBasic
}

// Flag names one gated operation.
type Flag string

const (
	CanReadText           Flag = "read_text"
	CanSendText           Flag = "send_text"
	CanFetchDMAttachment  Flag = "fetch_dm_attachment"
	CanFetchChannelMedia  Flag = "fetch_channel_media"
	CanFetchHistory       Flag = "fetch_history"
)

// Set is the resolved capability set for one conversation.
type Set struct {
	Tier  Tier
	flags map[Flag]bool
}

// Resolve computes the capability set for a conversation type under a tier.
// Text send/receive and DM attachment fetch work at every tier; channel media
// and history need Graph application permissions.
func Resolve(kind bus.ConversationType, tier Tier) Set {
	graph := tier == TierGraphEnabled
	return Set{
		Tier: tier,
		flags: map[Flag]bool{
			CanReadText:          true,
			CanSendText:          true,
			CanFetchDMAttachment: true,
			CanFetchChannelMedia: graph && kind != bus.ConversationDirect,
			CanFetchHistory:      graph,
		},
	}
}

// Has reports whether the set permits the operation.
func (s Set) Has(flag Flag) bool {
	return s.flags[flag]
}

// Require returns ErrCapabilityDenied when the set does not permit the
// operation. Callers check this before any network call so denial is a
// fast local error, not a Graph 403.
func (s Set) Require(flag Flag) error {
	if s.flags[flag] {
		return nil
	}
	return fmt.Errorf("%w: %s requires tier %q (have %q)", ErrCapabilityDenied, flag, TierGraphEnabled, s.Tier)
}

// Flags returns the enabled flag names, for logging and the assistant payload.
func (s Set) Flags() []string {
	out := make([]string, 0, len(s.flags))
	for f, on := range s.flags {
		if on {
			out = append(out, string(f))
		}
	}
	return out
}
