// Package routing derives session keys and decides message admission.
//
// Session keys follow the canonical format:
//
//	DM:      {provider}:{senderId}
//	Group:   {provider}:group:{conversationId}
//	Channel: {provider}:channel:{conversationId}
//
// Examples:
//
//	teams:29:1abcd
//	teams:group:19:meeting_x@thread.v2
//	teams:channel:19:general@thread.tacv2
//
// DM keys deliberately use the sender id, not the conversation id, so a user
// keeps one session across Teams client reinstalls that rotate the DM
// conversation id. Reply addressing uses the origin conversation carried on
// the Route, never the session key.
package routing

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// SessionKey identifies the assistant session an event maps to.
type SessionKey string

// BuildSessionKey derives the canonical session key for an inbound event.
// Pure: same event fields always produce the same key.
func BuildSessionKey(provider string, kind bus.ConversationType, senderID, conversationID string) SessionKey {
	switch kind {
	case bus.ConversationGroup:
		return SessionKey(fmt.Sprintf("%s:group:%s", provider, conversationID))
	case bus.ConversationChannel:
		return SessionKey(fmt.Sprintf("%s:channel:%s", provider, conversationID))
	default:
		return SessionKey(fmt.Sprintf("%s:%s", provider, senderID))
	}
}

// ParseSessionKey splits a key into provider, conversation type, and peer id.
// Conversation ids may themselves contain colons, so only the leading
// segments are split. Returns ok=false for keys missing a provider or peer.
func ParseSessionKey(key SessionKey) (provider string, kind bus.ConversationType, peer string, ok bool) {
	s := string(key)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	provider = parts[0]
	rest := parts[1]

	if id, found := strings.CutPrefix(rest, "group:"); found {
		if id == "" {
			return "", "", "", false
		}
		return provider, bus.ConversationGroup, id, true
	}
	if id, found := strings.CutPrefix(rest, "channel:"); found {
		if id == "" {
			return "", "", "", false
		}
		return provider, bus.ConversationChannel, id, true
	}
	return provider, bus.ConversationDirect, rest, true
}
