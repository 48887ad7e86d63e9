package routing

import (
	"testing"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name           string
		kind           bus.ConversationType
		senderID       string
		conversationID string
		want           SessionKey
	}{
		{"dm uses sender id", bus.ConversationDirect, "U1", "a:b:convo", "teams:U1"},
		{"group uses conversation id", bus.ConversationGroup, "U1", "19:meeting@thread.v2", "teams:group:19:meeting@thread.v2"},
		{"channel uses conversation id", bus.ConversationChannel, "U1", "19:general@thread.tacv2", "teams:channel:19:general@thread.tacv2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSessionKey("teams", tt.kind, tt.senderID, tt.conversationID)
			if got != tt.want {
				t.Errorf("BuildSessionKey = %q, want %q", got, tt.want)
			}
			// Pure: second call produces the same key.
			if again := BuildSessionKey("teams", tt.kind, tt.senderID, tt.conversationID); again != got {
				t.Errorf("key not deterministic: %q vs %q", got, again)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		key      SessionKey
		provider string
		kind     bus.ConversationType
		peer     string
		ok       bool
	}{
		{"teams:U1", "teams", bus.ConversationDirect, "U1", true},
		{"teams:group:19:x@thread.v2", "teams", bus.ConversationGroup, "19:x@thread.v2", true},
		{"teams:channel:19:y@thread.tacv2", "teams", bus.ConversationChannel, "19:y@thread.tacv2", true},
		{"teams:", "", "", "", false},
		{"nodivider", "", "", "", false},
		{"teams:group:", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			provider, kind, peer, ok := ParseSessionKey(tt.key)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if provider != tt.provider || kind != tt.kind || peer != tt.peer {
				t.Errorf("got (%q, %q, %q), want (%q, %q, %q)",
					provider, kind, peer, tt.provider, tt.kind, tt.peer)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	key := BuildSessionKey("teams", bus.ConversationGroup, "U1", "19:topic:42@thread.v2")
	provider, kind, peer, ok := ParseSessionKey(key)
	if !ok {
		t.Fatal("parse failed")
	}
	if provider != "teams" || kind != bus.ConversationGroup || peer != "19:topic:42@thread.v2" {
		t.Errorf("round trip lost data: (%q, %q, %q)", provider, kind, peer)
	}
}
