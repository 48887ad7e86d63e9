package teams

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

const botID = "28:app-1"

func TestParseActivityPersonal(t *testing.T) {
	body := []byte(`{
		"type": "message",
		"id": "1485983408511",
		"timestamp": "2026-08-20T09:00:00Z",
		"serviceUrl": "https://smba.example.com/emea/",
		"channelId": "msteams",
		"from": {"id": "29:1abcd", "name": "Dana"},
		"recipient": {"id": "28:app-1", "name": "Bot"},
		"conversation": {"id": "a:1xyz", "conversationType": "personal", "tenantId": "tenant-1"},
		"text": "hello there"
	}`)

	ev, ok, err := ParseActivity(body, botID)
	if err != nil || !ok {
		t.Fatalf("ParseActivity: ok=%v err=%v", ok, err)
	}
	if ev.Provider != "teams" || ev.EventID != "1485983408511" {
		t.Errorf("identity fields wrong: %+v", ev)
	}
	if ev.ConversationType != bus.ConversationDirect {
		t.Errorf("ConversationType = %q, want direct", ev.ConversationType)
	}
	if ev.SenderID != "29:1abcd" || ev.SenderName != "Dana" {
		t.Errorf("sender fields wrong: %+v", ev)
	}
	if ev.Text != "hello there" {
		t.Errorf("Text = %q", ev.Text)
	}
	if ev.TenantID != "tenant-1" || ev.ServiceURL != "https://smba.example.com/emea/" {
		t.Errorf("addressing fields wrong: %+v", ev)
	}
	if ev.MentionsBot {
		t.Error("no mention entities, MentionsBot should be false")
	}
}

func TestParseActivityChannelMention(t *testing.T) {
	body := []byte(`{
		"type": "message",
		"id": "99",
		"from": {"id": "29:1abcd"},
		"recipient": {"id": "28:app-1"},
		"conversation": {"id": "19:general@thread.tacv2", "conversationType": "channel"},
		"channelData": {"team": {"id": "19:team1"}, "tenant": {"id": "tenant-2"}},
		"entities": [{"type": "mention", "mentioned": {"id": "28:app-1"}, "text": "<at>Bot</at>"}],
		"text": "<at>Bot</at>  summarize this thread",
		"replyToId": "1485983408500"
	}`)

	ev, ok, err := ParseActivity(body, botID)
	if err != nil || !ok {
		t.Fatalf("ParseActivity: ok=%v err=%v", ok, err)
	}
	if ev.ConversationType != bus.ConversationChannel {
		t.Errorf("ConversationType = %q, want channel", ev.ConversationType)
	}
	if !ev.MentionsBot {
		t.Error("MentionsBot should be true")
	}
	if ev.Text != "summarize this thread" {
		t.Errorf("mention not stripped: %q", ev.Text)
	}
	if ev.TeamID != "19:team1" {
		t.Errorf("TeamID = %q", ev.TeamID)
	}
	if ev.TenantID != "tenant-2" {
		t.Errorf("TenantID = %q (channelData fallback)", ev.TenantID)
	}
	if ev.ReplyToID != "1485983408500" {
		t.Errorf("ReplyToID = %q", ev.ReplyToID)
	}
}

func TestParseActivityMentionOfSomeoneElse(t *testing.T) {
	body := []byte(`{
		"type": "message",
		"id": "100",
		"from": {"id": "29:1abcd"},
		"recipient": {"id": "28:app-1"},
		"conversation": {"id": "19:x@thread.v2", "conversationType": "groupChat"},
		"entities": [{"type": "mention", "mentioned": {"id": "29:other"}, "text": "<at>Sam</at>"}],
		"text": "<at>Sam</at> can you look?"
	}`)

	ev, ok, err := ParseActivity(body, botID)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if ev.MentionsBot {
		t.Error("mention of another user must not count as a bot mention")
	}
	if ev.ConversationType != bus.ConversationGroup {
		t.Errorf("ConversationType = %q, want group", ev.ConversationType)
	}
	// Text untouched when the bot is not mentioned.
	if ev.Text != "<at>Sam</at> can you look?" {
		t.Errorf("Text = %q", ev.Text)
	}
}

func TestParseActivityAttachments(t *testing.T) {
	body := []byte(`{
		"type": "message",
		"id": "101",
		"from": {"id": "29:1abcd"},
		"conversation": {"id": "a:1", "conversationType": "personal"},
		"text": "see attached",
		"attachments": [
			{"contentType": "text/html", "content": "<p>see attached</p>"},
			{"contentType": "image/png", "contentUrl": "https://example.com/x.png", "name": "x.png"}
		]
	}`)

	ev, ok, err := ParseActivity(body, botID)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if len(ev.Attachments) != 1 {
		t.Fatalf("Attachments = %v, want the html echo filtered out", ev.Attachments)
	}
	if ev.Attachments[0].Name != "x.png" || ev.Attachments[0].ContentURL != "https://example.com/x.png" {
		t.Errorf("attachment fields wrong: %+v", ev.Attachments[0])
	}
}

func TestParseActivityNonMessage(t *testing.T) {
	body := []byte(`{"type": "conversationUpdate", "id": "7", "from": {"id": "x"}, "conversation": {"id": "y"}}`)
	_, ok, err := ParseActivity(body, botID)
	if err != nil {
		t.Fatalf("non-message activities are acked, not errors: %v", err)
	}
	if ok {
		t.Error("non-message activity should not produce an event")
	}
}

func TestParseActivityMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"type": "message",`},
		{"missing id", `{"type": "message", "from": {"id": "x"}, "conversation": {"id": "y"}}`},
		{"missing sender", `{"type": "message", "id": "1", "conversation": {"id": "y"}}`},
		{"missing conversation", `{"type": "message", "id": "1", "from": {"id": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseActivity([]byte(tt.body), botID)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestStripMentions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<at>Bot</at> hello", "hello"},
		{"<at>Bot</at> <at>Sam</at> hi both", "hi both"},
		{"no tags here", "no tags here"},
		{"  <at>Bot</at>   spaced   out  ", "spaced out"},
	}
	for _, tt := range tests {
		if got := stripMentions(tt.in); got != tt.want {
			t.Errorf("stripMentions(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
