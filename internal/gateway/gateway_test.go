package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/assistant"
	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/capability"
	"github.com/nextlevelbuilder/teamsclaw/internal/config"
	"github.com/nextlevelbuilder/teamsclaw/internal/routing"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

type fakePairing struct {
	mu       sync.Mutex
	paired   map[string]bool
	requests int
}

func (f *fakePairing) IsPaired(provider, senderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paired[provider+":"+senderID]
}

func (f *fakePairing) RequestPairing(provider, senderID, chatID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return "CODE1234", nil
}

func testEngine(t *testing.T, responder assistant.Responder, pairing *fakePairing, failureReply string) (*Engine, *bus.MessageBus) {
	t.Helper()
	b := bus.New()
	snapshot := routing.NewSnapshot(config.TeamsConfig{DMPolicy: "pairing"}, config.RoutingConfig{})
	router := routing.NewRouter(pairing)
	dispatcher := NewDispatcher(b, store.NewMemoryRefStore())
	return NewEngine(b, router, snapshot, responder, dispatcher, pairing, nil,
		capability.TierBasic, 2, failureReply), b
}

func drainOutbound(t *testing.T, b *bus.MessageBus) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	return b.SubscribeOutbound(ctx)
}

func dmEvent(sender string) bus.InboundEvent {
	return bus.InboundEvent{
		Provider:         "teams",
		EventID:          "e1",
		ConversationID:   "a:1convo",
		ConversationType: bus.ConversationDirect,
		SenderID:         sender,
		Text:             "hello",
		ServiceURL:       "https://smba.example.com/emea/",
	}
}

func TestProcessAllowedDMRepliesToOrigin(t *testing.T) {
	pairing := &fakePairing{paired: map[string]bool{"teams:U1": true}}
	var gotReq assistant.Request
	e, b := testEngine(t, assistant.Func(func(_ context.Context, req assistant.Request) (string, error) {
		gotReq = req
		return "hi U1", nil
	}), pairing, "")

	e.process(context.Background(), dmEvent("U1"))

	if gotReq.SessionKey != "teams:U1" {
		t.Errorf("SessionKey = %q, want teams:U1", gotReq.SessionKey)
	}
	if len(gotReq.Capabilities) == 0 {
		t.Error("capabilities should be populated")
	}

	msg, ok := drainOutbound(t, b)
	if !ok {
		t.Fatal("no outbound message")
	}
	if msg.ConversationID != "a:1convo" || msg.Content != "hi U1" {
		t.Errorf("outbound = %+v", msg)
	}
	if msg.ServiceURL != "https://smba.example.com/emea/" {
		t.Errorf("ServiceURL = %q, want origin service url", msg.ServiceURL)
	}
}

func TestProcessUnmentionedChannelIgnored(t *testing.T) {
	called := false
	e, b := testEngine(t, assistant.Func(func(context.Context, assistant.Request) (string, error) {
		called = true
		return "", nil
	}), &fakePairing{}, "")

	e.process(context.Background(), bus.InboundEvent{
		Provider:         "teams",
		ConversationID:   "19:general@thread.tacv2",
		ConversationType: bus.ConversationChannel,
		SenderID:         "U2",
		Text:             "chatter",
		MentionsBot:      false,
	})

	if called {
		t.Error("assistant must not be called for ignored events")
	}
	if msg, ok := drainOutbound(t, b); ok {
		t.Errorf("ignored event produced outbound %+v", msg)
	}
}

func TestProcessUnpairedDMSendsPairingCode(t *testing.T) {
	pairing := &fakePairing{paired: map[string]bool{}}
	e, b := testEngine(t, assistant.Func(func(context.Context, assistant.Request) (string, error) {
		t.Error("assistant must not be called for rejected events")
		return "", nil
	}), pairing, "")

	e.process(context.Background(), dmEvent("stranger"))

	msg, ok := drainOutbound(t, b)
	if !ok {
		t.Fatal("expected a pairing-code reply")
	}
	if !strings.Contains(msg.Content, "CODE1234") {
		t.Errorf("reply %q should carry the pairing code", msg.Content)
	}

	// Second DM inside the debounce window stays silent.
	e.process(context.Background(), dmEvent("stranger"))
	if _, ok := drainOutbound(t, b); ok {
		t.Error("debounced sender should not get a second code reply")
	}
	if pairing.requests != 1 {
		t.Errorf("requests = %d, want 1", pairing.requests)
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeFetcher) Fetch(_ context.Context, set capability.Set, kind bus.ConversationType, att bus.Attachment) ([]byte, error) {
	need := capability.CanFetchDMAttachment
	if kind != bus.ConversationDirect {
		need = capability.CanFetchChannelMedia
	}
	if err := set.Require(need); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, att.Name)
	return []byte("bytes of " + att.Name), nil
}

func TestProcessFetchesDMAttachments(t *testing.T) {
	pairing := &fakePairing{paired: map[string]bool{"teams:U1": true}}
	var gotReq assistant.Request
	e, b := testEngine(t, assistant.Func(func(_ context.Context, req assistant.Request) (string, error) {
		gotReq = req
		return "got it", nil
	}), pairing, "")
	fetcher := &fakeFetcher{}
	e.fetcher = fetcher

	ev := dmEvent("U1")
	ev.Attachments = []bus.Attachment{{
		Name:        "notes.pdf",
		ContentType: "application/pdf",
		ContentURL:  "https://example.com/notes.pdf",
	}}
	e.process(context.Background(), ev)

	if len(gotReq.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(gotReq.Attachments))
	}
	att := gotReq.Attachments[0]
	if att.Name != "notes.pdf" || string(att.Content) != "bytes of notes.pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if _, ok := drainOutbound(t, b); !ok {
		t.Error("reply should still be dispatched")
	}
}

func TestProcessChannelMediaDeniedAtBasicTier(t *testing.T) {
	var gotReq assistant.Request
	e, b := testEngine(t, assistant.Func(func(_ context.Context, req assistant.Request) (string, error) {
		gotReq = req
		return "seen", nil
	}), &fakePairing{}, "")
	fetcher := &fakeFetcher{}
	e.fetcher = fetcher

	e.process(context.Background(), bus.InboundEvent{
		Provider:         "teams",
		ConversationID:   "19:general@thread.tacv2",
		ConversationType: bus.ConversationChannel,
		SenderID:         "U2",
		Text:             "look at this",
		MentionsBot:      true,
		Attachments:      []bus.Attachment{{Name: "clip.mp4", ContentURL: "https://example.com/clip"}},
	})

	if len(gotReq.Attachments) != 0 {
		t.Errorf("basic tier must not hand channel media to the assistant: %+v", gotReq.Attachments)
	}
	if len(fetcher.names) != 0 {
		t.Errorf("fetcher downloaded despite denial: %v", fetcher.names)
	}
	if _, ok := drainOutbound(t, b); !ok {
		t.Error("denied fetch must not block the reply")
	}
}

func TestProcessAssistantFailureReply(t *testing.T) {
	pairing := &fakePairing{paired: map[string]bool{"teams:U1": true}}
	e, b := testEngine(t, assistant.Func(func(context.Context, assistant.Request) (string, error) {
		return "", errors.New("backend down")
	}), pairing, "Sorry, something went wrong.")

	e.process(context.Background(), dmEvent("U1"))

	msg, ok := drainOutbound(t, b)
	if !ok {
		t.Fatal("expected the failure reply")
	}
	if msg.Content != "Sorry, something went wrong." {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestDispatcherReplyMetadata(t *testing.T) {
	b := bus.New()
	d := NewDispatcher(b, store.NewMemoryRefStore())

	route := routing.Route{
		Policy: routing.Policy{ReplyStyle: routing.ReplyThread},
		ReplyTo: routing.ReplyTo{
			Provider:       "teams",
			ConversationID: "19:x@thread.v2",
			ReplyToID:      "msg-1",
		},
	}
	if err := d.Reply(context.Background(), route, "threaded answer"); err != nil {
		t.Fatal(err)
	}

	msg, ok := drainOutbound(t, b)
	if !ok {
		t.Fatal("no outbound message")
	}
	if msg.Metadata["reply_style"] != "thread" || msg.ReplyToID != "msg-1" {
		t.Errorf("outbound = %+v", msg)
	}
}

func TestSendProactiveWithoutReference(t *testing.T) {
	d := NewDispatcher(bus.New(), store.NewMemoryRefStore())
	err := d.SendProactive(context.Background(), "teams", "a:never-seen", "ping")
	if !errors.Is(err, ErrNoConversationReference) {
		t.Errorf("err = %v, want ErrNoConversationReference", err)
	}
}

func TestSendProactiveUsesStoredReference(t *testing.T) {
	b := bus.New()
	refs := store.NewMemoryRefStore()
	refs.Upsert(context.Background(), store.ConversationReference{
		Provider:       "teams",
		ConversationID: "a:1convo",
		ServiceURL:     "https://smba.example.com/emea/",
	})
	d := NewDispatcher(b, refs)

	if err := d.SendProactive(context.Background(), "teams", "a:1convo", "reminder"); err != nil {
		t.Fatal(err)
	}
	msg, ok := drainOutbound(t, b)
	if !ok {
		t.Fatal("no outbound message")
	}
	if msg.ServiceURL != "https://smba.example.com/emea/" || msg.Content != "reminder" {
		t.Errorf("outbound = %+v", msg)
	}
}

func TestProactiveEndpoint(t *testing.T) {
	b := bus.New()
	refs := store.NewMemoryRefStore()
	refs.Upsert(context.Background(), store.ConversationReference{
		Provider:       "teams",
		ConversationID: "a:1convo",
		ServiceURL:     "https://smba.example.com/emea/",
	})
	cfg := config.Default()
	cfg.Gateway.Token = "tok-1"
	s := NewServer(cfg, b, NewDispatcher(b, refs), nil)
	mux := s.BuildMux()

	post := func(body, token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/v1/proactive", strings.NewReader(body))
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		return w
	}

	if w := post(`{"provider":"teams","conversation_id":"a:1convo","text":"hi"}`, "tok-1"); w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	if w := post(`{"provider":"teams","conversation_id":"a:unknown","text":"hi"}`, "tok-1"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown conversation", w.Code)
	}
	if w := post(`{"provider":"teams","conversation_id":"a:1convo","text":"hi"}`, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w := post(`{"provider":"teams"}`, "tok-1"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing fields", w.Code)
	}
}

type statusStub map[string]interface{}

func (s statusStub) GetStatus() map[string]interface{} { return s }

func TestStatusEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.Teams.AppPassword = "hunter2"
	b := bus.New()
	s := NewServer(cfg, b, NewDispatcher(b, store.NewMemoryRefStore()), statusStub{
		"teams": map[string]interface{}{"enabled": true, "running": true},
	})

	r := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"teams"`) || !strings.Contains(body, `"running":true`) {
		t.Errorf("body missing channel status: %s", body)
	}
	if strings.Contains(body, "hunter2") {
		t.Error("status body leaked a secret")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(config.Default(), bus.New(), NewDispatcher(bus.New(), store.NewMemoryRefStore()), nil)
	r := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(w, r)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health = %d %q", w.Code, w.Body.String())
	}
}
