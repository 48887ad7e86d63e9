package teams

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

// ErrMalformedPayload marks a webhook body that cannot be normalized.
var ErrMalformedPayload = errors.New("malformed payload")

// Activity is the Bot Framework activity envelope, reduced to the fields the
// gateway consumes.
type Activity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp,omitempty"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	ChannelID    string          `json:"channelId,omitempty"`
	From         ChannelAccount  `json:"from"`
	Recipient    ChannelAccount  `json:"recipient,omitempty"`
	Conversation ConversationRef `json:"conversation"`
	Text         string          `json:"text,omitempty"`
	Entities     []Entity        `json:"entities,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	ChannelData  ChannelData     `json:"channelData,omitempty"`
	ReplyToID    string          `json:"replyToId,omitempty"`
}

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationRef struct {
	ID               string `json:"id"`
	ConversationType string `json:"conversationType,omitempty"` // "personal", "groupChat", "channel"
	TenantID         string `json:"tenantId,omitempty"`
}

type Entity struct {
	Type      string          `json:"type"`
	Mentioned *ChannelAccount `json:"mentioned,omitempty"`
	Text      string          `json:"text,omitempty"`
}

type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
}

type ChannelData struct {
	Team   *ChannelDataID `json:"team,omitempty"`
	Tenant *ChannelDataID `json:"tenant,omitempty"`
}

type ChannelDataID struct {
	ID string `json:"id"`
}

// atTagRe matches <at>...</at> mention tags left in activity text.
var atTagRe = regexp.MustCompile(`<at>.*?</at>`)

// ParseActivity normalizes a Bot Framework activity body into one inbound
// event. botID is the recipient app account id used for mention detection.
// Non-message activity types (typing, conversationUpdate, ...) return ok=false
// without error; the caller acks them silently.
func ParseActivity(body []byte, botID string) (bus.InboundEvent, bool, error) {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return bus.InboundEvent{}, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if act.Type != "message" {
		return bus.InboundEvent{}, false, nil
	}
	if act.ID == "" || act.From.ID == "" || act.Conversation.ID == "" {
		return bus.InboundEvent{}, false, fmt.Errorf("%w: missing id, from, or conversation", ErrMalformedPayload)
	}

	kind := conversationType(act.Conversation.ConversationType)
	mentioned := mentionsBot(act, botID)

	text := act.Text
	if mentioned {
		text = stripMentions(text)
	}

	var attachments []bus.Attachment
	for _, a := range act.Attachments {
		// Teams duplicates the text body as an text/html attachment; skip it.
		if strings.HasPrefix(a.ContentType, "text/") {
			continue
		}
		attachments = append(attachments, bus.Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			ContentURL:  a.ContentURL,
		})
	}

	tenantID := act.Conversation.TenantID
	if tenantID == "" && act.ChannelData.Tenant != nil {
		tenantID = act.ChannelData.Tenant.ID
	}
	teamID := ""
	if act.ChannelData.Team != nil {
		teamID = act.ChannelData.Team.ID
	}

	ts := act.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return bus.InboundEvent{
		Provider:         ProviderName,
		EventID:          act.ID,
		ConversationID:   act.Conversation.ID,
		ConversationType: kind,
		SenderID:         act.From.ID,
		SenderName:       act.From.Name,
		Text:             text,
		Attachments:      attachments,
		MentionsBot:      mentioned,
		ReplyToID:        act.ReplyToID,
		ServiceURL:       act.ServiceURL,
		TenantID:         tenantID,
		TeamID:           teamID,
		Timestamp:        ts,
		Raw:              json.RawMessage(body),
	}, true, nil
}

func conversationType(s string) bus.ConversationType {
	switch s {
	case "groupChat":
		return bus.ConversationGroup
	case "channel":
		return bus.ConversationChannel
	default: // "personal" or absent
		return bus.ConversationDirect
	}
}

// mentionsBot checks the mention entities against the recipient bot id.
func mentionsBot(act Activity, botID string) bool {
	for _, e := range act.Entities {
		if e.Type != "mention" || e.Mentioned == nil {
			continue
		}
		if e.Mentioned.ID == botID || e.Mentioned.ID == act.Recipient.ID {
			return true
		}
	}
	return false
}

// stripMentions removes <at>...</at> tags and collapses leftover whitespace.
func stripMentions(text string) string {
	out := atTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Join(strings.Fields(out), " "))
}
