package sendblue

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// Message is one message as reported by the Sendblue API.
type Message struct {
	MessageHandle  string `json:"message_handle"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url"`
	FromNumber     string `json:"from_number"`
	ToNumber       string `json:"to_number"`
	Number         string `json:"number"`
	SendblueNumber string `json:"sendblue_number"`
	IsOutbound     bool   `json:"is_outbound"`
	Status         string `json:"status"`
	DateSent       string `json:"date_sent"`
	DateUpdated    string `json:"date_updated"`
}

// ToInbound converts the wire message into the bridge's data contract.
// now is used when the provider omits or garbles the send timestamp.
func (m Message) ToInbound(now time.Time) message.InboundMessage {
	dir := message.DirectionInbound
	if m.IsOutbound {
		dir = message.DirectionOutbound
	}

	to := m.ToNumber
	if to == "" {
		if m.IsOutbound {
			to = m.Number
		} else {
			to = m.SendblueNumber
		}
	}

	from := m.FromNumber
	if from == "" && !m.IsOutbound {
		from = m.Number
	}

	return message.InboundMessage{
		ID:        m.MessageHandle,
		From:      from,
		To:        to,
		Content:   m.Content,
		MediaURL:  strings.TrimSpace(m.MediaURL),
		SentAt:    ParseTimestamp(m.DateSent, now),
		Direction: dir,
	}
}

// ParseTimestamp parses a provider timestamp, falling back to fallback.
func ParseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// listResponse accepts both {"data": [...]} and a bare array.
type listResponse []Message

func (l *listResponse) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(b, &msgs); err != nil {
			return err
		}
		*l = msgs
		return nil
	}
	var wrapped struct {
		Data     []Message `json:"data"`
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Data != nil {
		*l = wrapped.Data
	} else {
		*l = wrapped.Messages
	}
	return nil
}

type sendRequest struct {
	Number     string `json:"number"`
	Content    string `json:"content,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	FromNumber string `json:"from_number,omitempty"`
}

type sendResponse struct {
	MessageHandle string `json:"message_handle"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message"`
}

type errorResponse struct {
	Message      string `json:"message"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorMessage, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}
