package message

import "time"

// InboundMessage is a provider-reported message as observed by either the
// poller or a webhook. It is immutable once observed.
type InboundMessage struct {
	// ID is the provider's message handle, globally unique per provider.
	ID        string    `json:"message_id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Content   string    `json:"content,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	SentAt    time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
}

// IsOutbound reports whether the message was sent by the account itself.
func (m *InboundMessage) IsOutbound() bool {
	return m.Direction == DirectionOutbound
}

// ChatID returns the counterpart address that identifies the conversation.
func (m *InboundMessage) ChatID() string {
	if m.IsOutbound() {
		return m.To
	}
	return m.From
}

// HasMedia reports whether the message carries a media reference.
func (m *InboundMessage) HasMedia() bool {
	return m.MediaURL != ""
}
