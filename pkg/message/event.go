package message

import "time"

// MethodMessage is the event method used for delivered messages.
const MethodMessage = "message"

// Event is a frame pushed to every live subscriber.
type Event struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// MessageParams is the payload of a "message" event.
type MessageParams struct {
	ChatID    string    `json:"chat_id"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	MediaURL  string    `json:"media_url,omitempty"`
}

// Connected is the one-time frame emitted when a subscriber attaches.
type Connected struct {
	Connected bool   `json:"connected"`
	ID        string `json:"id"`
}

// NewMessageEvent builds the event for a delivered inbound message whose
// content has already been normalized.
func NewMessageEvent(msg InboundMessage, content string) Event {
	return Event{
		Method: MethodMessage,
		Params: MessageParams{
			ChatID:    msg.ChatID(),
			From:      msg.From,
			Content:   content,
			Timestamp: msg.SentAt,
			MessageID: msg.ID,
			MediaURL:  msg.MediaURL,
		},
	}
}
