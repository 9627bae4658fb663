package message

// OutboundMessage is a message the account sends to a counterpart.
type OutboundMessage struct {
	To       string `json:"to"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
}

// SendResult is returned by a successful outbound send.
type SendResult struct {
	MessageID string `json:"messageId"`
}
