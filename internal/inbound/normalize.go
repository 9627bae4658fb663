package inbound

import (
	"github.com/flemzord/sbridge/pkg/message"
)

// MediaNotice formats the bracketed media reference appended to content.
func MediaNotice(url string) string {
	return "[Media: " + url + "]"
}

// Normalize merges the media reference into the message body. It returns
// false when the message carries neither text nor media.
func Normalize(msg message.InboundMessage) (string, bool) {
	switch {
	case msg.Content != "" && msg.HasMedia():
		return msg.Content + "\n" + MediaNotice(msg.MediaURL), true
	case msg.HasMedia():
		return MediaNotice(msg.MediaURL), true
	case msg.Content != "":
		return msg.Content, true
	default:
		return "", false
	}
}
