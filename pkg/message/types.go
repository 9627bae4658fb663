// Package message defines the provider-agnostic data contract shared by the
// poller, the webhook ingestor, the ledger and the broadcaster.
package message

// Direction records whether a message was received or sent by the account.
type Direction string

const (
	// DirectionInbound is a message sent to the account by a counterpart.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is a message sent by the account.
	DirectionOutbound Direction = "outbound"
)

// Source names the producer that observed a message.
type Source string

// Known producers.
const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
)
