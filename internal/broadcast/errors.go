// Package broadcast fans delivered events out to live subscriber
// connections (WebSocket or SSE) and to optional external sinks.
package broadcast

import "errors"

// Sentinel errors for the broadcast package.
var (
	ErrShutdown       = errors.New("broadcast: shut down")
	ErrMaxSubscribers = errors.New("broadcast: maximum number of subscribers reached")
)
