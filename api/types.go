package api

import (
	"time"

	"board-sync/relay"
)

const (
	publishMaxSize   = 64 * 1024 // 64 KiB
	defaultKeepAlive = 30 * time.Second

	missingOwnerMessage    = "Missing userId"
	processingErrorMessage = "Error processing event"
	eventSentMessage       = "Event sent"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Relay bundles what the event endpoints need.
type Relay struct {
	// Hub holds the push channels of subscribers connected to this instance.
	Hub *relay.Hub
	// Broadcaster delivers published frames; nil means Hub.
	Broadcaster relay.Broadcaster
	// Deduper drops repeated event ids; nil disables deduplication.
	Deduper relay.Deduper
	// KeepAlive is the ping interval; zero means 30s.
	KeepAlive time.Duration
}
