package domain

import "context"

// ChannelStatus reports the runtime state of a chat channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a chat surface that delivers user commands and carries replies.
type Channel interface {
	// ID returns the channel identifier (e.g. "irc").
	ID() string

	// Start connects the channel and blocks until ctx is done or the
	// connection ends.
	Start(ctx context.Context) error

	// Stop disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers a reply through this channel.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnMessage registers the handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))
}
