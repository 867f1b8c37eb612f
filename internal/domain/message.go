package domain

import "time"

// ChatType classifies where a message was sent.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a chat message received from a channel. From is the
// sender's stable identity and doubles as the user id for ownership,
// investments and rate limits.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyTarget returns where a reply to m should be sent: the group for
// group messages, the sender for direct messages.
func (m InboundMessage) ReplyTarget() string {
	if m.ChatType == ChatTypeGroup {
		return m.ChatID
	}
	return m.From
}

// OutboundMessage is a reply sent through a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
}
