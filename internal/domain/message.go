package domain

import "time"

// InboundMessage is a normalized chat message handed to the assistant side.
// Content is already placeholderized; it is never raw platform payload.
type InboundMessage struct {
	ID         string `json:"id"`
	ChatJID    string `json:"chat_jid"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"` // RFC 3339, UTC, millisecond precision
	IsFromMe   bool   `json:"is_from_me"`
}

// ChatMetadata is the discovery record kept for every chat that sent anything,
// registered or not.
type ChatMetadata struct {
	ChatJID         string `json:"chat_jid"`
	Name            string `json:"name,omitempty"`
	LastMessageTime string `json:"last_message_time"`
}

// RegisteredGroup is an operator-approved chat. Folder names the assistant's
// working area for that chat.
type RegisteredGroup struct {
	Name    string    `json:"name" yaml:"name"`
	Folder  string    `json:"folder" yaml:"folder"`
	Trigger string    `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	AddedAt time.Time `json:"added_at" yaml:"added_at,omitempty"`
}

// UsageEvent is one row for the usage ledger. For audio transcription the
// token counts are seconds of audio.
type UsageEvent struct {
	GroupFolder      string
	ChatJID          string
	Model            string
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
	MessageID        string
}

// FormatTimestamp renders platform epoch seconds the way InboundMessage and
// ChatMetadata expect them.
func FormatTimestamp(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format("2006-01-02T15:04:05.000Z")
}
