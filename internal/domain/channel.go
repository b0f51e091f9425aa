package domain

import "context"

// Channel is one chat platform connection (Telegram, Discord, Slack).
type Channel interface {
	Name() string

	// Connect registers event handlers and returns once the platform session is live.
	Connect(ctx context.Context) error

	// SendMessage delivers text to jid, splitting it to the platform ceiling.
	// Delivery failures are logged, not returned.
	SendMessage(ctx context.Context, jid string, text string) error

	// SetTyping is best-effort and never fails.
	SetTyping(ctx context.Context, jid string, typing bool)

	IsConnected() bool

	// OwnsJID reports whether jid carries this channel's platform prefix.
	OwnsJID(jid string) bool

	// Disconnect stops the transport. Safe to call more than once.
	Disconnect(ctx context.Context) error
}

// RegistrationLookup returns the current registration snapshot keyed by chat JID.
// Channels call it once per event and never cache the result.
type RegistrationLookup func() map[string]RegisteredGroup

// Callbacks are the collaborators every channel reports to.
type Callbacks struct {
	OnMessage        func(chatJID string, msg InboundMessage)
	OnChatMetadata   func(chatJID string, timestamp string, name string) error
	RegisteredGroups RegistrationLookup
}

// UsageRecorder is the usage ledger sink.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}
