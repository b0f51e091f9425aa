package channel

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/transcribe"
)

// Event is one inbound platform event, already decoded from the platform's
// wire type.
type Event struct {
	Kind       ContentKind
	ChatJID    string
	ChatName   string
	MessageID  string
	SenderID   string
	SenderName string
	Date       int64 // epoch seconds

	Text     string
	Entities []Entity

	Caption string
	Detail  string // document filename or sticker emoji

	// Audio holds voice bytes already in hand; otherwise FetchAudio downloads them.
	Audio      []byte
	FetchAudio func(ctx context.Context) ([]byte, error)
}

// Outcome is what Ingest did with an event.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeUnregistered
	OutcomeForwarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeForwarded:
		return "forwarded"
	case OutcomeUnregistered:
		return "unregistered"
	default:
		return "skipped"
	}
}

// VoiceTranscriber turns voice bytes into a transcript. ok is false when no
// transcript could be produced for any reason.
type VoiceTranscriber interface {
	TranscribeBuffer(ctx context.Context, audio []byte, groupFolder, chatJID string) (string, bool)
}

// Gate answers registration questions from a fresh snapshot on every call.
type Gate struct {
	lookup domain.RegistrationLookup
}

func NewGate(lookup domain.RegistrationLookup) Gate {
	return Gate{lookup: lookup}
}

// Lookup returns the registration for jid, if any.
func (g Gate) Lookup(jid string) (domain.RegisteredGroup, bool) {
	if g.lookup == nil {
		return domain.RegisteredGroup{}, false
	}
	group, ok := g.lookup()[jid]
	return group, ok
}

func (g Gate) IsRegistered(jid string) bool {
	_, ok := g.Lookup(jid)
	return ok
}

// ingestArm produces the message content for one content kind. ok=false
// skips the event.
type ingestArm func(ctx context.Context, ev Event, group domain.RegisteredGroup) (content string, ok bool)

// IngestConfig configures an Ingestor.
type IngestConfig struct {
	Channel       string
	AssistantName string
	Trigger       *regexp.Regexp
	Callbacks     domain.Callbacks
	Voice         VoiceTranscriber
	Logger        *slog.Logger
}

// Ingestor normalizes platform events into InboundMessages: it records chat
// metadata, applies the registration gate, maps content and hands the result
// to the OnMessage callback. Each channel calls it from its single receive
// goroutine.
type Ingestor struct {
	channel       string
	assistantName string
	trigger       *regexp.Regexp
	callbacks     domain.Callbacks
	gate          Gate
	voice         VoiceTranscriber
	logger        *slog.Logger
	ownHandle     atomic.Value // string
	arms          map[ContentKind]ingestArm
}

func NewIngestor(cfg IngestConfig) *Ingestor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Trigger == nil && cfg.AssistantName != "" {
		cfg.Trigger = NewTriggerPattern(cfg.AssistantName)
	}
	in := &Ingestor{
		channel:       cfg.Channel,
		assistantName: cfg.AssistantName,
		trigger:       cfg.Trigger,
		callbacks:     cfg.Callbacks,
		gate:          NewGate(cfg.Callbacks.RegisteredGroups),
		voice:         cfg.Voice,
		logger:        cfg.Logger,
	}
	in.ownHandle.Store("")

	placeholder := func(_ context.Context, ev Event, _ domain.RegisteredGroup) (string, bool) {
		return Placeholder(ev.Kind, ev.Detail, ev.Caption), true
	}
	in.arms = map[ContentKind]ingestArm{
		KindText:     in.textContent,
		KindVoice:    in.voiceContent,
		KindPhoto:    placeholder,
		KindVideo:    placeholder,
		KindAudio:    placeholder,
		KindDocument: placeholder,
		KindSticker:  placeholder,
		KindLocation: placeholder,
		KindContact:  placeholder,
	}
	return in
}

// SetOwnHandle sets the bot's platform username, learned at connect.
func (in *Ingestor) SetOwnHandle(handle string) {
	in.ownHandle.Store(handle)
}

func (in *Ingestor) OwnHandle() string {
	return in.ownHandle.Load().(string)
}

// Gate returns the registration gate the ingestor consults.
func (in *Ingestor) Gate() Gate { return in.gate }

// Ingest processes one event to completion.
func (in *Ingestor) Ingest(ctx context.Context, ev Event) Outcome {
	metrics.Inbound(in.channel).Inc()

	arm, ok := in.arms[ev.Kind]
	if !ok {
		in.logger.Debug("skipping unsupported content", "chat_jid", ev.ChatJID, "kind", ev.Kind)
		metrics.MessagesSkipped.Inc()
		return OutcomeSkipped
	}

	timestamp := domain.FormatTimestamp(ev.Date)
	in.recordMetadata(ev.ChatJID, timestamp, ev.ChatName)

	group, registered := in.gate.Lookup(ev.ChatJID)
	if !registered {
		in.logger.Debug("message from unregistered chat",
			"channel", in.channel, "chat_jid", ev.ChatJID, "chat_name", ev.ChatName)
		metrics.MessagesUnregistered.Inc()
		return OutcomeUnregistered
	}

	content, ok := arm(ctx, ev, group)
	if !ok {
		metrics.MessagesSkipped.Inc()
		return OutcomeSkipped
	}

	msg := domain.InboundMessage{
		ID:         ev.MessageID,
		ChatJID:    ev.ChatJID,
		Sender:     ev.SenderID,
		SenderName: ev.SenderName,
		Content:    content,
		Timestamp:  timestamp,
		IsFromMe:   false,
	}
	if in.callbacks.OnMessage != nil {
		in.callbacks.OnMessage(ev.ChatJID, msg)
	}
	metrics.MessagesForwarded.Inc()
	in.logger.Info("message forwarded",
		"channel", in.channel, "chat_jid", ev.ChatJID, "sender", ev.SenderName, "kind", ev.Kind)
	return OutcomeForwarded
}

func (in *Ingestor) recordMetadata(jid, timestamp, name string) {
	if in.callbacks.OnChatMetadata == nil {
		return
	}
	if err := in.callbacks.OnChatMetadata(jid, timestamp, name); err != nil {
		in.logger.Warn("record chat metadata failed", "chat_jid", jid, "err", err)
	}
}

func (in *Ingestor) textContent(_ context.Context, ev Event, _ domain.RegisteredGroup) (string, bool) {
	if strings.TrimSpace(ev.Text) == "" {
		return "", false
	}
	return RewriteMention(ev.Text, ev.Entities, in.OwnHandle(), in.trigger, in.assistantName), true
}

func (in *Ingestor) voiceContent(ctx context.Context, ev Event, group domain.RegisteredGroup) (string, bool) {
	if in.voice == nil {
		return transcribe.VoiceFailed(ev.Caption), true
	}

	audio := ev.Audio
	if len(audio) == 0 && ev.FetchAudio != nil {
		data, err := ev.FetchAudio(ctx)
		if err != nil {
			in.logger.Error("voice download failed", "chat_jid", ev.ChatJID, "err", err)
			return transcribe.VoiceFailed(ev.Caption), true
		}
		audio = data
	}

	transcript, ok := in.voice.TranscribeBuffer(ctx, audio, group.Folder, ev.ChatJID)
	if !ok {
		return transcribe.VoiceFailed(ev.Caption), true
	}
	in.logger.Info("voice note transcribed", "chat_jid", ev.ChatJID, "length", len(transcript))
	return transcribe.VoiceTranscript(transcript, ev.Caption), true
}
