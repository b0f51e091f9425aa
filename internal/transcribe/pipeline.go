package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Placeholder texts for voice notes that produced no transcript.
const (
	TextDownloadFailed = "[Voice Message - download failed]"
	TextUnavailable    = "[Voice Message - transcription unavailable]"
	TextFailed         = "[Voice Message - transcription failed]"

	voiceFailedText = "[Voice message - transcription failed]"
)

// VoiceFailed is the chat content for a voice note that could not be
// transcribed, with the caption appended.
func VoiceFailed(caption string) string {
	return voiceFailedText + withCaption(caption)
}

// VoiceTranscript wraps a transcript as chat content.
func VoiceTranscript(transcript, caption string) string {
	return "[Voice: " + transcript + "]" + withCaption(caption)
}

func withCaption(caption string) string {
	if caption == "" {
		return ""
	}
	return " " + caption
}

// State is a voice note's position in the pipeline.
type State int

const (
	StateDownloading State = iota
	StateTranscribing
	StateSucceeded
	StateDownloadFailed
	StateTranscriptionFailed
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateTranscribing:
		return "transcribing"
	case StateSucceeded:
		return "succeeded"
	case StateDownloadFailed:
		return "download_failed"
	default:
		return "transcription_failed"
	}
}

// Outcome is the terminal result of TranscribeMessage. Text is always
// usable as message content.
type Outcome struct {
	State      State
	Text       string
	Transcript string
}

// DownloadFunc fetches the raw audio of a voice note.
type DownloadFunc func(ctx context.Context) ([]byte, error)

const usageRecordTimeout = 10 * time.Second

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Transcriber Transcriber
	Usage       domain.UsageRecorder // optional
	UsageModel  string               // model name recorded in the ledger; default "whisper"
	Filename    string               // upload filename; default "voice.ogg"
	Logger      *slog.Logger
}

// Pipeline downloads, transcribes and records usage for voice notes.
type Pipeline struct {
	stt        Transcriber
	usage      domain.UsageRecorder
	usageModel string
	filename   string
	logger     *slog.Logger
	pending    sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.UsageModel == "" {
		cfg.UsageModel = "whisper"
	}
	if cfg.Filename == "" {
		cfg.Filename = "voice.ogg"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		stt:        cfg.Transcriber,
		usage:      cfg.Usage,
		usageModel: cfg.UsageModel,
		filename:   cfg.Filename,
		logger:     cfg.Logger,
	}
}

// TranscribeMessage runs the full download-then-transcribe path. An empty or
// failed download yields TextDownloadFailed, a missing transcript yields
// TextUnavailable, and a panic in a collaborator yields TextFailed.
func (p *Pipeline) TranscribeMessage(ctx context.Context, download DownloadFunc, groupFolder, chatJID string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("voice pipeline panic", "chat_jid", chatJID, "panic", fmt.Sprint(r))
			out = Outcome{State: StateTranscriptionFailed, Text: TextFailed}
		}
		metrics.Transcriptions(out.State.String()).Inc()
	}()

	audio, err := download(ctx)
	if err != nil || len(audio) == 0 {
		p.logger.Error("voice download failed", "chat_jid", chatJID, "err", err)
		return Outcome{State: StateDownloadFailed, Text: TextDownloadFailed}
	}
	p.logger.Info("voice note downloaded", "chat_jid", chatJID, "bytes", len(audio))

	text, ok := p.transcribe(ctx, audio, groupFolder, chatJID)
	if !ok {
		return Outcome{State: StateTranscriptionFailed, Text: TextUnavailable}
	}
	return Outcome{State: StateSucceeded, Text: text, Transcript: text}
}

// TranscribeBuffer transcribes audio already in hand. ok is false when no
// transcript was produced.
func (p *Pipeline) TranscribeBuffer(ctx context.Context, audio []byte, groupFolder, chatJID string) (string, bool) {
	text, ok := p.transcribe(ctx, audio, groupFolder, chatJID)
	state := StateSucceeded
	if !ok {
		state = StateTranscriptionFailed
	}
	metrics.Transcriptions(state.String()).Inc()
	return text, ok
}

func (p *Pipeline) transcribe(ctx context.Context, audio []byte, groupFolder, chatJID string) (string, bool) {
	if p.stt == nil || !p.stt.Configured() {
		p.logger.Warn("transcription not configured", "chat_jid", chatJID)
		return "", false
	}
	if len(audio) == 0 {
		p.logger.Warn("empty voice buffer", "chat_jid", chatJID)
		return "", false
	}

	res, err := p.stt.Transcribe(ctx, audio, p.filename)
	if err != nil {
		p.logger.Error("transcription failed", "chat_jid", chatJID, "err", err)
		return "", false
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		p.logger.Warn("transcription returned no text", "chat_jid", chatJID)
		return "", false
	}

	if res.Duration > 0 {
		p.recordUsage(ctx, domain.UsageEvent{
			GroupFolder: groupFolder,
			ChatJID:     chatJID,
			Model:       p.usageModel,
			InputTokens: int(math.Ceil(res.Duration)),
		})
	}
	return text, true
}

// recordUsage stores ev in the background. Failures are logged only.
func (p *Pipeline) recordUsage(ctx context.Context, ev domain.UsageEvent) {
	if p.usage == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, usageRecordTimeout)
		defer cancel()
		if err := p.usage.RecordUsage(ctx, ev); err != nil {
			metrics.UsageRecordErrors.Inc()
			p.logger.Warn("record transcription usage failed", "chat_jid", ev.ChatJID, "err", err)
			return
		}
		p.logger.Debug("transcription usage recorded", "chat_jid", ev.ChatJID, "seconds", ev.InputTokens)
	}()
}

// Wait blocks until background usage records have finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}
