package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

type fakeSTT struct {
	configured bool
	result     *Result
	err        error
	panicMsg   string
	calls      int
}

func (f *fakeSTT) Configured() bool { return f.configured }

func (f *fakeSTT) Transcribe(_ context.Context, _ []byte, _ string) (*Result, error) {
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result, f.err
}

type fakeLedger struct {
	mu     sync.Mutex
	events []domain.UsageEvent
	err    error
}

func (l *fakeLedger) RecordUsage(_ context.Context, ev domain.UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *fakeLedger) recorded() []domain.UsageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.UsageEvent(nil), l.events...)
}

func staticDownload(data []byte, err error) DownloadFunc {
	return func(context.Context) ([]byte, error) { return data, err }
}

func TestTranscribeMessage_EmptyDownload(t *testing.T) {
	stt := &fakeSTT{configured: true, result: &Result{Text: "never"}}
	p := NewPipeline(PipelineConfig{Transcriber: stt, Logger: testLogger()})

	out := p.TranscribeMessage(context.Background(), staticDownload(nil, nil), "main", "tg:1")
	assert.Equal(t, StateDownloadFailed, out.State)
	assert.Equal(t, "[Voice Message - download failed]", out.Text)
	assert.Zero(t, stt.calls)
}

func TestTranscribeMessage_DownloadError(t *testing.T) {
	p := NewPipeline(PipelineConfig{Transcriber: &fakeSTT{configured: true}, Logger: testLogger()})

	out := p.TranscribeMessage(context.Background(), staticDownload(nil, errors.New("404")), "main", "tg:1")
	assert.Equal(t, StateDownloadFailed, out.State)
	assert.Equal(t, TextDownloadFailed, out.Text)
}

func TestTranscribeMessage_Unconfigured(t *testing.T) {
	p := NewPipeline(PipelineConfig{Transcriber: &fakeSTT{configured: false}, Logger: testLogger()})

	out := p.TranscribeMessage(context.Background(), staticDownload([]byte("ogg"), nil), "main", "tg:1")
	assert.Equal(t, StateTranscriptionFailed, out.State)
	assert.Equal(t, "[Voice Message - transcription unavailable]", out.Text)
}

func TestTranscribeMessage_Panic(t *testing.T) {
	stt := &fakeSTT{configured: true, panicMsg: "boom"}
	p := NewPipeline(PipelineConfig{Transcriber: stt, Logger: testLogger()})

	out := p.TranscribeMessage(context.Background(), staticDownload([]byte("ogg"), nil), "main", "tg:1")
	assert.Equal(t, StateTranscriptionFailed, out.State)
	assert.Equal(t, "[Voice Message - transcription failed]", out.Text)
}

func TestTranscribeMessage_SuccessRecordsUsage(t *testing.T) {
	stt := &fakeSTT{configured: true, result: &Result{Text: "  hi there \n", Duration: 3.2}}
	ledger := &fakeLedger{}
	p := NewPipeline(PipelineConfig{Transcriber: stt, Usage: ledger, Logger: testLogger()})

	out := p.TranscribeMessage(context.Background(), staticDownload([]byte("ogg"), nil), "family", "tg:42")
	p.Wait()

	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, "hi there", out.Text)
	assert.Equal(t, "hi there", out.Transcript)

	events := ledger.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, domain.UsageEvent{
		GroupFolder: "family",
		ChatJID:     "tg:42",
		Model:       "whisper",
		InputTokens: 4,
	}, events[0])
}

func TestTranscribeBuffer(t *testing.T) {
	tests := []struct {
		name   string
		stt    *fakeSTT
		audio  []byte
		want   string
		wantOK bool
	}{
		{"success", &fakeSTT{configured: true, result: &Result{Text: "hi"}}, []byte("a"), "hi", true},
		{"unconfigured", &fakeSTT{}, []byte("a"), "", false},
		{"error", &fakeSTT{configured: true, err: errors.New("timeout")}, []byte("a"), "", false},
		{"blank text", &fakeSTT{configured: true, result: &Result{Text: "   "}}, []byte("a"), "", false},
		{"empty audio", &fakeSTT{configured: true, result: &Result{Text: "hi"}}, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(PipelineConfig{Transcriber: tt.stt, Logger: testLogger()})
			got, ok := p.TranscribeBuffer(context.Background(), tt.audio, "main", "tg:1")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranscribeBuffer_LedgerFailureDoesNotFailResult(t *testing.T) {
	stt := &fakeSTT{configured: true, result: &Result{Text: "hi", Duration: 1}}
	ledger := &fakeLedger{err: errors.New("disk full")}
	p := NewPipeline(PipelineConfig{Transcriber: stt, Usage: ledger, UsageModel: "whisper-1", Logger: testLogger()})

	got, ok := p.TranscribeBuffer(context.Background(), []byte("a"), "main", "tg:1")
	p.Wait()

	assert.True(t, ok)
	assert.Equal(t, "hi", got)
	require.Len(t, ledger.recorded(), 1)
	assert.Equal(t, "whisper-1", ledger.recorded()[0].Model)
}

func TestTranscribeBuffer_NoDurationNoUsage(t *testing.T) {
	ledger := &fakeLedger{}
	p := NewPipeline(PipelineConfig{
		Transcriber: &fakeSTT{configured: true, result: &Result{Text: "hi"}},
		Usage:       ledger,
		Logger:      testLogger(),
	})

	_, ok := p.TranscribeBuffer(context.Background(), []byte("a"), "main", "tg:1")
	p.Wait()
	assert.True(t, ok)
	assert.Empty(t, ledger.recorded())
}

func TestVoiceTexts(t *testing.T) {
	assert.Equal(t, "[Voice: hi there]", VoiceTranscript("hi there", ""))
	assert.Equal(t, "[Voice: hi] see above", VoiceTranscript("hi", "see above"))
	assert.Equal(t, "[Voice message - transcription failed]", VoiceFailed(""))
	assert.Equal(t, "[Voice message - transcription failed] cap", VoiceFailed("cap"))
}
