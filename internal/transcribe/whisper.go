// Package transcribe turns voice notes into text through an OpenAI-compatible
// Whisper endpoint and records the audio seconds in the usage ledger.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"relaybot/internal/metrics"
)

// ErrNotConfigured is returned when no API credential is set.
var ErrNotConfigured = errors.New("transcription not configured")

// Result is a finished transcription. Duration is seconds of audio as
// reported by the endpoint, zero when unknown.
type Result struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcriber is a speech-to-text backend.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error)
	// Configured reports whether a credential is present.
	Configured() bool
}

// WhisperConfig configures the Whisper client.
type WhisperConfig struct {
	APIBase    string // e.g. "http://localhost:4000/v1" (LiteLLM) or "https://api.openai.com/v1"
	APIKey     string
	Model      string
	Language   string // optional ISO-639-1 code
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Whisper calls POST {APIBase}/audio/transcriptions with verbose_json so the
// response carries the audio duration.
type Whisper struct {
	apiBase    string
	apiKey     string
	model      string
	language   string
	maxRetries int
	backoff    backoffFunc
	client     *http.Client
	logger     *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "http://localhost:4000/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		language:   cfg.Language,
		maxRetries: cfg.MaxRetries,
		backoff:    jitteredBackoff,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (w *Whisper) Configured() bool { return w.apiKey != "" }

// Transcribe uploads audio and returns the decoded result.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if !w.Configured() {
		return nil, ErrNotConfigured
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	body, contentType, err := w.buildForm(audio, filename)
	if err != nil {
		return nil, err
	}

	url := w.apiBase + "/audio/transcriptions"
	start := time.Now()
	resp, err := doWithRetry(ctx, w.client, w.maxRetries, w.backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		return req, nil
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()
	metrics.TranscriptionLatency.Observe(time.Since(start).Seconds())

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Info("transcription complete",
		"bytes", len(audio),
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return &result, nil
}

func (w *Whisper) buildForm(audio []byte, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", audioContentType(filename))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}

	fields := [][2]string{{"model", w.model}, {"response_format", "verbose_json"}}
	if w.language != "" {
		fields = append(fields, [2]string{"language", w.language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func audioContentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".ogg"), strings.HasSuffix(filename, ".oga"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".webm"):
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
