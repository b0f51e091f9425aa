package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func noBackoff(int) time.Duration { return 0 }

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "de", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "voice.ogg", hdr.Filename)
		assert.Equal(t, "audio/ogg", hdr.Header.Get("Content-Type"))
		assert.Equal(t, []byte("OggS-audio"), data)

		_ = json.NewEncoder(w).Encode(map[string]any{"text": " hallo ", "language": "german", "duration": 2.4})
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL + "/v1/", APIKey: "sk-test", Language: "de", Logger: testLogger()})
	res, err := w.Transcribe(context.Background(), []byte("OggS-audio"), "")
	require.NoError(t, err)
	assert.Equal(t, " hallo ", res.Text)
	assert.InDelta(t, 2.4, res.Duration, 1e-9)
}

func TestWhisper_NotConfigured(t *testing.T) {
	w := NewWhisper(WhisperConfig{Logger: testLogger()})
	assert.False(t, w.Configured())
	_, err := w.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWhisper_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, APIKey: "k", Logger: testLogger()})
	w.backoff = noBackoff

	res, err := w.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWhisper_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, APIKey: "k", Logger: testLogger()})
	w.backoff = noBackoff

	_, err := w.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWhisper_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, APIKey: "k", MaxRetries: 2, Logger: testLogger()})
	w.backoff = noBackoff

	_, err := w.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
