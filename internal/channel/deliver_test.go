package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sendCall struct {
	text string
	mode ParseMode
}

// recordingSender fails calls according to fail, keyed by call index.
type recordingSender struct {
	calls []sendCall
	fail  map[int]error
}

func (r *recordingSender) send(_ context.Context, text string, mode ParseMode) error {
	idx := len(r.calls)
	r.calls = append(r.calls, sendCall{text, mode})
	return r.fail[idx]
}

func TestDeliverChunks_AllRich(t *testing.T) {
	r := &recordingSender{}
	if err := DeliverChunks(context.Background(), []string{"a", "b", "c"}, r.send, testLogger()); err != nil {
		t.Fatal(err)
	}
	want := []sendCall{{"a", ModeRich}, {"b", ModeRich}, {"c", ModeRich}}
	if fmt.Sprint(r.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", r.calls, want)
	}
}

func TestDeliverChunks_FormatFallbackOncePerChunk(t *testing.T) {
	r := &recordingSender{fail: map[int]error{
		0: errors.New("Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12"),
	}}
	if err := DeliverChunks(context.Background(), []string{"*a", "b"}, r.send, testLogger()); err != nil {
		t.Fatal(err)
	}
	want := []sendCall{{"*a", ModeRich}, {"*a", ModePlain}, {"b", ModeRich}}
	if fmt.Sprint(r.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", r.calls, want)
	}
}

func TestDeliverChunks_OtherErrorAborts(t *testing.T) {
	r := &recordingSender{fail: map[int]error{1: errors.New("Forbidden: bot was blocked by the user")}}
	err := DeliverChunks(context.Background(), []string{"a", "b", "c"}, r.send, testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	want := []sendCall{{"a", ModeRich}, {"b", ModeRich}}
	if fmt.Sprint(r.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", r.calls, want)
	}
}

func TestDeliverChunks_PlainRetryFailureAborts(t *testing.T) {
	r := &recordingSender{fail: map[int]error{
		0: ErrFormatRejected,
		1: errors.New("network down"),
	}}
	err := DeliverChunks(context.Background(), []string{"a", "b"}, r.send, testLogger())
	if err == nil || len(r.calls) != 2 {
		t.Fatalf("err=%v calls=%v", err, r.calls)
	}
}

func TestIsFormatRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("discord: %w", ErrFormatRejected), true},
		{"cant parse", errors.New("Bad Request: can't parse entities"), true},
		{"parse entities upper", errors.New("PARSE ENTITIES failed"), true},
		{"telegram pointer", &tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities"}, true},
		{"telegram value", tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse message text"}, true},
		{"telegram wrapped", fmt.Errorf("send: %w", &tgbotapi.Error{Code: 400, Message: "can't parse"}), true},
		{"telegram other code", &tgbotapi.Error{Code: 429, Message: "Too Many Requests: can't parse later"}, false},
		{"telegram other", &tgbotapi.Error{Code: 403, Message: "Forbidden"}, false},
		{"plain other", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFormatRejected(tt.err); got != tt.want {
				t.Errorf("IsFormatRejected(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
