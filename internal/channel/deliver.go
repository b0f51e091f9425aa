package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/metrics"
)

// ParseMode selects how a chunk is rendered by the platform.
type ParseMode int

const (
	ModeRich ParseMode = iota
	ModePlain
)

func (m ParseMode) String() string {
	if m == ModePlain {
		return "plain"
	}
	return "rich"
}

// ErrFormatRejected marks a send failure caused by markup the platform could
// not parse. Senders may wrap it to skip the description match.
var ErrFormatRejected = errors.New("formatting rejected by platform")

// SendFunc delivers one chunk in the given mode.
type SendFunc func(ctx context.Context, text string, mode ParseMode) error

var formatRejectMarkers = []string{"can't parse", "parse entities"}

// IsFormatRejected reports whether err means the rich markup was rejected
// and the same text may be resent as plain text.
func IsFormatRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFormatRejected) {
		return true
	}

	desc := err.Error()
	var apiErr *tgbotapi.Error
	var apiVal tgbotapi.Error
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Code != 0 && apiErr.Code != 400 {
			return false
		}
		desc = apiErr.Message
	case errors.As(err, &apiVal):
		if apiVal.Code != 0 && apiVal.Code != 400 {
			return false
		}
		desc = apiVal.Message
	}

	desc = strings.ToLower(desc)
	for _, m := range formatRejectMarkers {
		if strings.Contains(desc, m) {
			return true
		}
	}
	return false
}

// DeliverChunks sends chunks in order. A chunk whose markup is rejected is
// resent once as plain text; any other failure stops delivery and the
// remaining chunks are not sent.
func DeliverChunks(ctx context.Context, chunks []string, send SendFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for i, chunk := range chunks {
		err := send(ctx, chunk, ModeRich)
		if err != nil && IsFormatRejected(err) {
			logger.Warn("rich formatting rejected, resending as plain text",
				"chunk", i+1, "chunks", len(chunks), "err", err)
			metrics.FormatFallbacks.Inc()
			err = send(ctx, chunk, ModePlain)
		}
		if err != nil {
			metrics.DeliveryFailures.Inc()
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		metrics.ChunksSent.Inc()
	}
	return nil
}
