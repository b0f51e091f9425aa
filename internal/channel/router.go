package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// ErrNoChannel is returned when no configured channel owns a JID.
var ErrNoChannel = errors.New("no channel owns jid")

// Router selects the channel for a JID by its platform prefix.
type Router struct {
	channels []domain.Channel
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger, channels ...domain.Channel) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{channels: channels, logger: logger}
}

// Channels returns the routed channels in registration order.
func (r *Router) Channels() []domain.Channel {
	return append([]domain.Channel(nil), r.channels...)
}

// Find returns the channel that owns jid.
func (r *Router) Find(jid string) (domain.Channel, error) {
	for _, ch := range r.channels {
		if ch.OwnsJID(jid) {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoChannel, jid)
}

// Send delivers text through the owning channel.
func (r *Router) Send(ctx context.Context, jid, text string) error {
	ch, err := r.Find(jid)
	if err != nil {
		return err
	}
	if !ch.IsConnected() {
		return fmt.Errorf("%s channel is not connected", ch.Name())
	}
	return ch.SendMessage(ctx, jid, text)
}

// SetTyping forwards a typing indicator; unknown JIDs are ignored.
func (r *Router) SetTyping(ctx context.Context, jid string, typing bool) {
	ch, err := r.Find(jid)
	if err != nil {
		r.logger.Debug("typing for unrouted jid", "jid", jid)
		return
	}
	ch.SetTyping(ctx, jid, typing)
}

// ConnectAll connects every channel, stopping at the first failure. Channels
// already connected are disconnected again before returning the error.
func (r *Router) ConnectAll(ctx context.Context) error {
	for i, ch := range r.channels {
		if err := ch.Connect(ctx); err != nil {
			for _, done := range r.channels[:i] {
				if derr := done.Disconnect(context.WithoutCancel(ctx)); derr != nil {
					r.logger.Warn("disconnect after failed start", "channel", done.Name(), "err", derr)
				}
			}
			return err
		}
	}
	return nil
}

// DisconnectAll disconnects every channel and joins the errors.
func (r *Router) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, ch := range r.channels {
		if err := ch.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Status reports "name=connected|disconnected" for each channel.
func (r *Router) Status() string {
	parts := make([]string, 0, len(r.channels))
	for _, ch := range r.channels {
		state := "disconnected"
		if ch.IsConnected() {
			state = "connected"
		}
		parts = append(parts, ch.Name()+"="+state)
	}
	return strings.Join(parts, " ")
}
