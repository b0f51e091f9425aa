// Package bus carries forwarded chat messages from the channels to the
// assistant side.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to publishTimeout if the bus is full instead of dropping.
// Each channel publishes from its own receive goroutine, so a slow consumer
// stalls that chat's stream and nothing else.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "chat_jid", msg.ChatJID)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "chat_jid", msg.ChatJID, "sender", msg.Sender)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "chat_jid", msg.ChatJID)
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"chat_jid", msg.ChatJID,
				"sender", msg.Sender,
				"waited", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Close stops the bus; the subscriber's range loop ends once it drains.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
