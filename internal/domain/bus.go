package domain

// MessageBus carries normalized inbound messages from channels to the assistant side.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
