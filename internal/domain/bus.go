package domain

// MessageBus carries inbound chat messages from channels to the router.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
