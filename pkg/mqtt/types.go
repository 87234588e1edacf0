package mqtt

import (
	"context"
)

// MessageHandler processes one received message. Handlers run on their own
// goroutine; ctx ends when the client is disconnected.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the broker connection used by the provisioning agent and the mock
// service. NewClient returns the paho implementation and MemoryBroker an
// in-process one.
type Client interface {
	// Start connects in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect closes the connection and stops message delivery.
	Disconnect(ctx context.Context)

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe routes messages matching the filter to handler. Subscriptions
	// survive reconnects.
	Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error

	// Unsubscribe drops the handler of filter.
	Unsubscribe(ctx context.Context, filter string) error

	// AwaitConnection blocks until the first connection is up or ctx ends.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
