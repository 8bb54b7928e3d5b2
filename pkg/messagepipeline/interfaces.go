package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

// ====================================================================================
// This file defines the contracts between the gateway stages and the bus that
// carries their messages.
// ====================================================================================

// MessageConsumer defines the interface for a message source (e.g., Pub/Sub, MQTT, Redis).
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers receive messages.
	Messages() <-chan Message
	// Start begins the consumption process.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// Publisher puts a message onto the bus. Publish returns once the bus has
// accepted the message.
type Publisher interface {
	Publish(ctx context.Context, msg types.GatewayMessage) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, msg types.GatewayMessage) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msg types.GatewayMessage) error {
	return f(ctx, msg)
}

// Stage is a bus module: it receives messages one at a time, publishes zero or
// more messages in response, and flushes any held state on Destroy.
type Stage interface {
	Receive(ctx context.Context, msg types.GatewayMessage) error
	Destroy(ctx context.Context) error
}
