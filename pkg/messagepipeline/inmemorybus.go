package messagepipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

// ErrBusClosed is returned by InMemoryBus.Publish after Stop.
var ErrBusClosed = errors.New("in-memory bus is closed")

// InMemoryBus is a channel-backed bus. It is a Publisher and a MessageConsumer
// at the same time, so the output of one stage can be fed straight into
// another in-process. Every published message is also recorded.
type InMemoryBus struct {
	mu        sync.Mutex
	ch        chan Message
	closed    bool
	published []types.GatewayMessage
	doneChan  chan struct{}
}

// NewInMemoryBus creates a bus whose channel holds up to bufferSize messages.
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &InMemoryBus{
		ch:       make(chan Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

// Publish records msg and delivers it to the bus channel.
func (b *InMemoryBus) Publish(ctx context.Context, msg types.GatewayMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published = append(b.published, msg)

	delivered := Message{
		GatewayMessage: msg,
		ID:             uuid.NewString(),
		PublishTime:    time.Now().UTC(),
	}
	select {
	case b.ch <- delivered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Published returns a copy of everything published so far.
func (b *InMemoryBus) Published() []types.GatewayMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.GatewayMessage, len(b.published))
	copy(out, b.published)
	return out
}

// Reset forgets the recorded messages.
func (b *InMemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

// Messages returns the channel published messages are delivered on.
func (b *InMemoryBus) Messages() <-chan Message { return b.ch }

// Start is a no-op; the bus is usable as soon as it is created.
func (b *InMemoryBus) Start(_ context.Context) error { return nil }

// Stop closes the bus. Messages already buffered can still be read.
func (b *InMemoryBus) Stop(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.ch)
	close(b.doneChan)
	return nil
}

// Done returns a channel closed once the bus has been stopped.
func (b *InMemoryBus) Done() <-chan struct{} { return b.doneChan }
