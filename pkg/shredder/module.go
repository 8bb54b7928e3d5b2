package shredder

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

// ErrMissingBus is returned when a Module is created without a publisher.
var ErrMissingBus = errors.New("the message bus passed to the shredder was undefined")

// Module is the shredding stage as it sits on the gateway bus. It satisfies
// messagepipeline.Stage.
type Module struct {
	bus    messagepipeline.Publisher
	logger zerolog.Logger
}

// New wires the shredder to its bus.
func New(bus messagepipeline.Publisher, logger zerolog.Logger) (*Module, error) {
	logger = logger.With().Str("component", "Shredder").Logger()
	if bus == nil {
		logger.Error().Err(ErrMissingBus).Msg("Shredder creation failed.")
		return nil, ErrMissingBus
	}
	RegisterMetrics()
	return &Module{bus: bus, logger: logger}, nil
}

// Receive shreds msg and publishes every recovered message in order, or msg
// itself when it is not a batched frame. Decode failures are returned to the
// caller and nothing is published.
func (m *Module) Receive(ctx context.Context, msg types.GatewayMessage) error {
	msgs, err := Shred(msg)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to shred batched frame.")
		return err
	}
	for i, out := range msgs {
		if err := m.bus.Publish(ctx, out); err != nil {
			return fmt.Errorf("shredder: publish message %d of %d: %w", i+1, len(msgs), err)
		}
	}
	m.logger.Debug().Int("message_count", len(msgs)).Msg("Published shredded messages.")
	return nil
}

// Destroy holds no state to flush.
func (m *Module) Destroy(_ context.Context) error {
	m.logger.Info().Msg("shredder.destroy")
	return nil
}
