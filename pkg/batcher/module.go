package batcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

// Module is the batching stage as it sits on the gateway bus. It satisfies
// messagepipeline.Stage.
type Module struct {
	bus        messagepipeline.Publisher
	aggregator *Aggregator
	logger     zerolog.Logger
}

// New validates the configuration and wires the stage to its bus. Creation
// failures are returned, never panicked, so the host can decide to run without
// the stage.
func New(bus messagepipeline.Publisher, cfg *Config, logger zerolog.Logger) (*Module, error) {
	logger = logger.With().Str("component", "Batcher").Logger()
	if bus == nil {
		logger.Error().Err(ErrMissingBus).Msg("Batcher creation failed.")
		return nil, ErrMissingBus
	}
	aggregator, err := NewAggregator(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Batcher creation failed.")
		return nil, err
	}
	RegisterMetrics()

	logger.Info().
		Int("batch_count", cfg.BatchCount).
		Strs("excluded", cfg.Excluded).
		Bool("publish_as", cfg.PublishAs != nil).
		Msg("Batcher created.")
	return &Module{bus: bus, aggregator: aggregator, logger: logger}, nil
}

// Receive ingests one message and publishes at most one message: either the
// input unchanged or a completed frame.
func (m *Module) Receive(ctx context.Context, msg types.GatewayMessage) error {
	out, err := m.aggregator.Ingest(msg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := m.bus.Publish(ctx, *out); err != nil {
		return fmt.Errorf("batcher: publish: %w", err)
	}
	return nil
}

// Destroy drains every pending buffer and publishes the resulting frames. All
// frames are attempted even if some publishes fail; the failures are joined.
func (m *Module) Destroy(ctx context.Context) error {
	frames, err := m.aggregator.Drain()
	errs := []error{err}
	for _, frame := range frames {
		if pubErr := m.bus.Publish(ctx, frame); pubErr != nil {
			m.logger.Error().Err(pubErr).Msg("Failed to publish drained frame.")
			errs = append(errs, pubErr)
		}
	}
	m.logger.Info().Int("frame_count", len(frames)).Msg("batcher.destroy")
	return errors.Join(errs...)
}

// Aggregator exposes the underlying buffers, mainly for health reporting.
func (m *Module) Aggregator() *Aggregator {
	return m.aggregator
}
