// Package batcher groups gateway messages per device into frames of a fixed
// size, and drains whatever is left when the stage shuts down.
package batcher

import (
	"fmt"
	"sync"

	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

const (
	passThroughNoIdentity = "no_identity"
	passThroughExcluded   = "excluded"
	triggerThreshold      = "threshold"
	triggerDrain          = "drain"
)

// Aggregator owns the per-identifier buffers. It is safe for concurrent use:
// a single mutex covers the buffer map so the threshold check, the flush and
// Drain are atomic with respect to each other.
type Aggregator struct {
	batchCount int
	excluded   map[string]struct{}
	publishAs  *PublishAsDevice
	logger     zerolog.Logger

	mu     sync.Mutex
	queues map[string][]types.GatewayMessage
	order  []string
}

// NewAggregator creates an Aggregator for a validated configuration.
func NewAggregator(cfg *Config, logger zerolog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		batchCount: cfg.BatchCount,
		excluded:   cfg.excludedSet(),
		publishAs:  cfg.PublishAs,
		logger:     logger.With().Str("component", "BatchAggregator").Logger(),
		queues:     make(map[string][]types.GatewayMessage),
	}, nil
}

// Ingest offers a message to the aggregator. It returns:
//   - the message itself when it has no identity or its identity is excluded;
//   - nil when the message was buffered;
//   - a frame when the message completed a batch.
func (a *Aggregator) Ingest(msg types.GatewayMessage) (*types.GatewayMessage, error) {
	identifier, ok := resolveIdentifier(msg.Properties)
	if !ok {
		recordPassThrough(passThroughNoIdentity)
		return &msg, nil
	}
	if _, skip := a.excluded[identifier]; skip {
		a.logger.Debug().Str("identifier", identifier).Msg("Identifier is excluded, passing message through.")
		recordPassThrough(passThroughExcluded)
		return &msg, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.queueKey(msg.Properties, identifier)
	a.queues[key] = append(a.queues[key], msg)
	if len(a.queues[key]) < a.batchCount {
		messagesBuffered.Inc()
		return nil, nil
	}

	frame, err := a.flushLocked(key)
	if err != nil {
		return nil, err
	}
	recordFrame(triggerThreshold, a.batchCount)
	a.logger.Debug().Str("identifier", key).Int("batch_size", a.batchCount).Msg("Batch threshold reached, emitting frame.")
	return &frame, nil
}

// Drain flushes every non-empty buffer regardless of size, in the order the
// identifiers were first seen, and leaves all buffers empty.
func (a *Aggregator) Drain() ([]types.GatewayMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frames := make([]types.GatewayMessage, 0)
	for _, key := range a.order {
		size := len(a.queues[key])
		if size == 0 {
			continue
		}
		frame, err := a.flushLocked(key)
		if err != nil {
			return frames, err
		}
		recordFrame(triggerDrain, size)
		frames = append(frames, frame)
	}
	if len(frames) > 0 {
		a.logger.Info().Int("frame_count", len(frames)).Msg("Drained pending batches.")
	}
	return frames, nil
}

// Pending returns the number of buffered messages per identifier, omitting
// empty buffers.
func (a *Aggregator) Pending() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]int)
	for key, queue := range a.queues {
		if len(queue) > 0 {
			out[key] = len(queue)
		}
	}
	return out
}

// queueKey picks the buffer for a message. An existing buffer under the
// hardware address wins, then one under the device id; otherwise a buffer is
// created for the resolved identifier. Must be called with mu held.
func (a *Aggregator) queueKey(props *types.Properties, identifier string) string {
	if mac, ok := props.MacAddress(); ok {
		if _, exists := a.queues[mac]; exists {
			return mac
		}
	}
	if deviceID, ok := props.DeviceID(); ok {
		if _, exists := a.queues[deviceID]; exists {
			return deviceID
		}
	}
	a.queues[identifier] = make([]types.GatewayMessage, 0, a.batchCount)
	a.order = append(a.order, identifier)
	return identifier
}

// flushLocked encodes the buffer under key into a frame and resets it. The
// frame takes the projected properties of the newest buffered message. The
// buffer is reset even when encoding fails. Must be called with mu held.
func (a *Aggregator) flushLocked(key string) (types.GatewayMessage, error) {
	queue := a.queues[key]
	defer func() {
		clear(queue)
		a.queues[key] = queue[:0]
	}()

	content, err := framecodec.Encode(queue)
	if err != nil {
		return types.GatewayMessage{}, fmt.Errorf("batcher: encoding batch for %s: %w", key, err)
	}
	last := queue[len(queue)-1]
	frame := types.GatewayMessage{
		Properties: ApplyPublishAs(last.Properties, a.publishAs),
		Content:    content,
	}
	return frame, nil
}

// resolveIdentifier prefers the hardware address over the device id.
func resolveIdentifier(props *types.Properties) (string, bool) {
	if mac, ok := props.MacAddress(); ok {
		return mac, true
	}
	return props.DeviceID()
}
