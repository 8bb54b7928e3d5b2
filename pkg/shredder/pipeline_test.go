package shredder_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-gateway-batcher/pkg/batcher"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/shredder"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBatchThenShred chains a batcher into a shredder over in-memory buses and
// checks that every original message comes out the other side.
func TestBatchThenShred(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger := zerolog.Nop()

	input := messagepipeline.NewInMemoryBus(100)
	middle := messagepipeline.NewInMemoryBus(100)
	output := messagepipeline.NewInMemoryBus(100)

	batchStage, err := batcher.New(middle, &batcher.Config{BatchCount: 5}, logger)
	require.NoError(t, err)
	shredStage, err := shredder.New(output, logger)
	require.NoError(t, err)

	batchService, err := messagepipeline.NewStageService(messagepipeline.StageServiceConfig{NumWorkers: 1}, input, batchStage, logger)
	require.NoError(t, err)
	shredService, err := messagepipeline.NewStageService(messagepipeline.StageServiceConfig{NumWorkers: 1}, middle, shredStage, logger)
	require.NoError(t, err)
	require.NoError(t, shredService.Start(ctx))
	require.NoError(t, batchService.Start(ctx))

	originals := make([]types.GatewayMessage, 6)
	for i := range originals {
		originals[i] = types.GatewayMessage{
			Properties: types.NewProperties(
				types.Property{Key: types.PropMacAddress, Value: "01:01:01"},
				types.Property{Key: "seq", Value: string(rune('a' + i))},
			),
			Content: []byte("reading " + string(rune('a'+i))),
		}
		require.NoError(t, input.Publish(ctx, originals[i]))
	}

	require.Eventually(t, func() bool {
		return len(output.Published()) == 5
	}, 5*time.Second, 10*time.Millisecond, "the first five messages are batched then shredded")

	// Stopping the batcher drains the sixth message.
	require.NoError(t, batchService.Stop(ctx))
	require.Eventually(t, func() bool {
		return len(output.Published()) == 6
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, shredService.Stop(ctx))

	assert.Len(t, middle.Published(), 2, "one full frame and one drained frame")
	for i, got := range output.Published() {
		assert.True(t, originals[i].Equal(got), "message %d differs after the round trip", i)
	}
}
