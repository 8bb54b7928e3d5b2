package batcher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-gateway-batcher/pkg/batcher"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConfigurationFailures(t *testing.T) {
	bus := messagepipeline.NewInMemoryBus(10)

	testCases := []struct {
		name    string
		bus     messagepipeline.Publisher
		cfg     *batcher.Config
		wantErr error
	}{
		{name: "missing bus", bus: nil, cfg: &batcher.Config{BatchCount: 10}, wantErr: batcher.ErrMissingBus},
		{name: "missing config", bus: bus, cfg: nil, wantErr: batcher.ErrMissingConfig},
		{name: "missing batch count", bus: bus, cfg: &batcher.Config{}, wantErr: batcher.ErrMissingBatchCount},
		{name: "negative batch count", bus: bus, cfg: &batcher.Config{BatchCount: -1}, wantErr: batcher.ErrMissingBatchCount},
		{
			name:    "half a device override",
			bus:     bus,
			cfg:     &batcher.Config{BatchCount: 10, PublishAs: &batcher.PublishAsDevice{DeviceID: "gw"}},
			wantErr: batcher.ErrInvalidPublishAs,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			module, err := batcher.New(tc.bus, tc.cfg, zerolog.Nop())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, module)
		})
	}
}

func TestModule_ReceivePublishesFramesAndPassThroughs(t *testing.T) {
	ctx := context.Background()
	bus := messagepipeline.NewInMemoryBus(100)
	module, err := batcher.New(bus, &batcher.Config{BatchCount: 10, Excluded: []string{"skip"}}, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		require.NoError(t, module.Receive(ctx, macMessage("01:01:01")))
	}
	assert.Empty(t, bus.Published(), "nine of ten messages are held")

	require.NoError(t, module.Receive(ctx, macMessage("skip")))
	require.Len(t, bus.Published(), 1)
	assert.False(t, bus.Published()[0].Properties.Batched())

	require.NoError(t, module.Receive(ctx, macMessage("01:01:01")))
	published := bus.Published()
	require.Len(t, published, 2)
	frame := published[1]
	assert.True(t, frame.Properties.Batched())
	decoded, err := framecodec.Decode(frame.Content)
	require.NoError(t, err)
	assert.Len(t, decoded, 10)
}

func TestModule_DestroyDrainsEveryBuffer(t *testing.T) {
	ctx := context.Background()
	bus := messagepipeline.NewInMemoryBus(100)
	module, err := batcher.New(bus, &batcher.Config{BatchCount: 10}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, module.Receive(ctx, macMessage("a")))
	require.NoError(t, module.Receive(ctx, macMessage("a")))
	require.NoError(t, module.Receive(ctx, deviceMessage("b")))
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, module.Aggregator().Pending())

	require.NoError(t, module.Destroy(ctx))

	published := bus.Published()
	require.Len(t, published, 2)
	for _, frame := range published {
		assert.True(t, frame.Properties.Batched())
	}
	first, err := framecodec.Decode(published[0].Content)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := framecodec.Decode(published[1].Content)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, deviceMessage("b").Equal(second[0]))

	assert.Empty(t, module.Aggregator().Pending())
}

func TestModule_DestroyWithNothingBuffered(t *testing.T) {
	bus := messagepipeline.NewInMemoryBus(1)
	module, err := batcher.New(bus, &batcher.Config{BatchCount: 3}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, module.Destroy(context.Background()))
	assert.Empty(t, bus.Published())
}

func TestModule_PublishFailures(t *testing.T) {
	ctx := context.Background()
	publishErr := errors.New("bus unavailable")
	var attempts int
	failing := messagepipeline.PublisherFunc(func(_ context.Context, _ types.GatewayMessage) error {
		attempts++
		return publishErr
	})

	module, err := batcher.New(failing, &batcher.Config{BatchCount: 2}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, module.Receive(ctx, macMessage("a")))
	err = module.Receive(ctx, macMessage("a"))
	assert.ErrorIs(t, err, publishErr)

	require.NoError(t, module.Receive(ctx, macMessage("x")))
	require.NoError(t, module.Receive(ctx, macMessage("y")))
	err = module.Destroy(ctx)
	assert.ErrorIs(t, err, publishErr)
	assert.Equal(t, 3, attempts, "every drained frame is attempted")
}
