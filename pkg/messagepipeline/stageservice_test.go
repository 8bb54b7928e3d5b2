package messagepipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStageService(t *testing.T, stage *mockStage) (*messagepipeline.StageService, *mockConsumer) {
	t.Helper()
	consumer := newMockConsumer(10)
	service, err := messagepipeline.NewStageService(messagepipeline.StageServiceConfig{NumWorkers: 1}, consumer, stage, zerolog.Nop())
	require.NoError(t, err)
	return service, consumer
}

func TestNewStageService_Validation(t *testing.T) {
	_, err := messagepipeline.NewStageService(messagepipeline.StageServiceConfig{}, nil, &mockStage{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagepipeline.NewStageService(messagepipeline.StageServiceConfig{}, newMockConsumer(1), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestStageService_Lifecycle(t *testing.T) {
	stage := &mockStage{}
	service, consumer := newTestStageService(t, stage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, service.Start(ctx))

	starts, _ := consumer.counts()
	assert.Equal(t, 1, starts)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	require.NoError(t, service.Stop(stopCtx), "a second stop is a no-op")

	_, stops := consumer.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, stage.destroyCount())
}

func TestStageService_StartError(t *testing.T) {
	stage := &mockStage{}
	service, consumer := newTestStageService(t, stage)
	consumer.startErr = errors.New("boom")

	err := service.Start(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestStageService_AckAndNack(t *testing.T) {
	stage := &mockStage{failContent: "fail"}
	service, consumer := newTestStageService(t, stage)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))

	good := &messageState{}
	bad := &messageState{}
	consumer.Push(messagepipeline.Message{GatewayMessage: macMessage("01", "ok"), ID: "good", Ack: good.Ack, Nack: good.Nack})
	consumer.Push(messagepipeline.Message{GatewayMessage: macMessage("01", "fail"), ID: "bad", Ack: bad.Ack, Nack: bad.Nack})

	require.Eventually(t, func() bool {
		return good.IsAcked() && bad.IsNacked()
	}, time.Second, 10*time.Millisecond)
	assert.False(t, good.IsNacked())
	assert.False(t, bad.IsAcked())
	assert.Equal(t, 1, stage.receivedCount())

	require.NoError(t, service.Stop(ctx))
}

func TestStageService_DestroyRunsAfterWorkersFinish(t *testing.T) {
	stage := &mockStage{}
	service, consumer := newTestStageService(t, stage)

	var receivedAtDestroy int
	stage.onDestroy = func() {
		receivedAtDestroy = len(stage.received)
	}

	// Queue messages before the workers start so Stop races the backlog.
	for i := 0; i < 5; i++ {
		consumer.Push(messagepipeline.Message{GatewayMessage: macMessage("01", "payload")})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, service.Start(ctx))
	require.NoError(t, service.Stop(ctx))

	assert.Equal(t, 5, receivedAtDestroy, "every delivered message is handled before the stage is destroyed")
}

func TestStageService_DestroyRunsWhenWorkersOutliveStopContext(t *testing.T) {
	stage := &mockStage{block: make(chan struct{})}
	t.Cleanup(func() { close(stage.block) })
	service, consumer := newTestStageService(t, stage)

	consumer.Push(messagepipeline.Message{GatewayMessage: macMessage("01", "stuck")})
	require.NoError(t, service.Start(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := service.Stop(stopCtx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "the worker timeout is reported")
	assert.Equal(t, 1, stage.destroyCount(), "the stage is flushed even though a worker is still busy")
	stage.mu.Lock()
	assert.NoError(t, stage.destroyCtxErr, "destroy gets a live context")
	stage.mu.Unlock()

	assert.Equal(t, err, service.Stop(context.Background()), "stop is idempotent")
}
