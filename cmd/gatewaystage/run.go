package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-gateway-batcher/internal/cliconfig"
	"github.com/illmade-knight/go-gateway-batcher/pkg/archive"
	"github.com/illmade-knight/go-gateway-batcher/pkg/batcher"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/microservice"
	"github.com/illmade-knight/go-gateway-batcher/pkg/mqttconverter"
	"github.com/illmade-knight/go-gateway-batcher/pkg/shredder"
)

// stageFactory builds a stage around its output publisher and returns the
// readiness details it wants reported on /readyz.
type stageFactory func(pub messagepipeline.Publisher, cfg cliconfig.Config, logger zerolog.Logger) (messagepipeline.Stage, microservice.ReadinessFunc, error)

func batchStage(pub messagepipeline.Publisher, cfg cliconfig.Config, logger zerolog.Logger) (messagepipeline.Stage, microservice.ReadinessFunc, error) {
	module, err := batcher.New(pub, cfg.BatcherConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	ready := func() (bool, map[string]interface{}) {
		return true, map[string]interface{}{"pending": module.Aggregator().Pending()}
	}
	return module, ready, nil
}

func shredStage(pub messagepipeline.Publisher, _ cliconfig.Config, logger zerolog.Logger) (messagepipeline.Stage, microservice.ReadinessFunc, error) {
	module, err := shredder.New(pub, logger)
	if err != nil {
		return nil, nil, err
	}
	return module, func() (bool, map[string]interface{}) { return true, nil }, nil
}

// transport is a connected consumer/publisher pair plus whatever must be
// closed once the stage has drained.
type transport struct {
	consumer  messagepipeline.MessageConsumer
	publisher messagepipeline.Publisher
	closers   []func(context.Context) error
}

func (t *transport) close(ctx context.Context) error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = append(errs, t.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, cfg cliconfig.Config, newStage stageFactory) error {
	logger, err := cliconfig.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info().Interface("config", cfg.Redacted()).Msg("configuration")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	publisher := bus.publisher
	if cfg.ArchiveBucket != "" {
		publisher, err = withArchive(ctx, cfg, bus, logger)
		if err != nil {
			_ = bus.close(context.Background())
			return err
		}
	}

	stage, ready, err := newStage(publisher, cfg, logger)
	if err != nil {
		_ = bus.close(context.Background())
		return err
	}

	service, err := messagepipeline.NewStageService(messagepipeline.StageServiceConfig{NumWorkers: cfg.Workers}, bus.consumer, stage, logger)
	if err != nil {
		_ = bus.close(context.Background())
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort, nil)
	server.SetReadiness(ready)
	if err := server.Start(); err != nil {
		_ = bus.close(context.Background())
		return err
	}

	if err := service.Start(ctx); err != nil {
		_ = bus.close(context.Background())
		return fmt.Errorf("start stage service: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received signal, draining...")
	case <-ctx.Done():
	}

	// The stage is stopped before the context is cancelled so buffered
	// messages can still be published.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	stopErr := service.Stop(shutdownCtx)
	if stopErr != nil {
		logger.Error().Err(stopErr).Msg("stage did not shut down cleanly")
	}
	cancel()
	closeErr := bus.close(shutdownCtx)
	serverErr := server.Shutdown(shutdownCtx)
	return errors.Join(stopErr, closeErr, serverErr)
}

func newTransport(ctx context.Context, cfg cliconfig.Config, logger zerolog.Logger) (*transport, error) {
	switch cfg.Transport {
	case cliconfig.TransportPubsub:
		return newPubsubTransport(ctx, cfg, logger)
	case cliconfig.TransportRedis:
		return newRedisTransport(ctx, cfg, logger)
	case cliconfig.TransportMQTT:
		return newMQTTTransport(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func clientOptions(cfg cliconfig.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

func newPubsubTransport(ctx context.Context, cfg cliconfig.Config, logger zerolog.Logger) (*transport, error) {
	// PUBSUB_EMULATOR_HOST is honoured by the client library.
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	t := &transport{closers: []func(context.Context) error{func(context.Context) error { return client.Close() }}}

	consumerCfg := messagepipeline.LoadDefaultGooglePubsubConsumerConfig(cfg.Input)
	consumerCfg.ProjectID = cfg.ProjectID
	consumer, err := messagepipeline.NewGooglePubsubConsumer(ctx, consumerCfg, client, logger)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}

	publisherCfg := messagepipeline.NewGooglePubsubPublisherDefaults(cfg.Output)
	publisherCfg.ProjectID = cfg.ProjectID
	publisher, err := messagepipeline.NewGooglePubsubPublisher(ctx, publisherCfg, client, logger)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	t.consumer = consumer
	t.publisher = publisher
	t.closers = append(t.closers, publisher.Stop)
	return t, nil
}

func newRedisTransport(ctx context.Context, cfg cliconfig.Config, logger zerolog.Logger) (*transport, error) {
	client, err := messagepipeline.NewRedisClient(ctx, &messagepipeline.RedisBusConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	t := &transport{closers: []func(context.Context) error{func(context.Context) error { return client.Close() }}}

	consumer, err := messagepipeline.NewRedisConsumer(client, cfg.Input, logger)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	publisher, err := messagepipeline.NewRedisPublisher(client, cfg.Output, logger)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	t.consumer = consumer
	t.publisher = publisher
	return t, nil
}

func newMQTTTransport(cfg cliconfig.Config, logger zerolog.Logger) (*transport, error) {
	mqttCfg := mqttconverter.LoadMQTTClientConfigWithEnv()
	mqttCfg.BrokerURL = cfg.MQTTBroker
	mqttCfg.Topic = cfg.Input
	mqttCfg.PayloadMode = mqttconverter.PayloadMode(cfg.MQTTPayloadMode)
	mqttCfg.IdentityTopicLevel = cfg.MQTTIdentityLevel

	consumerClient, err := mqttconverter.NewPahoClient(mqttCfg, logger)
	if err != nil {
		return nil, err
	}
	consumer, err := mqttconverter.NewMqttConsumer(consumerClient, mqttCfg, logger)
	if err != nil {
		return nil, err
	}

	// The consumer disconnects its client on Stop, before drained frames are
	// published, so the publisher gets its own connection.
	publisherCfg := *mqttCfg
	publisherCfg.ClientIDPrefix = mqttCfg.ClientIDPrefix + "pub-"
	publisherClient, err := mqttconverter.NewPahoClient(&publisherCfg, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := mqttconverter.NewMqttPublisher(publisherClient, cfg.Output, &publisherCfg, logger)
	if err != nil {
		return nil, err
	}
	return &transport{
		consumer:  consumer,
		publisher: publisher,
		closers: []func(context.Context) error{func(context.Context) error {
			publisher.Stop()
			return nil
		}},
	}, nil
}

func withArchive(ctx context.Context, cfg cliconfig.Config, t *transport, logger zerolog.Logger) (messagepipeline.Publisher, error) {
	client, err := storage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	t.closers = append(t.closers, func(context.Context) error { return client.Close() })
	return archive.NewFrameArchiver(archive.NewGCSObjectStore(client), t.publisher, archive.Config{
		BucketName:   cfg.ArchiveBucket,
		ObjectPrefix: cfg.ArchivePrefix,
		ArchiveAll:   cfg.ArchiveAll,
	}, logger)
}
