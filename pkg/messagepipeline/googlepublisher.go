package messagepipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

// GooglePubsubPublisherConfig holds configuration for the Pub/Sub publisher.
type GooglePubsubPublisherConfig struct {
	ProjectID string
	TopicID   string
	// TopicExistsTimeout bounds the existence check made at construction.
	TopicExistsTimeout time.Duration
	// PublishTimeout bounds a single publish, including the server confirmation.
	PublishTimeout time.Duration
}

// NewGooglePubsubPublisherDefaults provides a config with sensible defaults.
func NewGooglePubsubPublisherDefaults(topicID string) *GooglePubsubPublisherConfig {
	return &GooglePubsubPublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
		PublishTimeout:     20 * time.Second,
	}
}

// GooglePubsubPublisher publishes gateway messages to a Pub/Sub topic.
// Properties become attributes and content becomes the message data. Publish
// waits for the server to confirm, keeping the stages' publish synchronous.
type GooglePubsubPublisher struct {
	topic          *pubsub.Topic
	publishTimeout time.Duration
	logger         zerolog.Logger
}

// NewGooglePubsubPublisher verifies the topic exists and returns a publisher for it.
func NewGooglePubsubPublisher(
	ctx context.Context,
	cfg *GooglePubsubPublisherConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for publisher")
	}
	topic := client.Topic(cfg.TopicID)
	// Frames are already batches; deliver each one as soon as it is published.
	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.DelayThreshold = time.Millisecond

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePubsubPublisher initialized successfully.")
	return &GooglePubsubPublisher{
		topic:          topic,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger.With().Str("component", "GooglePubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends msg and waits for the server-assigned ID.
func (p *GooglePubsubPublisher) Publish(ctx context.Context, msg types.GatewayMessage) error {
	if p.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}
	data := msg.Content
	if data == nil {
		data = []byte{}
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: ToAttributes(msg.Properties),
	})
	msgID, err := res.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to publish message.")
		return fmt.Errorf("pubsub publish: %w", err)
	}
	p.logger.Debug().Str("pubsub_msg_id", msgID).Msg("Message published successfully.")
	return nil
}

// Stop flushes pending messages for the topic, respecting the context's timeout.
func (p *GooglePubsubPublisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub topic stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
