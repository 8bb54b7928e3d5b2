package messagepipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBusConfig holds the connection settings and channel name for a Redis
// Pub/Sub backed bus.
type RedisBusConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisClient connects to Redis and pings it before returning.
func NewRedisClient(ctx context.Context, cfg *RedisBusConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// RedisPublisher publishes gateway messages to a Redis channel. Each message is
// sent as a framecodec envelope so properties survive the hop.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher creates a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "RedisPublisher").Str("channel", channel).Logger(),
	}, nil
}

// Publish sends msg to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, msg types.GatewayMessage) error {
	envelope, err := framecodec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, envelope).Result()
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to publish message to Redis.")
		return fmt.Errorf("redis publish: %w", err)
	}
	p.logger.Debug().Int64("receivers", receivers).Msg("Message published to Redis.")
	return nil
}

// RedisConsumer receives gateway messages from a Redis channel. Redis Pub/Sub
// has no acknowledgements, so Ack and Nack are no-ops.
type RedisConsumer struct {
	client     *redis.Client
	channel    string
	logger     zerolog.Logger
	pubsub     *redis.PubSub
	outputChan chan Message
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewRedisConsumer creates a consumer for channel. It subscribes on Start.
func NewRedisConsumer(client *redis.Client, channel string, logger zerolog.Logger) (*RedisConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	return &RedisConsumer{
		client:     client,
		channel:    channel,
		logger:     logger.With().Str("component", "RedisConsumer").Str("channel", channel).Logger(),
		outputChan: make(chan Message, 1000),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel received messages are delivered on.
func (c *RedisConsumer) Messages() <-chan Message { return c.outputChan }

// Start subscribes to the channel and waits for the subscription to be confirmed.
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.pubsub = c.client.Subscribe(ctx, c.channel)
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channel %s: %w", c.channel, err)
	}
	c.logger.Info().Msg("Subscribed to Redis channel.")

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		for redisMsg := range c.pubsub.Channel() {
			msg, err := framecodec.DecodeMessage([]byte(redisMsg.Payload))
			if err != nil {
				c.logger.Error().Err(err).Msg("Dropping undecodable Redis message.")
				continue
			}
			c.outputChan <- Message{
				GatewayMessage: msg,
				ID:             uuid.NewString(),
				PublishTime:    time.Now().UTC(),
			}
		}
		c.logger.Info().Msg("Redis subscription channel closed.")
	}()
	return nil
}

// Stop closes the subscription and waits for the delivery loop to exit.
func (c *RedisConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Redis consumer...")
		if c.pubsub == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		if closeErr := c.pubsub.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Error closing Redis subscription.")
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Redis consumer stopped.")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *RedisConsumer) Done() <-chan struct{} { return c.doneChan }
