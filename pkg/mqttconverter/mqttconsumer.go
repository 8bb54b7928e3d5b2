package mqttconverter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

// PropMqttTopic records the topic a raw-mode message arrived on.
const PropMqttTopic = "mqttTopic"

// MqttConsumer implements the messagepipeline.MessageConsumer interface for an MQTT source.
type MqttConsumer struct {
	pahoClient mqtt.Client
	logger     zerolog.Logger
	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	mqttCfg    *MQTTClientConfig

	// mu guards closed so the handler never sends on a closed channel.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewMqttConsumer creates a new MqttConsumer around client. It does not connect
// until Start is called.
func NewMqttConsumer(client mqtt.Client, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("MQTT client cannot be nil")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("MQTT topic is required")
	}
	if cfg.PayloadMode == "" {
		cfg.PayloadMode = PayloadEnvelope
	}
	if cfg.PayloadMode != PayloadEnvelope && cfg.PayloadMode != PayloadRaw {
		return nil, fmt.Errorf("unknown MQTT payload mode %q", cfg.PayloadMode)
	}
	return &MqttConsumer{
		pahoClient: client,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan messagepipeline.Message, 1000),
		doneChan:   make(chan struct{}),
		mqttCfg:    cfg,
	}, nil
}

// Messages returns the read-only channel from which converted messages can be consumed.
func (c *MqttConsumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// Start connects the client and subscribes to the configured topic.
func (c *MqttConsumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.mqttCfg.Topic).Msg("Attempting to connect to MQTT broker...")
	if err := connect(c.pahoClient, c.mqttCfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	token := c.pahoClient.Subscribe(c.mqttCfg.Topic, c.mqttCfg.QoS, c.handleIncomingMessage(ctx))
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to MQTT topic %s: %w", c.mqttCfg.Topic, token.Error())
	}
	c.logger.Info().Str("topic", c.mqttCfg.Topic).Msg("Successfully subscribed to MQTT topic.")

	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
			_ = c.Stop(context.Background())
		case <-c.doneChan:
		}
	}()
	return nil
}

// Stop gracefully ceases message consumption.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		if c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.mqttCfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", c.mqttCfg.Topic).Msg("Failed to unsubscribe from MQTT topic.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *MqttConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// handleIncomingMessage is the callback that converts MQTT messages to gateway messages.
func (c *MqttConsumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message")
		gatewayMsg, err := c.convert(msg)
		if err != nil {
			c.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("Dropping undecodable MQTT payload.")
			return
		}

		consumedMsg := messagepipeline.Message{
			GatewayMessage: gatewayMsg,
			ID:             fmt.Sprintf("%d", msg.MessageID()),
			PublishTime:    time.Now().UTC(),
			// Paho acknowledges QoS 1 deliveries itself once the handler returns.
			Ack:  func() {},
			Nack: func() {},
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is stopped, dropping MQTT message.")
			return
		}
		select {
		case c.outputChan <- consumedMsg:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

func (c *MqttConsumer) convert(msg mqtt.Message) (types.GatewayMessage, error) {
	if c.mqttCfg.PayloadMode == PayloadEnvelope {
		return framecodec.DecodeMessage(msg.Payload())
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	props := types.NewProperties()
	if mac, ok := topicLevel(msg.Topic(), c.mqttCfg.IdentityTopicLevel); ok {
		props.Set(types.PropMacAddress, mac)
	}
	props.Set(PropMqttTopic, msg.Topic())
	return types.GatewayMessage{Properties: props, Content: payload}, nil
}

// topicLevel returns the non-empty topic segment at index level.
func topicLevel(topic string, level int) (string, bool) {
	if level < 0 {
		return "", false
	}
	parts := strings.Split(topic, "/")
	if level >= len(parts) || parts[level] == "" {
		return "", false
	}
	return parts[level], true
}
