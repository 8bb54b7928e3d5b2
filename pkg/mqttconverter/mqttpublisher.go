package mqttconverter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
)

// IdentifierPlaceholder in a publish topic is replaced with the message's
// identifier, or "unknown" when it has none.
const IdentifierPlaceholder = "{identifier}"

// MqttPublisher publishes gateway messages as envelopes to an MQTT topic.
type MqttPublisher struct {
	pahoClient     mqtt.Client
	topic          string
	qos            byte
	publishTimeout time.Duration
	logger         zerolog.Logger
}

// NewMqttPublisher connects client, if it is not already, and returns a
// publisher for topic.
func NewMqttPublisher(client mqtt.Client, topic string, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttPublisher, error) {
	if client == nil {
		return nil, errors.New("MQTT client cannot be nil")
	}
	if topic == "" {
		return nil, errors.New("MQTT publish topic is required")
	}
	if err := connect(client, cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return &MqttPublisher{
		pahoClient:     client,
		topic:          topic,
		qos:            cfg.QoS,
		publishTimeout: 10 * time.Second,
		logger:         logger.With().Str("component", "MqttPublisher").Str("topic", topic).Logger(),
	}, nil
}

// Publish sends msg and waits for the broker to accept it.
func (p *MqttPublisher) Publish(ctx context.Context, msg types.GatewayMessage) error {
	payload, err := framecodec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	topic := p.resolveTopic(msg.Properties)
	token := p.pahoClient.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish to %s: %w", topic, err)
		}
	case <-timer.C:
		return fmt.Errorf("mqtt publish to %s timed out after %s", topic, p.publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	p.logger.Debug().Str("mqtt_topic", topic).Int("payload_size", len(payload)).Msg("Published message.")
	return nil
}

// Stop disconnects the client.
func (p *MqttPublisher) Stop() {
	p.pahoClient.Disconnect(500)
	p.logger.Info().Msg("MqttPublisher stopped.")
}

func (p *MqttPublisher) resolveTopic(props *types.Properties) string {
	if !strings.Contains(p.topic, IdentifierPlaceholder) {
		return p.topic
	}
	identifier, ok := props.MacAddress()
	if !ok {
		identifier, ok = props.DeviceID()
	}
	if !ok {
		identifier = "unknown"
	}
	return strings.ReplaceAll(p.topic, IdentifierPlaceholder, identifier)
}
