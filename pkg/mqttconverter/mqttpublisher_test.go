package mqttconverter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/mqttconverter"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMqttPublisher_PublishesEnvelopes(t *testing.T) {
	mockClient := &mockMqttClient{}
	cfg := &mqttconverter.MQTTClientConfig{QoS: 1}
	publisher, err := mqttconverter.NewMqttPublisher(mockClient, "gateway/out/{identifier}", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, mockClient.connectCalls)

	frame := types.GatewayMessage{
		Properties: types.NewProperties(
			types.Property{Key: types.PropDeviceID, Value: "dev-1"},
			types.Property{Key: types.PropBatched, Value: true},
		),
		Content: []byte(`[]`),
	}
	require.NoError(t, publisher.Publish(context.Background(), frame))
	require.NoError(t, publisher.Publish(context.Background(), types.GatewayMessage{Content: []byte("x")}))

	published := mockClient.publishedPayloads()
	require.Len(t, published, 2)
	assert.Equal(t, "gateway/out/dev-1", published[0].topic)
	assert.Equal(t, "gateway/out/unknown", published[1].topic)

	decoded, err := framecodec.DecodeMessage(published[0].payload)
	require.NoError(t, err)
	assert.True(t, frame.Equal(decoded))

	publisher.Stop()
	assert.True(t, mockClient.disconnectCalled)
}

func TestMqttPublisher_Errors(t *testing.T) {
	cfg := &mqttconverter.MQTTClientConfig{}
	_, err := mqttconverter.NewMqttPublisher(nil, "t", cfg, zerolog.Nop())
	assert.Error(t, err)
	_, err = mqttconverter.NewMqttPublisher(&mockMqttClient{}, "", cfg, zerolog.Nop())
	assert.Error(t, err)

	brokerErr := errors.New("not authorised")
	mockClient := &mockMqttClient{publishErr: brokerErr}
	publisher, err := mqttconverter.NewMqttPublisher(mockClient, "fixed", cfg, zerolog.Nop())
	require.NoError(t, err)
	err = publisher.Publish(context.Background(), types.GatewayMessage{Content: []byte("x")})
	assert.ErrorIs(t, err, brokerErr)
}
