package mqttconverter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PayloadMode selects how an MQTT payload maps onto a gateway message.
type PayloadMode string

const (
	// PayloadEnvelope payloads are single-message envelopes carrying both
	// properties and content.
	PayloadEnvelope PayloadMode = "envelope"
	// PayloadRaw payloads become the message content as-is. Identity is taken
	// from the topic.
	PayloadRaw PayloadMode = "raw"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string
	// Topic is the subscription filter for the consumer, e.g. "devices/+/up".
	Topic string
	// QoS used for subscriptions and publishes.
	QoS byte
	// PayloadMode selects envelope or raw decoding of incoming payloads.
	PayloadMode PayloadMode
	// IdentityTopicLevel is the zero-based topic level holding the device's
	// hardware address in raw mode. A negative value disables it.
	IdentityTopicLevel int
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	Username       string
	Password       string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout   time.Duration
	ReconnectWaitMax time.Duration
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile and ClientKeyFile are optional paths for mTLS authentication.
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Env constants for setting Mqtt settings
const (
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// LoadMQTTClientConfigWithEnv loads MQTT operational configuration from environment variables.
// It populates settings like timeouts and keep-alive intervals with sensible defaults if
// the environment variables are not set.
// Note: BrokerURL, Topic, PayloadMode and IdentityTopicLevel come from the
// command line configuration, not the environment.
func LoadMQTTClientConfigWithEnv() *MQTTClientConfig {
	cfg := &MQTTClientConfig{
		QoS:                1,
		PayloadMode:        PayloadEnvelope,
		IdentityTopicLevel: -1,
		KeepAlive:          60 * time.Second,  // Default
		ConnectTimeout:     10 * time.Second,  // Default
		ReconnectWaitMax:   120 * time.Second, // Default
		ClientIDPrefix:     "gateway-stage-",
		Username:           os.Getenv(MqttUsername),
		Password:           os.Getenv(MqttPassword),
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	// Parse durations if set in env, otherwise use defaults
	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqttconverter: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqttconverter: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}

// NewPahoClient builds an unconnected Paho client from the config. The
// consumer and publisher both take an mqtt.Client so tests can substitute it.
func NewPahoClient(cfg *MQTTClientConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	// Frames must leave in the order they were emitted.
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return mqtt.NewClient(opts), nil
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// connect connects client if needed and waits up to timeout for the result.
func connect(client mqtt.Client, timeout time.Duration) error {
	if client.IsConnected() {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out connecting to MQTT broker after %s", timeout)
	}
	return token.Error()
}
