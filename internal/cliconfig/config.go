package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-gateway-batcher/pkg/batcher"
	"github.com/illmade-knight/go-gateway-batcher/pkg/mqttconverter"
)

// Supported bus transports.
const (
	TransportPubsub = "pubsub"
	TransportRedis  = "redis"
	TransportMQTT   = "mqtt"
)

// Config holds CLI configuration for a gateway stage binary. Input and Output
// name the source and sink on the chosen transport: a subscription and topic
// for Pub/Sub, channels for Redis, topics for MQTT.
type Config struct {
	Transport string
	Input     string
	Output    string

	LogLevel        string
	LogFormat       string
	HTTPPort        string
	Workers         int
	ShutdownTimeout time.Duration

	ProjectID       string
	CredentialsFile string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MQTTBroker        string
	MQTTPayloadMode   string
	MQTTIdentityLevel int

	ArchiveBucket string
	ArchivePrefix string
	ArchiveAll    bool

	BatchCount         int
	Excluded           []string
	PublishAsMac       string
	PublishAsDeviceID  string
	PublishAsDeviceKey string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Transport:         TransportPubsub,
		LogLevel:          "info",
		LogFormat:         "console",
		HTTPPort:          ":8080",
		Workers:           1,
		ShutdownTimeout:   30 * time.Second,
		RedisAddr:         "localhost:6379",
		MQTTPayloadMode:   string(mqttconverter.PayloadEnvelope),
		MQTTIdentityLevel: -1,
		ArchivePrefix:     "frames",
		BatchCount:        10,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportPubsub:
		if c.ProjectID == "" {
			return fmt.Errorf("project-id is required for the pubsub transport")
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr is required for the redis transport")
		}
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("mqtt-broker is required for the mqtt transport")
		}
		mode := mqttconverter.PayloadMode(c.MQTTPayloadMode)
		if mode != mqttconverter.PayloadEnvelope && mode != mqttconverter.PayloadRaw {
			return fmt.Errorf("mqtt-payload-mode must be %q or %q", mqttconverter.PayloadEnvelope, mqttconverter.PayloadRaw)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Input == "" {
		return fmt.Errorf("input is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// BatcherConfig builds the batching stage configuration. The stage validates
// it on creation.
func (c *Config) BatcherConfig() *batcher.Config {
	cfg := &batcher.Config{
		BatchCount: c.BatchCount,
		Excluded:   append([]string(nil), c.Excluded...),
	}
	if c.PublishAsMac != "" || c.PublishAsDeviceID != "" || c.PublishAsDeviceKey != "" {
		cfg.PublishAs = &batcher.PublishAsDevice{
			MacAddress: c.PublishAsMac,
			DeviceID:   c.PublishAsDeviceID,
			DeviceKey:  c.PublishAsDeviceKey,
		}
	}
	return cfg
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.RedisPassword != "" {
		c.RedisPassword = "*****"
	}
	if c.PublishAsDeviceKey != "" {
		c.PublishAsDeviceKey = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value from a pointer, allowing zero and negatives.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setStrings sets a list if non-empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination. When
// positiveOnly is set, values below one are ignored.
func (s *configSetter) setIntFromString(flag, value string, dst *int, positiveOnly bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if positiveOnly && i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setListFromString splits a comma-separated list, dropping blanks.
func (s *configSetter) setListFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
