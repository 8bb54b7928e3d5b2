package batcher

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBus is returned when a Module is created without a publisher.
	ErrMissingBus = errors.New("the message bus passed to the batcher was undefined")
	// ErrMissingConfig is returned when a Module is created without a configuration.
	ErrMissingConfig = errors.New("the configuration passed to the batcher was undefined")
	// ErrMissingBatchCount is returned when the configuration has no usable batchCount.
	ErrMissingBatchCount = errors.New("the batcher requires a positive batchCount in its configuration")
	// ErrInvalidPublishAs is returned when publishAsIdentity has neither a
	// macAddress nor a complete deviceId/deviceKey pair.
	ErrInvalidPublishAs = errors.New("the publishAsIdentity section must include either a macAddress value or both deviceId and deviceKey values")
)

// PublishAsDevice is an alternate identity stamped onto every emitted frame.
// Either MacAddress is set, or DeviceID and DeviceKey are set together.
type PublishAsDevice struct {
	MacAddress string `json:"macAddress,omitempty" toml:"mac_address"`
	DeviceID   string `json:"deviceId,omitempty" toml:"device_id"`
	DeviceKey  string `json:"deviceKey,omitempty" toml:"device_key"`
}

// Validate checks that the override names a usable identity.
func (p *PublishAsDevice) Validate() error {
	if p.MacAddress != "" || (p.DeviceID != "" && p.DeviceKey != "") {
		return nil
	}
	return ErrInvalidPublishAs
}

// Config holds the batcher's options.
type Config struct {
	// BatchCount is the number of messages per identifier that triggers a flush.
	BatchCount int `json:"batchCount" toml:"batch_count"`
	// Excluded lists identifiers whose messages bypass batching.
	Excluded []string `json:"excluded,omitempty" toml:"excluded"`
	// PublishAs, when set, replaces the identity on emitted frames.
	PublishAs *PublishAsDevice `json:"publishAsIdentity,omitempty" toml:"publish_as"`
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrMissingConfig
	}
	if c.BatchCount <= 0 {
		return fmt.Errorf("%w (got %d)", ErrMissingBatchCount, c.BatchCount)
	}
	if c.PublishAs != nil {
		if err := c.PublishAs.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) excludedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Excluded))
	for _, id := range c.Excluded {
		set[id] = struct{}{}
	}
	return set
}
