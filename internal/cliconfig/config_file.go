package cliconfig

import (
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// PublishAsFile is the [publish_as] table.
type PublishAsFile struct {
	MacAddress string `toml:"mac_address"`
	DeviceID   string `toml:"device_id"`
	DeviceKey  string `toml:"device_key"`
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Transport       string `toml:"transport"`
	Input           string `toml:"input"`
	Output          string `toml:"output"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	HTTPPort        string `toml:"http_port"`
	Workers         int    `toml:"workers"`
	ShutdownTimeout string `toml:"shutdown_timeout"`

	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	MQTTBroker        string `toml:"mqtt_broker"`
	MQTTPayloadMode   string `toml:"mqtt_payload_mode"`
	MQTTIdentityLevel *int   `toml:"mqtt_identity_level"`

	ArchiveBucket string `toml:"archive_bucket"`
	ArchivePrefix string `toml:"archive_prefix"`
	ArchiveAll    *bool  `toml:"archive_all"`

	BatchCount int            `toml:"batch_count"`
	Excluded   []string       `toml:"excluded"`
	PublishAs  *PublishAsFile `toml:"publish_as"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("transport", fc.Transport, &cfg.Transport)
	s.setString("input", fc.Input, &cfg.Input)
	s.setString("output", fc.Output, &cfg.Output)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("http-port", fc.HTTPPort, &cfg.HTTPPort)
	s.setInt("workers", fc.Workers, &cfg.Workers)
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}

	s.setString("project-id", fc.ProjectID, &cfg.ProjectID)
	s.setString("credentials-file", fc.CredentialsFile, &cfg.CredentialsFile)

	s.setString("redis-addr", fc.RedisAddr, &cfg.RedisAddr)
	s.setString("redis-password", fc.RedisPassword, &cfg.RedisPassword)
	s.setInt("redis-db", fc.RedisDB, &cfg.RedisDB)

	s.setString("mqtt-broker", fc.MQTTBroker, &cfg.MQTTBroker)
	s.setString("mqtt-payload-mode", fc.MQTTPayloadMode, &cfg.MQTTPayloadMode)
	s.setIntPtr("mqtt-identity-level", fc.MQTTIdentityLevel, &cfg.MQTTIdentityLevel)

	s.setString("archive-bucket", fc.ArchiveBucket, &cfg.ArchiveBucket)
	s.setString("archive-prefix", fc.ArchivePrefix, &cfg.ArchivePrefix)
	s.setBool("archive-all", fc.ArchiveAll, &cfg.ArchiveAll)

	s.setInt("batch-count", fc.BatchCount, &cfg.BatchCount)
	s.setStrings("excluded", fc.Excluded, &cfg.Excluded)
	if fc.PublishAs != nil {
		s.setString("publish-as-mac", fc.PublishAs.MacAddress, &cfg.PublishAsMac)
		s.setString("publish-as-device-id", fc.PublishAs.DeviceID, &cfg.PublishAsDeviceID)
		s.setString("publish-as-device-key", fc.PublishAs.DeviceKey, &cfg.PublishAsDeviceKey)
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
