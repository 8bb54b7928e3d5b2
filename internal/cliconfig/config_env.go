package cliconfig

import "os"

// ApplyEnvConfig applies GATEWAY_* environment variables to cfg. They override
// file values but not flags that were set explicitly.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("transport", os.Getenv("GATEWAY_TRANSPORT"), &cfg.Transport)
	s.setString("input", os.Getenv("GATEWAY_INPUT"), &cfg.Input)
	s.setString("output", os.Getenv("GATEWAY_OUTPUT"), &cfg.Output)
	s.setString("log-level", os.Getenv("GATEWAY_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("GATEWAY_LOG_FORMAT"), &cfg.LogFormat)
	s.setString("http-port", os.Getenv("GATEWAY_HTTP_PORT"), &cfg.HTTPPort)
	if err := s.setIntFromString("workers", os.Getenv("GATEWAY_WORKERS"), &cfg.Workers, true); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("GATEWAY_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	s.setString("project-id", os.Getenv("GATEWAY_PROJECT_ID"), &cfg.ProjectID)
	s.setString("credentials-file", os.Getenv("GATEWAY_CREDENTIALS_FILE"), &cfg.CredentialsFile)

	s.setString("redis-addr", os.Getenv("GATEWAY_REDIS_ADDR"), &cfg.RedisAddr)
	s.setString("redis-password", os.Getenv("GATEWAY_REDIS_PASSWORD"), &cfg.RedisPassword)
	if err := s.setIntFromString("redis-db", os.Getenv("GATEWAY_REDIS_DB"), &cfg.RedisDB, true); err != nil {
		return err
	}

	s.setString("mqtt-broker", os.Getenv("GATEWAY_MQTT_BROKER"), &cfg.MQTTBroker)
	s.setString("mqtt-payload-mode", os.Getenv("GATEWAY_MQTT_PAYLOAD_MODE"), &cfg.MQTTPayloadMode)
	if err := s.setIntFromString("mqtt-identity-level", os.Getenv("GATEWAY_MQTT_IDENTITY_LEVEL"), &cfg.MQTTIdentityLevel, false); err != nil {
		return err
	}

	s.setString("archive-bucket", os.Getenv("GATEWAY_ARCHIVE_BUCKET"), &cfg.ArchiveBucket)
	s.setString("archive-prefix", os.Getenv("GATEWAY_ARCHIVE_PREFIX"), &cfg.ArchivePrefix)
	s.setBoolFromString("archive-all", os.Getenv("GATEWAY_ARCHIVE_ALL"), &cfg.ArchiveAll)

	if err := s.setIntFromString("batch-count", os.Getenv("GATEWAY_BATCH_COUNT"), &cfg.BatchCount, true); err != nil {
		return err
	}
	s.setListFromString("excluded", os.Getenv("GATEWAY_EXCLUDED"), &cfg.Excluded)
	s.setString("publish-as-mac", os.Getenv("GATEWAY_PUBLISH_AS_MAC"), &cfg.PublishAsMac)
	s.setString("publish-as-device-id", os.Getenv("GATEWAY_PUBLISH_AS_DEVICE_ID"), &cfg.PublishAsDeviceID)
	s.setString("publish-as-device-key", os.Getenv("GATEWAY_PUBLISH_AS_DEVICE_KEY"), &cfg.PublishAsDeviceKey)
	return nil
}
