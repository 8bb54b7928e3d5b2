package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/illmade-knight/go-gateway-batcher/internal/cliconfig"
)

var longHelp = strings.TrimSpace(`
Inline gateway bus stages.

  batch  groups messages per device into frames of batch-count messages
  shred  expands frames back into the messages they carry

Configure via a TOML file, GATEWAY_* environment variables, or flags
(flags win over env, env wins over the file).
`)

var exampleUsage = strings.TrimSpace(`
  gatewaystage batch --project-id my-project --input raw-sub --output batched-topic --batch-count 20
  gatewaystage shred --transport redis --input gateway.batched --output gateway.raw
  gatewaystage batch --config /etc/gateway/batcher.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "gatewaystage",
		Short:         "Batch and shred gateway bus messages",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to a TOML config file")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "bus transport: pubsub, redis or mqtt")
	flags.StringVar(&cfg.Input, "input", cfg.Input, "subscription, channel or topic to consume")
	flags.StringVar(&cfg.Output, "output", cfg.Output, "topic or channel to publish to")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	flags.StringVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "address for /healthz, /readyz and /metrics")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent stage workers (1 keeps delivery order)")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "time allowed to drain on shutdown")

	flags.StringVar(&cfg.ProjectID, "project-id", cfg.ProjectID, "Google Cloud project")
	flags.StringVar(&cfg.CredentialsFile, "credentials-file", cfg.CredentialsFile, "service account key file (optional)")

	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flags.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")

	flags.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL")
	flags.StringVar(&cfg.MQTTPayloadMode, "mqtt-payload-mode", cfg.MQTTPayloadMode, "incoming MQTT payloads: envelope or raw")
	flags.IntVar(&cfg.MQTTIdentityLevel, "mqtt-identity-level", cfg.MQTTIdentityLevel, "topic level carrying the hardware address in raw mode (-1 disables)")

	flags.StringVar(&cfg.ArchiveBucket, "archive-bucket", cfg.ArchiveBucket, "GCS bucket to archive emitted frames to (optional)")
	flags.StringVar(&cfg.ArchivePrefix, "archive-prefix", cfg.ArchivePrefix, "object prefix for archived frames")
	flags.BoolVar(&cfg.ArchiveAll, "archive-all", cfg.ArchiveAll, "archive every published message, not only frames")

	load := func(cmd *cobra.Command) (cliconfig.Config, error) {
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgPath != "" {
			if !cliconfig.FileExists(cfgPath) {
				return cfg, fmt.Errorf("config file %s not found", cfgPath)
			}
			fc, err := cliconfig.LoadFileConfig(cfgPath)
			if err != nil {
				return cfg, fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return cfg, err
			}
		}
		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return cfg, err
		}
		return cfg, cfg.Validate()
	}

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Group per-device messages into frames",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), c, batchStage)
		},
	}
	batchCmd.Flags().IntVar(&cfg.BatchCount, "batch-count", cfg.BatchCount, "messages per frame")
	batchCmd.Flags().StringSliceVar(&cfg.Excluded, "excluded", cfg.Excluded, "identifiers that are never batched")
	batchCmd.Flags().StringVar(&cfg.PublishAsMac, "publish-as-mac", cfg.PublishAsMac, "publish frames under this hardware address")
	batchCmd.Flags().StringVar(&cfg.PublishAsDeviceID, "publish-as-device-id", cfg.PublishAsDeviceID, "publish frames under this device id (needs publish-as-device-key)")
	batchCmd.Flags().StringVar(&cfg.PublishAsDeviceKey, "publish-as-device-key", cfg.PublishAsDeviceKey, "device key paired with publish-as-device-id")

	shredCmd := &cobra.Command{
		Use:   "shred",
		Short: "Expand frames back into their messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), c, shredStage)
		},
	}

	root.AddCommand(batchCmd, shredCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gatewaystage:", err)
		os.Exit(1)
	}
}
