package main

import (
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"pkg.world.dev/world-engine/worldsync/telemetry"
)

// cliConfig holds the defaults of the command line flags.
type cliConfig struct {
	// Websocket url of the game server.
	ServerURL string `env:"WORLDSYNC_SERVER_URL" envDefault:"ws://localhost:8080/ws"`

	// Redis address used for recordings.
	RedisAddress string `env:"WORLDSYNC_REDIS_ADDRESS" envDefault:"localhost:6379"`
}

func loadCLIConfig() (cliConfig, error) {
	cfg := cliConfig{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse cli config")
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "worldsync",
		Short:         "Client-side world-state sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		// Fall back to the built-in defaults; the flags can still override them.
		cfg = cliConfig{ServerURL: "ws://localhost:8080/ws", RedisAddress: "localhost:6379"}
	}

	rootCmd.AddCommand(
		newConnectCmd(cfg),
		newReplayCmd(cfg),
	)
	return rootCmd
}

func newTelemetry() (telemetry.Telemetry, error) {
	tel, err := telemetry.New(telemetry.Options{ServiceName: "worldsync"})
	if err != nil {
		return telemetry.Telemetry{}, eris.Wrap(err, "failed to initialize telemetry")
	}
	return tel, nil
}
