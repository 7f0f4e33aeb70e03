package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkg.world.dev/world-engine/worldsync"
	"pkg.world.dev/world-engine/worldsync/replay"
	"pkg.world.dev/world-engine/worldsync/transport"
)

// hostFrameRate is the rate of the host tick source that drives the engine's lag accumulator.
const hostFrameRate = 60

func newConnectCmd(cfg cliConfig) *cobra.Command {
	var (
		url    string
		record bool
		redis  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a game server and keep a synchronized world",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown() }()
			logger := tel.GetLogger("cli")

			conn, err := transport.Dial(ctx, url, tel.Logger)
			if err != nil {
				return eris.Wrap(err, "failed to connect")
			}
			defer conn.Close()

			var recorder replay.Recorder = replay.NewNopRecorder()
			if record {
				rec, err := replay.NewRedisRecorder(ctx, replay.RedisRecorderOptions{
					Address: redis,
					Session: conn.Session(),
					TTL:     ttl,
				})
				if err != nil {
					return eris.Wrap(err, "failed to create recorder")
				}
				logger.Info().Str("session", rec.Session().String()).Msg("recording session")
				recorder = rec
			}

			engine, err := worldsync.New(worldsync.Options{
				Logger:   &tel.Logger,
				Sender:   conn,
				Recorder: recorder,
			})
			if err != nil {
				return eris.Wrap(err, "failed to create engine")
			}
			defer func() {
				if err := engine.Close(); err != nil {
					logger.Warn().Err(err).Msg("failed to close engine")
				}
			}()
			if err := engine.Start(); err != nil {
				return eris.Wrap(err, "failed to start engine")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return conn.ReadLoop(gctx, engine.Receive)
			})
			g.Go(func() error {
				return conn.KeepAlive(gctx)
			})
			g.Go(func() error {
				ticker := time.NewTicker(time.Second / hostFrameRate)
				defer ticker.Stop()
				return engine.Run(gctx, ticker.C)
			})

			err = g.Wait()
			logger.Info().
				Uint32("client_tick", engine.ClientTick()).
				Uint32("server_tick", engine.LastServerTick()).
				Msg("session ended")
			// Interrupts end the session cleanly.
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", cfg.ServerURL, "websocket url of the game server")
	cmd.Flags().BoolVar(&record, "record", false, "record inbound messages to redis")
	cmd.Flags().StringVar(&redis, "redis", cfg.RedisAddress, "redis address used for recording")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "expiry of the recording, 0 keeps it forever")
	return cmd
}
