package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"pkg.world.dev/world-engine/worldsync"
	"pkg.world.dev/world-engine/worldsync/replay"
	"pkg.world.dev/world-engine/worldsync/snapshot"
)

// replayReport is printed after a headless replay.
type replayReport struct {
	Session    string         `json:"session"`
	Messages   int            `json:"messages"`
	Ticks      int            `json:"ticks"`
	Entities   int            `json:"entities"`
	ServerTick uint32         `json:"serverTick"`
	Removals   map[string]int `json:"removals"`
}

func newReplayCmd(cfg cliConfig) *cobra.Command {
	var (
		session string
		addr    string
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded session headless and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client := redis.NewClient(&redis.Options{Addr: addr})
			defer client.Close()

			if list {
				sessions, err := replay.Sessions(ctx, client)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintln(cmd.OutOrStdout(), s.String())
				}
				return nil
			}

			id, err := uuid.Parse(session)
			if err != nil {
				return eris.Wrapf(err, "invalid session %q", session)
			}
			msgs, err := replay.Load(ctx, client, id)
			if err != nil {
				return err
			}

			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown() }()

			engine, err := worldsync.New(worldsync.Options{Logger: &tel.Logger})
			if err != nil {
				return eris.Wrap(err, "failed to create engine")
			}
			report := replayReport{Session: id.String(), Removals: map[string]int{}}
			engine.OnRemoved(func(r snapshot.Removal) error {
				report.Removals[r.Cause.String()]++
				return nil
			})
			if err := engine.Start(); err != nil {
				return eris.Wrap(err, "failed to start engine")
			}

			sum, err := replay.Feed(ctx, engine, msgs)
			if err != nil {
				return eris.Wrap(err, "replay failed")
			}
			report.Messages = sum.Messages
			report.Ticks = sum.Ticks
			report.Entities = engine.Registry().Len()
			report.ServerTick = engine.LastServerTick()

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return eris.Wrap(err, "failed to marshal report")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id of the recording")
	cmd.Flags().StringVar(&addr, "redis", cfg.RedisAddress, "redis address holding recordings")
	cmd.Flags().BoolVar(&list, "list", false, "list recorded sessions instead of replaying")
	cmd.MarkFlagsOneRequired("session", "list")
	return cmd
}
