package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/arena/internal/loadtest"
	"github.com/spf13/cobra"
)

func newLoadTestCommand(opts *rootOptions) *cobra.Command {
	cfg := &loadtest.Config{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Create, complete and verify games against a running server",
		Long: `Drive a running arena server over HTTP: create games with random scores
concurrently, wait until each appears in its first participant's graph
listing, complete them and check every announced winner.

Example:
  arena loadtest --url http://localhost:8080 --games 1000 --workers 32`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := bootstrap(ctx, opts); err != nil {
				return err
			}
			if cfg.Seed == 0 {
				cfg.Seed = uint64(time.Now().UnixNano())
			}
			stats, err := loadtest.Run(ctx, cfg)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"created=%d failed=%d synced=%d completed=%d draws=%d mismatches=%d duration=%s\n",
					stats.Created, stats.CreateFail, stats.Synced, stats.Completed,
					stats.Draws, stats.Mismatches, stats.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the server")
	f.StringVar(&cfg.ClientID, "client", "loadtest", "client the games are created for")
	f.IntVar(&cfg.Games, "games", loadtest.DefaultGames, "number of games to create")
	f.IntVar(&cfg.Participants, "participants", loadtest.DefaultParticipants, "participants per game")
	f.IntVar(&cfg.Workers, "workers", 0, "concurrent workers (0 = 2 x CPUs)")
	f.DurationVar(&cfg.Timeout, "timeout", loadtest.DefaultTimeout, "HTTP request timeout")
	f.DurationVar(&cfg.SyncWait, "sync-wait", loadtest.DefaultSyncWait, "how long to wait for the graph projection")
	f.Uint64Var(&cfg.Seed, "seed", 0, "score generator seed (0 = time based)")
	return cmd
}
