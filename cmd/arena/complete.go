package main

import (
	"context"
	"encoding/json"
	"time"

	app "github.com/okian/arena/internal/app"
	"github.com/spf13/cobra"
)

const completeTimeout = time.Minute

func newCompleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <gameId>",
		Short: "Complete one game now against the configured stores",
		Long: `Complete one game: resolve and announce its winner, archive it and
respawn it when it is a recurring challenge whose schedule is still running.

Example:
  ARENA_DATABASE_URL=postgres://... arena complete 4b7e...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), completeTimeout)
			defer cancel()

			cfg, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			svc := app.New(app.WithConfig(cfg))
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = svc.Stop(ctx) }()

			out, err := svc.CompleteAndResolve(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
