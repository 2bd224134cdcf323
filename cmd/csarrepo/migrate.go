package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMigrateCmd(g *globals) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	run := func(name string, fn func(ctx context.Context, db *database, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			log := g.logger("migrate", cfg)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := openDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.close()
			if err := fn(ctx, db, cmd); err != nil {
				return err
			}
			log.Info("migration command completed", "command", name)
			return nil
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: run("up", func(ctx context.Context, db *database, _ *cobra.Command) error {
			return db.migrator.Ensure(ctx)
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: run("status", func(ctx context.Context, db *database, cmd *cobra.Command) error {
			states, err := db.migrator.Status(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
			for _, st := range states {
				state, at := "pending", "-"
				if st.Applied {
					state, at = "applied", st.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Version, state, at, st.Path)
			}
			return tw.Flush()
		}),
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration or down to --target",
		Args:  cobra.NoArgs,
		RunE: run("down", func(ctx context.Context, db *database, _ *cobra.Command) error {
			return db.migrator.Down(ctx, target)
		}),
	}
	down.Flags().Int64Var(&target, "target", 0, "target version (optional)")

	cmd.AddCommand(up, status, down)
	return cmd
}
