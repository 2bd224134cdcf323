package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csarrepo/csarrepo/internal/seed"
	"github.com/csarrepo/csarrepo/internal/service/server"
)

func newSeedCmd(g *globals) *cobra.Command {
	var (
		file  string
		owner string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register servers listed in a YAML seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if strings.TrimSpace(file) == "" {
				file = cfg.SeedFile
			}
			if strings.TrimSpace(file) == "" {
				return fmt.Errorf("--file or SEED_FILE is required")
			}
			seedCfg, err := seed.Load(file)
			if err != nil {
				return err
			}
			log := g.logger("seed", cfg)
			db, err := openMigrated(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.close()

			var ownerID int64
			if owner != "" {
				user, err := db.store.GetUserByName(cmd.Context(), owner)
				if err != nil {
					return fmt.Errorf("look up owner %q: %w", owner, err)
				}
				ownerID = user.ID
			}
			res, err := seed.Apply(cmd.Context(), seedCfg, server.New(db.store, log), ownerID, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d registered, %d already present\n", res.Created, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (defaults to SEED_FILE)")
	cmd.Flags().StringVar(&owner, "owner", "", "user name recorded as the servers' owner")
	return cmd
}
