package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/csarrepo/csarrepo/internal/service/auth"
)

func newUserCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage repository accounts",
	}

	var (
		mail     string
		password string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if strings.TrimSpace(mail) == "" {
				return errors.New("--mail is required")
			}
			secret := password
			if secret == "" {
				secret, err = promptPassword()
				if err != nil {
					return err
				}
			}
			log := g.logger("user", cfg)
			db, err := openMigrated(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.close()

			user, _, err := auth.New(db.store, log, cfg).Signup(cmd.Context(), args[0], mail, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Name, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&mail, "mail", "", "mail address")
	create.Flags().StringVar(&password, "password", "", "password (supply to avoid prompt)")

	cmd.AddCommand(create)
	return cmd
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
