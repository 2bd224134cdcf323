package main

import (
	"fmt"
	"os"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/csarrepo/csarrepo/pkg/config"
	"github.com/csarrepo/csarrepo/pkg/logger"
)

var buildVersion = "dev"

// globals carries settings shared by every subcommand.
type globals struct {
	logLevel string
	addr     string
}

func (g *globals) config() (config.Config, error) {
	cfg := config.Load()
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.addr != "" {
		cfg.Addr = g.addr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadLenient skips validation for commands that never open the database.
func (g *globals) loadLenient() config.Config {
	cfg := config.Load()
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg
}

func (g *globals) logger(service string, cfg config.Config) *slog.Logger {
	return logger.New(service, logger.ParseLevel(cfg.LogLevel))
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "csarrepo",
		Short:         "CSAR repository with OpenTOSCA deployment",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides LOG_LEVEL")

	rootCmd.AddCommand(
		newServeCmd(g),
		newMigrateCmd(g),
		newSeedCmd(g),
		newUserCmd(g),
		newRemoteCmd(g),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
