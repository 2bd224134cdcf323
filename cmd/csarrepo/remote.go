package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// newRemoteCmd drives the deployment client against a container without touching the database.
func newRemoteCmd(g *globals) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query an OpenTOSCA container directly",
	}
	cmd.PersistentFlags().StringVar(&address, "address", "", "container base URL, e.g. http://localhost:1337/containerapi")
	_ = cmd.MarkPersistentFlagRequired("address")

	client := func() (*opentosca.Client, error) {
		cfg := g.loadLenient()
		return opentosca.New(
			opentosca.Server{Name: "cli", Address: address},
			g.logger("remote", cfg),
			opentosca.WithTimeout(cfg.ContainerTimeout),
			opentosca.WithParallelism(cfg.FetchParallelism),
		)
	}

	csars := &cobra.Command{
		Use:   "csars",
		Short: "List CSARs deployed on the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			links, err := c.ListDeployed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), links)
		},
	}

	instances := &cobra.Command{
		Use:   "instances",
		Short: "List service instances running on the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			list, err := c.ListServiceInstances(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <csar-file-name>",
		Short: "Read the repository marker from a deployed CSAR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return resolveMarker(cmd.Context(), cmd.OutOrStdout(), c, args[0])
		},
	}

	cmd.AddCommand(csars, instances, resolve)
	return cmd
}

func resolveMarker(ctx context.Context, out io.Writer, c *opentosca.Client, name string) error {
	id, found, err := c.ResolveCsarFileID(ctx, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if !found {
		return errors.New("csar carries no repository marker")
	}
	_, err = fmt.Fprintf(out, "csar file %d\n", id)
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
