package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/into-the-night/fin-breaker/config"
	srv "github.com/into-the-night/fin-breaker/internal/server"
)

func toolsCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the planner can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			app, err := srv.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			reg := app.Orch.Registry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPARAMS\tDESCRIPTION")
			for _, card := range reg.Catalog() {
				params := make([]string, 0, len(card.Params))
				for _, p := range card.Params {
					name := p.Name
					if !p.Required {
						name += "?"
					}
					params = append(params, name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", card.Name, strings.Join(params, ","), card.Description)
			}
			fmt.Fprintf(w, "\nchecksum %s\n", reg.Checksum())
			return w.Flush()
		},
	}
}
