package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/into-the-night/fin-breaker/config"
	srv "github.com/into-the-night/fin-breaker/internal/server"
)

func askCMD(cfgPath *string) *cobra.Command {
	var conversationID string
	var asJSON bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := srv.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			res, err := app.Orch.Run(ctx, strings.Join(args, " "), conversationID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Output)
			fmt.Fprintf(out, "\n(conversation %s, outcome %s, %d evidence records, %d planner calls)\n",
				res.ConversationID, res.Outcome, len(res.Evidence), res.PlannerCalls)
			return nil
		},
	}
	ask.Flags().StringVar(&conversationID, "conversation", "", "resume or continue this conversation id")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return ask
}
