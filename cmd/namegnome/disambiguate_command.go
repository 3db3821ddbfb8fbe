package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/namegnome/serve/internal/apiclient"
)

func newDisambiguateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disambiguate",
		Short: "Resolve a pending ambiguous match",
	}
	cmd.AddCommand(newDisambiguateResolveCommand(ctx))
	return cmd
}

func newDisambiguateResolveCommand(ctx *commandContext) *cobra.Command {
	var choiceID string

	cmd := &cobra.Command{
		Use:   "resolve <token>",
		Short: "Pin a disambiguation token to one of its candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			if err := client.Disambiguate(cmd.Context(), apiclient.DisambiguateRequest{
				Token:    token,
				ChoiceID: choiceID,
			}); err != nil {
				return err
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]string{"status": "resolved", "token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("resolved", statusOK, "token "+token, colorEnabled()))
			return nil
		},
	}

	cmd.Flags().StringVar(&choiceID, "choice", "", "Candidate ID to pin this token to (required)")
	_ = cmd.MarkFlagRequired("choice")

	return cmd
}
