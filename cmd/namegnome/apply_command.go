package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/namegnome/serve/internal/apiclient"
	"github.com/namegnome/serve/internal/domain"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var root string
	var mediaType string
	var planFile string
	var mode string
	var dryRun bool
	var collision string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a rename plan to the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			review, err := resolvePlanReview(cmd, client, planFile, root, mediaType)
			if err != nil {
				return err
			}

			applyMode, err := parseApplyMode(mode)
			if err != nil {
				return newExitCodeError(exitValidation, err)
			}
			if dryRun {
				applyMode = domain.ApplyDryRun
			}

			result, err := client.Apply(cmd.Context(), apiclient.ApplyRequest{
				Root:      root,
				Plan:      *review,
				Mode:      applyMode,
				Collision: domain.CollisionStrategy(collision),
			})
			if err != nil {
				return err
			}

			return renderApplyResult(cmd, ctx, *result)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Library root the plan applies under (required)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type: tv, movie, or music (required unless --plan is given)")
	cmd.Flags().StringVar(&planFile, "plan", "", "Path to a previously saved `plan generate --json` output; if omitted, a plan is generated inline")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ApplyTransactional), "Apply mode: transactional or continue-on-error")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the apply without touching the filesystem")
	cmd.Flags().StringVar(&collision, "collision", string(domain.CollisionSkip), "Collision strategy: skip, overwrite, or backup")
	_ = cmd.MarkFlagRequired("root")

	cmd.AddCommand(newApplyRollbackCommand(ctx))
	return cmd
}

// parseApplyMode accepts the CLI's hyphenated spelling ("continue-on-error")
// and maps it to the wire-level domain.ApplyMode ("continue_on_error"); the
// two must not be conflated, since internal/apply.Run matches opts.Mode
// against the exact ApplyContinueOnError constant before it will persist a
// rollback manifest.
func parseApplyMode(mode string) (domain.ApplyMode, error) {
	switch mode {
	case "", string(domain.ApplyTransactional), "transactional":
		return domain.ApplyTransactional, nil
	case "continue-on-error", string(domain.ApplyContinueOnError):
		return domain.ApplyContinueOnError, nil
	default:
		return "", fmt.Errorf("--mode must be transactional or continue-on-error, got %q", mode)
	}
}

// resolvePlanReview loads a PlanReview from --plan when given, or generates
// one inline via /plan the way `plan generate` does. A disambiguation
// required at this point is a hard stop: apply cannot proceed without a
// resolved match.
func resolvePlanReview(cmd *cobra.Command, client *apiclient.Client, planFile, root, mediaType string) (*domain.PlanReview, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, newExitCodeError(exitValidation, fmt.Errorf("read plan file %s: %w", planFile, err))
		}
		var review domain.PlanReview
		if err := json.Unmarshal(data, &review); err != nil {
			return nil, newExitCodeError(exitValidation, fmt.Errorf("parse plan file %s: %w", planFile, err))
		}
		return &review, nil
	}

	if mediaType == "" {
		return nil, newExitCodeError(exitValidation, fmt.Errorf("--media-type is required when --plan is not given"))
	}

	review, disambiguation, err := client.Plan(cmd.Context(), apiclient.PlanRequest{
		ScanRequest: apiclient.ScanRequest{Root: root, MediaType: domain.MediaType(mediaType)},
	})
	if err != nil {
		return nil, err
	}
	if disambiguation != nil {
		return nil, newExitCodeError(exitValidation, fmt.Errorf(
			"plan stopped on an ambiguous match (token %s): resolve it with `namegnome disambiguate resolve %s --choice <id>` first",
			disambiguation.Token, disambiguation.Token))
	}
	return review, nil
}

// renderApplyResult prints one progress tick per item (schollz/progressbar,
// grounded on the teacher's rip/encode progress reporting), then reports
// exitPartial when any item did not commit cleanly — the REST layer already
// chose 207 for exactly this condition; the CLI mirrors it as exit code 3.
func renderApplyResult(cmd *cobra.Command, ctx *commandContext, result domain.ApplyResult) error {
	if ctx.JSONMode() {
		if err := writeJSON(cmd, result); err != nil {
			return err
		}
		return exitCodeForApplyResult(result)
	}

	bar := progressbar.NewOptions(len(result.Items),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(string(result.Mode)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	partial := false
	for _, item := range result.Items {
		_ = bar.Add(1)
		kind := statusOK
		switch item.Status {
		case domain.ItemSkipped, domain.ItemRollbackSkipped:
			kind = statusWarn
		case domain.ItemFailed, domain.ItemStale:
			kind = statusError
		}
		if item.Status != domain.ItemCommitted && item.Status != domain.ItemRolledBack {
			partial = true
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine(item.ItemID, kind, item.Dst, colorEnabled()))
	}

	if result.RollbackToken != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "rollback token: %s\n", result.RollbackToken)
	}
	if partial {
		return newExitCodeError(exitPartial, fmt.Errorf("%d item(s) did not commit cleanly", countIncomplete(result.Items)))
	}
	return nil
}

func exitCodeForApplyResult(result domain.ApplyResult) error {
	if countIncomplete(result.Items) > 0 {
		return newExitCodeError(exitPartial, fmt.Errorf("%d item(s) did not commit cleanly", countIncomplete(result.Items)))
	}
	return nil
}

func countIncomplete(items []domain.ApplyItemResult) int {
	n := 0
	for _, item := range items {
		if item.Status != domain.ItemCommitted && item.Status != domain.ItemRolledBack {
			n++
		}
	}
	return n
}

func newApplyRollbackCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <token>",
		Short: "Undo a continue-on-error apply run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			result, err := client.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderApplyResult(cmd, ctx, *result)
		},
	}
	return cmd
}
