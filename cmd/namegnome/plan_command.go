package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/namegnome/serve/internal/apiclient"
	"github.com/namegnome/serve/internal/domain"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate and inspect rename plans",
	}
	cmd.AddCommand(newPlanGenerateCommand(ctx))
	return cmd
}

func newPlanGenerateCommand(ctx *commandContext) *cobra.Command {
	var root string
	var mediaType string
	var anthology bool
	var offline bool
	var providers []string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Scan a root and map every file to a rename destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.newCLILogger(ctx.configValue(), "plan")
			if err != nil {
				return err
			}
			if offline || len(providers) > 0 {
				logger.Warn("--offline and --provider select the daemon's configured gateway behavior and are not yet overridable per request; set providers.offline / provider credentials in the service config instead")
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			review, disambiguation, err := client.Plan(cmd.Context(), apiclient.PlanRequest{
				ScanRequest: apiclient.ScanRequest{
					Root:      root,
					MediaType: domain.MediaType(mediaType),
					Anthology: anthology,
				},
			})
			if err != nil {
				return err
			}

			if disambiguation != nil {
				return newExitCodeError(exitValidation, fmt.Errorf(
					"plan stopped on an ambiguous match (token %s): resolve it with `namegnome disambiguate resolve %s --choice <id>` and re-run plan generate",
					disambiguation.Token, disambiguation.Token))
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, review)
			}
			printPlanReview(cmd, *review, verbose)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Library root to scan (required)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type: tv, movie, or music (required)")
	cmd.Flags().BoolVar(&anthology, "anthology", false, "Enable anthology-aware filename segmentation")
	cmd.Flags().BoolVar(&offline, "offline", false, "Hint that providers should be treated as unreachable (see service config)")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "Restrict matching to named providers (see service config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every plan item, not just the summary and warnings")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("media-type")

	return cmd
}

func printPlanReview(cmd *cobra.Command, review domain.PlanReview, verbose bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan %s (%s): %d items\n", review.PlanID, review.MediaType, review.Summary.TotalItems)
	for bucket, count := range review.Summary.ByBucket {
		fmt.Fprintf(out, "  %s: %d\n", bucket, count)
	}
	if review.Summary.DisambiguationsNeeded > 0 {
		fmt.Fprintln(out, renderStatusLine("disambiguation", statusWarn,
			fmt.Sprintf("%d item(s) need review", review.Summary.DisambiguationsNeeded), colorEnabled()))
	}

	if !verbose {
		return
	}
	headers := []string{"Source", "Destination", "Confidence", "Warnings"}
	rows := make([][]string, 0, len(review.Items))
	for _, item := range review.Items {
		warnings := ""
		for i, w := range item.Warnings {
			if i > 0 {
				warnings += ", "
			}
			warnings += string(w)
		}
		rows = append(rows, []string{item.SrcPath, item.Dst.Path, fmt.Sprintf("%.2f", item.Confidence), warnings})
	}
	fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
}
