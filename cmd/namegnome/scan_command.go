package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/namegnome/serve/internal/apiclient"
	"github.com/namegnome/serve/internal/domain"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var root string
	var mediaType string
	var anthology bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk a library root and report the files namegnomed would plan over",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			snap, err := client.Scan(cmd.Context(), apiclient.ScanRequest{
				Root:      root,
				MediaType: domain.MediaType(mediaType),
				Anthology: anthology,
			})
			if err != nil {
				return err
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, snap)
			}

			headers := []string{"Path", "Size", "Type", "Title Hint", "Year"}
			rows := make([][]string, 0, len(snap.Files))
			for _, f := range snap.Files {
				year := ""
				if f.Year > 0 {
					year = fmt.Sprintf("%d", f.Year)
				}
				rows = append(rows, []string{f.Path, humanize.Bytes(uint64(f.Size)), string(f.Type), f.TitleHint, year})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight}))
			fmt.Fprintf(cmd.OutOrStdout(), "%d files, scan %s\n", len(snap.Files), snap.ScanID)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Library root to scan (required)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type: tv, movie, or music (required)")
	cmd.Flags().BoolVar(&anthology, "anthology", false, "Enable anthology-aware filename segmentation")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("media-type")

	return cmd
}
