package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/cases"
	"github.com/andresmejia3/vigil/internal/utils"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download reference images for every approved case",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		list, err := newCaseClient(Cfg).Approved(ctx)
		if err != nil {
			utils.ShowError("Failed to fetch approved cases", err, nil)
			return err
		}
		if len(list) == 0 {
			fmt.Println("No approved cases found.")
			return nil
		}

		bar := progressbar.NewOptions(len(list),
			progressbar.OptionSetDescription("📥 Syncing cases"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		_, results, err := cases.Sync(ctx, list, Cfg.API.ImagesDir, Log, func(cases.SyncResult) { bar.Add(1) })
		bar.Finish()
		if err != nil {
			utils.ShowError("Sync interrupted", err, nil)
			return err
		}

		var written, existing, skipped int
		for _, r := range results {
			switch {
			case r.Err != nil:
				skipped++
			case r.Written:
				written++
			default:
				existing++
			}
		}
		fmt.Fprintf(os.Stderr, "\n✅ %d written, %d already present, %d skipped → %s\n", written, existing, skipped, Cfg.API.ImagesDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
