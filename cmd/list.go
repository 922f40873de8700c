package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Build the watch list and show who is on it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		enc, closeEnc, err := newEncoder(ctx, Cfg.Encoder)
		if err != nil {
			utils.ShowError("Failed to start face encoder", err, nil)
			return err
		}
		defer closeEnc()

		reg, report, err := loadRegistry(ctx, enc)
		if err != nil && reg == nil && len(report.Skipped) == 0 {
			utils.ShowError("Failed to build watch list", err, nil)
			return err
		}
		printRegistry(reg, report)
		return err
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printRegistry(reg *registry.Registry, report registry.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	if reg != nil {
		fmt.Fprintln(w, "NAME\tAADHAAR\tCONTACT\tDIM")
		fmt.Fprintln(w, "----\t-------\t-------\t---")
		for _, id := range reg.Identities() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", id.Name, id.ExternalID, id.Contact, len(id.Signature))
		}
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintln(w, "\nSKIPPED\tREASON\tDETAILS\t")
		for _, s := range report.Skipped {
			details := ""
			if s.Err != nil {
				details = s.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", s.Name, s.Reason, details)
		}
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\n%d loaded, %d skipped\n", report.Loaded, len(report.Skipped))
}
