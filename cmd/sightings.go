package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/utils"
)

var sightingsLimit int

var sightingsCmd = &cobra.Command{
	Use:   "sightings [name]",
	Short: "Show the local sightings log, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		db, err := openStore(ctx)
		if err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		rows, err := db.ListSightings(ctx, name, sightingsLimit)
		if err != nil {
			utils.ShowError("Failed to list sightings", err, nil)
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No sightings recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SEEN\tNAME\tAADHAAR\tLOCATION\tCOORDINATES")
		fmt.Fprintln(w, "----\t----\t-------\t--------\t-----------")
		for _, s := range rows {
			l := s.Location
			fmt.Fprintf(w, "%s\t%s\t%s\t%s, %s, %s\t%s, %s\n",
				s.SeenAt.Local().Format("2006-01-02 15:04:05"), s.Name, s.ExternalID,
				l.City, l.Region, l.Country, l.Latitude, l.Longitude)
		}
		w.Flush()
		return nil
	},
}

func init() {
	sightingsCmd.Flags().IntVarP(&sightingsLimit, "limit", "l", 50, "Maximum number of rows")
	rootCmd.AddCommand(sightingsCmd)
}
