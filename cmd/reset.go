package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/utils"
)

var (
	resetDB     bool
	resetImages bool
	resetDebug  string
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset local state (sightings table, cached case images, debug frames)",
	Long:  "Clears local data. By default, it resets the sightings table and the image cache. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing the database and image cache
		if !resetDB && !resetImages && resetDebug == "" {
			resetDB = true
			resetImages = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool { return resetYes || confirm(reader, os.Stdout, prompt) }

		if resetDB {
			if ask("⚠️  Are you sure you want to DROP the sightings table?") {
				db, err := openStore(cmd.Context())
				if err != nil {
					utils.Die("Database unavailable", err, nil)
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetImages {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all cached case images in %s?", Cfg.API.ImagesDir)) {
				fmt.Println("🗑️  Clearing Case Images...")
				removeDir(Cfg.API.ImagesDir)
			}
		}

		if resetDebug != "" {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all debug frames in %s?", resetDebug)) {
				fmt.Println("🗑️  Clearing Debug Frames...")
				removeDir(resetDebug)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "sightings", false, "Drop the PostgreSQL sightings table")
	resetCmd.Flags().BoolVar(&resetImages, "images", false, "Delete cached case images (IMAGES_DIR)")
	resetCmd.Flags().StringVar(&resetDebug, "debug-frames", "", "Delete the given debug frames directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
