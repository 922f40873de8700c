package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/stream"
	"github.com/andresmejia3/vigil/internal/utils"
)

var (
	matchThreshold float64
	matchOutput    string
)

var matchCmd = &cobra.Command{
	Use:   "match <image_path>",
	Short: "Match the faces in one image against the watch list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runMatch(cmd.Context(), args[0])
	},
}

func init() {
	matchCmd.Flags().Float64VarP(&matchThreshold, "threshold", "t", 0, "Face matching threshold (default: MATCH_THRESHOLD or 0.6)")
	matchCmd.Flags().StringVarP(&matchOutput, "output", "o", "", "Write the annotated image to this path")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(ctx context.Context, imagePath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	enc, closeEnc, err := newEncoder(ctx, Cfg.Encoder)
	if err != nil {
		utils.ShowError("Failed to start face encoder", err, nil)
		return err
	}
	defer closeEnc()

	reg, _, err := loadRegistry(ctx, enc)
	if err != nil {
		utils.ShowError("Failed to build watch list", err, nil)
		return err
	}

	tol := matchThreshold
	if tol == 0 {
		tol = Cfg.Detection.Threshold
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	matches, err := matcher.New(reg, enc, tol).Match(ctx, img)
	if err != nil {
		utils.ShowError("Face matching failed", err, nil)
		return err
	}
	if len(matches) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISTANCE\tBOX (T,R,B,L)")
	fmt.Fprintln(w, "----\t--------\t-------------")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%.3f\t%d,%d,%d,%d\n", m.Name, m.Distance, m.Box.Top, m.Box.Right, m.Box.Bottom, m.Box.Left)
	}
	w.Flush()

	if matchOutput != "" {
		canvas := image.NewRGBA(img.Bounds())
		draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)
		stream.Annotate(canvas, matches)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: Cfg.Detection.JPEGQuality}); err != nil {
			return err
		}
		if err := os.WriteFile(matchOutput, buf.Bytes(), 0o644); err != nil {
			utils.ShowError("Failed to write annotated image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", matchOutput)
	}
	return nil
}
