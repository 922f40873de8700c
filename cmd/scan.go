package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/cooldown"
	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/stream"
	"github.com/andresmejia3/vigil/internal/utils"
)

// scanOptions holds the flags of the scan command
type scanOptions struct {
	InputPath      string
	NthFrame       int
	MatchThreshold float64
	DryRun         bool
	DebugFrames    string
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the watch-list pipeline over a recorded video",
	Long: `Runs the same detection pipeline as a live session over a video file.
Matches are dispatched to the configured services unless --dry-run is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().IntVarP(&scanOpts.NthFrame, "nth-frame", "n", 0, "Run detection on every Nth frame (default: NTH_FRAME or 10)")
	scanCmd.Flags().Float64VarP(&scanOpts.MatchThreshold, "threshold", "t", 0, "Face matching threshold, lower is stricter (default: MATCH_THRESHOLD or 0.6)")
	scanCmd.Flags().BoolVar(&scanOpts.DryRun, "dry-run", false, "Detect and log matches without geolocating, recording or alerting")
	scanCmd.Flags().StringVarP(&scanOpts.DebugFrames, "debug-frames", "d", "", "Save every sampled frame (annotated when faces were found) to this directory")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// hit is one dispatched detection during a scan.
type hit struct {
	Name  string
	Frame int64
}

// hitLog records what the producer dispatches.
type hitLog struct {
	next  stream.Dispatcher
	frame func() int64

	mu   sync.Mutex
	hits []hit
}

func (h *hitLog) Handle(ctx context.Context, name string, reg *registry.Registry) (dispatch.Outcome, error) {
	out, err := h.next.Handle(ctx, name, reg)
	if err == nil {
		h.mu.Lock()
		h.hits = append(h.hits, hit{Name: name, Frame: h.frame()})
		h.mu.Unlock()
	}
	return out, err
}

func (h *hitLog) Hits() []hit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hit(nil), h.hits...)
}

// runScan orchestrates an offline run: registry, FFmpeg decoding, detection and progress.
func runScan(ctx context.Context, opts scanOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.NthFrame == 0 {
		opts.NthFrame = Cfg.Detection.NthFrame
	}
	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = Cfg.Detection.Threshold
	}
	if err := validateScanFlags(&opts); err != nil {
		return err
	}
	if opts.DebugFrames != "" {
		if err := os.MkdirAll(opts.DebugFrames, 0o755); err != nil {
			utils.ShowError("Failed to create debug frames directory", err, nil)
			return err
		}
	}

	enc, closeEnc, err := newEncoder(ctx, Cfg.Encoder)
	if err != nil {
		utils.ShowError("Failed to start face encoder", err, nil)
		return err
	}
	defer closeEnc()

	reg, report, err := loadRegistry(ctx, enc)
	if err != nil {
		utils.ShowError("Failed to build watch list", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "👥 Watching for %d identities (%d skipped)\n", report.Loaded, len(report.Skipped))

	src, err := capture.OpenFFmpeg(ctx, utils.CaptureArgs{Input: opts.InputPath})
	if err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	var disp *dispatch.Dispatcher
	if opts.DryRun {
		disp = dispatch.New(nil, nil, nil, Log)
	} else {
		out := newSinks(ctx, Cfg, Log)
		defer out.Close()
		disp = out.Dispatcher(Log)
	}

	var producer *stream.Producer
	hits := &hitLog{next: disp, frame: func() int64 { return producer.Count() }}
	producer = stream.New(src, matcher.New(reg, enc, opts.MatchThreshold), cooldown.New(Cfg.Detection.Cooldown, Log), hits, reg, Log,
		stream.Config{Every: opts.NthFrame, Quality: Cfg.Detection.JPEGQuality})

	totalVideoFrames := utils.GetTotalFrames(ctx, opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 Vigil Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var frames int
	for frame, err := range producer.Frames(ctx) {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			bar.Clear()
			utils.ShowError("Scan aborted", err, nil)
			return err
		}
		frames++
		bar.Add(1)

		if opts.DebugFrames != "" && frames%opts.NthFrame == 0 {
			if err := os.WriteFile(debugFramePath(opts.DebugFrames, frames), frame, 0o644); err != nil {
				Log.WithError(err).Warn("failed to write debug frame")
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Processed %d keyframes out of %d total.\n", frames/opts.NthFrame, frames)
	printHits(hits.Hits())
	return nil
}

func printHits(hits []hit) {
	if len(hits) == 0 {
		fmt.Println("No watch-list identities detected.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tFIRST FRAME")
	fmt.Fprintln(w, "----\t-----------")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%d\n", h.Name, h.Frame)
	}
	w.Flush()
}

func debugFramePath(dir string, frame int) string {
	return filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", frame))
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *scanOptions) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory, expected a video file", opts.InputPath)
		utils.ShowError("Invalid input path", err, nil)
		return err
	}
	if opts.NthFrame < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.NthFrame)
		utils.ShowError("Invalid nth-frame interval", err, nil)
		return err
	}
	if opts.MatchThreshold <= 0 || opts.MatchThreshold > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", opts.MatchThreshold)
		utils.ShowError("Invalid match threshold", err, nil)
		return err
	}
	return nil
}
