package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/andresmejia3/vigil/internal/stream"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the detection web server",
	Long: `Start the vigil web server.
The server exposes start/stop/status endpoints and an MJPEG /video_feed that
runs face detection on the camera while a session is active.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (default: WEB_PORT or 5001)")
	serveCmd.Flags().String("host", "", "Host to bind to (default: WEB_HOST or 0.0.0.0)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	if cmd.Flags().Changed("port") {
		Cfg.Web.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		Cfg.Web.Host, _ = cmd.Flags().GetString("host")
	}

	metric, err := newMetric(Cfg)
	if err != nil {
		return err
	}

	enc, closeEnc, err := newEncoder(ctx, Cfg.Encoder)
	if err != nil {
		utils.ShowError("Failed to start face encoder", err, nil)
		return err
	}
	defer closeEnc()

	out := newSinks(ctx, Cfg, Log)
	defer out.Close()

	mgr := session.New(session.Config{
		References: newReferenceSource(Cfg, Log),
		Encoder:    enc,
		Open:       newOpener(Cfg),
		Dispatcher: func() *dispatch.Dispatcher { return out.Dispatcher(Log) },
		Metric:     metric,
		Tolerance:  Cfg.Detection.Threshold,
		Cooldown:   Cfg.Detection.Cooldown,
		Stream:     stream.Config{Every: Cfg.Detection.NthFrame, Quality: Cfg.Detection.JPEGQuality},
		Grace:      Cfg.Detection.StopGrace,
	}, Log)

	srv := web.NewServer(mgr, Cfg.Web.Addr(), Log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
