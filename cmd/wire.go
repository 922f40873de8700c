package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/cases"
	"github.com/andresmejia3/vigil/internal/config"
	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/geo"
	"github.com/andresmejia3/vigil/internal/notify"
	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/worker"
)

// newEncoder starts the configured face encoder. The returned func releases it.
func newEncoder(ctx context.Context, cfg config.EncoderConfig) (worker.Encoder, func(), error) {
	switch cfg.Backend {
	case "http":
		return worker.NewHTTPEncoder(cfg.ServiceURL, cfg.Timeout), func() {}, nil
	case "dlib":
		d, err := worker.NewDlibEncoder(cfg.DlibModels)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face worker...")
	w, err := worker.NewPythonWorker(ctx, 0, cfg.WorkerArgv())
	if err != nil {
		return nil, nil, err
	}
	enc := worker.EncoderFunc(func(ctx context.Context, img []byte) ([]types.Face, error) {
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		return w.Encode(ctx, img)
	})
	return enc, func() { w.Close() }, nil
}

// newOpener picks the capture backend for the configured camera.
func newOpener(cfg *config.Config) capture.Opener {
	if cfg.Capture.Backend == "gocv" {
		return capture.GoCVOpener(cfg.Capture.Device, cfg.Detection.JPEGQuality)
	}
	return capture.FFmpegOpener(utils.CaptureArgs{Input: cfg.Capture.Device, Format: cfg.Capture.Format})
}

func newMetric(cfg *config.Config) (registry.Metric, error) {
	return registry.NewMetric(cfg.Detection.Metric)
}

func newCaseClient(cfg *config.Config) *cases.Client {
	return cases.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
}

func newReferenceSource(cfg *config.Config, log logrus.FieldLogger) *cases.Source {
	return &cases.Source{Client: newCaseClient(cfg), Dir: cfg.API.ImagesDir, Log: log}
}

// sinks are the downstream services a dispatcher delivers to.
type sinks struct {
	locator   dispatch.Locator
	recorder  dispatch.Recorder
	notifier  dispatch.Notifier
	publisher dispatch.Publisher
	closers   []func()
}

func (s *sinks) Close() {
	for _, c := range s.closers {
		c()
	}
}

// newSinks wires every configured downstream. Optional services that fail to
// connect are logged and left out.
func newSinks(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) *sinks {
	s := &sinks{locator: geo.NewClient(cfg.Geo.URL, geo.DefaultTimeout)}

	recorders := dispatch.Recorders{Primary: newCaseClient(cfg), Log: log}
	if cfg.Database.URL != "" {
		if st, err := openStore(ctx); err != nil {
			log.WithError(err).Warn("sightings log disabled")
		} else {
			recorders.Secondary = append(recorders.Secondary, st)
		}
	}
	s.recorder = recorders

	if cfg.WhatsApp.Enabled() {
		s.notifier = notify.NewWhatsApp(notify.WhatsAppConfig{
			BaseURL:     cfg.WhatsApp.URL,
			InstanceID:  cfg.WhatsApp.InstanceID,
			Token:       cfg.WhatsApp.Token,
			CountryCode: cfg.WhatsApp.CountryCode,
		})
	} else {
		log.Warn("WhatsApp credentials not set, alerts disabled")
	}

	if cfg.NATS.URL != "" {
		p, err := notify.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.WithError(err).Warn("event publishing disabled")
		} else {
			s.publisher = p
			s.closers = append(s.closers, p.Close)
		}
	}
	return s
}

// Dispatcher builds a fresh dispatcher over the sinks.
func (s *sinks) Dispatcher(log logrus.FieldLogger) *dispatch.Dispatcher {
	var opts []dispatch.Option
	if s.publisher != nil {
		opts = append(opts, dispatch.WithPublisher(s.publisher))
	}
	return dispatch.New(s.locator, s.recorder, s.notifier, log, opts...)
}

// loadRegistry fetches approved cases and builds the watch list.
func loadRegistry(ctx context.Context, enc worker.Encoder) (*registry.Registry, registry.Report, error) {
	metric, err := newMetric(Cfg)
	if err != nil {
		return nil, registry.Report{}, err
	}
	fmt.Fprintln(os.Stderr, "📥 Fetching approved cases...")
	refs, err := newReferenceSource(Cfg, Log).References(ctx)
	if err != nil {
		return nil, registry.Report{}, err
	}
	fmt.Fprintf(os.Stderr, "🧬 Encoding %d reference images...\n", len(refs))
	return registry.Build(ctx, refs, enc, Log, registry.WithMetric(metric))
}
