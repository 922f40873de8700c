// Package stream turns a capture source into an annotated JPEG frame sequence,
// running detection on a sample of frames.
package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/registry"
)

const (
	DefaultEvery   = 10
	DefaultQuality = 80
)

// ErrAlreadyUsed is yielded when Frames is iterated a second time.
var ErrAlreadyUsed = errors.New("producer already consumed")

type Matcher interface {
	Match(ctx context.Context, frame image.Image) ([]matcher.Match, error)
}

type Tracker interface {
	ShouldNotify(name string, now time.Time) bool
}

type Dispatcher interface {
	Handle(ctx context.Context, name string, reg *registry.Registry) (dispatch.Outcome, error)
}

// Config tunes sampling and output encoding.
type Config struct {
	Every   int // run detection on every Nth frame
	Quality int // JPEG quality for annotated frames
}

// Producer is single use: a session builds a fresh one per stream.
type Producer struct {
	src     capture.Source
	engine  Matcher
	tracker Tracker
	disp    Dispatcher
	reg     *registry.Registry
	log     logrus.FieldLogger
	cfg     Config
	now     func() time.Time

	used    atomic.Bool
	frames  atomic.Int64
	handled map[string]struct{}
}

func New(src capture.Source, engine Matcher, tracker Tracker, disp Dispatcher, reg *registry.Registry, log logrus.FieldLogger, cfg Config) *Producer {
	if cfg.Every < 1 {
		cfg.Every = DefaultEvery
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	return &Producer{
		src:     src,
		engine:  engine,
		tracker: tracker,
		disp:    disp,
		reg:     reg,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		handled: make(map[string]struct{}),
	}
}

// WithClock overrides time.Now for cooldown decisions.
func (p *Producer) WithClock(now func() time.Time) *Producer {
	p.now = now
	return p
}

// Frames yields JPEG frames until ctx is cancelled, the consumer stops, or the
// source fails. A capture failure is yielded as a *capture.Error and ends the
// sequence; cancellation ends it without an error. The source is closed on
// every exit path.
func (p *Producer) Frames(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !p.used.CompareAndSwap(false, true) {
			yield(nil, ErrAlreadyUsed)
			return
		}
		defer p.src.Close()

		for {
			if ctx.Err() != nil {
				return
			}

			raw, err := p.src.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var capErr *capture.Error
				if !errors.As(err, &capErr) {
					err = &capture.Error{Device: "source", Err: err}
				}
				yield(nil, err)
				return
			}

			n := p.frames.Add(1)
			out := raw
			if n%int64(p.cfg.Every) == 0 {
				annotated, err := p.detect(ctx, raw)
				if errors.Is(err, dispatch.ErrUnknownIdentity) {
					yield(nil, err)
					return
				}
				if err != nil {
					p.log.WithError(err).WithField("frame", n).Warn("detection failed, passing frame through")
				} else if annotated != nil {
					out = annotated
				}
			}

			if ctx.Err() != nil {
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// detect returns the annotated frame, or nil when nothing was drawn.
func (p *Producer) detect(ctx context.Context, raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	matches, err := p.engine.Match(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	canvas := toRGBA(img)
	Annotate(canvas, matches)

	for _, m := range matches {
		if !m.Known {
			continue
		}
		if _, seen := p.handled[m.Name]; seen {
			continue
		}
		if !p.tracker.ShouldNotify(m.Name, p.now()) {
			continue
		}
		p.log.WithFields(logrus.Fields{"name": m.Name, "distance": m.Distance}).Info("✅ match found")
		if _, err := p.disp.Handle(ctx, m.Name, p.reg); err != nil {
			return nil, err
		}
		p.handled[m.Name] = struct{}{}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Count is the number of frames read so far.
func (p *Producer) Count() int64 { return p.frames.Load() }
