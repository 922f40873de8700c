// Package registry holds the in-memory watch list: one face signature per known
// identity, built once per session from reference images.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/worker"
)

// ErrRegistryEmpty is returned by Build when no reference produced an identity.
var ErrRegistryEmpty = errors.New("no identities could be loaded")

// Metric names accepted by NewMetric.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// Metric is a distance between two embeddings; smaller is closer.
type Metric func(a, b []float64) float64

// NewMetric resolves a metric by name.
func NewMetric(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case "", MetricEuclidean:
		return utils.EuclideanDist, nil
	case MetricCosine:
		return utils.CosineDist, nil
	}
	return nil, fmt.Errorf("unknown distance metric %q", name)
}

// Reference is one candidate identity: metadata plus a path to its face image.
type Reference struct {
	Name       string
	ExternalID string
	Contact    string
	Path       string
}

// Identity is a registered watch-list entry.
type Identity struct {
	Name       string    `json:"name"`
	ExternalID string    `json:"adhaar_number"`
	Contact    string    `json:"phone_number"`
	Signature  []float64 `json:"-"`
}

// SkipReason classifies why a reference was not registered.
type SkipReason string

const (
	SkipMissingMetadata SkipReason = "missing_metadata"
	SkipDuplicate       SkipReason = "duplicate"
	SkipImageRead       SkipReason = "image_read"
	SkipDecode          SkipReason = "decode"
	SkipNoFace          SkipReason = "no_face"
	SkipEncode          SkipReason = "encode"
)

// SkipError reports a reference that was left out of the registry.
type SkipError struct {
	Name   string
	Reason SkipReason
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("skipped %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("skipped %q: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

// Report summarizes a Build.
type Report struct {
	Loaded  int
	Skipped []*SkipError
}

// Counts tallies skipped references by reason.
func (r Report) Counts() map[SkipReason]int {
	out := make(map[SkipReason]int, len(r.Skipped))
	for _, s := range r.Skipped {
		out[s.Reason]++
	}
	return out
}

// Registry is immutable once built and safe for concurrent reads.
type Registry struct {
	entries []Identity
	byName  map[string]int
	metric  Metric
}

// Option configures Build.
type Option func(*Registry)

// WithMetric overrides the default Euclidean distance.
func WithMetric(m Metric) Option {
	return func(r *Registry) { r.metric = m }
}

// Build encodes every reference in order. Order matters: on duplicate names the
// first successfully encoded reference wins, and Nearest breaks distance ties in
// favour of earlier entries.
func Build(ctx context.Context, refs []Reference, enc worker.Encoder, log logrus.FieldLogger, opts ...Option) (*Registry, Report, error) {
	reg := &Registry{
		byName: make(map[string]int, len(refs)),
		metric: utils.EuclideanDist,
	}
	for _, opt := range opts {
		opt(reg)
	}

	var report Report
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		sig, skip := reg.encodeReference(ctx, ref, enc)
		if skip != nil {
			report.Skipped = append(report.Skipped, skip)
			entry := log.WithFields(logrus.Fields{"name": ref.Name, "reason": skip.Reason})
			if skip.Err != nil {
				entry = entry.WithError(skip.Err)
			}
			entry.Warn("reference skipped")
			continue
		}

		reg.byName[key(ref.Name)] = len(reg.entries)
		reg.entries = append(reg.entries, Identity{
			Name:       ref.Name,
			ExternalID: ref.ExternalID,
			Contact:    ref.Contact,
			Signature:  sig,
		})
		log.WithField("name", ref.Name).Debug("identity registered")
	}

	report.Loaded = len(reg.entries)
	if report.Loaded == 0 {
		return nil, report, ErrRegistryEmpty
	}
	log.WithFields(logrus.Fields{"loaded": report.Loaded, "skipped": len(report.Skipped)}).Info("registry built")
	return reg, report, nil
}

func (r *Registry) encodeReference(ctx context.Context, ref Reference, enc worker.Encoder) ([]float64, *SkipError) {
	skip := func(reason SkipReason, err error) *SkipError {
		return &SkipError{Name: ref.Name, Reason: reason, Err: err}
	}

	if strings.TrimSpace(ref.Name) == "" || ref.Contact == "" || ref.ExternalID == "" {
		return nil, skip(SkipMissingMetadata, nil)
	}
	if _, dup := r.byName[key(ref.Name)]; dup {
		return nil, skip(SkipDuplicate, nil)
	}

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, skip(SkipImageRead, err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, skip(SkipDecode, err)
	}

	faces, err := enc.Encode(ctx, data)
	if err != nil {
		return nil, skip(SkipEncode, err)
	}
	if len(faces) == 0 {
		return nil, skip(SkipNoFace, nil)
	}
	// More than one face: take the first in detector order.
	return faces[0].Vec, nil
}

// Lookup finds an identity by name, ignoring case.
func (r *Registry) Lookup(name string) (Identity, bool) {
	i, ok := r.byName[key(name)]
	if !ok {
		return Identity{}, false
	}
	return r.entries[i], true
}

// Nearest returns the closest identity to vec and its distance. ok is false when
// the closest distance exceeds tolerance.
func (r *Registry) Nearest(vec []float64, tolerance float64) (Identity, float64, bool) {
	best := -1
	bestDist := 0.0
	for i, e := range r.entries {
		d := r.metric(vec, e.Signature)
		// Strict less-than keeps the earliest entry on ties.
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best == -1 || bestDist > tolerance {
		return Identity{}, bestDist, false
	}
	return r.entries[best], bestDist, true
}

// Len is the number of registered identities.
func (r *Registry) Len() int { return len(r.entries) }

// Identities returns a copy of the entries in registration order.
func (r *Registry) Identities() []Identity {
	out := make([]Identity, len(r.entries))
	copy(out, r.entries)
	return out
}

func key(name string) string { return types.NameKey(name) }
