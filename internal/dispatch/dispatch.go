// Package dispatch runs the side effects of a qualifying detection: geolocate,
// persist the sighting, alert the identity's contact and publish the event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/types"
)

// ErrUnknownIdentity means the caller asked to dispatch a name the registry
// does not hold. It indicates a bug upstream, not a bad frame.
var ErrUnknownIdentity = errors.New("identity not in registry")

// Sighting is what gets persisted for a located detection.
type Sighting struct {
	Name       string
	ExternalID string
	Location   types.Location
	Time       time.Time
}

// Alert is what gets sent to an identity's contact.
type Alert struct {
	Name       string
	ExternalID string
	Contact    string
	Location   types.Location
}

type Locator interface {
	Locate(ctx context.Context) (*types.Location, error)
}

type Recorder interface {
	RecordSighting(ctx context.Context, s Sighting) error
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

type Publisher interface {
	Publish(ctx context.Context, ev types.DetectionEvent) error
}

// DeliveryError wraps a failure of one downstream service.
type DeliveryError struct {
	Service string
	Err     error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("%s delivery failed: %v", e.Service, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// Outcome reports which downstream steps succeeded.
type Outcome struct {
	Persisted bool
	Notified  bool
	Published bool
}

// Dispatcher holds the most recent detection event.
type Dispatcher struct {
	locator   Locator
	recorder  Recorder
	notifier  Notifier
	publisher Publisher
	log       logrus.FieldLogger
	now       func() time.Time

	mu     sync.RWMutex
	latest *types.DetectionEvent
}

// Option configures optional collaborators.
type Option func(*Dispatcher)

// WithPublisher sends every event to an event bus as well.
func WithPublisher(p Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func New(loc Locator, rec Recorder, notif Notifier, log logrus.FieldLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		locator:  loc,
		recorder: rec,
		notifier: notif,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle dispatches one detection of name. Downstream failures are logged and
// reported in the Outcome; only an unknown identity is returned as an error.
func (d *Dispatcher) Handle(ctx context.Context, name string, reg *registry.Registry) (Outcome, error) {
	var out Outcome

	id, ok := reg.Lookup(name)
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrUnknownIdentity, name)
	}
	log := d.log.WithField("name", id.Name)

	var loc *types.Location
	if d.locator != nil {
		l, err := d.locator.Locate(ctx)
		if err != nil {
			log.WithError(err).Warn("geolocation lookup failed, continuing without location")
		} else {
			loc = l
		}
	}

	ev := types.DetectionEvent{
		ID:         uuid.NewString(),
		Name:       id.Name,
		ExternalID: id.ExternalID,
		Contact:    id.Contact,
		Location:   loc,
		Timestamp:  d.now().UTC(),
	}
	d.mu.Lock()
	d.latest = &ev
	d.mu.Unlock()
	log.WithField("event_id", ev.ID).Info("🎯 detection recorded")

	if loc != nil && d.recorder != nil {
		err := d.recorder.RecordSighting(ctx, Sighting{
			Name:       id.Name,
			ExternalID: id.ExternalID,
			Location:   *loc,
			Time:       ev.Timestamp,
		})
		out.Persisted = d.report(log, "persistence", err)
	}

	if loc != nil && id.Contact != "" && d.notifier != nil {
		err := d.notifier.Notify(ctx, Alert{
			Name:       id.Name,
			ExternalID: id.ExternalID,
			Contact:    id.Contact,
			Location:   *loc,
		})
		out.Notified = d.report(log, "notification", err)
	}

	if d.publisher != nil {
		out.Published = d.report(log, "event bus", d.publisher.Publish(ctx, ev))
	}
	return out, nil
}

func (d *Dispatcher) report(log logrus.FieldLogger, service string, err error) bool {
	if err == nil {
		log.WithField("service", service).Debug("delivered")
		return true
	}
	log.WithError(&DeliveryError{Service: service, Err: err}).Error("delivery failed")
	return false
}

// Latest returns a copy of the most recent event, or nil.
func (d *Dispatcher) Latest() *types.DetectionEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return nil
	}
	ev := *d.latest
	if ev.Location != nil {
		loc := *ev.Location
		ev.Location = &loc
	}
	return &ev
}

// Recorders persists a sighting with Primary and copies it to every secondary
// log. Only the primary's result counts; secondary failures are logged.
type Recorders struct {
	Primary   Recorder
	Secondary []Recorder
	Log       logrus.FieldLogger
}

func (rs Recorders) RecordSighting(ctx context.Context, s Sighting) error {
	err := rs.Primary.RecordSighting(ctx, s)
	for _, r := range rs.Secondary {
		if serr := r.RecordSighting(ctx, s); serr != nil && rs.Log != nil {
			rs.Log.WithError(serr).WithField("name", s.Name).Warn("secondary sighting log failed")
		}
	}
	return err
}
