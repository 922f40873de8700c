// Package cooldown debounces notifications per identity.
package cooldown

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/types"
)

const (
	DefaultWindow = 300 * time.Second

	// suppressedLogEvery throttles the "still cooling down" message per identity.
	suppressedLogEvery = 30 * time.Second
)

type entry struct {
	lastNotification  time.Time
	lastSuppressedLog time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	window time.Duration
	log    logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a tracker. A negative window is treated as zero (never suppress).
func New(window time.Duration, log logrus.FieldLogger) *Tracker {
	return &Tracker{
		window:  max(window, 0),
		log:     log,
		entries: make(map[string]*entry),
	}
}

// ShouldNotify reports whether a sighting of name at now should be dispatched,
// and records it if so.
func (t *Tracker) ShouldNotify(name string, now time.Time) bool {
	k := types.NameKey(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[k]
	if !ok {
		t.entries[k] = &entry{lastNotification: now, lastSuppressedLog: now}
		return true
	}

	elapsed := now.Sub(e.lastNotification)
	if elapsed >= t.window {
		e.lastNotification = now
		return true
	}

	if now.Sub(e.lastSuppressedLog) >= suppressedLogEvery {
		remaining := t.window - elapsed
		t.log.WithFields(logrus.Fields{
			"name":      name,
			"remaining": remaining.Round(time.Second).String(),
		}).Infof("cooldown active for %s, %d seconds remaining", name, int(remaining.Seconds()))
		e.lastSuppressedLog = now
	}
	return false
}

// Reset forgets every identity.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}

// Len is the number of identities currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Window is the configured cooldown.
func (t *Tracker) Window() time.Duration { return t.window }
