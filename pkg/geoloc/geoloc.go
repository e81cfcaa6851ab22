// Package geoloc provides the device position as a one-shot lookup.
//
// On Linux desktops the position comes from GeoClue2 over the system D-Bus.
// The GeoClue tracker keeps the latest fix in memory; Locate returns it or
// waits for the first one until the context ends.
package geoloc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnavailable is returned when no position can be obtained: the service
// is missing, access was denied, or no fix arrived before the deadline.
var ErrUnavailable = errors.New("geolocation unavailable")

// Fix is a device position.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy_m,omitempty"`
	Altitude  float64   `json:"altitude_m,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Locator returns the current position.
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// Static always returns the same position. Used when a fixed location is
// configured instead of GeoClue.
type Static struct {
	Fix Fix
}

// Locate implements Locator.
func (s Static) Locate(context.Context) (Fix, error) {
	f := s.Fix
	f.Timestamp = time.Now().UTC()
	return f, nil
}

// Unavailable is a Locator for platforms without a position source.
type Unavailable struct{}

// Locate implements Locator.
func (Unavailable) Locate(context.Context) (Fix, error) {
	return Fix{}, ErrUnavailable
}

// latest holds the most recent fix and wakes waiters on the first one.
type latest struct {
	mu    sync.RWMutex
	fix   Fix
	valid bool
	ready chan struct{}
	err   error
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{})}
}

func (l *latest) set(f Fix) {
	// (0,0) is what GeoClue reports before it has a real position
	if f.Lat == 0 && f.Lng == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = f
	if !l.valid {
		l.valid = true
		close(l.ready)
	}
}

func (l *latest) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *latest) get() (Fix, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fix, l.valid, l.err
}

func (l *latest) wait(ctx context.Context) (Fix, error) {
	if f, ok, _ := l.get(); ok {
		return f, nil
	}
	select {
	case <-l.ready:
		f, _, _ := l.get()
		return f, nil
	case <-ctx.Done():
		_, _, err := l.get()
		if err != nil {
			return Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}
