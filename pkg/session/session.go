// Package session holds the interaction state between the map client and
// the stores: whether the registration form is open and where, whether taps
// build the route, and whether an address lookup is running.
package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rubiojr/deliverymap/pkg/geocode"
	"github.com/rubiojr/deliverymap/pkg/logger"
	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/route"
)

var (
	// ErrNoForm is returned when a form is submitted or cancelled while none is open.
	ErrNoForm = errors.New("session: no form open")
	// ErrBusy is returned while another lookup or submission is in progress.
	ErrBusy = errors.New("session: busy")
)

// Action says what a tap did.
type Action string

const (
	Ignored       Action = "ignored"
	WaypointAdded Action = "waypoint"
	FormOpened    Action = "form"
)

// TapResult describes the outcome of Tap.
type TapResult struct {
	Action   Action          `json:"action"`
	Waypoint *route.Waypoint `json:"waypoint,omitempty"`
	At       route.Coord     `json:"at"`
}

// Form is the registration form as submitted. Photo is nil when no file
// was attached.
type Form struct {
	Kind  points.Kind
	Name  string
	Room  string
	Chome string
	Note  string
	Paper points.Paper
	Photo io.Reader
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Point points.Point `json:"point"`
	// PhotoDropped is set when the attached photo could not be read; the
	// point was saved without it.
	PhotoDropped bool   `json:"photo_dropped,omitempty"`
	PhotoError   string `json:"photo_error,omitempty"`
}

// FormState reports the open form, if any.
type FormState struct {
	Open bool        `json:"open"`
	At   route.Coord `json:"at"`
}

// Resolver looks an address up.
type Resolver interface {
	Resolve(ctx context.Context, q string) (geocode.Location, error)
}

// Session is safe for concurrent use.
type Session struct {
	points   *points.Store
	route    *route.Store
	resolver Resolver
	maxPhoto int64

	mu         sync.Mutex
	formOpen   bool
	formAt     route.Coord
	formGen    uint64
	routeMode  bool
	submitting bool
	resolving  bool
}

// New returns a session over the given stores. maxPhoto <= 0 selects
// points.DefaultMaxPhotoBytes.
func New(ps *points.Store, rs *route.Store, r Resolver, maxPhoto int64) *Session {
	if maxPhoto <= 0 {
		maxPhoto = points.DefaultMaxPhotoBytes
	}
	return &Session{points: ps, route: rs, resolver: r, maxPhoto: maxPhoto}
}

// Tap handles a map tap. While a form is open the tap is ignored. In route
// mode the tap appends a waypoint; otherwise it opens the form at c.
func (s *Session) Tap(ctx context.Context, c route.Coord) (TapResult, error) {
	s.mu.Lock()
	if s.formOpen {
		s.mu.Unlock()
		return TapResult{Action: Ignored, At: c}, nil
	}
	if !s.routeMode {
		s.formOpen = true
		s.formAt = c
		s.formGen++
		s.mu.Unlock()
		return TapResult{Action: FormOpened, At: c}, nil
	}
	s.mu.Unlock()

	wp, err := s.route.Append(ctx, c)
	if errors.Is(err, route.ErrInvalidCoord) {
		return TapResult{}, err
	}
	// a failed snapshot write still leaves the waypoint in the route
	return TapResult{Action: WaypointAdded, Waypoint: &wp, At: c}, err
}

// Form returns the current form state.
func (s *Session) Form() FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FormState{Open: s.formOpen, At: s.formAt}
}

// CancelForm closes the form without saving.
func (s *Session) CancelForm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.formOpen {
		return ErrNoForm
	}
	s.formOpen = false
	return nil
}

// SubmitForm saves the form as a point at the form's coordinate. A
// validation error keeps the form open. A photo that cannot be read is
// dropped and reported in the result. Only the form that was submitted is
// closed; one opened after it was cancelled mid-submission stays open.
func (s *Session) SubmitForm(ctx context.Context, f Form) (SubmitResult, error) {
	s.mu.Lock()
	if !s.formOpen {
		s.mu.Unlock()
		return SubmitResult{}, ErrNoForm
	}
	if s.submitting {
		s.mu.Unlock()
		return SubmitResult{}, ErrBusy
	}
	s.submitting = true
	at, gen := s.formAt, s.formGen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	var res SubmitResult
	c := points.Candidate{
		Kind:  f.Kind,
		Name:  f.Name,
		Room:  f.Room,
		Chome: f.Chome,
		Note:  f.Note,
		Paper: f.Paper,
		Lat:   at.Lat,
		Lng:   at.Lng,
	}
	if f.Photo != nil {
		photo, err := points.ReadPhoto(ctx, f.Photo, s.maxPhoto)
		if err != nil {
			logger.Warn("session: dropping photo for %q: %v", f.Name, err)
			res.PhotoDropped = true
			res.PhotoError = err.Error()
		} else {
			c.Photo = &photo
		}
	}

	p, err := s.points.Add(ctx, c)
	if err != nil && points.IsValidation(err) {
		return SubmitResult{}, err
	}
	s.mu.Lock()
	if s.formGen == gen {
		s.formOpen = false
	}
	s.mu.Unlock()
	res.Point = p
	return res, err
}

// SetRouteMode switches between registering points and drawing the route.
func (s *Session) SetRouteMode(on bool) {
	s.mu.Lock()
	s.routeMode = on
	s.mu.Unlock()
}

// RouteMode reports whether taps append waypoints.
func (s *Session) RouteMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routeMode
}

// Resolve runs an address lookup. Only one lookup runs at a time; a second
// request while one is in flight fails with ErrBusy.
func (s *Session) Resolve(ctx context.Context, q string) (geocode.Location, error) {
	s.mu.Lock()
	if s.resolving {
		s.mu.Unlock()
		return geocode.Location{}, ErrBusy
	}
	s.resolving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.resolving = false
		s.mu.Unlock()
	}()
	return s.resolver.Resolve(ctx, q)
}
