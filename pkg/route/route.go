// Package route keeps the manually sketched route: an ordered list of
// waypoints dropped on the map while route mode is on, and the polyline
// through them.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rubiojr/deliverymap/pkg/kv"
	"github.com/rubiojr/deliverymap/pkg/logger"
)

// DefaultKey is the snapshot key of the route.
const DefaultKey = "routePoints"

// ErrInvalidCoord rejects a waypoint outside valid latitude/longitude ranges.
var ErrInvalidCoord = errors.New("route: invalid coordinate")

// ErrPersist wraps a failed snapshot write. The in-memory route keeps the change.
var ErrPersist = errors.New("route: persist failed")

// Coord is a map position.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coord) valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Waypoint is one pin of the route. The id is a time-ordered UUID.
type Waypoint struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Record is the persisted shape of a waypoint. Older snapshots carry numeric
// ids; ids are regenerated on load so the id field is not decoded.
type Record struct {
	ID  string  `json:"id,omitempty"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type rawRecord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MarkerHandle is the visual pin of one waypoint.
type MarkerHandle interface {
	Remove()
}

// PathHandle is the polyline drawn through the waypoints.
type PathHandle interface {
	SetPath(orb.LineString)
	Remove()
}

type entry struct {
	wp     Waypoint
	marker MarkerHandle
}

// Store is the ordered waypoint collection. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	kv      kv.Store
	key     string
	entries []entry
	line    orb.LineString
	path    PathHandle
	markers func(Waypoint) MarkerHandle
	newPath func(orb.LineString) PathHandle
	newID   func() string

	subMu sync.RWMutex
	subs  []func()
}

// Option configures a Store.
type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithMarkers attaches a pin to every appended waypoint.
func WithMarkers(f func(Waypoint) MarkerHandle) Option {
	return func(s *Store) { s.markers = f }
}

// WithPath creates the polyline the first time the route has a waypoint.
func WithPath(f func(orb.LineString) PathHandle) Option {
	return func(s *Store) { s.newPath = f }
}

// WithIDGenerator replaces the UUIDv7 id source.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

func New(kvs kv.Store, opts ...Option) *Store {
	s := &Store{kv: kvs, key: DefaultKey, newID: newWaypointID}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newWaypointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Subscribe registers fn to be called after each mutation.
func (s *Store) Subscribe(fn func()) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) notify() {
	s.subMu.RLock()
	subs := append([]func(){}, s.subs...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

// Append adds a waypoint at c to the end of the route, redraws the path and
// persists the route.
func (s *Store) Append(ctx context.Context, c Coord) (Waypoint, error) {
	if !c.valid() {
		return Waypoint{}, fmt.Errorf("%w: %v,%v", ErrInvalidCoord, c.Lat, c.Lng)
	}
	s.mu.Lock()
	wp := s.appendLocked(c)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify()
	return wp, err
}

func (s *Store) appendLocked(c Coord) Waypoint {
	wp := Waypoint{ID: s.newID(), Lat: c.Lat, Lng: c.Lng}
	var m MarkerHandle
	if s.markers != nil {
		m = s.markers(wp)
	}
	s.entries = append(s.entries, entry{wp: wp, marker: m})
	s.redrawLocked()
	return wp
}

// redrawLocked recomputes the polyline from the waypoints in order.
func (s *Store) redrawLocked() {
	line := make(orb.LineString, 0, len(s.entries))
	for _, e := range s.entries {
		line = append(line, orb.Point{e.wp.Lng, e.wp.Lat})
	}
	s.line = line
	if s.newPath == nil {
		return
	}
	if s.path == nil {
		s.path = s.newPath(line)
		return
	}
	s.path.SetPath(line)
}

// Clear removes every waypoint, the pins and the polyline, and deletes the
// persisted key altogether. After Clear, Load finds no route at all rather
// than an empty one.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.resetLocked()
	err := s.kv.Delete(ctx, s.key)
	s.mu.Unlock()

	s.notify()
	if err != nil {
		return fmt.Errorf("%w: clear: %w", ErrPersist, err)
	}
	return nil
}

func (s *Store) resetLocked() {
	for _, e := range s.entries {
		if e.marker != nil {
			e.marker.Remove()
		}
	}
	s.entries = nil
	s.line = nil
	if s.path != nil {
		s.path.Remove()
		s.path = nil
	}
}

// Replace swaps the whole route for coords, skipping invalid ones, and
// persists once.
func (s *Store) Replace(ctx context.Context, coords []Coord) ([]Waypoint, error) {
	out := make([]Waypoint, 0, len(coords))
	s.mu.Lock()
	s.resetLocked()
	for _, c := range coords {
		if !c.valid() {
			continue
		}
		out = append(out, s.appendLocked(c))
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify()
	return out, err
}

// Load replays the persisted route through append without writing it back.
// A missing key means no route. An unparseable snapshot is logged and
// ignored.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load route: %w", err)
	}
	var raw []rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Error("route: discarding stored snapshot %q: %v", s.key, err)
		return nil
	}
	coords := make([]Coord, len(raw))
	for i, r := range raw {
		coords[i] = Coord{Lat: r.Lat, Lng: r.Lng}
	}
	wps := s.LoadCoords(coords)
	logger.Debug("route: loaded %d waypoint(s)", len(wps))
	return nil
}

// LoadCoords appends each coordinate in order with persistence suppressed.
// Invalid coordinates are skipped.
func (s *Store) LoadCoords(coords []Coord) []Waypoint {
	out := make([]Waypoint, 0, len(coords))
	s.mu.Lock()
	for _, c := range coords {
		if !c.valid() {
			logger.Warn("route: skipping invalid waypoint %v,%v", c.Lat, c.Lng)
			continue
		}
		out = append(out, s.appendLocked(c))
	}
	s.mu.Unlock()

	s.notify()
	return out
}

// Waypoints returns the route in order.
func (s *Store) Waypoints() []Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Waypoint, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.wp
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Path returns a copy of the polyline, longitude first as in GeoJSON.
func (s *Store) Path() orb.LineString {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.line.Clone()
}

// Length is the geodesic length of the route in metres.
func (s *Store) Length() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.line) < 2 {
		return 0
	}
	return geo.Length(s.line)
}

// Serialize returns the persisted records in order.
func (s *Store) Serialize() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializeLocked()
}

func (s *Store) serializeLocked() []Record {
	out := make([]Record, len(s.entries))
	for i, e := range s.entries {
		out[i] = Record{ID: e.wp.ID, Lat: e.wp.Lat, Lng: e.wp.Lng}
	}
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.serializeLocked())
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		logger.Error("route: snapshot write failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
