package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rubiojr/deliverymap/pkg/kv"
	"github.com/rubiojr/deliverymap/pkg/logger"
)

// DefaultKey is the snapshot key the browser version of the tool used, kept so
// exported data imports unchanged.
const DefaultKey = "newspaperPoints"

// MarkerHandle is a visual marker owned by the store for one point. The store
// removes it when the point goes away.
type MarkerHandle interface {
	Remove()
}

// MarkerFactory renders a point and returns the attached handle.
type MarkerFactory func(Point) MarkerHandle

// EventKind identifies the mutation behind an Event.
type EventKind int

const (
	Added EventKind = iota
	Deleted
	Cleared
	Loaded
)

// Event is delivered to subscribers after every mutation, outside the store lock.
type Event struct {
	Kind EventKind
	ID   int
}

type entry struct {
	point  Point
	marker MarkerHandle
}

// Store is the authoritative collection of delivery points. All methods are
// safe for concurrent use; each mutation, including its snapshot write, is
// atomic with respect to other callers.
type Store struct {
	mu      sync.Mutex
	kv      kv.Store
	key     string
	entries []entry
	nextID  int
	markers MarkerFactory

	subMu sync.RWMutex
	subs  []func(Event)
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the snapshot key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithMarkers attaches a marker to every point entering the store.
func WithMarkers(f MarkerFactory) Option {
	return func(s *Store) { s.markers = f }
}

// New returns an empty store persisting to kvs.
func New(kvs kv.Store, opts ...Option) *Store {
	s := &Store{kv: kvs, key: DefaultKey, nextID: 1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers fn to be called after each mutation.
func (s *Store) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	subs := append([]func(Event){}, s.subs...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Load reads the persisted snapshot. A missing key leaves the store empty; a
// corrupted snapshot is logged and the store starts empty. Load never writes.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load points: %w", err)
	}
	raw, err := ParseSnapshot(data)
	if err != nil {
		logger.Error("points: discarding stored snapshot %q: %v", s.key, err)
		s.NormalizeAndLoad(nil)
		return nil
	}
	pts := s.NormalizeAndLoad(raw)
	logger.Debug("points: loaded %d point(s), next id %d", len(pts), s.NextID())
	return nil
}

// NormalizeAndLoad replaces the collection with the normalized records and
// resets the id counter past the highest loaded id. Nothing is persisted.
func (s *Store) NormalizeAndLoad(raw []RawRecord) []Point {
	pts, next := Normalize(raw)

	s.mu.Lock()
	s.detachAllLocked()
	s.entries = make([]entry, 0, len(pts))
	for _, p := range pts {
		s.entries = append(s.entries, entry{point: p, marker: s.attach(p)})
	}
	s.nextID = next
	s.mu.Unlock()

	s.notify(Event{Kind: Loaded})
	return pts
}

// Restore replaces the collection from an imported snapshot and persists
// once for the whole batch.
func (s *Store) Restore(ctx context.Context, raw []RawRecord) ([]Point, error) {
	pts := s.NormalizeAndLoad(raw)
	s.mu.Lock()
	err := s.persistLocked(ctx)
	s.mu.Unlock()
	return pts, err
}

// AddOption tunes a single Add call.
type AddOption func(*addConfig)

type addConfig struct {
	persist bool
}

// WithoutPersist skips the snapshot write; bulk callers persist once at the end.
func WithoutPersist() AddOption {
	return func(c *addConfig) { c.persist = false }
}

// Add validates c, assigns the next id and appends the point. A
// *ValidationError leaves the store untouched. A persistence failure is
// returned wrapped in ErrPersist together with the added point.
func (s *Store) Add(ctx context.Context, c Candidate, opts ...AddOption) (Point, error) {
	cfg := addConfig{persist: true}
	for _, o := range opts {
		o(&cfg)
	}
	p, err := validate(c)
	if err != nil {
		return Point{}, err
	}

	s.mu.Lock()
	p.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, entry{point: p, marker: s.attach(p)})
	if cfg.persist {
		err = s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.notify(Event{Kind: Added, ID: p.ID})
	return p, err
}

// Persist writes the current snapshot. Used after a batch of WithoutPersist adds.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Delete removes the point with id and detaches its marker. An unknown id is
// not an error: a stale list entry may still reference a point removed by
// ClearAll, so Delete simply reports false.
func (s *Store) Delete(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.entries {
		if s.entries[i].point.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return false, nil
	}
	if m := s.entries[idx].marker; m != nil {
		m.Remove()
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(Event{Kind: Deleted, ID: id})
	return true, err
}

// ClearAll empties the store, detaches every marker and persists the empty
// collection.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.detachAllLocked()
	s.entries = nil
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(Event{Kind: Cleared})
	return err
}

// Serialize projects every point to its persisted record, in store order.
func (s *Store) Serialize() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializeLocked()
}

// All returns a copy of the collection in store order.
func (s *Store) All() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.point
	}
	return out
}

// Get returns the point with id.
func (s *Store) Get(id int) (Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.point.ID == id {
			return e.point, true
		}
	}
	return Point{}, false
}

// Len returns the number of points.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextID returns the id the next Add will assign.
func (s *Store) NextID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

func (s *Store) attach(p Point) MarkerHandle {
	if s.markers == nil {
		return nil
	}
	return s.markers(p)
}

func (s *Store) detachAllLocked() {
	for _, e := range s.entries {
		if e.marker != nil {
			e.marker.Remove()
		}
	}
}

func (s *Store) serializeLocked() []Record {
	out := make([]Record, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.point.record()
	}
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.serializeLocked())
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		logger.Error("points: snapshot write failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func validate(c Candidate) (Point, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Point{}, &ValidationError{Field: "name", Message: "required"}
	}
	kind := c.Kind
	if kind == "" {
		kind = House
	}
	if !kind.Valid() {
		return Point{}, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", c.Kind)}
	}
	if !c.Paper.Valid() {
		return Point{}, &ValidationError{Field: "paper", Message: fmt.Sprintf("unknown paper %q", c.Paper)}
	}
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return Point{}, &ValidationError{Field: "lat", Message: "out of range"}
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return Point{}, &ValidationError{Field: "lng", Message: "out of range"}
	}
	p := Point{
		Kind:  kind,
		Name:  name,
		Chome: strings.TrimSpace(c.Chome),
		Note:  strings.TrimSpace(c.Note),
		Paper: c.Paper,
		Lat:   c.Lat,
		Lng:   c.Lng,
	}
	if kind == Apartment {
		p.Room = strings.TrimSpace(c.Room)
	}
	if c.Photo != nil && *c.Photo != "" {
		photo := *c.Photo
		p.Photo = &photo
	}
	return p, nil
}
