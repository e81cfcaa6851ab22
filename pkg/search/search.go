// Package search projects the point collection into the list shown to the
// user, filtered by contractor name.
package search

import (
	"strings"
	"sync"

	"github.com/rubiojr/deliverymap/pkg/points"
)

// Filter returns the points whose name contains query, case-insensitively, in
// store order. A query that is empty after trimming returns every point.
// There is no ranking and no fuzzy matching.
func Filter(pts []points.Point, query string) []points.Point {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]points.Point, 0, len(pts))
	if q == "" {
		return append(out, pts...)
	}
	for _, p := range pts {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}

// Source is the part of points.Store a View reads.
type Source interface {
	All() []points.Point
	Subscribe(func(points.Event))
}

// View holds the current query and the projection computed from it. The
// projection is recomputed whenever the store changes or the query is set.
type View struct {
	src Source

	mu      sync.RWMutex
	query   string
	results []points.Point
	version uint64
}

// NewView subscribes to src and computes the initial, unfiltered projection.
func NewView(src Source) *View {
	v := &View{src: src}
	src.Subscribe(func(points.Event) { v.refresh() })
	v.refresh()
	return v
}

// SetQuery stores the trimmed query and re-projects.
func (v *View) SetQuery(q string) {
	v.mu.Lock()
	v.query = strings.TrimSpace(q)
	v.mu.Unlock()
	v.refresh()
}

// Query returns the active query.
func (v *View) Query() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.query
}

// Results returns the current projection.
func (v *View) Results() []points.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]points.Point(nil), v.results...)
}

// Version increases on every recomputation; clients use it to skip redraws.
func (v *View) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// refresh reads the source while holding the view lock, so the last refresh
// to finish is always computed from the latest store state.
func (v *View) refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = Filter(v.src.All(), v.query)
	v.version++
}
