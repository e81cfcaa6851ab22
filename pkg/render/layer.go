package render

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Layer is the server-side mirror of what is drawn on the map: the markers and
// the polyline the stores have attached and not yet removed. Clients fetch it
// as a GeoJSON FeatureCollection.
type Layer struct {
	mu       sync.Mutex
	seq      uint64
	order    []uint64
	features map[uint64]*geojson.Feature
	location *Handle
}

func NewLayer() *Layer {
	return &Layer{features: make(map[uint64]*geojson.Feature)}
}

// Handle is a live feature on a Layer. Remove is idempotent.
type Handle struct {
	layer *Layer
	id    uint64
}

func (h *Handle) Remove() {
	if h == nil {
		return
	}
	h.layer.remove(h.id)
}

// Polyline is a live line feature whose geometry can be replaced.
type Polyline struct {
	Handle
}

// SetPath replaces the line geometry.
func (p *Polyline) SetPath(ls orb.LineString) {
	p.layer.mu.Lock()
	defer p.layer.mu.Unlock()
	if f, ok := p.layer.features[p.id]; ok {
		f.Geometry = ls.Clone()
	}
}

func markerFeature(m Marker) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{m.Lng, m.Lat})
	f.Properties["kind"] = m.Kind
	if m.Ref != "" {
		f.Properties["ref"] = m.Ref
	}
	f.Properties["style"] = m.Style
	if m.Popup != "" {
		f.Properties["popup"] = m.Popup
	}
	return f
}

func (l *Layer) insertLocked(f *geojson.Feature) uint64 {
	l.seq++
	l.features[l.seq] = f
	l.order = append(l.order, l.seq)
	return l.seq
}

// Add draws m and returns its handle.
func (l *Layer) Add(m Marker) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Handle{layer: l, id: l.insertLocked(markerFeature(m))}
}

// AddPolyline draws a line with the route style.
func (l *Layer) AddPolyline(ls orb.LineString) *Polyline {
	f := geojson.NewFeature(ls.Clone())
	f.Properties["kind"] = KindPath
	f.Properties["style"] = PathStyle
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Polyline{Handle{layer: l, id: l.insertLocked(f)}}
}

// ShowLocation replaces the current-location marker.
func (l *Layer) ShowLocation(lat, lng float64) {
	h := l.Add(LocationMarker(lat, lng))
	l.mu.Lock()
	prev := l.location
	l.location = h
	l.mu.Unlock()
	prev.Remove()
}

func (l *Layer) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.features[id]; !ok {
		return
	}
	delete(l.features, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Len is the number of live features.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// FeatureCollection snapshots the live features in drawing order.
func (l *Layer) FeatureCollection() *geojson.FeatureCollection {
	l.mu.Lock()
	defer l.mu.Unlock()
	fc := geojson.NewFeatureCollection()
	for _, id := range l.order {
		f := l.features[id]
		cp := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			cp.Properties[k] = v
		}
		fc.Append(cp)
	}
	return fc
}
