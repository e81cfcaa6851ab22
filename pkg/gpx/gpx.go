// Package gpx writes delivery points and the route as GPX 1.1 and reads
// coordinates back from GPX files.
package gpx

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/render"
	"github.com/rubiojr/deliverymap/pkg/route"
)

const creator = "deliverymap"

// Waypoint is a GPX <wpt>, <rtept> or <trkpt>.
type Waypoint struct {
	Name string  `xml:"name"`
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Time string  `xml:"time"`
	Desc string  `xml:"desc"`
}

type segment struct {
	Points []Waypoint `xml:"trkpt"`
}

type track struct {
	Segments []segment `xml:"trkseg"`
}

type rte struct {
	Points []Waypoint `xml:"rtept"`
}

type document struct {
	Waypoints []Waypoint `xml:"wpt"`
	Routes    []rte      `xml:"rte"`
	Tracks    []track    `xml:"trk"`
}

// File is the parsed content of a GPX document.
type File struct {
	Waypoints []Waypoint
	// Path holds route and track points in document order.
	Path []Waypoint
}

// Parse reads a GPX document. Timestamps are normalized to RFC3339 UTC.
func Parse(r io.Reader) (File, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return File{}, fmt.Errorf("parse gpx: %w", err)
	}
	f := File{Waypoints: normalize(doc.Waypoints)}
	for _, rt := range doc.Routes {
		f.Path = append(f.Path, normalize(rt.Points)...)
	}
	for _, tr := range doc.Tracks {
		for _, seg := range tr.Segments {
			f.Path = append(f.Path, normalize(seg.Points)...)
		}
	}
	return f, nil
}

func normalize(wps []Waypoint) []Waypoint {
	for i := range wps {
		if ts := wps[i].Time; ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				wps[i].Time = t.UTC().Format(time.RFC3339)
			}
		}
	}
	return wps
}

// RouteCoords returns the coordinates a route should be rebuilt from: the
// track or route points when present, the waypoints otherwise.
func (f File) RouteCoords() []route.Coord {
	src := f.Path
	if len(src) == 0 {
		src = f.Waypoints
	}
	out := make([]route.Coord, len(src))
	for i, w := range src {
		out[i] = route.Coord{Lat: w.Lat, Lng: w.Lon}
	}
	return out
}

// WritePoints writes one <wpt> per delivery point.
func WritePoints(w io.Writer, pts []points.Point) error {
	var b strings.Builder
	header(&b)
	for _, p := range pts {
		writeWpt(&b, "wpt", "  ", Waypoint{Name: pointName(p), Lat: p.Lat, Lon: p.Lng, Desc: pointDesc(p)})
	}
	b.WriteString("</gpx>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteRoute writes the route as numbered waypoints followed by a single
// track through them.
func WriteRoute(w io.Writer, wps []route.Waypoint) error {
	var b strings.Builder
	header(&b)
	for i, wp := range wps {
		writeWpt(&b, "wpt", "  ", Waypoint{Name: fmt.Sprintf("%d", i+1), Lat: wp.Lat, Lon: wp.Lng})
	}
	if len(wps) > 0 {
		b.WriteString("  <trk>\n    <name>配達ルート</name>\n    <trkseg>\n")
		for _, wp := range wps {
			writeWpt(&b, "trkpt", "      ", Waypoint{Lat: wp.Lat, Lon: wp.Lng})
		}
		b.WriteString("    </trkseg>\n  </trk>\n")
	}
	b.WriteString("</gpx>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func header(b *strings.Builder) {
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(b, `<gpx version="1.1" creator="%s" xmlns="http://www.topografix.com/GPX/1/1">`+"\n", creator)
}

func writeWpt(b *strings.Builder, tag, indent string, e Waypoint) {
	if e.Name == "" && e.Desc == "" && e.Time == "" {
		fmt.Fprintf(b, "%s<%s lat=\"%f\" lon=\"%f\"/>\n", indent, tag, e.Lat, e.Lon)
		return
	}
	fmt.Fprintf(b, "%s<%s lat=\"%f\" lon=\"%f\">\n", indent, tag, e.Lat, e.Lon)
	if e.Time != "" {
		fmt.Fprintf(b, "%s  <time>%s</time>\n", indent, e.Time)
	}
	if e.Name != "" {
		fmt.Fprintf(b, "%s  <name>%s</name>\n", indent, escapeXML(e.Name))
	}
	if e.Desc != "" {
		fmt.Fprintf(b, "%s  <desc>%s</desc>\n", indent, escapeXML(e.Desc))
	}
	fmt.Fprintf(b, "%s</%s>\n", indent, tag)
}

func pointName(p points.Point) string {
	if p.Kind == points.Apartment && p.Room != "" {
		return p.Name + " " + p.Room + "号室"
	}
	return p.Name
}

func pointDesc(p points.Point) string {
	var parts []string
	if label := render.PaperLabel(p.Paper); label != "-" {
		parts = append(parts, "新聞："+label)
	}
	if p.Chome != "" {
		parts = append(parts, "丁目："+p.Chome)
	}
	if p.Note != "" {
		parts = append(parts, "備考："+p.Note)
	}
	return strings.Join(parts, " / ")
}

// escapeXML performs minimal escaping for XML content nodes (not attributes).
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
