// Package render turns points and waypoints into what the map client draws:
// marker styles, popup HTML, list rows and the detail panel. Everything here
// is a pure function of its input except Layer, which tracks the markers the
// stores have attached.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/route"
)

// Circle marker colors per newspaper.
const (
	ColorMainichi   = "#007bff"
	ColorAsahi      = "#e53935"
	ColorNikkei     = "#00c853"
	ColorUnassigned = "#666666"
	ColorRoute      = "#ff9800"
	ColorLocation   = "#00c853"
	ColorLocFill    = "#00e676"
)

// Style describes a circle marker or a polyline.
type Style struct {
	Color       string  `json:"color"`
	FillColor   string  `json:"fillColor,omitempty"`
	Radius      int     `json:"radius,omitempty"`
	Weight      int     `json:"weight"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
}

// Marker kinds, also used as the GeoJSON "kind" property.
const (
	KindPoint    = "point"
	KindRoute    = "route"
	KindPath     = "route-line"
	KindLocation = "location"
)

// Marker is a circle marker at a coordinate with an optional popup.
type Marker struct {
	Kind  string  `json:"kind"`
	Ref   string  `json:"ref,omitempty"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Style Style   `json:"style"`
	Popup string  `json:"popup,omitempty"`
}

// PaperLabel is the display name of a newspaper, "-" when unassigned or unknown.
func PaperLabel(p points.Paper) string {
	switch p {
	case points.Mainichi:
		return "毎日新聞"
	case points.Asahi:
		return "朝日新聞"
	case points.Nikkei:
		return "日経新聞"
	default:
		return "-"
	}
}

// PaperColor is the marker color for a newspaper.
func PaperColor(p points.Paper) string {
	switch p {
	case points.Mainichi:
		return ColorMainichi
	case points.Asahi:
		return ColorAsahi
	case points.Nikkei:
		return ColorNikkei
	default:
		return ColorUnassigned
	}
}

// PointMarker renders a delivery point.
func PointMarker(p points.Point) Marker {
	c := PaperColor(p.Paper)
	return Marker{
		Kind:  KindPoint,
		Ref:   fmt.Sprint(p.ID),
		Lat:   p.Lat,
		Lng:   p.Lng,
		Style: Style{Color: c, FillColor: c, Radius: 9, Weight: 2, FillOpacity: 0.9},
		Popup: Popup(p),
	}
}

// WaypointMarker renders a route pin.
func WaypointMarker(wp route.Waypoint) Marker {
	return Marker{
		Kind:  KindRoute,
		Ref:   wp.ID,
		Lat:   wp.Lat,
		Lng:   wp.Lng,
		Style: Style{Color: ColorRoute, FillColor: ColorRoute, Radius: 6, Weight: 2, FillOpacity: 0.9},
	}
}

// LocationMarker renders the transient current-location marker.
func LocationMarker(lat, lng float64) Marker {
	return Marker{
		Kind:  KindLocation,
		Lat:   lat,
		Lng:   lng,
		Style: Style{Color: ColorLocation, FillColor: ColorLocFill, Radius: 10, Weight: 3, FillOpacity: 0.9},
		Popup: "現在地",
	}
}

// PathStyle is the style of the route polyline.
var PathStyle = Style{Color: ColorRoute, Weight: 3}

func kindSuffix(p points.Point) string {
	if p.Kind == points.House {
		return "（一軒家）"
	}
	if p.Room != "" {
		return "（マンション／" + p.Room + "号室）"
	}
	return "（マンション）"
}

// Popup is the HTML shown when a point marker is tapped. User supplied text is
// escaped; the photo is inlined as an <img> when present.
func Popup(p points.Point) string {
	var b strings.Builder
	b.WriteString("契約者：")
	b.WriteString(html.EscapeString(p.Name))
	b.WriteString(html.EscapeString(kindSuffix(p)))
	if label := PaperLabel(p.Paper); label != "-" {
		b.WriteString("<br/>新聞：" + label)
	}
	if p.Chome != "" {
		b.WriteString("<br/>丁目：" + html.EscapeString(p.Chome))
	}
	if p.Note != "" {
		b.WriteString("<br/>備考：" + html.EscapeString(p.Note))
	}
	if p.HasPhoto() {
		fmt.Fprintf(&b, `<br/><img src="%s" style="max-width:120px;max-height:120px;margin-top:4px;border-radius:4px;object-fit:cover;" />`,
			html.EscapeString(*p.Photo))
	}
	return b.String()
}

// ListItem is one row of the point list.
type ListItem struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Coord string `json:"coord"`
	Note  string `json:"note,omitempty"`
}

// FormatCoord prints a coordinate with five decimals.
func FormatCoord(lat, lng float64) string {
	return fmt.Sprintf("%.5f, %.5f", lat, lng)
}

// Row renders a point as a list row (plain text).
func Row(p points.Point) ListItem {
	var title strings.Builder
	if label := PaperLabel(p.Paper); label != "-" {
		title.WriteString("[" + label + "] ")
	}
	title.WriteString("契約者：" + p.Name)
	if p.Kind == points.House {
		title.WriteString("（一軒家）")
	} else {
		title.WriteString("（マンション）")
	}
	if p.Chome != "" {
		title.WriteString(" / " + p.Chome)
	}
	item := ListItem{
		ID:    p.ID,
		Title: title.String(),
		Coord: "位置: " + FormatCoord(p.Lat, p.Lng),
	}
	if p.Note != "" {
		item.Note = "備考: " + p.Note
	}
	return item
}

// Rows renders a projection in order.
func Rows(pts []points.Point) []ListItem {
	out := make([]ListItem, len(pts))
	for i, p := range pts {
		out[i] = Row(p)
	}
	return out
}

// Detail is the detail panel of one point. Empty fields show as "-".
type Detail struct {
	ID    int     `json:"id"`
	Kind  string  `json:"kind"`
	Paper string  `json:"paper"`
	Name  string  `json:"name"`
	Chome string  `json:"chome"`
	Coord string  `json:"coord"`
	Note  string  `json:"note"`
	Photo *string `json:"photo"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// DetailOf renders the detail panel.
func DetailOf(p points.Point) Detail {
	kind := "一軒家"
	if p.Kind != points.House {
		kind = "マンション（部屋：" + orDash(p.Room) + "）"
	}
	d := Detail{
		ID:    p.ID,
		Kind:  kind,
		Paper: PaperLabel(p.Paper),
		Name:  orDash(p.Name),
		Chome: orDash(p.Chome),
		Coord: FormatCoord(p.Lat, p.Lng),
		Note:  orDash(p.Note),
		Lat:   p.Lat,
		Lng:   p.Lng,
	}
	if p.HasPhoto() {
		photo := *p.Photo
		d.Photo = &photo
	}
	return d
}
