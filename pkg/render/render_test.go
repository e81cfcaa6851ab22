package render

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperLabelAndColor(t *testing.T) {
	cases := []struct {
		paper points.Paper
		label string
		color string
	}{
		{points.Mainichi, "毎日新聞", "#007bff"},
		{points.Asahi, "朝日新聞", "#e53935"},
		{points.Nikkei, "日経新聞", "#00c853"},
		{points.PaperNone, "-", "#666666"},
		{"yomiuri", "-", "#666666"},
	}
	for _, c := range cases {
		assert.Equal(t, c.label, PaperLabel(c.paper), c.paper)
		assert.Equal(t, c.color, PaperColor(c.paper), c.paper)
	}
}

func TestPopup(t *testing.T) {
	photo := "data:image/png;base64,AAAA"
	apt := points.Point{ID: 1, Kind: points.Apartment, Name: "森", Room: "203", Chome: "3丁目", Note: "ポスト<左>", Paper: points.Asahi, Photo: &photo}
	got := Popup(apt)
	assert.Equal(t,
		`契約者：森（マンション／203号室）<br/>新聞：朝日新聞<br/>丁目：3丁目<br/>備考：ポスト&lt;左&gt;`+
			`<br/><img src="data:image/png;base64,AAAA" style="max-width:120px;max-height:120px;margin-top:4px;border-radius:4px;object-fit:cover;" />`,
		got)

	house := points.Point{ID: 2, Kind: points.House, Name: "池田"}
	assert.Equal(t, "契約者：池田（一軒家）", Popup(house))

	noRoom := points.Point{ID: 3, Kind: points.Apartment, Name: "橋本"}
	assert.Equal(t, "契約者：橋本（マンション）", Popup(noRoom))
}

func TestRowAndDetail(t *testing.T) {
	p := points.Point{ID: 9, Kind: points.House, Name: "石川", Chome: "5丁目", Note: "裏口", Paper: points.Nikkei, Lat: 35.681236, Lng: 139.767128}
	row := Row(p)
	assert.Equal(t, "[日経新聞] 契約者：石川（一軒家） / 5丁目", row.Title)
	assert.Equal(t, "位置: 35.68124, 139.76713", row.Coord)
	assert.Equal(t, "備考: 裏口", row.Note)

	bare := Row(points.Point{ID: 1, Kind: points.Apartment, Name: "前田"})
	assert.Equal(t, "契約者：前田（マンション）", bare.Title)
	assert.Empty(t, bare.Note)

	d := DetailOf(points.Point{ID: 1, Kind: points.Apartment, Name: "前田"})
	assert.Equal(t, "マンション（部屋：-）", d.Kind)
	assert.Equal(t, "-", d.Paper)
	assert.Equal(t, "-", d.Chome)
	assert.Equal(t, "-", d.Note)
	assert.Nil(t, d.Photo)
	assert.Equal(t, "0.00000, 0.00000", d.Coord)
}

func TestLayer_TracksHandles(t *testing.T) {
	l := NewLayer()
	a := l.Add(PointMarker(points.Point{ID: 1, Name: "a", Paper: points.Mainichi, Lat: 35, Lng: 139}))
	b := l.Add(WaypointMarker(route.Waypoint{ID: "w1", Lat: 35.1, Lng: 139.1}))
	line := l.AddPolyline(orb.LineString{{139, 35}})
	require.Equal(t, 3, l.Len())

	line.SetPath(orb.LineString{{139, 35}, {139.1, 35.1}})
	a.Remove()
	a.Remove()
	require.Equal(t, 2, l.Len())

	fc := l.FeatureCollection()
	require.Len(t, fc.Features, 2)
	require.Equal(t, KindRoute, fc.Features[0].Properties["kind"])
	require.Equal(t, orb.Point{139.1, 35.1}, fc.Features[0].Geometry)
	require.Equal(t, KindPath, fc.Features[1].Properties["kind"])
	require.Len(t, fc.Features[1].Geometry.(orb.LineString), 2)

	b.Remove()
	line.Remove()
	require.Equal(t, 0, l.Len())

	data, err := json.Marshal(l.FeatureCollection())
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
}

func TestLayer_ShowLocationReplacesPrevious(t *testing.T) {
	l := NewLayer()
	l.ShowLocation(35, 139)
	l.ShowLocation(36, 140)
	fc := l.FeatureCollection()
	require.Len(t, fc.Features, 1)
	require.Equal(t, orb.Point{140, 36}, fc.Features[0].Geometry)
	require.Equal(t, "現在地", fc.Features[0].Properties["popup"])
}
