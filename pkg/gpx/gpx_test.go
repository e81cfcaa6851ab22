package gpx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/route"
	"github.com/stretchr/testify/require"
)

func TestWritePoints(t *testing.T) {
	pts := []points.Point{
		{ID: 1, Kind: points.House, Name: "田中 & 息子", Paper: points.Mainichi, Note: "<裏口>", Lat: 35.681236, Lng: 139.767125},
		{ID: 2, Kind: points.Apartment, Name: "佐藤", Room: "203", Lat: 35.69, Lng: 139.7},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePoints(&buf, pts))
	out := buf.String()
	require.Contains(t, out, `<wpt lat="35.681236" lon="139.767125">`)
	require.Contains(t, out, "<name>田中 &amp; 息子</name>")
	require.Contains(t, out, "<desc>新聞：毎日新聞 / 備考：&lt;裏口&gt;</desc>")
	require.Contains(t, out, "<name>佐藤 203号室</name>")

	f, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, f.Waypoints, 2)
	require.Equal(t, "田中 & 息子", f.Waypoints[0].Name)
	require.Equal(t, 139.767125, f.Waypoints[0].Lon)
	require.Empty(t, f.Path)
}

func TestWriteRoute(t *testing.T) {
	wps := []route.Waypoint{{ID: "a", Lat: 35, Lng: 139}, {ID: "b", Lat: 35.1, Lng: 139.1}}
	var buf bytes.Buffer
	require.NoError(t, WriteRoute(&buf, wps))
	require.Equal(t, 1, strings.Count(buf.String(), "<trkseg>"))

	f, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, f.Waypoints, 2)
	require.Equal(t, "1", f.Waypoints[0].Name)
	require.Equal(t, []route.Coord{{Lat: 35, Lng: 139}, {Lat: 35.1, Lng: 139.1}}, f.RouteCoords())
}

func TestWriteRoute_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRoute(&buf, nil))
	require.NotContains(t, buf.String(), "<trk>")
	f, err := Parse(&buf)
	require.NoError(t, err)
	require.Empty(t, f.RouteCoords())
}

func TestParse_RoutesTracksAndTime(t *testing.T) {
	doc := `<?xml version="1.0"?>
<gpx version="1.1" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="1" lon="2"><name>only</name><time>2024-05-01T09:00:00+09:00</time></wpt>
  <rte><rtept lat="10" lon="20"/></rte>
  <trk><trkseg><trkpt lat="11" lon="21"/><trkpt lat="12" lon="22"/></trkseg></trk>
</gpx>`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "2024-05-01T00:00:00Z", f.Waypoints[0].Time)
	require.Equal(t, []route.Coord{{Lat: 10, Lng: 20}, {Lat: 11, Lng: 21}, {Lat: 12, Lng: 22}}, f.RouteCoords())

	_, err = Parse(strings.NewReader("<gpx><wpt"))
	require.Error(t, err)
}
