package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rubiojr/deliverymap/pkg/geocode"
	"github.com/rubiojr/deliverymap/pkg/geoloc"
	"github.com/rubiojr/deliverymap/pkg/kv"
	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/stretchr/testify/require"
)

type fakeSearcher map[string][]geocode.Result

func (f fakeSearcher) Search(_ context.Context, q geocode.Query) ([]geocode.Result, error) {
	return f[q.Text], nil
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		DataDir:       dir,
		CacheDir:      dir,
		HomeRegion:    "東京都千代田区",
		Storage:       "sqlite",
		MaxPhotoBytes: points.DefaultMaxPhotoBytes,
	}
}

func newTestServer(t *testing.T, store kv.Store, loc geoloc.Locator) (*httptest.Server, *app) {
	t.Helper()
	cfg := testConfig(t)
	if store == nil {
		var err error
		store, err = kv.OpenSQLite(filepath.Join(cfg.DataDir, "test.sqlite"))
		require.NoError(t, err)
	}
	if loc == nil {
		loc = geoloc.Unavailable{}
	}
	searcher := fakeSearcher{
		"千代田": {
			{DisplayName: "千代田, 群馬県", Lat: "36.2", Lon: "139.4"},
			{DisplayName: "神田, 東京都千代田区, 日本", Lat: "35.694", Lon: "139.77"},
		},
	}
	a, err := assemble(context.Background(), cfg, store, searcher, loc)
	require.NoError(t, err)
	mux := http.NewServeMux()
	RegisterAPI(mux, a)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv, a
}

func do(t *testing.T, method, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	return do(t, method, url, "application/json", []byte(body))
}

func multipartForm(t *testing.T, fields map[string]string, photo []byte) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "house.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func TestAPI_RegisterPointFlow(t *testing.T) {
	srv, a := newTestServer(t, nil, nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tap", `{"lat":35.681236,"lng":139.767125}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"action":"form"`)

	// taps are ignored while the form is open
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/tap", `{"lat":1,"lng":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"action":"ignored"`)

	ct, form := multipartForm(t, map[string]string{"kind": "house", "name": "  "}, nil)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/form", ct, form)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ct, form = multipartForm(t, map[string]string{
		"kind": "apartment", "name": "田中", "room": "203", "paper": "asahi", "note": "朝6時まで",
	}, pngBytes(t))
	resp, body = do(t, http.MethodPost, srv.URL+"/api/form", ct, form)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		Point struct {
			ID    int     `json:"id"`
			Kind  string  `json:"kind"`
			Paper string  `json:"paper"`
			Photo *string `json:"photo"`
		} `json:"point"`
		PhotoDropped bool `json:"photo_dropped"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, 1, created.Point.ID)
	require.Equal(t, "マンション（部屋：203）", created.Point.Kind)
	require.Equal(t, "朝日新聞", created.Point.Paper)
	require.NotNil(t, created.Point.Photo)
	require.False(t, created.PhotoDropped)
	require.False(t, a.session.Form().Open)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/form", "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/points/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "朝6時まで")

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/points/99", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/map", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"FeatureCollection"`)
	require.Equal(t, 1, a.layer.Len())
}

func TestAPI_PointsSearchDeleteClear(t *testing.T) {
	srv, a := newTestServer(t, nil, nil)
	ctx := context.Background()
	for _, name := range []string{"Tanaka", "Suzuki", "tanabe"} {
		_, err := a.points.Add(ctx, points.Candidate{Name: name, Lat: 35, Lng: 139})
		require.NoError(t, err)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/api/points?q=TANA", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Count int `json:"count"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 2, list.Count)
	require.Equal(t, 3, list.Total)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/points/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"deleted":true`)

	// stale ids are a no-op
	resp, body = do(t, http.MethodDelete, srv.URL+"/api/points/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"deleted":false`)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/points/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/points", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, a.points.Len())
	require.Equal(t, 0, a.layer.Len())
	require.Empty(t, a.view.Results())
}

func TestAPI_ExportImport(t *testing.T) {
	srv, a := newTestServer(t, nil, nil)
	snapshot := `[{"id":3,"kind":"house","name":"A","lat":35,"lng":139},
		{"id":7,"kind":"apartment","name":"B","room":"101","lat":35.1,"lng":139.1,"paper":"nikkei"},
		{"id":5,"name":"C","lat":35.2,"lng":139.2}]`

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/points/import", snapshot)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"next_id":8`)
	require.Equal(t, 3, a.points.Len())

	resp, body = do(t, http.MethodGet, srv.URL+"/api/points/export", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 3)
	require.Equal(t, "house", recs[2]["kind"])
	require.Nil(t, recs[0]["paper"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/points.gpx", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, strings.Count(string(body), "<wpt "))

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/points/import", `{"not":"a list"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 3, a.points.Len())
}

func TestAPI_Route(t *testing.T) {
	srv, a := newTestServer(t, nil, nil)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/mode", `{"route":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tap", `{"lat":35.0,"lng":139.0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"action":"waypoint"`)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/route", `{"lat":35.1,"lng":139.0}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/route", `{"lat":135.1,"lng":139.0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/route", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rt struct {
		Waypoints []map[string]any `json:"waypoints"`
		LengthM   float64          `json:"length_m"`
	}
	require.NoError(t, json.Unmarshal(body, &rt))
	require.Len(t, rt.Waypoints, 2)
	require.InDelta(t, 11132, rt.LengthM, 50)
	// two pins and the polyline
	require.Equal(t, 3, a.layer.Len())

	resp, gpxDoc := do(t, http.MethodGet, srv.URL+"/api/route.gpx", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(gpxDoc), "<trkseg>")

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/route", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 0, a.route.Len())
	require.Equal(t, 0, a.layer.Len())
	_, err := a.kv.Get(context.Background(), "routePoints")
	require.ErrorIs(t, err, kv.ErrNotFound)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/route/import", "application/gpx+xml", gpxDoc)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, 2, a.route.Len())
}

func TestAPI_Geocode(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/geocode?q="+url.QueryEscape("千代田"), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loc geocode.Location
	require.NoError(t, json.Unmarshal(body, &loc))
	require.Equal(t, "神田, 東京都千代田区, 日本", loc.DisplayName)
	require.True(t, loc.Fallback)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/geocode?q=", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/geocode?q="+url.QueryEscape("どこにもない"), "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Location(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/location", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	srv, a := newTestServer(t, nil, geoloc.Static{Fix: geoloc.Fix{Lat: 35.68, Lng: 139.76}})
	for i := 0; i < 2; i++ {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/location", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), "現在地")
	}
	// the marker is replaced, not duplicated
	require.Equal(t, 1, a.layer.Len())
}

func TestAPI_RestoresStateOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	store, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	srv, _ := newTestServer(t, store, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/route", `{"lat":35.1,"lng":139.0}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tap", `{"lat":35.1,"lng":139.0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ct, form := multipartForm(t, map[string]string{"name": "佐藤"}, nil)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/form", ct, form)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	reopened, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	_, a := newTestServer(t, reopened, nil)
	require.Equal(t, 1, a.points.Len())
	require.Equal(t, 1, a.route.Len())
	// point marker, waypoint pin and the route line
	require.Equal(t, 3, a.layer.Len())
	require.Equal(t, 2, a.points.NextID())
}

func TestAPI_CORSAndVersion(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	resp, _ := do(t, http.MethodOptions, srv.URL+"/api/points", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/version", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v buildVersion
	require.NoError(t, json.Unmarshal(body, &v))
	require.Equal(t, appName, v.App)
	require.Equal(t, runtime.Version(), v.Go)
	require.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, v.Platform)
	require.NotEmpty(t, v.Version)
	require.Equal(t, "sqlite", v.Storage)
}
