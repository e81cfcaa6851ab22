package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rubiojr/deliverymap/pkg/geocode"
	"github.com/rubiojr/deliverymap/pkg/geoloc"
	"github.com/rubiojr/deliverymap/pkg/gpx"
	"github.com/rubiojr/deliverymap/pkg/logger"
	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/render"
	"github.com/rubiojr/deliverymap/pkg/route"
	"github.com/rubiojr/deliverymap/pkg/session"
)

// locateTimeout bounds GET /api/location.
const locateTimeout = 10 * time.Second

// maxImportBytes caps snapshot and GPX uploads.
const maxImportBytes = 64 << 20

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case points.IsValidation(err),
		errors.Is(err, route.ErrInvalidCoord),
		errors.Is(err, geocode.ErrEmptyQuery),
		errors.Is(err, points.ErrStorageParse):
		return http.StatusBadRequest
	case errors.Is(err, geocode.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoForm):
		return http.StatusConflict
	case errors.Is(err, session.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, geocode.ErrLookup):
		return http.StatusBadGateway
	case errors.Is(err, geoloc.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}

func decodeCoord(r *http.Request) (route.Coord, error) {
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return route.Coord{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Lat == nil || req.Lng == nil {
		return route.Coord{}, errors.New("lat and lng required")
	}
	return route.Coord{Lat: *req.Lat, Lng: *req.Lng}, nil
}

// ----------------- Map interaction -----------------

func handlePostTap(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		c, err := decodeCoord(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := a.session.Tap(r.Context(), c)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger.Debug("POST /api/tap %.6f,%.6f -> %s", c.Lat, c.Lng, res.Action)
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetForm(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, a.session.Form())
	}
}

// formField reads a trimmed text field from a parsed form.
func formField(r *http.Request, name string) string {
	return strings.TrimSpace(r.FormValue(name))
}

func handlePostForm(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxPhotoBytes+1<<20)
		var err error
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			err = r.ParseMultipartForm(1 << 20)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		f := session.Form{
			Kind:  points.Kind(formField(r, "kind")),
			Name:  r.FormValue("name"),
			Room:  r.FormValue("room"),
			Chome: r.FormValue("chome"),
			Note:  r.FormValue("note"),
			Paper: points.Paper(formField(r, "paper")),
		}
		if r.MultipartForm != nil {
			if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
				file, err := fh[0].Open()
				if err != nil {
					logger.Warn("POST /api/form: cannot open photo: %v", err)
				} else {
					defer file.Close()
					f.Photo = file
				}
			}
		}
		logger.Debug("POST /api/form name=%q kind=%q paper=%q photo=%t", f.Name, f.Kind, f.Paper, f.Photo != nil)

		res, err := a.session.SubmitForm(r.Context(), f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"point":         render.DetailOf(res.Point),
			"marker":        render.PointMarker(res.Point),
			"photo_dropped": res.PhotoDropped,
			"photo_error":   res.PhotoError,
		})
	}
}

func handleDeleteForm(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if err := a.session.CancelForm(); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetMode(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, map[string]any{"route": a.session.RouteMode()})
	}
}

func handlePutMode(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		var req struct {
			Route *bool `json:"route"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Route == nil {
			http.Error(w, "route required", http.StatusBadRequest)
			return
		}
		a.session.SetRouteMode(*req.Route)
		writeJSON(w, http.StatusOK, map[string]any{"route": *req.Route})
	}
}

// ----------------- Points -----------------

func handleGetPoints(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if r.URL.Query().Has("q") {
			a.view.SetQuery(r.URL.Query().Get("q"))
		}
		items := render.Rows(a.view.Results())
		writeJSON(w, http.StatusOK, map[string]any{
			"query":   a.view.Query(),
			"count":   len(items),
			"total":   a.points.Len(),
			"version": a.view.Version(),
			"items":   items,
		})
	}
}

func pointID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func handleGetPoint(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		id, ok := pointID(w, r)
		if !ok {
			return
		}
		p, found := a.points.Get(id)
		if !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, render.DetailOf(p))
	}
}

// handleDeletePoint removes a point. A stale id is a no-op reported as
// deleted=false.
func handleDeletePoint(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		id, ok := pointID(w, r)
		if !ok {
			return
		}
		deleted, err := a.points.Delete(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "id": id})
	}
}

func handleDeletePoints(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		n := a.points.Len()
		if err := a.points.ClearAll(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		logger.Info("cleared %d point(s)", n)
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "count": n})
	}
}

func handleExportPoints(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		w.Header().Set("Content-Disposition", `attachment; filename="`+points.DefaultKey+`.json"`)
		writeJSON(w, http.StatusOK, a.points.Serialize())
	}
}

func handleImportPoints(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			http.Error(w, "read error: "+err.Error(), http.StatusBadRequest)
			return
		}
		raw, err := points.ParseSnapshot(data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		pts, err := a.points.Restore(r.Context(), raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger.Info("imported %d point(s) (%s)", len(pts), humanize.Bytes(uint64(len(data))))
		writeJSON(w, http.StatusOK, map[string]any{
			"imported": len(pts),
			"next_id":  a.points.NextID(),
		})
	}
}

func handleGetPointsGPX(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		w.Header().Set("Content-Type", "application/gpx+xml")
		w.Header().Set("Content-Disposition", `attachment; filename="points.gpx"`)
		if err := gpx.WritePoints(w, a.points.All()); err != nil {
			logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		}
	}
}

// ----------------- Route -----------------

func routeBody(a *app) map[string]any {
	length := a.route.Length()
	return map[string]any{
		"waypoints":   a.route.Waypoints(),
		"length_m":    length,
		"length_text": humanize.SIWithDigits(length, 2, "m"),
	}
}

func handleGetRoute(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, routeBody(a))
	}
}

func handlePostRoute(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		c, err := decodeCoord(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wp, err := a.route.Append(r.Context(), c)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, wp)
	}
}

func handleDeleteRoute(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if err := a.route.Clear(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetRouteGPX(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		w.Header().Set("Content-Type", "application/gpx+xml")
		w.Header().Set("Content-Disposition", `attachment; filename="route.gpx"`)
		if err := gpx.WriteRoute(w, a.route.Waypoints()); err != nil {
			logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		}
	}
}

// handleImportRoute replaces the route with the track (or waypoints) of an
// uploaded GPX document.
func handleImportRoute(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		f, err := gpx.Parse(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		coords := f.RouteCoords()
		if len(coords) == 0 {
			http.Error(w, "no points in GPX", http.StatusBadRequest)
			return
		}
		if _, err := a.route.Replace(r.Context(), coords); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, routeBody(a))
	}
}

// ----------------- Map, lookup, location -----------------

func handleGetMap(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, a.layer.FeatureCollection())
	}
}

func handleGetGeocode(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		loc, err := a.session.Resolve(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	}
}

func handleGetLocation(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		ctx, cancel := context.WithTimeout(r.Context(), locateTimeout)
		defer cancel()
		fix, err := a.locator.Locate(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		a.layer.ShowLocation(fix.Lat, fix.Lng)
		writeJSON(w, http.StatusOK, map[string]any{
			"fix":    fix,
			"marker": render.LocationMarker(fix.Lat, fix.Lng),
		})
	}
}

func handleOptions(w http.ResponseWriter, _ *http.Request) {
	corsHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// RegisterAPI mounts every endpoint on mux.
func RegisterAPI(mux *http.ServeMux, a *app) {
	if mux == nil {
		mux = http.DefaultServeMux
	}
	// CORS preflight
	mux.HandleFunc("OPTIONS /api/", handleOptions)

	// Map interaction
	mux.HandleFunc("POST /api/tap", handlePostTap(a))
	mux.HandleFunc("GET /api/form", handleGetForm(a))
	mux.HandleFunc("POST /api/form", handlePostForm(a))
	mux.HandleFunc("DELETE /api/form", handleDeleteForm(a))
	mux.HandleFunc("GET /api/mode", handleGetMode(a))
	mux.HandleFunc("PUT /api/mode", handlePutMode(a))

	// Points
	mux.HandleFunc("GET /api/points", handleGetPoints(a))
	mux.HandleFunc("DELETE /api/points", handleDeletePoints(a))
	mux.HandleFunc("GET /api/points/{id}", handleGetPoint(a))
	mux.HandleFunc("DELETE /api/points/{id}", handleDeletePoint(a))
	mux.HandleFunc("GET /api/points/export", handleExportPoints(a))
	mux.HandleFunc("POST /api/points/import", handleImportPoints(a))
	mux.HandleFunc("GET /api/points.gpx", handleGetPointsGPX(a))

	// Route
	mux.HandleFunc("GET /api/route", handleGetRoute(a))
	mux.HandleFunc("POST /api/route", handlePostRoute(a))
	mux.HandleFunc("DELETE /api/route", handleDeleteRoute(a))
	mux.HandleFunc("GET /api/route.gpx", handleGetRouteGPX(a))
	mux.HandleFunc("POST /api/route/import", handleImportRoute(a))

	// Map layer, lookup, location
	mux.HandleFunc("GET /api/map", handleGetMap(a))
	mux.HandleFunc("GET /api/geocode", handleGetGeocode(a))
	mux.HandleFunc("GET /api/location", handleGetLocation(a))

	// Version info
	mux.HandleFunc("GET /api/version", handleGetVersion(a))
}

// buildVersion describes the running binary.
type buildVersion struct {
	App       string `json:"app"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
	Storage   string `json:"storage"`
}

func readBuildVersion(storage string) buildVersion {
	v := buildVersion{
		App:      appName,
		Version:  "devel",
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Storage:  storage,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.Module = bi.Main.Path
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
		case "vcs.time":
			v.BuildTime = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}
	return v
}

// handleGetVersion reports the build and the active snapshot backend.
func handleGetVersion(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, readBuildVersion(a.cfg.Storage))
	}
}
