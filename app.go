package main

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/rubiojr/deliverymap/pkg/geocode"
	"github.com/rubiojr/deliverymap/pkg/geoloc"
	"github.com/rubiojr/deliverymap/pkg/kv"
	"github.com/rubiojr/deliverymap/pkg/logger"
	"github.com/rubiojr/deliverymap/pkg/points"
	"github.com/rubiojr/deliverymap/pkg/render"
	"github.com/rubiojr/deliverymap/pkg/route"
	"github.com/rubiojr/deliverymap/pkg/search"
	"github.com/rubiojr/deliverymap/pkg/session"
)

// desktopID is the GeoClue client id; a matching .desktop file is written on
// first use.
const desktopID = "io.github.rubiojr.deliverymap.desktop"

// app bundles the long-lived state the HTTP handlers operate on.
type app struct {
	cfg      Config
	kv       kv.Store
	layer    *render.Layer
	points   *points.Store
	route    *route.Store
	view     *search.View
	session  *session.Session
	resolver *geocode.Resolver
	locator  geoloc.Locator

	closers []func()
}

// openSnapshots opens the configured snapshot backend.
func openSnapshots(ctx context.Context, cfg Config) (kv.Store, error) {
	switch cfg.Storage {
	case "redis":
		return kv.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		if err := ensureDir(cfg.DataDir); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
		return kv.OpenSQLite(snapshotDBPath(cfg))
	}
}

// newApp opens storage and restores the persisted points and route.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	store, err := openSnapshots(ctx, cfg)
	if err != nil {
		return nil, err
	}

	nominatimOpts := []geocode.NominatimOption{geocode.WithMinInterval(cfg.NominatimInterval)}
	var closers []func()
	if !cfg.NoGeocodeCache {
		if err := ensureDir(cfg.CacheDir); err != nil {
			logger.Error("Failed to create cache dir %s: %v", cfg.CacheDir, err)
		}
		cache, err := geocode.OpenCache(geocodeCachePath(cfg))
		if err != nil {
			logger.Error("geocode cache disabled: %v", err)
		} else {
			nominatimOpts = append(nominatimOpts, geocode.WithCache(cache))
			closers = append(closers, func() { _ = cache.Close() })
		}
	}
	searcher := geocode.NewNominatim(cfg.NominatimServer, nominatimOpts...)

	a, err := assemble(ctx, cfg, store, searcher, locatorFor(ctx, cfg))
	if err != nil {
		_ = store.Close()
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// locatorFor builds the configured position source.
func locatorFor(ctx context.Context, cfg Config) geoloc.Locator {
	switch cfg.Location {
	case "off":
		return geoloc.Unavailable{}
	case "geoclue":
		g := geoloc.NewGeoClue(desktopID)
		g.Start(ctx)
		return g
	default:
		fix, _ := cfg.StaticLocation()
		return geoloc.Static{Fix: fix}
	}
}

// assemble wires the stores to the map layer and loads persisted state.
func assemble(ctx context.Context, cfg Config, store kv.Store, searcher geocode.Searcher, loc geoloc.Locator) (*app, error) {
	layer := render.NewLayer()
	ps := points.New(store, points.WithMarkers(func(p points.Point) points.MarkerHandle {
		return layer.Add(render.PointMarker(p))
	}))
	rs := route.New(store,
		route.WithMarkers(func(wp route.Waypoint) route.MarkerHandle {
			return layer.Add(render.WaypointMarker(wp))
		}),
		route.WithPath(func(ls orb.LineString) route.PathHandle {
			return layer.AddPolyline(ls)
		}),
	)
	if err := ps.Load(ctx); err != nil {
		return nil, err
	}
	if err := rs.Load(ctx); err != nil {
		return nil, err
	}
	logger.Info("restored %d point(s) and %d waypoint(s)", ps.Len(), rs.Len())

	resolver := geocode.NewResolver(searcher, cfg.HomeRegion)
	return &app{
		cfg:      cfg,
		kv:       store,
		layer:    layer,
		points:   ps,
		route:    rs,
		view:     search.NewView(ps),
		session:  session.New(ps, rs, resolver, cfg.MaxPhotoBytes),
		resolver: resolver,
		locator:  loc,
	}, nil
}

// Close releases storage and background work.
func (a *app) Close() {
	if g, ok := a.locator.(*geoloc.GeoClue); ok {
		g.Stop()
	}
	for _, c := range a.closers {
		c()
	}
	if err := a.kv.Close(); err != nil {
		logger.Error("closing snapshot store: %v", err)
	}
}
