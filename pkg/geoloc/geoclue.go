package geoloc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rubiojr/deliverymap/pkg/logger"
)

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"
)

// DefaultWait bounds how long Locate waits for the first fix when the
// caller's context has no deadline.
const DefaultWait = 10 * time.Second

// GeoClue tracks the position through GeoClue2. GeoClue requires a
// DesktopId matching a .desktop file that carries X-Geoclue-2-Client=true.
type GeoClue struct {
	desktopID string
	last      *latest
	cancel    context.CancelFunc
}

// NewGeoClue returns an idle tracker. Call Start to begin receiving fixes.
func NewGeoClue(desktopID string) *GeoClue {
	return &GeoClue{desktopID: desktopID, last: newLatest()}
}

// Start ensures the desktop file exists and runs the tracking loop until
// ctx is cancelled or Stop is called.
func (g *GeoClue) Start(ctx context.Context) {
	if err := ensureDesktopFile(g.desktopID); err != nil {
		logger.Warn("location: failed to ensure desktop file: %v", err)
	}
	ctx, g.cancel = context.WithCancel(ctx)
	go g.run(ctx)
}

// Stop ends tracking.
func (g *GeoClue) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

// Locate implements Locator.
func (g *GeoClue) Locate(ctx context.Context) (Fix, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWait)
		defer cancel()
	}
	return g.last.wait(ctx)
}

// run keeps trying to establish location updates until ctx is cancelled.
func (g *GeoClue) run(ctx context.Context) {
	const (
		maxInitialRetries = 5
		retryBaseDelay    = 2 * time.Second
		requestedAccuracy = uint32(8) // street level
		distanceThreshold = uint32(25)
		timeThreshold     = uint32(5)
	)

	var attempt int
	for {
		if ctx.Err() != nil {
			return
		}
		err := func() error {
			cl, err := newClient(g.desktopID, requestedAccuracy, distanceThreshold, timeThreshold)
			if err != nil {
				return err
			}
			defer cl.close()
			if err := cl.start(); err != nil {
				return err
			}
			if p, err := cl.locationPath(); err == nil && p != "" {
				cl.read(p, g.last)
			}
			return cl.listen(ctx, g.last)
		}()
		if err == nil {
			return
		}
		g.last.setErr(err)
		attempt++
		delay := 30 * time.Second
		if attempt <= maxInitialRetries {
			delay = retryBaseDelay * time.Duration(attempt)
		}
		logger.Debug("location: retrying after error (%v), attempt=%d delay=%s", err, attempt, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// ensureDesktopFile writes a minimal desktop file unless one exists.
func ensureDesktopFile(desktopID string) error {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	appsDir := filepath.Join(dataHome, "applications")
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	content := `[Desktop Entry]
Type=Application
Name=Delivery Map
Comment=Newspaper delivery route planner (GeoClue client)
Exec=deliverymap
Terminal=false
Categories=Utility;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`
	return os.WriteFile(dest, []byte(content), 0o644)
}

type client struct {
	path dbus.ObjectPath
	bus  *dbus.Conn
}

func newClient(desktopID string, acc, dist, sec uint32) (*client, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	manager := bus.Object(geoService, managerPath)

	var clientPath dbus.ObjectPath
	if call := manager.Call(managerIface+".CreateClient", 0); call.Err != nil {
		bus.Close()
		return nil, call.Err
	} else if err := call.Store(&clientPath); err != nil {
		bus.Close()
		return nil, err
	}
	obj := bus.Object(geoService, clientPath)
	setProp := func(name string, val interface{}) error {
		return obj.Call(propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := setProp("DesktopId", desktopID); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set DesktopId: %w", err)
	}
	if err := setProp("RequestedAccuracyLevel", acc); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set accuracy: %w", err)
	}
	_ = setProp("DistanceThreshold", dist)
	_ = setProp("TimeThreshold", sec)
	return &client{path: clientPath, bus: bus}, nil
}

func (c *client) start() error {
	return c.bus.Object(geoService, c.path).Call(clientIface+".Start", 0).Err
}

func (c *client) close() {
	_ = c.bus.Object(geoService, c.path).Call(clientIface+".Stop", 0)
	c.bus.Close()
}

func (c *client) locationPath() (dbus.ObjectPath, error) {
	var v dbus.Variant
	call := c.bus.Object(geoService, c.path).Call(propsIface+".Get", 0, clientIface, "Location")
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&v); err != nil {
		return "", err
	}
	p, _ := v.Value().(dbus.ObjectPath)
	return p, nil
}

// listen follows PropertiesChanged on the client until ctx ends.
func (c *client) listen(ctx context.Context, dst *latest) error {
	rule := fmt.Sprintf("type='signal',interface='%s',path='%s'", propsIface, c.path)
	if call := c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return call.Err
	}
	sigCh := make(chan *dbus.Signal, 10)
	c.bus.Signal(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig == nil {
				return errors.New("dbus signal channel closed")
			}
			if p, ok := changedLocation(sig, c.path); ok {
				c.read(p, dst)
			}
		}
	}
}

// changedLocation extracts the new Location object path from a
// PropertiesChanged signal emitted for path.
func changedLocation(sig *dbus.Signal, path dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != path || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	lp, ok := v.Value().(dbus.ObjectPath)
	return lp, ok && lp != ""
}

func (c *client) read(p dbus.ObjectPath, dst *latest) {
	var props map[string]dbus.Variant
	call := c.bus.Object(geoService, p).Call(propsIface+".GetAll", 0, locationIface)
	if call.Err != nil {
		return
	}
	if err := call.Store(&props); err != nil {
		return
	}
	dst.set(fixFromProps(props))
}

func fixFromProps(props map[string]dbus.Variant) Fix {
	f64 := func(key string) float64 {
		if v, ok := props[key]; ok {
			if f, ok := v.Value().(float64); ok {
				return f
			}
		}
		return 0
	}
	return Fix{
		Lat:       f64("Latitude"),
		Lng:       f64("Longitude"),
		Accuracy:  f64("Accuracy"),
		Altitude:  f64("Altitude"),
		Timestamp: time.Now().UTC(),
	}
}
