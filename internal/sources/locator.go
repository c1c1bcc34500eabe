package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/dbusutil"
	"settingsd/pkg/logging"
)

// Location is a position in degrees, north and east positive.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Locator delivers the current location and every change of it. The
// channel closes when ctx is done or the location service goes away.
type Locator interface {
	Locations(ctx context.Context) (<-chan Location, error)
}

// StaticLocator always reports the same configured location.
type StaticLocator Location

// Locations delivers l once and keeps the channel open until ctx is done.
func (l StaticLocator) Locations(ctx context.Context) (<-chan Location, error) {
	ch := make(chan Location, 1)
	ch <- Location(l)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

const (
	geoclueName          = "org.freedesktop.GeoClue2"
	geoclueManagerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	geoclueClientIface   = "org.freedesktop.GeoClue2.Client"
	geoclueLocationIface = "org.freedesktop.GeoClue2.Location"

	// City-level accuracy is enough for sunrise and sunset.
	geoclueAccuracyCity = uint32(4)
	// Metres a position must move before GeoClue reports it again.
	geoclueDistanceThreshold = uint32(5000)
)

// GeoClue locates the machine through the GeoClue2 service.
type GeoClue struct {
	bus       dbusutil.Bus
	desktopID string
}

// NewGeoClue creates a locator on the system bus connection bus.
func NewGeoClue(bus dbusutil.Bus, desktopID string) *GeoClue {
	return &GeoClue{bus: bus, desktopID: desktopID}
}

// Locations starts a GeoClue client and follows LocationUpdated.
func (g *GeoClue) Locations(ctx context.Context) (<-chan Location, error) {
	var clientPath dbus.ObjectPath
	manager := g.bus.Object(geoclueName, geoclueManagerPath)
	if err := manager.CallWithContext(ctx, geoclueName+".Manager.GetClient", 0).Store(&clientPath); err != nil {
		return nil, fmt.Errorf("failed to get GeoClue client: %w", err)
	}
	client := g.bus.Object(geoclueName, clientPath)

	props := []struct {
		name  string
		value interface{}
	}{
		{"DesktopId", g.desktopID},
		{"RequestedAccuracyLevel", geoclueAccuracyCity},
		{"DistanceThreshold", geoclueDistanceThreshold},
	}
	for _, p := range props {
		call := client.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0, geoclueClientIface, p.name, dbus.MakeVariant(p.value))
		if call.Err != nil {
			return nil, fmt.Errorf("failed to set GeoClue %s: %w", p.name, call.Err)
		}
	}

	signals, err := dbusutil.Watch(ctx, g.bus, dbusutil.Match{
		Sender:    geoclueName,
		Path:      clientPath,
		Interface: geoclueClientIface,
		Member:    "LocationUpdated",
	})
	if err != nil {
		return nil, err
	}
	if call := client.CallWithContext(ctx, geoclueClientIface+".Start", 0); call.Err != nil {
		return nil, fmt.Errorf("failed to start GeoClue client: %w", call.Err)
	}
	logging.Debug("DayCycle", "GeoClue client %s started", clientPath)

	out := make(chan Location, 1)
	go func() {
		defer close(out)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = client.CallWithContext(stopCtx, geoclueClientIface+".Stop", 0).Err
		}()

		for sig := range signals {
			if len(sig.Body) < 2 {
				continue
			}
			path, ok := sig.Body[1].(dbus.ObjectPath)
			if !ok {
				continue
			}
			loc, err := g.read(ctx, path)
			if err != nil {
				logging.Warn("DayCycle", "Failed to read GeoClue location: %v", err)
				continue
			}
			select {
			case out <- loc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *GeoClue) read(ctx context.Context, path dbus.ObjectPath) (Location, error) {
	props, err := dbusutil.GetAll(ctx, g.bus.Object(geoclueName, path), geoclueLocationIface)
	if err != nil {
		return Location{}, err
	}
	lat, ok1 := props["Latitude"].Value().(float64)
	lon, ok2 := props["Longitude"].Value().(float64)
	if !ok1 || !ok2 {
		return Location{}, fmt.Errorf("location %s has no coordinates", path)
	}
	return Location{Latitude: lat, Longitude: lon}, nil
}
