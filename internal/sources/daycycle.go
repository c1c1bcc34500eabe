package sources

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/solar"
	"settingsd/pkg/logging"
)

// boundarySlack is added to a sunrise or sunset before re-evaluating, so
// the evaluation lands on the new side of it.
const boundarySlack = time.Second

// DayCycle reports the location and whether it is day or night there. It
// keeps exactly one timer armed for the next sunrise or sunset; a new
// location replaces it.
type DayCycle struct {
	locator Locator
	clock   clockz.Clock

	mu    sync.Mutex
	loc   *Location
	phase string
}

// NewDayCycle creates the adapter. A nil clock uses the real clock.
func NewDayCycle(locator Locator, clock clockz.Clock) *DayCycle {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &DayCycle{locator: locator, clock: clock}
}

// Name returns "daycycle".
func (d *DayCycle) Name() string {
	return settings.OriginDayCycle
}

// Subscribe follows the locator and the sun.
func (d *DayCycle) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	locations, err := d.locator.Locations(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan reconciler.ChangeEvent, 4)
	go d.run(ctx, locations, out)
	return out, nil
}

func (d *DayCycle) run(ctx context.Context, locations <-chan Location, out chan<- reconciler.ChangeEvent) {
	defer close(out)

	var timer clockz.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stop()

	// evaluate emits the phase if it changed and re-arms the timer.
	evaluate := func() bool {
		loc, ok := d.location()
		if !ok {
			return true
		}
		now := d.clock.Now()
		night, next := solar.IsNight(now, loc.Latitude, loc.Longitude)

		stop()
		timer = d.clock.NewTimer(next.Sub(now) + boundarySlack)
		logging.Debug("DayCycle", "Next phase check at %s", next.Add(boundarySlack).Format(time.RFC3339))

		if phase := phaseName(night); d.swapPhase(phase) {
			logging.Info("DayCycle", "Phase is now %s", phase)
			return send(ctx, out, phaseEvent(phase))
		}
		return true
	}

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			return

		case loc, ok := <-locations:
			if !ok {
				return
			}
			d.setLocation(loc)
			logging.Info("DayCycle", "Location %.4f,%.4f", loc.Latitude, loc.Longitude)
			if !send(ctx, out, coordinatesEvent(loc)) {
				return
			}
			if !evaluate() {
				return
			}

		case <-timerC:
			timer = nil
			if !evaluate() {
				return
			}
		}
	}
}

// Snapshot reports the last known location and phase. Before the first
// location arrives there is nothing to report.
func (d *DayCycle) Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error) {
	loc, ok := d.location()
	if !ok {
		return nil, nil
	}
	night, _ := solar.IsNight(d.clock.Now(), loc.Latitude, loc.Longitude)
	return []reconciler.ChangeEvent{coordinatesEvent(loc), phaseEvent(phaseName(night))}, nil
}

func (d *DayCycle) location() (Location, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loc == nil {
		return Location{}, false
	}
	return *d.loc, true
}

func (d *DayCycle) setLocation(loc Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loc = &loc
}

// swapPhase records phase and reports whether it differs from the last
// emitted one.
func (d *DayCycle) swapPhase(phase string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == phase {
		return false
	}
	d.phase = phase
	return true
}

func phaseName(night bool) string {
	if night {
		return settings.PhaseNight
	}
	return settings.PhaseDay
}

func phaseEvent(phase string) reconciler.ChangeEvent {
	return reconciler.SetEvent(settings.OriginDayCycle, settings.ThemePhase, settings.EnumValue(phase))
}

func coordinatesEvent(loc Location) reconciler.ChangeEvent {
	return reconciler.SetEvent(settings.OriginDayCycle, settings.LocationCoords, settings.Coordinates(loc.Latitude, loc.Longitude))
}
