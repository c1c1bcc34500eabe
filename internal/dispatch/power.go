package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

var (
	soundPlug         = Sound{"freedesktop", "power-plug"}
	soundUnplug       = Sound{"freedesktop", "power-unplug"}
	soundUnplugLow    = Sound{"Pop", "power-unplug-battery-low"}
	soundBatteryFull  = Sound{"Pop", "battery-full"}
	soundBatteryLow   = Sound{"Pop", "battery-caution"}
	soundBatteryAlarm = Sound{"Pop", "battery-low"}
)

// Power reacts to adapter and battery level changes. It plays the
// matching sound, shows the notification carried by the action and,
// while the battery is critical and the adapter unplugged, repeats an
// alarm sound until either changes.
type Power struct {
	notify   Handler
	sounds   Player
	clock    clockz.Clock
	interval time.Duration

	mu    sync.Mutex
	alarm *alarm
}

type alarm struct {
	stop chan struct{}
	done chan struct{}
}

// NewPower creates the power handler. notify and sounds may be nil, which
// disables notifications or sounds.
func NewPower(notify Handler, sounds Player, clock clockz.Clock, interval time.Duration) *Power {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Power{notify: notify, sounds: sounds, clock: clock, interval: interval}
}

func (p *Power) Handle(ctx context.Context, a reconciler.PendingAction) error {
	onBattery := a.Args["on_battery"] == "1"
	level := a.Args["level"]

	switch a.Operation {
	case "adapter":
		switch {
		case !onBattery:
			p.play(soundPlug)
		case level == settings.BatteryLow || level == settings.BatteryCritical:
			p.play(soundUnplugLow, soundUnplug)
		default:
			p.play(soundUnplug)
		}
	case "battery":
		switch level {
		case settings.BatteryFull:
			p.play(soundBatteryFull)
		case settings.BatteryLow:
			p.play(soundBatteryLow)
		}
	default:
		return errUnknownOperation(a)
	}

	p.setAlarm(onBattery && level == settings.BatteryCritical)

	if p.notify == nil || a.Args["summary"] == "" {
		return nil
	}
	note := a
	note.Operation = "notify"
	return p.notify.Handle(ctx, note)
}

// Close stops the alarm.
func (p *Power) Close() {
	p.setAlarm(false)
}

func (p *Power) play(candidates ...Sound) {
	if p.sounds == nil {
		return
	}
	if err := p.sounds.Play(candidates...); err != nil {
		if errors.Is(err, ErrSoundNotFound) {
			logging.Debug("Power", "No sound for %s/%s", candidates[0].Theme, candidates[0].Name)
			return
		}
		logging.Warn("Power", "Failed to play %s: %v", candidates[0].Name, err)
	}
}

// setAlarm starts or stops the repeating alarm. Starting a running alarm
// keeps it on its current schedule.
func (p *Power) setAlarm(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !on {
		if p.alarm != nil {
			close(p.alarm.stop)
			<-p.alarm.done
			p.alarm = nil
			logging.Debug("Power", "Critical battery alarm stopped")
		}
		return
	}
	if p.alarm != nil {
		return
	}

	al := &alarm{stop: make(chan struct{}), done: make(chan struct{})}
	ticker := p.clock.NewTicker(p.interval)
	go func() {
		defer close(al.done)
		defer ticker.Stop()
		for {
			select {
			case <-al.stop:
				return
			case <-ticker.C():
				p.play(soundBatteryAlarm)
			}
		}
	}()
	p.alarm = al
	logging.Info("Power", "Battery critical on battery power, alarm every %s", p.interval)
}
