package app

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/actions"
	"settingsd/internal/config"
	"settingsd/internal/control"
	"settingsd/internal/dbusutil"
	"settingsd/internal/dispatch"
	"settingsd/internal/events"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/sources"
	"settingsd/internal/store"
	"settingsd/internal/template"
	"settingsd/pkg/logging"
)

// Bus is a bus connection as used by the daemon. *dbus.Conn satisfies it.
type Bus interface {
	dbusutil.Bus
	control.Conn
	Close() error
}

// geoclueDesktopID identifies the daemon to GeoClue's authorization agent.
const geoclueDesktopID = "settingsd"

// Services holds every wired component of the daemon.
//
// Initialization order:
//  1. Action table and registry (compile-time keys plus action counters)
//  2. Store load, which must finish before any source starts
//  3. Dispatch router with one handler per subsystem
//  4. Engine, event recorder and control service as observers
//  5. Source adapters under one supervisor
type Services struct {
	Paths    config.Paths
	Daemon   config.DaemonConfig
	Registry *settings.Registry
	Actions  *actions.Table
	Store    *store.Store

	// Problems lists leaves that fell back to their default on load.
	Problems *config.ConfigurationErrorCollection

	Metrics    *reconciler.Metrics
	Ingress    *reconciler.Ingress
	Debouncer  *reconciler.Debouncer
	Engine     *reconciler.Engine
	Router     *dispatch.Router
	Power      *dispatch.Power
	Supervisor *sources.Supervisor
	Recorder   *events.Recorder

	// Control is nil when the control service is disabled.
	Control    *control.Service
	ControlBus Bus

	buses map[string]Bus
}

// InitializeServices wires the daemon from cfg.Daemon. Bus-backed sources
// and handlers are skipped with a warning when their bus is unreachable;
// the control service is the exception and fails the bootstrap.
func InitializeServices(cfg *Config, paths config.Paths) (*Services, error) {
	d := *cfg.Daemon
	connect := cfg.ConnectBus
	if connect == nil {
		connect = connectBus
	}

	s := &Services{Paths: paths, Daemon: d, buses: make(map[string]Bus)}
	bus := func(name string) Bus {
		if b, ok := s.buses[name]; ok {
			return b
		}
		b, err := connect(name)
		if err != nil {
			logging.Warn("Bootstrap", "The %s bus is unavailable: %v", name, err)
			s.buses[name] = nil
			return nil
		}
		s.buses[name] = b
		return b
	}

	tmpl := template.New()
	table, err := actions.NewTable(d.Actions, tmpl)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}
	s.Actions = table

	registry, err := settings.NewRegistry(append(settings.Builtin(), table.Schemas()...)...)
	if err != nil {
		return nil, err
	}
	s.Registry = registry

	s.Store = store.New(registry, paths.ConfigRoot, paths.StateRoot)
	values, problems, err := s.Store.Load()
	if err != nil {
		return nil, err
	}
	s.Problems = problems
	if problems.HasErrors() {
		logging.Warn("Bootstrap", "%d setting(s) fell back to defaults:\n%s", problems.Count(), problems.GetDetailedReport())
	}
	logging.Info("Bootstrap", "Loaded %d settings from %s and %s", len(values), paths.ConfigRoot, paths.StateRoot)

	s.Metrics = reconciler.NewMetrics()
	s.Ingress = reconciler.NewIngress(d.Engine.QueueSize, nil)
	s.Debouncer = reconciler.NewDebouncer(d.Engine.DebounceWindow.Std(), nil, registry, s.Metrics)

	s.Router, s.Power = newRouter(d, table, tmpl, bus)

	s.Engine = reconciler.NewEngine(registry, values, s.Router, s.Store, reconciler.Config{
		MaxAttempts:         d.Engine.MaxAttempts,
		InitialBackoff:      d.Engine.InitialBackoff.Std(),
		MaxBackoff:          d.Engine.MaxBackoff.Std(),
		RandomizationFactor: 0.1,
		DrainTimeout:        d.Engine.DrainTimeout.Std(),
		InputSize:           d.Engine.QueueSize,
	}, s.Metrics)

	s.Recorder = events.NewRecorder(events.DefaultHistory)
	s.Engine.AddObserver(s.Recorder)

	s.Supervisor = sources.NewSupervisor(s.Ingress, sources.SupervisorConfig{
		DegradedAfter: d.Sources.DegradedAfter,
		MaxBackoff:    d.Sources.ResubscribeMax.Std(),
	}, newAdapters(d.Sources, s.Store, registry, bus)...)
	s.Supervisor.AddObserver(s.Recorder)

	if d.Control.Enabled {
		controlBus := bus(d.Control.Bus)
		if controlBus == nil {
			s.Close()
			return nil, fmt.Errorf("control service needs the %s bus", d.Control.Bus)
		}
		s.ControlBus = controlBus
		s.Control = control.NewService(control.Options{
			Registry: registry,
			Reader:   s.Engine,
			Sink:     s.Ingress,
			Actions:  table,
			Sources:  s.Supervisor.Status,
			Metrics:  s.Metrics,
			Events:   s.Recorder,
		})
		s.Engine.AddObserver(s.Control)
	}

	return s, nil
}

func newRouter(d config.DaemonConfig, table *actions.Table, tmpl *template.Engine, bus func(string) Bus) (*dispatch.Router, *dispatch.Power) {
	router := dispatch.NewRouter(d.Dispatch.Concurrency)
	timeout := d.Dispatch.CommandTimeout.Std()

	commands := dispatch.NewCommand(d.Dispatch.Commands, tmpl, timeout)
	router.Register(settings.SubsystemAudio, commands)
	router.Register(settings.SubsystemTheme, commands)
	router.Register(settings.SubsystemCommand, dispatch.NewActionCommand(table, tmpl))

	if sys := bus("system"); sys != nil {
		router.Register(settings.SubsystemDisplay, dispatch.NewDisplay(sys, d.Sources.SysfsRoot))
		localed := dispatch.NewLocaled(sys)
		router.Register(settings.SubsystemKeyboard, localed)
		router.Register(settings.SubsystemLocale, localed)
	}

	var notify dispatch.Handler
	if session := bus("session"); session != nil {
		n := dispatch.NewNotify(session, d.Dispatch.NotifyAppName)
		router.Register(settings.SubsystemNotify, n)
		notify = n
	}
	var sounds dispatch.Player
	if len(d.Dispatch.SoundPlayer) > 0 {
		sounds = dispatch.NewSoundPlayer(d.Dispatch.SoundPlayer, d.Dispatch.SoundDirs)
	}
	power := dispatch.NewPower(notify, sounds, nil, d.Dispatch.BatteryNagInterval.Std())
	router.Register(settings.SubsystemPower, power)
	return router, power
}

func newAdapters(sc config.SourcesConfig, st *store.Store, registry *settings.Registry, bus func(string) Bus) []sources.Adapter {
	var adapters []sources.Adapter

	if sc.ConfigStore {
		adapters = append(adapters, sources.NewConfigStore(st, registry))
	}
	if sc.Hotplug {
		adapters = append(adapters, sources.NewHotplug(sc.SysfsRoot))
	}

	needsSystem := sc.Power || sc.Localed || (sc.DayCycle && sc.Geoclue)
	var sys Bus
	if needsSystem {
		sys = bus("system")
	}
	if sys != nil && sc.Power {
		adapters = append(adapters, sources.NewPower(sys))
	}
	if sys != nil && sc.Localed {
		adapters = append(adapters, sources.NewLocaled(sys))
	}

	if sc.DayCycle {
		var locator sources.Locator
		switch {
		case sc.Geoclue && sys != nil:
			locator = sources.NewGeoClue(sys, geoclueDesktopID)
		case sc.Location != nil:
			locator = sources.StaticLocator{Latitude: sc.Location.Latitude, Longitude: sc.Location.Longitude}
		}
		if locator != nil {
			adapters = append(adapters, sources.NewDayCycle(locator, nil))
		} else {
			logging.Warn("Bootstrap", "Day cycle disabled: no GeoClue and no static location configured")
		}
	}
	return adapters
}

// Close stops the battery alarm and releases the bus connections.
func (s *Services) Close() {
	if s.Power != nil {
		s.Power.Close()
	}
	for name, b := range s.buses {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			logging.Debug("Bootstrap", "Closing the %s bus: %v", name, err)
		}
	}
	s.buses = map[string]Bus{}
}

func connectBus(name string) (Bus, error) {
	// Sequential delivery keeps each source's signals in order.
	opt := dbus.WithSignalHandler(dbus.NewSequentialSignalHandler())
	var (
		conn *dbus.Conn
		err  error
	)
	switch name {
	case "system":
		conn, err = dbus.ConnectSystemBus(opt)
	case "session":
		conn, err = dbus.ConnectSessionBus(opt)
	default:
		return nil, fmt.Errorf("unknown bus %q", name)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
