package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"settingsd/pkg/logging"
)

// runDaemon starts every component and blocks until ctx is cancelled,
// SIGINT or SIGTERM arrives, or a component fails fatally.
//
// Shutdown order follows from the contexts: sources and the debouncer
// stop first, the engine drains in-flight actions for at most its drain
// timeout, and the control service releases its bus name.
func runDaemon(ctx context.Context, s *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Engine.Run(gctx)
	})
	g.Go(func() error {
		return ignoreCanceled(s.Debouncer.Run(gctx, s.Ingress.Events(), s.Engine.Input()))
	})
	g.Go(func() error {
		return s.Supervisor.Run(gctx)
	})
	if s.Control != nil {
		g.Go(func() error {
			if err := s.Control.Serve(gctx, s.ControlBus); err != nil {
				return fmt.Errorf("control service: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return watchdog(gctx)
	})

	notify(daemon.SdNotifyReady)
	notify(fmt.Sprintf("STATUS=Reconciling %d settings", len(s.Registry.Keys())))
	logging.Info("Bootstrap", "settingsd running. Send SIGTERM or press Ctrl+C to stop.")

	<-gctx.Done()
	notify(daemon.SdNotifyStopping)
	logging.Info("Bootstrap", "Shutting down")

	err := g.Wait()
	if err != nil {
		logging.Error("Bootstrap", err, "Daemon stopped with an error")
		return err
	}
	logging.Info("Bootstrap", "Stopped")
	return nil
}

// notify reports state to systemd. Outside of a systemd unit it does
// nothing.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logging.Debug("Bootstrap", "sd_notify %q failed: %v", state, err)
	}
}

// watchdog pings systemd at half the configured watchdog interval.
func watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			notify(daemon.SdNotifyWatchdog)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
