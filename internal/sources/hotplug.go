package sources

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"settingsd/internal/backlight"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// Hotplug watches kernel uevents for backlight devices and reports the
// one with the widest brightness range.
type Hotplug struct {
	sysfsRoot string

	// open returns the uevent stream; replaced in tests.
	open func() (io.ReadCloser, error)
}

// NewHotplug creates the adapter reading devices below sysfsRoot.
func NewHotplug(sysfsRoot string) *Hotplug {
	return &Hotplug{sysfsRoot: sysfsRoot, open: openUeventSocket}
}

// Name returns "hotplug".
func (h *Hotplug) Name() string {
	return settings.OriginHotplug
}

// Subscribe opens the uevent socket and rescans sysfs on every backlight
// event.
func (h *Hotplug) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	conn, err := h.open()
	if err != nil {
		return nil, err
	}

	// Closing the socket is what unblocks the reader.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := make(chan reconciler.ChangeEvent, 4)
	go func() {
		defer close(out)
		buf := make([]byte, 64*1024)
		last := ""
		if dev, ok := h.best(); ok {
			last = dev
		}

		for {
			n, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn("Hotplug", "uevent socket failed: %v", err)
				}
				return
			}
			uev, ok := ParseUevent(buf[:n])
			if !ok || uev.Subsystem != backlight.Subsystem {
				continue
			}
			logging.Debug("Hotplug", "%s %s", uev.Action, uev.DevPath)

			dev, _ := h.best()
			if dev == last {
				continue
			}
			last = dev
			if !send(ctx, out, deviceEvent(dev)) {
				return
			}
		}
	}()
	return out, nil
}

// Snapshot reports the current best device, or none.
func (h *Hotplug) Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error) {
	dev, _ := h.best()
	return []reconciler.ChangeEvent{deviceEvent(dev)}, nil
}

func (h *Hotplug) best() (string, bool) {
	devices, err := backlight.Scan(h.sysfsRoot)
	if err != nil {
		logging.Warn("Hotplug", "Failed to scan backlight devices: %v", err)
		return "", false
	}
	dev, ok := backlight.Best(devices)
	return dev.Name, ok
}

func deviceEvent(name string) reconciler.ChangeEvent {
	return reconciler.SetEvent(settings.OriginHotplug, settings.DisplayBacklight, settings.StringValue(name))
}

// openUeventSocket binds to the kernel uevent multicast group. The socket
// is non-blocking so the returned file goes through the runtime poller
// and Close interrupts a pending Read.
func openUeventSocket() (io.ReadCloser, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}
	return os.NewFile(uintptr(fd), "uevent"), nil
}
