// Package backlight reads backlight devices from sysfs.
package backlight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Subsystem is the kernel subsystem name of backlight devices.
const Subsystem = "backlight"

// Device is one entry under /sys/class/backlight.
type Device struct {
	Name          string
	MaxBrightness int
}

// ClassDir returns the backlight class directory under sysfsRoot.
func ClassDir(sysfsRoot string) string {
	return filepath.Join(sysfsRoot, "class", Subsystem)
}

// Scan lists the devices under sysfsRoot, sorted by name. Devices whose
// max_brightness cannot be read are skipped. A missing class directory
// yields no devices.
func Scan(sysfsRoot string) ([]Device, error) {
	dir := ClassDir(sysfsRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var devices []Device
	for _, e := range entries {
		limit, err := MaxBrightness(sysfsRoot, e.Name())
		if err != nil {
			continue
		}
		devices = append(devices, Device{Name: e.Name(), MaxBrightness: limit})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// Best picks the device with the largest max_brightness. Ties go to the
// first name in sort order.
func Best(devices []Device) (Device, bool) {
	var best Device
	found := false
	for _, d := range devices {
		if !found || d.MaxBrightness > best.MaxBrightness {
			best, found = d, true
		}
	}
	return best, found
}

// MaxBrightness reads the max_brightness attribute of device.
func MaxBrightness(sysfsRoot, device string) (int, error) {
	data, err := os.ReadFile(filepath.Join(ClassDir(sysfsRoot), device, "max_brightness"))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid max_brightness for %s: %w", device, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("device %s reports max_brightness %d", device, n)
	}
	return n, nil
}

// Raw converts a percentage into a raw brightness value for a device
// whose max_brightness is limit.
func Raw(percent, limit int) uint32 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return uint32((percent*limit + 50) / 100)
}
