package sources

import (
	"bytes"
	"strings"
)

// Uevent is a kernel object event as broadcast on NETLINK_KOBJECT_UEVENT.
type Uevent struct {
	Action    string
	DevPath   string
	Subsystem string
	Env       map[string]string
}

// ParseUevent decodes a kernel uevent message: a "action@devpath" header
// followed by NUL-separated KEY=VALUE pairs. Messages relayed by udev
// (starting with "libudev") are rejected.
func ParseUevent(msg []byte) (Uevent, bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) == 0 {
		return Uevent{}, false
	}
	action, devpath, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" || devpath == "" {
		return Uevent{}, false
	}

	ev := Uevent{Action: action, DevPath: devpath, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		if len(f) == 0 {
			continue
		}
		k, v, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		ev.Env[k] = v
	}
	if a := ev.Env["ACTION"]; a != "" {
		ev.Action = a
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	return ev, true
}
