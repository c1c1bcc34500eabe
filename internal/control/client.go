package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/dbusutil"
)

// Client talks to a running daemon.
type Client struct {
	bus   dbusutil.Bus
	obj   dbus.BusObject
	close func() error
}

// Dial connects to the daemon on the session or system bus.
func Dial(bus string) (*Client, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch bus {
	case "", "session":
		conn, err = dbus.ConnectSessionBus()
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the %s bus: %w", bus, err)
	}
	c := NewClient(conn)
	c.close = conn.Close
	return c, nil
}

// NewClient creates a client on an existing connection.
func NewClient(bus dbusutil.Bus) *Client {
	return &Client{bus: bus, obj: bus.Object(BusName, ObjectPath), close: func() error { return nil }}
}

// Close releases the connection if the client opened it.
func (c *Client) Close() error { return c.close() }

func (c *Client) call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	return c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
}

// Get returns the current value of key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := c.call(ctx, "Get", key).Store(&value); err != nil {
		return "", fromDBus(err)
	}
	return value, nil
}

// Set requests a new value for key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return fromDBusOrNil(c.call(ctx, "Set", key, value).Err)
}

// Step requests a relative change of key.
func (c *Client) Step(ctx context.Context, key string, delta int) error {
	return fromDBusOrNil(c.call(ctx, "Step", key, int32(delta)).Err)
}

// Invoke runs a named action.
func (c *Client) Invoke(ctx context.Context, action string) error {
	return fromDBusOrNil(c.call(ctx, "Invoke", action).Err)
}

// Status fetches the daemon status report.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	var doc string
	if err := c.call(ctx, "Status").Store(&doc); err != nil {
		return StatusReport{}, fromDBus(err)
	}
	var report StatusReport
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return StatusReport{}, fmt.Errorf("invalid status document: %w", err)
	}
	return report, nil
}

// Notification is a Changed or Failed signal.
type Notification struct {
	Kind   string // SignalChanged or SignalFailed
	Key    string
	Detail string // the new value, or the failure reason
}

// Watch streams notifications for keys starting with prefix; an empty
// prefix selects all keys. The channel closes when ctx is done.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan Notification, error) {
	signals, err := dbusutil.Watch(ctx, c.bus,
		dbusutil.Match{Sender: BusName, Path: ObjectPath, Interface: Interface, Member: SignalChanged},
		dbusutil.Match{Sender: BusName, Path: ObjectPath, Interface: Interface, Member: SignalFailed},
	)
	if err != nil {
		return nil, err
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		for sig := range signals {
			n, ok := parseNotification(sig)
			if !ok || !strings.HasPrefix(n.Key, prefix) {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func parseNotification(sig *dbus.Signal) (Notification, bool) {
	if len(sig.Body) != 2 {
		return Notification{}, false
	}
	key, ok1 := sig.Body[0].(string)
	detail, ok2 := sig.Body[1].(string)
	if !ok1 || !ok2 {
		return Notification{}, false
	}
	_, member := dbusutil.SplitName(sig.Name)
	return Notification{Kind: member, Key: key, Detail: detail}, true
}

func fromDBusOrNil(err error) error {
	if err == nil {
		return nil
	}
	return fromDBus(err)
}
