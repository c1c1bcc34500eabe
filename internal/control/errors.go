package control

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/actions"
	"settingsd/internal/dbusutil"
)

// D-Bus error names returned by the service.
const (
	ErrorUnknownKey    = Interface + ".Error.UnknownKey"
	ErrorInvalidValue  = Interface + ".Error.InvalidValue"
	ErrorUnknownAction = Interface + ".Error.UnknownAction"
	ErrorUnavailable   = Interface + ".Error.Unavailable"
)

var (
	// ErrUnknownKey is returned for keys that are not registered.
	ErrUnknownKey = errors.New("unknown setting")

	// ErrInvalidValue is returned when a value does not parse or validate.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnavailable is returned when the daemon is shutting down.
	ErrUnavailable = errors.New("daemon unavailable")
)

var errorNames = []struct {
	err  error
	name string
}{
	{ErrUnknownKey, ErrorUnknownKey},
	{ErrInvalidValue, ErrorInvalidValue},
	{actions.ErrUnknownAction, ErrorUnknownAction},
	{ErrUnavailable, ErrorUnavailable},
}

// toDBus converts a service error into a D-Bus error reply.
func toDBus(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			return dbus.NewError(e.name, []interface{}{err.Error()})
		}
	}
	return dbus.MakeFailedError(err)
}

// fromDBus maps a D-Bus error reply back to the sentinel it came from,
// keeping the server's message.
func fromDBus(err error) error {
	name, ok := dbusutil.ErrorName(err)
	if !ok {
		return err
	}
	for _, e := range errorNames {
		if name == e.name {
			return &RemoteError{Name: name, Message: err.Error(), sentinel: e.err}
		}
	}
	return &RemoteError{Name: name, Message: err.Error()}
}

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Name     string
	Message  string
	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.sentinel }
