package config

import (
	"fmt"
	"strings"
	"time"

	"settingsd/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks a loaded configuration. Problems that have a sensible
// fallback are logged instead of reported.
func Validate(c DaemonConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.Add("logLevel", err.Error(), c.LogLevel)
	}
	if err := ValidateOneOf("logFormat", c.LogFormat, []string{"text", "json"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	e := c.Engine
	if e.DebounceWindow.Std() < 0 {
		errs.Add("engine.debounceWindow", "must not be negative", e.DebounceWindow.String())
	}
	if e.MaxAttempts < 1 {
		errs.Add("engine.maxAttempts", "must be at least 1", e.MaxAttempts)
	}
	if e.InitialBackoff.Std() <= 0 {
		errs.Add("engine.initialBackoff", "must be positive", e.InitialBackoff.String())
	}
	if e.MaxBackoff.Std() < e.InitialBackoff.Std() {
		errs.Add("engine.maxBackoff", "must not be smaller than initialBackoff", e.MaxBackoff.String())
	}
	if e.DrainTimeout.Std() < 0 {
		errs.Add("engine.drainTimeout", "must not be negative", e.DrainTimeout.String())
	}
	if e.QueueSize < 1 {
		errs.Add("engine.queueSize", "must be at least 1", e.QueueSize)
	}

	s := c.Sources
	if s.DegradedAfter < 1 {
		errs.Add("sources.degradedAfter", "must be at least 1", s.DegradedAfter)
	}
	if s.ResubscribeMax.Std() < time.Second {
		errs.Add("sources.resubscribeMax", "must be at least 1s", s.ResubscribeMax.String())
	}
	if loc := s.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 {
			errs.Add("sources.location.latitude", "must be within [-90, 90]", loc.Latitude)
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			errs.Add("sources.location.longitude", "must be within [-180, 180]", loc.Longitude)
		}
	}

	for subsystem, n := range c.Dispatch.Concurrency {
		if n < 1 {
			errs.Add("dispatch.concurrency."+subsystem, "must be at least 1", n)
		}
	}
	for name, argv := range c.Dispatch.Commands {
		if !strings.Contains(name, ".") {
			errs.Add("dispatch.commands."+name, "must be named subsystem.operation")
		}
		if len(argv) == 0 {
			errs.Add("dispatch.commands."+name, "argv must not be empty")
		}
	}
	if c.Dispatch.BatteryNagInterval.Std() < time.Second {
		errs.Add("dispatch.batteryNagInterval", "must be at least 1s", c.Dispatch.BatteryNagInterval.String())
	}
	for id, argv := range c.Actions {
		if len(argv) == 0 {
			errs.Add("actions."+id, "argv must not be empty")
		}
	}

	if err := ValidateOneOf("control.bus", c.Control.Bus, []string{"session", "system"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	return errs
}
