package settings

import (
	"fmt"
	"slices"
)

// Tree selects which store root a setting lives under.
type Tree int

const (
	// TreeConfig holds user intent, written by users and the daemon.
	TreeConfig Tree = iota
	// TreeState holds values observed from hardware and services.
	TreeState
	// TreeNone is never persisted.
	TreeNone
)

func (t Tree) String() string {
	switch t {
	case TreeConfig:
		return "config"
	case TreeState:
		return "state"
	default:
		return "none"
	}
}

// Origin names of the sources an event can come from. Plan functions use
// them to skip pushing a value back to the service that reported it.
const (
	OriginConfigStore = "configstore"
	OriginStateStore  = "statestore"
	OriginControl     = "control"
	OriginPower       = "power"
	OriginDayCycle    = "daycycle"
	OriginHotplug     = "hotplug"
	OriginLocaled     = "localed"
	OriginRollback    = "rollback"
)

// Plan is the downstream operation that realizes a value.
type Plan struct {
	Subsystem string
	Operation string
	Args      map[string]string
}

// PlanContext gives plan functions the event origin and read access to
// the engine's desired state for cross-key decisions.
type PlanContext struct {
	Origin string
	Lookup func(Key) (Value, bool)
}

func (pc PlanContext) lookup(k Key) (Value, bool) {
	if pc.Lookup == nil {
		return Value{}, false
	}
	return pc.Lookup(k)
}

// Schema describes one reconciled key.
type Schema struct {
	Key         Key
	Kind        Kind
	Default     Value
	Description string
	Tree        Tree

	// Min and Max bound int values when Max > Min.
	Min, Max int
	// Options lists the allowed enum values.
	Options []string

	// Validate runs after the built-in kind and range checks.
	Validate func(Value) error
	// Step applies a relative change. Nil means the key rejects steps.
	Step func(current Value, delta int) Value
	// Plan maps an accepted value to a downstream operation. Returning
	// false commits the value without dispatching anything.
	Plan func(v Value, pc PlanContext) (Plan, bool)
}

// Persisted reports whether accepted values are written to the store.
func (s *Schema) Persisted() bool {
	return s.Tree != TreeNone
}

// Check validates v against the schema.
func (s *Schema) Check(v Value) error {
	if v.Kind() != s.Kind {
		return fmt.Errorf("%s: expected %s value, got %s", s.Key, s.Kind, v.Kind())
	}
	switch s.Kind {
	case KindInt:
		if s.Max > s.Min && (v.Int() < s.Min || v.Int() > s.Max) {
			return fmt.Errorf("%s: %d out of range [%d, %d]", s.Key, v.Int(), s.Min, s.Max)
		}
	case KindEnum:
		if !slices.Contains(s.Options, v.Str()) {
			return fmt.Errorf("%s: %q is not one of %v", s.Key, v.Str(), s.Options)
		}
	}
	if s.Validate != nil {
		if err := s.Validate(v); err != nil {
			return fmt.Errorf("%s: %w", s.Key, err)
		}
	}
	return nil
}

// ApplyStep resolves a relative change against current.
func (s *Schema) ApplyStep(current Value, delta int) (Value, error) {
	if s.Step == nil {
		return Value{}, fmt.Errorf("%s does not accept relative changes", s.Key)
	}
	return s.Step(current, delta), nil
}

// PlanFor returns the operation for v, if any.
func (s *Schema) PlanFor(v Value, pc PlanContext) (Plan, bool) {
	if s.Plan == nil {
		return Plan{}, false
	}
	return s.Plan(v, pc)
}

// Parse decodes a textual value for this key and validates it.
func (s *Schema) Parse(text string) (Value, error) {
	v, err := Decode(s.Kind, []byte(text))
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", s.Key, err)
	}
	if err := s.Check(v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// clampStep is the Step function of bounded int keys.
func clampStep(min, max int) func(Value, int) Value {
	return func(cur Value, delta int) Value {
		n := cur.Int() + delta
		if n < min {
			n = min
		}
		if n > max {
			n = max
		}
		return IntValue(n)
	}
}

// toggleStep flips a bool once per odd delta.
func toggleStep(cur Value, delta int) Value {
	if delta%2 == 0 {
		return cur
	}
	return BoolValue(!cur.Bool())
}

// counterStep is used by action keys, whose value counts invocations.
func counterStep(cur Value, delta int) Value {
	return IntValue(cur.Int() + delta)
}
