package settings

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the type of a setting value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
	KindEnum
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Value is an immutable typed setting value. The zero Value is an empty
// bool and is never produced by the decoders.
type Value struct {
	kind Kind
	b    bool
	i    int
	s    string
	rec  map[string]string
}

func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func IntValue(i int) Value       { return Value{kind: KindInt, i: i} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func EnumValue(s string) Value   { return Value{kind: KindEnum, s: s} }

// RecordValue copies m so later mutation by the caller has no effect.
func RecordValue(m map[string]string) Value {
	return Value{kind: KindRecord, rec: maps.Clone(m)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) Bool() bool { return v.b }
func (v Value) Int() int   { return v.i }

// Str returns the payload of string and enum values.
func (v Value) Str() string { return v.s }

// Field returns one field of a record value.
func (v Value) Field(name string) string { return v.rec[name] }

// Record returns a copy of a record value's fields.
func (v Value) Record() map[string]string { return maps.Clone(v.rec) }

// Equal compares kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindString, KindEnum:
		return v.s == o.s
	case KindRecord:
		return maps.Equal(v.rec, o.rec)
	}
	return false
}

// String renders the value for logs and tables.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.Itoa(v.i)
	case KindString, KindEnum:
		return v.s
	case KindRecord:
		keys := slices.Sorted(maps.Keys(v.rec))
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+v.rec[k])
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// Encode produces the on-disk and wire form of the value, a YAML document.
func Encode(v Value) ([]byte, error) {
	var native any
	switch v.kind {
	case KindBool:
		native = v.b
	case KindInt:
		native = v.i
	case KindString, KindEnum:
		native = v.s
	case KindRecord:
		if v.rec == nil {
			native = map[string]string{}
		} else {
			native = v.rec
		}
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", v.kind)
	}
	return yaml.Marshal(native)
}

// Decode parses data written by Encode (or by hand) as a value of kind.
func Decode(kind Kind, data []byte) (Value, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Value{}, fmt.Errorf("empty %s value", kind)
	}
	switch kind {
	case KindBool:
		var b bool
		if err := yaml.Unmarshal(data, &b); err != nil {
			return Value{}, fmt.Errorf("decode bool: %w", err)
		}
		return BoolValue(b), nil
	case KindInt:
		var i int
		if err := yaml.Unmarshal(data, &i); err != nil {
			return Value{}, fmt.Errorf("decode int: %w", err)
		}
		return IntValue(i), nil
	case KindString, KindEnum:
		var s string
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Value{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		if kind == KindEnum {
			return EnumValue(s), nil
		}
		return StringValue(s), nil
	case KindRecord:
		var m map[string]string
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Value{}, fmt.Errorf("decode record: %w", err)
		}
		if m == nil {
			m = map[string]string{}
		}
		return RecordValue(m), nil
	}
	return Value{}, fmt.Errorf("unknown kind %d", kind)
}

// Format is Encode without the trailing newline, used on the control bus.
func Format(v Value) string {
	data, err := Encode(v)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\n")
}
