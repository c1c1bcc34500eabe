package settings

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the fixed set of reconciled keys.
type Registry struct {
	schemas map[Key]*Schema
	keys    []Key
}

// NewRegistry validates the schemas and indexes them by key.
func NewRegistry(schemas ...Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[Key]*Schema, len(schemas))}
	for i := range schemas {
		s := schemas[i]
		if s.Key.IsZero() {
			return nil, fmt.Errorf("schema %d has no key", i)
		}
		if _, dup := r.schemas[s.Key]; dup {
			return nil, fmt.Errorf("duplicate schema for %s", s.Key)
		}
		if err := s.Check(s.Default); err != nil {
			return nil, fmt.Errorf("invalid default: %w", err)
		}
		r.schemas[s.Key] = &s
		r.keys = append(r.keys, s.Key)
	}
	sort.Slice(r.keys, func(i, j int) bool {
		return r.keys[i].String() < r.keys[j].String()
	})
	return r, nil
}

// MustRegistry panics on invalid schemas; used for the built-in set.
func MustRegistry(schemas ...Schema) *Registry {
	r, err := NewRegistry(schemas...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the schema for k.
func (r *Registry) Lookup(k Key) (*Schema, bool) {
	s, ok := r.schemas[k]
	return s, ok
}

// Resolve parses a key string and looks it up.
func (r *Registry) Resolve(key string) (*Schema, error) {
	k, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	s, ok := r.schemas[k]
	if !ok {
		return nil, fmt.Errorf("unknown setting %s", k)
	}
	return s, nil
}

// Keys returns all keys in lexical order.
func (r *Registry) Keys() []Key {
	out := make([]Key, len(r.keys))
	copy(out, r.keys)
	return out
}

// InTree returns the keys stored under tree.
func (r *Registry) InTree(tree Tree) []Key {
	var out []Key
	for _, k := range r.keys {
		if r.schemas[k].Tree == tree {
			out = append(out, k)
		}
	}
	return out
}

// Namespaces lists the distinct namespaces in lexical order.
func (r *Registry) Namespaces() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range r.keys {
		if !seen[k.Namespace] {
			seen[k.Namespace] = true
			out = append(out, k.Namespace)
		}
	}
	return out
}

// Defaults returns the default value of every key.
func (r *Registry) Defaults() map[Key]Value {
	out := make(map[Key]Value, len(r.keys))
	for _, k := range r.keys {
		out[k] = r.schemas[k].Default
	}
	return out
}

func (r *Registry) String() string {
	parts := make([]string, len(r.keys))
	for i, k := range r.keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, " ")
}
