package settings

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Key identifies a setting by namespace, schema version and name. Its
// string form doubles as the relative path of the setting in the store,
// e.g. "audio/v1/volume".
type Key struct {
	Namespace string
	Version   int
	Name      string
}

// NewKey is shorthand for a version 1 key.
func NewKey(namespace, name string) Key {
	return Key{Namespace: namespace, Version: 1, Name: name}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/v%d/%s", k.Namespace, k.Version, k.Name)
}

// Path returns the key's location relative to a store root.
func (k Key) Path() string {
	return filepath.Join(k.Namespace, fmt.Sprintf("v%d", k.Version), k.Name)
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Namespace == "" && k.Name == ""
}

// ParseKey parses "namespace/vN/name". Path separators of the host are
// accepted as well so relative file paths can be passed directly.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(filepath.ToSlash(s), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid key %q: expected namespace/vN/name", s)
	}
	ns, ver, name := parts[0], parts[1], parts[2]
	if ns == "" || name == "" {
		return Key{}, fmt.Errorf("invalid key %q: empty namespace or name", s)
	}
	if !strings.HasPrefix(ver, "v") {
		return Key{}, fmt.Errorf("invalid key %q: version must look like v1", s)
	}
	n, err := strconv.Atoi(ver[1:])
	if err != nil || n < 1 {
		return Key{}, fmt.Errorf("invalid key %q: bad version %q", s, ver)
	}
	return Key{Namespace: ns, Version: n, Name: name}, nil
}
