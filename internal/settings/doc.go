// Package settings defines the reconciled keys of the daemon: their
// identity, value types, defaults, validation, relative steps and the
// downstream operation each accepted value maps to.
//
// The set of keys is fixed when the daemon starts. Builtin returns the
// desktop keys; the action table adds one counter key per named system
// action through ActionSchema.
package settings
