// Package store persists setting values as one small YAML file per key.
//
// Two roots are used: the config tree for user intent and the state tree
// for values observed from hardware and services. Loading never fails
// because of a single bad file; the key falls back to its default and the
// problem is returned as a config.ConfigurationError.
package store
