// Package app wires and runs the settings daemon.
//
// Bootstrap (bootstrap.go) configures logging, loads daemon.yaml and
// hands over to InitializeServices (services.go), which builds the
// pipeline:
//
//	sources.Supervisor -> reconciler.Ingress -> reconciler.Debouncer
//	    -> reconciler.Engine -> dispatch.Router
//
// with the store as the engine's persister and the event recorder and
// control service as its observers.
//
// Run (run.go) starts one goroutine per component in an errgroup, reports
// readiness and watchdog pings to systemd, and shuts down on SIGINT or
// SIGTERM. The engine drains in-flight actions before Run returns.
package app
