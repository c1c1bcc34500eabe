// Package logging provides structured logging for settingsd.
//
// It is a thin layer over log/slog that tags every entry with the
// subsystem that produced it, so daemon output can be filtered per
// component:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Engine", "applied %s = %s", key, value)
//	logging.Warn("Sources", "source %s degraded", name)
//	logging.Error("Store", err, "failed to persist %s", key)
//
// Subsystems used by the daemon:
//
//   - Bootstrap: startup and shutdown
//   - Config: daemon configuration loading
//   - Store: config/state tree reads and writes
//   - Sources: adapter supervision
//   - Debounce, Engine: the reconciliation core
//   - Dispatch: subsystem handlers
//   - Control: the D-Bus control service
//
// When running under systemd, Init with FormatJSON produces one JSON
// object per line which journald stores verbatim.
package logging
