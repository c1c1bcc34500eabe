package events

import "github.com/zoobzio/capitan"

// Setting signals.
var (
	// SettingChanged is emitted once per confirmed transition.
	SettingChanged = capitan.NewSignal(
		"settingsd.setting.changed",
		"Setting applied and persisted",
	)

	// SettingFailed is emitted once per abandoned transition.
	SettingFailed = capitan.NewSignal(
		"settingsd.setting.failed",
		"Setting reverted after failure",
	)

	// SettingRetrying is emitted when a transient failure schedules a retry.
	SettingRetrying = capitan.NewSignal(
		"settingsd.setting.retrying",
		"Setting dispatch retry scheduled",
	)
)

// Source signals.
var (
	// SourceDegraded is emitted when a source keeps failing to subscribe.
	SourceDegraded = capitan.NewSignal(
		"settingsd.source.degraded",
		"Event source degraded",
	)

	// SourceRecovered is emitted when a degraded source subscribes again.
	SourceRecovered = capitan.NewSignal(
		"settingsd.source.recovered",
		"Event source recovered",
	)
)

// Field keys carried by the signals.
var (
	KeyKey      = capitan.NewStringKey("key")
	KeyValue    = capitan.NewStringKey("value")
	KeyOrigin   = capitan.NewStringKey("origin")
	KeyError    = capitan.NewStringKey("error")
	KeyAttempt  = capitan.NewIntKey("attempt")
	KeyDelay    = capitan.NewDurationKey("delay")
	KeySource   = capitan.NewStringKey("source")
	KeyFailures = capitan.NewIntKey("failures")
)
