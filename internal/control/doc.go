// Package control exposes the daemon on D-Bus and provides the client
// used by the command line.
//
// The service is dev.settingsd.Daemon1 at /dev/settingsd/Daemon1 with
// methods Get, Set, Step, Invoke and Status, and the signals
// Changed(key, value) and Failed(key, reason). Set, Step and Invoke only
// queue a change; the outcome arrives as a signal.
package control
