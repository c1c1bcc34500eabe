// Package dbusutil holds the small amount of glue shared by everything in
// settingsd that talks D-Bus: filtered signal subscriptions, property
// reads and classification of bus errors into transient and permanent.
package dbusutil
