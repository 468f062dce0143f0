// Package notifications delivers pipeline alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Alerts cover session boundaries and pipeline failures; routine
// pipeline chatter stays in the logs.
//
// Extend this package if you need alternative transports; all pipeline code
// depends only on the simple Service interface.
package notifications
