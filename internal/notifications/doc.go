// Package notifications delivers run events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Success and
// failure events can be muted independently with notifications.on_success and
// notifications.on_failure.
package notifications
