// Package notifier delivers short operator messages about generation events.
//
// The service subscribes to the event bus, formats generation.* and
// template.exhausted events into one-line messages and pushes them through a
// queue, a worker pool, a token-bucket rate limiter and a bounded retry loop
// to a Sender (Telegram in production).
//
// # Dedup
//
// Identical messages to the same target are suppressed for DedupWindow, so a
// template that fails on every tick produces one alert, not one per minute.
//
// # History
//
// The service keeps a small in-memory history of sent messages for the CLI
// status view and tests.
package notifier
