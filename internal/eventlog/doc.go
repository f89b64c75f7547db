// Package eventlog holds the in-memory core of btmon: the immutable Event
// record, a fixed-capacity thread-safe ring buffer of events, and a small
// access monitor for the log's own operation latencies.
//
// The log is deliberately bounded and lossy under pressure: once full, each
// append evicts the oldest resident event. Readers always work on snapshot
// copies; the lock is never held while caller code runs.
package eventlog
