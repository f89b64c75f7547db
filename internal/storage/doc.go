package storage

// Package storage persists the bounded event log across restarts.
//
// It currently supports:
//   - Event journal appends (one record per recorded event)
//   - Periodic full snapshots (journal is compacted into the snapshot)
