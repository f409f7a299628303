// Package storage is the event store: users, events, subscriptions and the
// optional persisted reminder ledger.
//
// Drivers:
//   - "file": one JSON document {"users": {...}, "events": [...]} rewritten
//     atomically on every change, plus an append-only ledger journal
//   - "sqlite": modernc.org/sqlite with embedded golang-migrate migrations
//
// Reads are snapshot-consistent: a caller never observes a half-applied write.
package storage
