// Package state persists the bridge daemon's durable records: the
// conversation-to-thread mappings, the all-time seen and mirrored-archive
// conversation sets, per-thread activity stamps, the explicit-archive set,
// the per-workspace channel binding, and stored secrets.
//
// Two implementations are provided: SQLiteStore (modernc.org/sqlite, WAL
// mode, one file per workspace) and MockStore for tests. Every method is
// safe for concurrent use; absent rows surface as ErrNotFound.
//
// Mapping invariants enforced here:
//
//   - conversation_id and thread_id are each unique (ErrDuplicateMapping)
//   - claimed_at is stamped at most once; later MarkClaimed calls are no-ops
//   - rows are never deleted; stale threads are flagged, not removed
package state
