// Package store is the SQLite commit journal.
//
// A journal holds runs. Each run lists its committed steps in order, and
// each step its evaluated writes in record order together with the
// digest of the architectural state right after commit. Replay reads the
// steps back as engine checkpoints.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All ordering uses the step sequence number, never wall time, so reading
// a journal twice yields identical results.
package store
