// Package store provides the record store adapter for scan records.
//
// Every backend implements RecordStore, an append-only log keyed by user:
//   - Append: insert a record; the store assigns ID and insertion sequence
//   - FindByUser: all records for a user
//   - FindPage: a window of a user's records
//   - CountByUser: number of records for a user
//
// # Ordering
//
// Every read returns records newest first: ORDER BY timestamp DESC, seq DESC.
// seq is the store's insertion counter, so two records with identical
// timestamps come back in reverse insertion order on every call.
//
// # Backends
//
//   - Store: SQLite in WAL mode (default, single file)
//   - Mongo: MongoDB collection plus a counters collection for seq
//   - Memory: process-local slice, used by tests and the memory driver
//
// Records are never updated or deleted through this package.
package store
