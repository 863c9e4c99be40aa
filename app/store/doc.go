// Package store owns the embedded SQLite database of the ledger. It bootstraps the schema on open,
// runs in WAL mode and serializes every logical operation behind a single lock, so a multi-statement
// operation never interleaves with another one. Statement failures are returned wrapped into
// common.ErrStorage, a lock that can't be acquired before the caller's context is done into
// common.ErrLock.
package store
