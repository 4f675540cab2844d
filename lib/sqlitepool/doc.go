// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// energy store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection:
//
//   - journal_mode=WAL: readers never block the writer and see committed
//     data only.
//   - synchronous=NORMAL: commits survive a process crash; losing the
//     last few seconds of readings on power loss is acceptable because
//     the collector re-polls the devices.
//   - busy_timeout=5000: a second process touching the file waits for
//     the lock instead of failing with SQLITE_BUSY.
//   - cache_size=-8192, temp_store=MEMORY.
//
// # Readers and the writer
//
// Reads borrow any connection with [Pool.Take] and return it with
// [Pool.Put]. Writes go through [Pool.Write], which holds a pool-wide
// mutex for the duration of an IMMEDIATE transaction. All inserts,
// upserts, and deletes are therefore sequential with respect to each
// other inside the process, and the monotonic peak comparison in the
// daily summary upsert can never observe a half-applied write.
//
//	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO t (v) VALUES (?)",
//	        &sqlitex.ExecOptions{Args: []any{1}})
//	})
//
// [Pool.Vacuum] takes the writer lock too, since VACUUM needs exclusive
// access and cannot run inside a transaction.
package sqlitepool
