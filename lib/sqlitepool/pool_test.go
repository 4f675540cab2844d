// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/solarwatch/lib/sqlitepool"
)

const counterSchema = `
	CREATE TABLE IF NOT EXISTS counter (
		id    INTEGER PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO counter (id, value) VALUES (1, 0);
`

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	pool := openTestPool(t, counterSchema)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}

	if got := readCounter(t, pool); got != 0 {
		t.Errorf("counter = %d, want 0 from schema seed", got)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	pool := openTestPool(t, counterSchema)
	errBoom := errors.New("boom")

	err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE counter SET value = 42 WHERE id = 1", nil); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Write error = %v, want %v", err, errBoom)
	}

	if got := readCounter(t, pool); got != 0 {
		t.Errorf("counter = %d after rolled-back write, want 0", got)
	}
}

// Read-modify-write inside Write must not lose updates under contention
// because the writer lock serializes the whole transaction.
func TestWriteSerializesReadModifyWrite(t *testing.T) {
	pool := openTestPool(t, counterSchema)

	const writers = 16
	var waitGroup sync.WaitGroup
	errs := make(chan error, writers)

	for range writers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			errs <- pool.Write(context.Background(), func(conn *sqlite.Conn) error {
				var current int64
				err := sqlitex.Execute(conn, "SELECT value FROM counter WHERE id = 1", &sqlitex.ExecOptions{
					ResultFunc: func(stmt *sqlite.Stmt) error {
						current = stmt.ColumnInt64(0)
						return nil
					},
				})
				if err != nil {
					return err
				}
				return sqlitex.Execute(conn, "UPDATE counter SET value = ? WHERE id = 1", &sqlitex.ExecOptions{
					Args: []any{current + 1},
				})
			})
		}()
	}

	waitGroup.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Write: %v", err)
		}
	}

	if got := readCounter(t, pool); got != writers {
		t.Errorf("counter = %d, want %d", got, writers)
	}
}

func TestVacuum(t *testing.T) {
	pool := openTestPool(t, counterSchema)
	if err := pool.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}

func TestTakeWithCancelledContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context with pool exhausted")
	}

	pool.Put(conn)
}

func openTestPool(t *testing.T, schema string) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 4,
		Schema:   schema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

func readCounter(t *testing.T, pool *sqlitepool.Pool) int64 {
	t.Helper()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var value int64
	err = sqlitex.Execute(conn, "SELECT value FROM counter WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	return value
}
