package sqlite

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

var testDBSeq atomic.Int64

// NewTestDB opens a migrated, private in-memory database that is closed when
// the test finishes.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:escrowfund-test-%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := New(dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
