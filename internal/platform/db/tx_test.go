package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func openTestSQLite(t *testing.T) *SQLTxManager {
	t.Helper()
	ctx := context.Background()
	conn, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := conn.ExecContext(ctx, `CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return NewSQLTxManager(conn)
}

func countItems(t *testing.T, m *SQLTxManager) int {
	t.Helper()
	var n int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM item`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestSQLTxManager_Commit(t *testing.T) {
	m := openTestSQLite(t)
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		if SQLTxFromContext(ctx) == nil {
			t.Error("expected a transaction on the context")
		}
		_, err := SQLConn(ctx, m.db).ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := countItems(t, m); n != 1 {
		t.Errorf("expected 1 item, got %d", n)
	}
}

func TestSQLTxManager_RollbackOnError(t *testing.T) {
	m := openTestSQLite(t)
	boom := errors.New("boom")
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := SQLConn(ctx, m.db).ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countItems(t, m); n != 0 {
		t.Errorf("expected rollback, got %d items", n)
	}
}

func TestSQLTxManager_NestedJoinsOuter(t *testing.T) {
	m := openTestSQLite(t)
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		outer := SQLTxFromContext(ctx)
		return m.WithinTx(ctx, func(inner context.Context) error {
			if SQLTxFromContext(inner) != outer {
				t.Error("expected the nested call to reuse the outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	m := openTestSQLite(t)
	ctx := context.Background()
	if _, err := m.db.ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`); err != nil {
		t.Fatal(err)
	}
	_, err := m.db.ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`)
	if !IsUniqueViolation(err) {
		t.Errorf("expected a unique violation, got %v", err)
	}
	if IsUniqueViolation(errors.New("other")) || IsUniqueViolation(nil) {
		t.Error("expected plain errors not to match")
	}
	if IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrBusy}) {
		t.Error("expected busy errors not to match")
	}
}
