package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// scanBatch is the number of rows fetched per query while scanning.
const scanBatch = 256

// SQLiteKV stores keys in a single WITHOUT ROWID table. BLOB comparison in
// SQLite is memcmp, so key order matches the other engines.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database file at path. ":memory:" gives
// a private in-memory database.
func OpenSQLite(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS kv (k BLOB PRIMARY KEY, v BLOB) WITHOUT ROWID`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (s *SQLiteKV) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(&sqliteTx{ctx: ctx, tx: tx})
}

func (s *SQLiteKV) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx, writable: true}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

func (t *sqliteTx) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (t *sqliteTx) Set(key, val []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, val)
	return err
}

func (t *sqliteTx) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

// Scan reads in batches and closes each result set before calling fn, so
// fn may issue further reads on the same transaction.
func (t *sqliteTx) Scan(prefix, start []byte, fn func(key, val []byte) bool) error {
	from := prefix
	if string(start) > string(prefix) {
		from = start
	}
	upper := prefixEnd(prefix)
	inclusive := true

	for {
		rows, err := t.page(from, upper, inclusive)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !fn(r.k, r.v) {
				return nil
			}
		}
		if len(rows) < scanBatch {
			return nil
		}
		from = rows[len(rows)-1].k
		inclusive = false
	}
}

type kvRow struct{ k, v []byte }

func (t *sqliteTx) page(from, upper []byte, inclusive bool) ([]kvRow, error) {
	op := ">"
	if inclusive {
		op = ">="
	}
	query := `SELECT k, v FROM kv WHERE 1 = 1`
	var args []any
	if len(from) > 0 {
		query += ` AND k ` + op + ` ?`
		args = append(args, from)
	}
	if upper != nil {
		query += ` AND k < ?`
		args = append(args, upper)
	}
	query += fmt.Sprintf(` ORDER BY k LIMIT %d`, scanBatch)

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kvRow
	for rows.Next() {
		var r kvRow
		if err := rows.Scan(&r.k, &r.v); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
