package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// scanPageSize bounds how many rows one Scan query reads before the
// callback runs, so callbacks may issue further queries on the same tx.
const scanPageSize = 256

var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",    // readers never block the writer
	"synchronous(NORMAL)",
	"cache_size(-2000)",
	"temp_store(MEMORY)",
}

// sqliteEngine stores the key space in a single WITHOUT ROWID table.
// Writes go through a one-connection pool whose transactions begin
// IMMEDIATE; reads use a separate pool and see a WAL snapshot.
type sqliteEngine struct {
	writer *sql.DB
	reader *sql.DB
	o      Options
}

func sqliteDSN(path string, txlock string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", txlock)
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(path string, o Options) (*sqliteEngine, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite engine needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	writer, err := sql.Open("sqlite", sqliteDSN(path, "immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1) // Single writer connection for SQLite
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if _, err := writer.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID`); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	reader, err := sql.Open("sqlite", sqliteDSN(path, "deferred"))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	reader.SetMaxOpenConns(4)

	o.Logger.Debug("engine opened", "kind", KindSQLite, "path", path)
	return &sqliteEngine{writer: writer, reader: reader, o: o}, nil
}

func (e *sqliteEngine) Kind() string {
	return KindSQLite
}

func (e *sqliteEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	db := e.reader
	if writable {
		db = e.writer
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", err)
	}
	if !writable {
		// A deferred transaction takes its snapshot at the first read
		var one int
		err := tx.QueryRow(`SELECT 1 FROM kv LIMIT 1`).Scan(&one)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return nil, fmt.Errorf("sqlite snapshot: %w", err)
		}
	}
	return &sqliteTx{tx: tx, writable: writable}, nil
}

func (e *sqliteEngine) Close() error {
	rerr := e.reader.Close()
	if err := e.writer.Close(); err != nil {
		return err
	}
	return rerr
}

type sqliteTx struct {
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *sqliteTx) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	var v []byte
	err := t.tx.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t *sqliteTx) Set(key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.Exec(`INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (t *sqliteTx) Delete(key []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if _, err := t.tx.Exec(`DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

type kvRow struct {
	k, v []byte
}

func (t *sqliteTx) page(from []byte, inclusive bool, end []byte) ([]kvRow, error) {
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
	if end != nil {
		query += ` AND k < ?`
		args = append(args, end)
	}
	query += ` ORDER BY k LIMIT ?`
	args = append(args, scanPageSize)

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []kvRow
	for rows.Next() {
		var r kvRow
		if err := rows.Scan(&r.k, &r.v); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqliteTx) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxClosed
	}
	from, inclusive := start, true
	for {
		rows, err := t.page(from, inclusive, end)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.v == nil {
				r.v = []byte{}
			}
			if err := fn(r.k, r.v); err != nil {
				return err
			}
		}
		if len(rows) < scanPageSize {
			return nil
		}
		from, inclusive = rows[len(rows)-1].k, false
	}
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
