// Package duckdb provides a DuckDB-backed implementation of the Message
// Store, grounded on go-mizu-mizu's store/duckdb blueprint: a thin wrapper
// over database/sql, schema loaded from an embedded DDL file, Ensure run
// once at startup.
package duckdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/relaywire/chatrelay/internal/store"
)

//go:embed schema.sql
var schemaDDL string

// Engine implements store.Store against a single DuckDB file.
type Engine struct {
	db *sql.DB
}

// New opens dbPath (a file path, or "" for an ephemeral in-memory database
// useful in tests) and ensures the schema exists.
func New(dbPath string) (*Engine, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	e := &Engine{db: db}
	if err := e.ensure(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensure(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("duckdb: schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// HighWater returns the largest stored nonce for qid, or 0 if none.
func (e *Engine) HighWater(ctx context.Context, qid []byte) (uint64, error) {
	var hw sql.NullInt64
	row := e.db.QueryRowContext(ctx, `SELECT max(nonce) FROM messages WHERE qid = ?`, qid)
	if err := row.Scan(&hw); err != nil {
		return 0, fmt.Errorf("duckdb: high_water: %w", err)
	}
	if !hw.Valid {
		return 0, nil
	}
	return uint64(hw.Int64), nil
}

// Append verifies the monotone nonce invariant and inserts the row in one
// transaction so the check-then-insert is atomic per qid.
func (e *Engine) Append(ctx context.Context, msg store.StoredMessage) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: append: begin: %w", err)
	}
	defer tx.Rollback()

	var hw sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT max(nonce) FROM messages WHERE qid = ?`, msg.QID)
	if err := row.Scan(&hw); err != nil {
		return fmt.Errorf("duckdb: append: high_water: %w", err)
	}
	var expected uint64 = 1
	if hw.Valid {
		expected = uint64(hw.Int64) + 1
	}
	if msg.Nonce != expected {
		return store.ErrNonceGap
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (qid, nonce, signature, content, content_iv) VALUES (?, ?, ?, ?, ?)`,
		msg.QID, msg.Nonce, msg.Signature, msg.Content, msg.ContentIV,
	); err != nil {
		return fmt.Errorf("duckdb: append: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: append: commit: %w", err)
	}
	return nil
}

// History returns messages with nonce >= fromNonce for qid, ascending, at
// most limit rows.
func (e *Engine) History(ctx context.Context, qid []byte, fromNonce uint64, limit int) ([]store.StoredMessage, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT nonce, signature, content, content_iv FROM messages
		 WHERE qid = ? AND nonce >= ? ORDER BY nonce ASC LIMIT ?`,
		qid, fromNonce, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("duckdb: history: %w", err)
	}
	defer rows.Close()

	var out []store.StoredMessage
	for rows.Next() {
		msg := store.StoredMessage{QID: qid}
		if err := rows.Scan(&msg.Nonce, &msg.Signature, &msg.Content, &msg.ContentIV); err != nil {
			return nil, fmt.Errorf("duckdb: history: scan: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: history: %w", err)
	}
	return out, nil
}
