package store

import (
	"context"
	"database/sql"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx runs statements either inside one database transaction (WithTx) or
// directly against the pool (Direct), where each statement commits alone.
//
// With SQLite the pool holds a single connection, so code running inside
// WithTx must only use the Tx it was handed.
type Tx struct {
	db *DB
	q  querier
}

// Direct returns a Tx whose statements autocommit individually.
func (db *DB) Direct() *Tx {
	return &Tx{db: db, q: db.DB}
}

// WithTx runs fn inside a transaction. The transaction commits if fn returns
// nil and rolls back otherwise. Errors from fn are returned unchanged.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{db: db, q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (tx *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.q.ExecContext(ctx, tx.db.Q(query), args...)
}

func (tx *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.q.QueryContext(ctx, tx.db.Q(query), args...)
}

func (tx *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.q.QueryRowContext(ctx, tx.db.Q(query), args...)
}

// execCAS runs a conditional write and reports ErrConflict when it matched no row.
func (tx *Tx) execCAS(ctx context.Context, op, query string, args ...any) error {
	res, err := tx.exec(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return classify(op, ErrConflict)
	}
	return nil
}

// execCount runs a write and returns the number of rows it touched.
func (tx *Tx) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := tx.exec(ctx, query, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}
