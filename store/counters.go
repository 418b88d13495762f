package store

import (
	"context"
	"time"
)

// CounterKey identifies one allocation scope: entity kind, calendar year and owner.
type CounterKey struct {
	Kind  string
	Year  string
	Owner string
}

type Counter struct {
	CounterKey
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadCounter returns the last value issued for key. found is false when the
// scope has never been allocated from.
func (tx *Tx) ReadCounter(ctx context.Context, key CounterKey) (value int64, found bool, err error) {
	err = tx.queryRow(ctx, `SELECT counter FROM id_counters WHERE kind=? AND year=? AND owner=?`,
		key.Kind, key.Year, key.Owner).Scan(&value)
	if err != nil {
		err = classify("read counter", err)
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

// InsertCounter creates the row for key holding value. It returns ErrConflict
// if another writer created the row first.
func (tx *Tx) InsertCounter(ctx context.Context, key CounterKey, value int64) error {
	return tx.execCAS(ctx, "insert counter",
		`INSERT INTO id_counters (kind, year, owner, counter) VALUES (?, ?, ?, ?) ON CONFLICT (kind, year, owner) DO NOTHING`,
		key.Kind, key.Year, key.Owner, value)
}

// SwapCounter moves the counter for key from old to next. It returns
// ErrConflict if the stored value is no longer old.
func (tx *Tx) SwapCounter(ctx context.Context, key CounterKey, old, next int64) error {
	return tx.execCAS(ctx, "swap counter",
		`UPDATE id_counters SET counter=?, updated_at=datetime('now','localtime') WHERE kind=? AND year=? AND owner=? AND counter=?`,
		next, key.Kind, key.Year, key.Owner, old)
}

// ListCounters returns every counter row, optionally narrowed to one kind.
func (tx *Tx) ListCounters(ctx context.Context, kind string) ([]*Counter, error) {
	q := `SELECT kind, year, owner, counter, updated_at FROM id_counters`
	var args []any
	if kind != "" {
		q += ` WHERE kind=?`
		args = append(args, kind)
	}
	q += ` ORDER BY kind, year, owner`
	rows, err := tx.query(ctx, q, args...)
	if err != nil {
		return nil, classify("list counters", err)
	}
	defer rows.Close()
	var out []*Counter
	for rows.Next() {
		var c Counter
		var updatedAt any
		if err := rows.Scan(&c.Kind, &c.Year, &c.Owner, &c.Value, &updatedAt); err != nil {
			return nil, classify("scan counter", err)
		}
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, &c)
	}
	return out, classify("list counters", rows.Err())
}
