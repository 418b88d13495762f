package store

import (
	"fmt"
	"strings"
	"time"
)

// Dialect covers what differs between the SQL backends. Queries are written
// once in SQLite form and rewritten through Q.
type Dialect interface {
	Name() string
	Schema() string
	// Now is the current-timestamp expression.
	Now() string
	// Bind rewrites ? placeholders into the driver's form.
	Bind(query string) string
	// TimeArg converts t into what the timestamp columns hold.
	TimeArg(t time.Time) any
}

// sqliteNow is the timestamp expression queries are written with.
const sqliteNow = "datetime('now','localtime')"

type sqliteDialect struct{}

func (sqliteDialect) Name() string             { return "sqlite" }
func (sqliteDialect) Schema() string           { return schemaSQLite }
func (sqliteDialect) Now() string              { return sqliteNow }
func (sqliteDialect) Bind(query string) string { return query }
func (sqliteDialect) TimeArg(t time.Time) any  { return t.Local().Format(sqliteTimeLayout) }

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Schema() string           { return schemaPostgres }
func (postgresDialect) Now() string              { return "NOW()" }
func (postgresDialect) Bind(query string) string { return Rebind(query) }
func (postgresDialect) TimeArg(t time.Time) any  { return t }

const sqliteTimeLayout = "2006-01-02 15:04:05"

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		if parsed, err := time.ParseInLocation(sqliteTimeLayout, t, time.Local); err == nil {
			return parsed
		}
		for _, layout := range []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02 15:04:05-07:00",
			"2006-01-02 15:04:05.999999-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for zero/missing timestamps.
func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
