package db

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// SQLiteTimeLayout is the fixed-width UTC layout used for SQLite timestamp
// columns. Fixed width keeps lexical comparison in SQL equal to time order.
const SQLiteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteTime formats t for storage in SQLite.
func SQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeLayout)
}

// SQLiteNullTime formats an optional time, returning nil for NULL.
func SQLiteNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return SQLiteTime(*t)
}

// ParseSQLiteTime parses a value written by SQLiteTime.
func ParseSQLiteTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(SQLiteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "db: parse sqlite time %q", s)
	}
	return t, nil
}

// ParseSQLiteNullTime parses a nullable column written by SQLiteTime.
func ParseSQLiteNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := ParseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
