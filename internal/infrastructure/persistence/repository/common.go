package repository

import (
	"database/sql"
	"time"
)

// now is the timestamp written to created_at/updated_at columns
func now() time.Time {
	return time.Now().UTC()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
