package harnessstore

import (
	"database/sql"

	"github.com/lib/pq"
)

// nullString returns a NULL-able string for optional text columns.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullJSON returns a NULL-able jsonb value for optional json columns.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// pqStringArray adapts a []string for a Postgres text[] column. lib/pq's
// array support works over plain database/sql regardless of which
// underlying driver registered the connection, so it composes with the
// pgx stdlib driver used everywhere else in this package.
func pqStringArray(items []string) any {
	if items == nil {
		items = []string{}
	}
	return pq.Array(items)
}

func pqStringArrayScanner(dest *[]string) any {
	return pq.Array(dest)
}
