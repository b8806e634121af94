// Package mapping converts between domain values and database scan types.
package mapping

import "database/sql"

// ValueToSQLNullString treats the empty string as NULL.
func ValueToSQLNullString(value string) sql.NullString {
	return sql.NullString{
		String: value,
		Valid:  value != "",
	}
}

// SQLNullStringToValue returns the empty string for NULL.
func SQLNullStringToValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// Pointer returns a pointer to v.
func Pointer[T any](v T) *T {
	return &v
}

// Value dereferences p, returning the zero value for nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
