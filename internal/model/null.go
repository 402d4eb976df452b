package model

import "database/sql"

// NullID is a nullable foreign-key value as read from the store.
type NullID struct {
	ID    int64
	Valid bool
}

// Ref returns a valid NullID pointing at id.
func Ref(id int64) NullID {
	return NullID{ID: id, Valid: true}
}

// SQL converts to the database/sql scan/exec representation.
func (n NullID) SQL() sql.NullInt64 {
	return sql.NullInt64{Int64: n.ID, Valid: n.Valid}
}

// FromSQL converts from the database/sql representation.
func FromSQL(v sql.NullInt64) NullID {
	return NullID{ID: v.Int64, Valid: v.Valid}
}

// Equal reports whether two nullable ids are the same value
// (both null, or both the same id).
func (n NullID) Equal(o NullID) bool {
	if n.Valid != o.Valid {
		return false
	}
	return !n.Valid || n.ID == o.ID
}
