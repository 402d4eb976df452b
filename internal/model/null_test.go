package model

import (
	"database/sql"
	"testing"
)

func TestNullIDRoundTrip(t *testing.T) {
	set := Ref(7)
	if !set.Valid || set.ID != 7 {
		t.Fatalf("Ref(7) = %+v", set)
	}

	sqlVal := set.SQL()
	if !sqlVal.Valid || sqlVal.Int64 != 7 {
		t.Fatalf("SQL() = %+v", sqlVal)
	}
	if got := FromSQL(sqlVal); got != set {
		t.Errorf("FromSQL(SQL()) = %+v, want %+v", got, set)
	}

	var unset NullID
	if unset.SQL().Valid {
		t.Error("zero NullID should map to SQL NULL")
	}
	if got := FromSQL(sql.NullInt64{}); got.Valid {
		t.Errorf("FromSQL(NULL) = %+v, want invalid", got)
	}
}

func TestNullIDEqual(t *testing.T) {
	tests := []struct {
		a, b NullID
		want bool
	}{
		{Ref(1), Ref(1), true},
		{Ref(1), Ref(2), false},
		{NullID{}, NullID{}, true},
		{Ref(1), NullID{}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%+v.Equal(%+v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
