package filter

// Expr represents a filter over one resource.
//
// Expression types:
//   - Eq, Ne: field compared to a literal value
//   - In: field contained in an id list
//   - IsNull, NotNull: nullable field tests
//   - And, Or: conjunction and disjunction
//   - Any: existential traversal into a related resource
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Eq matches rows whose field equals a literal value.
// Supported value types: string, int, int64, bool.
type Eq struct {
	Field string
	Value any
}

func (Eq) exprNode() {}

// Ne matches rows whose field differs from a literal value.
// NULL fields never match either side of the comparison; combine with
// IsNull explicitly when null rows should be included.
type Ne struct {
	Field string
	Value any
}

func (Ne) exprNode() {}

// In matches rows whose field is one of the given ids.
// An empty id list matches nothing.
type In struct {
	Field string
	IDs   []int64
}

func (In) exprNode() {}

// IsNull matches rows whose nullable field is null.
type IsNull struct {
	Field string
}

func (IsNull) exprNode() {}

// NotNull matches rows whose nullable field is set.
type NotNull struct {
	Field string
}

func (NotNull) exprNode() {}

// And matches rows satisfying every child expression.
// An empty child list is vacuously true.
type And struct {
	Exprs []Expr
}

func (And) exprNode() {}

// Or matches rows satisfying at least one child expression.
// An empty child list matches nothing.
type Or struct {
	Exprs []Expr
}

func (Or) exprNode() {}

// Any matches rows for which at least one row of a related resource
// exists. Local names the field on the filtered resource, Foreign the
// field on the related resource; the two are joined by equality. Where
// further constrains the related rows and may itself contain Any,
// giving nested relation traversal.
//
// Example - services that ship in release 9:
//
//	Any{
//	  Resource: "images",
//	  Local:    "id",
//	  Foreign:  "service_id",
//	  Where:    Eq{Field: "release_id", Value: int64(9)},
//	}
type Any struct {
	Resource string
	Local    string
	Foreign  string
	Where    Expr // nil = no extra constraint
}

func (Any) exprNode() {}

// IDIn is shorthand for an explicit id-list filter over the primary key.
func IDIn(ids ...int64) In {
	return In{Field: "id", IDs: ids}
}
