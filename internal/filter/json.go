package filter

import (
	"encoding/json"
	"fmt"
)

// JSON wire encoding for filter expressions. Each node serializes as a
// single-key object naming the operator, mirroring the query language
// the device control plane accepts:
//
//	{"$and": [
//	  {"$in":   {"field": "application_id", "ids": [1, 2]}},
//	  {"$null": {"field": "target_release_id"}}
//	]}
//
// Only marshalling is implemented here; the control plane is the
// consumer and fleetd never parses filters off the wire.

// MarshalJSON implements json.Marshaler.
func (e Eq) MarshalJSON() ([]byte, error) {
	return marshalOp("$eq", fieldValue{Field: e.Field, Value: e.Value})
}

// MarshalJSON implements json.Marshaler.
func (e Ne) MarshalJSON() ([]byte, error) {
	return marshalOp("$ne", fieldValue{Field: e.Field, Value: e.Value})
}

// MarshalJSON implements json.Marshaler.
func (e In) MarshalJSON() ([]byte, error) {
	ids := e.IDs
	if ids == nil {
		ids = []int64{}
	}
	return marshalOp("$in", struct {
		Field string  `json:"field"`
		IDs   []int64 `json:"ids"`
	}{Field: e.Field, IDs: ids})
}

// MarshalJSON implements json.Marshaler.
func (e IsNull) MarshalJSON() ([]byte, error) {
	return marshalOp("$null", fieldOnly{Field: e.Field})
}

// MarshalJSON implements json.Marshaler.
func (e NotNull) MarshalJSON() ([]byte, error) {
	return marshalOp("$notnull", fieldOnly{Field: e.Field})
}

// MarshalJSON implements json.Marshaler.
func (e And) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, len(e.Exprs))
	for i, child := range e.Exprs {
		data, err := Marshal(child)
		if err != nil {
			return nil, fmt.Errorf("and[%d]: %w", i, err)
		}
		children[i] = data
	}
	return marshalOp("$and", children)
}

// MarshalJSON implements json.Marshaler.
func (e Or) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, len(e.Exprs))
	for i, child := range e.Exprs {
		data, err := Marshal(child)
		if err != nil {
			return nil, fmt.Errorf("or[%d]: %w", i, err)
		}
		children[i] = data
	}
	return marshalOp("$or", children)
}

// MarshalJSON implements json.Marshaler.
func (e Any) MarshalJSON() ([]byte, error) {
	body := struct {
		Resource string          `json:"resource"`
		Local    string          `json:"local"`
		Foreign  string          `json:"foreign"`
		Where    json.RawMessage `json:"where,omitempty"`
	}{Resource: e.Resource, Local: e.Local, Foreign: e.Foreign}

	if e.Where != nil {
		data, err := Marshal(e.Where)
		if err != nil {
			return nil, fmt.Errorf("any where: %w", err)
		}
		body.Where = data
	}
	return marshalOp("$any", body)
}

// Marshal encodes any expression, including pointer forms, to its wire
// representation.
func Marshal(e Expr) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil expression")
	}

	switch expr := e.(type) {
	case Eq:
		return expr.MarshalJSON()
	case *Eq:
		return expr.MarshalJSON()
	case Ne:
		return expr.MarshalJSON()
	case *Ne:
		return expr.MarshalJSON()
	case In:
		return expr.MarshalJSON()
	case *In:
		return expr.MarshalJSON()
	case IsNull:
		return expr.MarshalJSON()
	case *IsNull:
		return expr.MarshalJSON()
	case NotNull:
		return expr.MarshalJSON()
	case *NotNull:
		return expr.MarshalJSON()
	case And:
		return expr.MarshalJSON()
	case *And:
		return expr.MarshalJSON()
	case Or:
		return expr.MarshalJSON()
	case *Or:
		return expr.MarshalJSON()
	case Any:
		return expr.MarshalJSON()
	case *Any:
		return expr.MarshalJSON()
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

type fieldValue struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type fieldOnly struct {
	Field string `json:"field"`
}

func marshalOp(op string, body any) ([]byte, error) {
	return json.Marshal(map[string]any{op: body})
}
