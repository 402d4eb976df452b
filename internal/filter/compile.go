package filter

import (
	"fmt"
	"strings"
)

// Compile converts an expression to a parameterized SQL WHERE fragment
// for rows of the given table. Returns (sql, params, error).
//
// Field and table names are interpolated into the SQL text, so both are
// validated as identifiers first. Values are always bound as ?
// parameters, never interpolated.
//
// A nil expression compiles to "1 = 1" (match everything).
func Compile(table string, e Expr) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, fmt.Errorf("table: %w", err)
	}
	return compileExpr(table, e)
}

func compileExpr(table string, e Expr) (string, []any, error) {
	if e == nil {
		return "1 = 1", nil, nil
	}

	switch expr := e.(type) {
	case Eq:
		return compileComparison(table, expr.Field, "=", expr.Value)
	case *Eq:
		return compileComparison(table, expr.Field, "=", expr.Value)
	case Ne:
		return compileComparison(table, expr.Field, "<>", expr.Value)
	case *Ne:
		return compileComparison(table, expr.Field, "<>", expr.Value)
	case In:
		return compileIn(table, expr)
	case *In:
		return compileIn(table, *expr)
	case IsNull:
		return compileNullTest(table, expr.Field, "IS NULL")
	case *IsNull:
		return compileNullTest(table, expr.Field, "IS NULL")
	case NotNull:
		return compileNullTest(table, expr.Field, "IS NOT NULL")
	case *NotNull:
		return compileNullTest(table, expr.Field, "IS NOT NULL")
	case And:
		return compileAnd(table, expr)
	case *And:
		return compileAnd(table, *expr)
	case Or:
		return compileOr(table, expr)
	case *Or:
		return compileOr(table, *expr)
	case Any:
		return compileAny(table, expr)
	case *Any:
		return compileAny(table, *expr)
	default:
		return "", nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

func compileComparison(table, field, op string, value any) (string, []any, error) {
	if err := checkIdent(field); err != nil {
		return "", nil, fmt.Errorf("field: %w", err)
	}
	param, err := valueToParam(value)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", field, err)
	}
	return fmt.Sprintf("%s.%s %s ?", table, field, op), []any{param}, nil
}

func compileIn(table string, in In) (string, []any, error) {
	if err := checkIdent(in.Field); err != nil {
		return "", nil, fmt.Errorf("field: %w", err)
	}

	// Empty id list matches nothing.
	if len(in.IDs) == 0 {
		return "1 = 0", nil, nil
	}

	placeholders := make([]string, len(in.IDs))
	params := make([]any, len(in.IDs))
	for i, id := range in.IDs {
		placeholders[i] = "?"
		params[i] = id
	}

	sql := fmt.Sprintf("%s.%s IN (%s)", table, in.Field, strings.Join(placeholders, ", "))
	return sql, params, nil
}

func compileNullTest(table, field, test string) (string, []any, error) {
	if err := checkIdent(field); err != nil {
		return "", nil, fmt.Errorf("field: %w", err)
	}
	return fmt.Sprintf("%s.%s %s", table, field, test), nil, nil
}

func compileAnd(table string, and And) (string, []any, error) {
	if len(and.Exprs) == 0 {
		return "1 = 1", nil, nil // Vacuous truth
	}

	var sqlParts []string
	var allParams []any

	for _, child := range and.Exprs {
		sql, params, err := compileExpr(table, child)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	if len(sqlParts) == 1 {
		return sqlParts[0], allParams, nil
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}

func compileOr(table string, or Or) (string, []any, error) {
	if len(or.Exprs) == 0 {
		return "1 = 0", nil, nil // Empty disjunction matches nothing
	}

	var sqlParts []string
	var allParams []any

	for _, child := range or.Exprs {
		sql, params, err := compileExpr(table, child)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	if len(sqlParts) == 1 {
		return sqlParts[0], allParams, nil
	}
	return "(" + strings.Join(sqlParts, " OR ") + ")", allParams, nil
}

func compileAny(table string, ex Any) (string, []any, error) {
	if err := checkIdent(ex.Resource); err != nil {
		return "", nil, fmt.Errorf("resource: %w", err)
	}
	if err := checkIdent(ex.Local); err != nil {
		return "", nil, fmt.Errorf("local field: %w", err)
	}
	if err := checkIdent(ex.Foreign); err != nil {
		return "", nil, fmt.Errorf("foreign field: %w", err)
	}
	if ex.Resource == table {
		return "", nil, fmt.Errorf("existential traversal into %s from itself is not supported", table)
	}

	join := fmt.Sprintf("%s.%s = %s.%s", ex.Resource, ex.Foreign, table, ex.Local)

	whereSQL, params, err := compileExpr(ex.Resource, ex.Where)
	if err != nil {
		return "", nil, fmt.Errorf("traversal into %s: %w", ex.Resource, err)
	}

	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s AND %s)",
		ex.Resource, join, whereSQL)
	return sql, params, nil
}

// valueToParam converts a literal value to a SQL parameter.
// Supports string, int, int64, bool. Floats are rejected: every
// comparable field in the schema is text or integer, and accepting
// floats silently would hide schema drift.
func valueToParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case bool:
		return val, nil
	case nil:
		return nil, fmt.Errorf("nil literal is not valid; use IsNull")
	case float32, float64:
		return nil, fmt.Errorf("float literals are not supported")
	default:
		return nil, fmt.Errorf("unsupported literal type %T", v)
	}
}

// checkIdent validates that a name is a plain SQL identifier.
// Identifiers are interpolated into query text, so this is the
// injection boundary.
func checkIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("invalid identifier %q: leading digit", name)
			}
		default:
			return fmt.Errorf("invalid identifier %q: character %q", name, r)
		}
	}
	return nil
}
