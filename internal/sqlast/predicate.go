package sqlast

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/model"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	driver "github.com/pingcap/tidb/pkg/parser/test_driver"
)

/*
 * Tenant predicate construction and detection.
 *
 * The injected predicate is always <qualifier>.<tenant_column> = ? where the
 * qualifier is the FROM reference's alias (or table name without one).
 * Detection works the other way: a scope whose WHERE conjuncts already
 * contain a structurally equal predicate is skipped, which is what makes the
 * transform idempotent on its own output.
 *
 * Structural equality is canonical-form comparison: both expressions are
 * restored with lowercased identifiers and compared as text. Parameter
 * markers restore as "?" regardless of position, so marker offsets never
 * break equality.
 */

// TenantPredicate builds <qualifier>.<column> = ? with the given marker
// offset. Offsets place injected markers after every marker parsed from the
// original text (see InjectedMarkerOffset).
func TenantPredicate(qualifier, column string, offset int) ast.ExprNode {
	col := &ast.ColumnNameExpr{
		Name: &ast.ColumnName{
			Table: model.NewCIStr(qualifier),
			Name:  model.NewCIStr(column),
		},
	}
	marker := ast.NewParamMarkerExpr(offset)
	return &ast.BinaryOperationExpr{Op: opcode.EQ, L: col, R: marker}
}

// InjectedMarkerOffset returns the marker offset for the i-th injected
// predicate. boundary must exceed the length of the original SQL text so
// injected markers sort after every parsed marker.
func InjectedMarkerOffset(boundary, i int) int {
	return boundary + i
}

// canonicalRestoreFlags render expressions to a dialect-neutral canonical
// form for comparison only: lowercased unquoted identifiers.
const canonicalRestoreFlags = format.RestoreKeyWordUppercase |
	format.RestoreStringSingleQuotes |
	format.RestoreStringWithoutCharset |
	format.RestoreNameLowercase |
	format.RestoreSpacesAroundBinaryOperation

// StructurallyEqual reports whether two expressions share the same
// canonical form. Identifier case is insignificant; literal case is not.
func StructurallyEqual(a, b ast.ExprNode) bool {
	ca, err := canonicalExpr(a)
	if err != nil {
		return false
	}
	cb, err := canonicalExpr(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func canonicalExpr(e ast.ExprNode) (string, error) {
	var sb strings.Builder
	ctx := format.NewRestoreCtx(canonicalRestoreFlags, &sb)
	if err := e.Restore(ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// HasTenantPredicate reports whether the scope's WHERE clause already
// carries a tenant predicate for the given qualifier.
func HasTenantPredicate(sel *ast.SelectStmt, qualifier, column string) bool {
	if sel.Where == nil {
		return false
	}
	expected := TenantPredicate(qualifier, column, 0)
	for _, conjunct := range conjuncts(sel.Where) {
		if StructurallyEqual(conjunct, expected) {
			return true
		}
	}
	return false
}

// conjuncts splits an expression on top-level AND, unwrapping parentheses.
func conjuncts(e ast.ExprNode) []ast.ExprNode {
	switch expr := e.(type) {
	case *ast.ParenthesesExpr:
		return conjuncts(expr.Expr)
	case *ast.BinaryOperationExpr:
		if expr.Op == opcode.LogicAnd {
			return append(conjuncts(expr.L), conjuncts(expr.R)...)
		}
	}
	return []ast.ExprNode{e}
}

// markerCollector gathers parameter markers in document order.
type markerCollector struct {
	markers []*driver.ParamMarkerExpr
}

func (c *markerCollector) Enter(in ast.Node) (ast.Node, bool) {
	if m, ok := in.(*driver.ParamMarkerExpr); ok {
		c.markers = append(c.markers, m)
	}
	return in, false
}

func (c *markerCollector) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// CountParamMarkers returns the number of parameter markers in the
// statement. Pre-existing markers count against the rewrite param limit
// alongside injected ones.
func CountParamMarkers(stmt ast.StmtNode) int {
	c := &markerCollector{}
	stmt.Accept(c)
	return len(c.markers)
}

// MergeParams interleaves caller-supplied parameters with the injected
// tenant value by walking every marker of the rewritten statement in
// document order. Markers with offsets at or beyond boundary are the
// injected ones. Returns false when the caller's parameter count does not
// match the original marker count; the caller decides how to degrade.
func MergeParams(stmt ast.StmtNode, boundary int, callerParams []any, tenantValue any) ([]any, bool) {
	c := &markerCollector{}
	stmt.Accept(c)

	merged := make([]any, 0, len(c.markers))
	next := 0
	for _, m := range c.markers {
		if m.Offset >= boundary {
			merged = append(merged, tenantValue)
			continue
		}
		if next >= len(callerParams) {
			return nil, false
		}
		merged = append(merged, callerParams[next])
		next++
	}
	if next != len(callerParams) {
		return nil, false
	}
	return merged, true
}
