package sqlast

import (
	"errors"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
)

/*
 * Scope enumeration.
 *
 * A scope is one SELECT body: the top-level query, each CTE body, each
 * expression subquery (EXISTS, IN, scalar), and each branch of a set
 * operation. EnumerateScopes returns scopes in textual order: a scope's CTE
 * bodies precede the scope itself, expression subqueries follow it in
 * document order, set-operation branches run left to right.
 *
 * FROM references are classified per scope:
 *   - BaseTable: a named table, candidate for tenant scoping
 *   - Derived:   a subquery used directly as a row source (FROM (SELECT..) x)
 *   - CTE references are excluded entirely: they name a scoped body, not a
 *     physical table, so they are neither targets nor derived sources
 *
 * CTE visibility is threaded down the walk so an inner scope resolves names
 * declared by any enclosing WITH clause. Determinism: every list is built in
 * declaration order; no map iteration feeds output ordering.
 */

// ErrUnsupportedStatement is returned for statements that are not SELECT
// (or a set operation over SELECTs). DML and DDL are never rewritten.
var ErrUnsupportedStatement = errors.New("only SELECT statements can be tenant-scoped")

// FromTarget is one FROM-clause reference within a scope.
type FromTarget struct {
	Table   string // base table name, original case (empty for derived)
	Alias   string // AS name, original case (may be empty)
	Derived bool   // subquery used directly as a row source
}

// Qualifier returns the name that would prefix an injected column.
func (t FromTarget) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Table
}

// Scope is one SELECT body and its FROM references.
type Scope struct {
	Sel     *ast.SelectStmt
	Targets []FromTarget
}

// EnumerateScopes walks a parsed statement and returns every scope in
// textual order. Returns ErrUnsupportedStatement for non-SELECT statements.
func EnumerateScopes(stmt ast.StmtNode) ([]*Scope, error) {
	var scopes []*Scope
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		collectSelect(s, map[string]struct{}{}, &scopes)
	case *ast.SetOprStmt:
		collectSetOpr(s, map[string]struct{}{}, &scopes)
	default:
		return nil, ErrUnsupportedStatement
	}
	return scopes, nil
}

// collectSelect appends the scopes of one SELECT body: CTE bodies first,
// then the body itself, then its expression subqueries.
func collectSelect(sel *ast.SelectStmt, visible map[string]struct{}, out *[]*Scope) {
	local := cloneSet(visible)
	collectWith(sel.With, local, out)

	scope := &Scope{Sel: sel}
	if sel.From != nil && sel.From.TableRefs != nil {
		flattenFrom(sel.From.TableRefs, local, &scope.Targets)
	}
	*out = append(*out, scope)

	// Expression subqueries, in clause order. The ON conditions of joins
	// live under From; field-list subqueries precede WHERE textually but
	// all carry the same tenant value, so clause order is sufficient for
	// deterministic output.
	for _, clause := range []ast.Node{
		fieldsNode(sel), fromNode(sel), whereNode(sel),
		groupByNode(sel), havingNode(sel), orderByNode(sel),
	} {
		if clause == nil {
			continue
		}
		for _, sub := range collectSubqueries(clause) {
			collectResultSet(sub, local, out)
		}
	}
}

// collectSetOpr appends scopes for every branch of a set operation.
func collectSetOpr(set *ast.SetOprStmt, visible map[string]struct{}, out *[]*Scope) {
	local := cloneSet(visible)
	collectWith(set.With, local, out)
	if set.SelectList != nil {
		collectSelectList(set.SelectList, local, out)
	}
}

// collectSelectList recurses into set-operation branches left to right.
func collectSelectList(list *ast.SetOprSelectList, visible map[string]struct{}, out *[]*Scope) {
	for _, node := range list.Selects {
		switch branch := node.(type) {
		case *ast.SelectStmt:
			collectSelect(branch, visible, out)
		case *ast.SetOprSelectList:
			collectSelectList(branch, visible, out)
		}
	}
}

// collectWith enumerates CTE bodies in declaration order and records their
// names into the visible set. Recursive CTEs see their own name.
func collectWith(with *ast.WithClause, visible map[string]struct{}, out *[]*Scope) {
	if with == nil {
		return
	}
	for _, cte := range with.CTEs {
		if with.IsRecursive {
			visible[cte.Name.L] = struct{}{}
		}
		if cte.Query != nil {
			collectResultSet(cte.Query.Query, visible, out)
		}
		visible[cte.Name.L] = struct{}{}
	}
}

// collectResultSet dispatches a subquery body, which is either a plain
// SELECT or a set operation.
func collectResultSet(node ast.ResultSetNode, visible map[string]struct{}, out *[]*Scope) {
	switch body := node.(type) {
	case *ast.SelectStmt:
		collectSelect(body, visible, out)
	case *ast.SetOprStmt:
		collectSetOpr(body, visible, out)
	}
}

// flattenFrom walks a join tree left to right and classifies each source.
func flattenFrom(node ast.ResultSetNode, visible map[string]struct{}, targets *[]FromTarget) {
	switch src := node.(type) {
	case *ast.Join:
		if src.Left != nil {
			flattenFrom(src.Left, visible, targets)
		}
		if src.Right != nil {
			flattenFrom(src.Right, visible, targets)
		}
	case *ast.TableSource:
		flattenSource(src, visible, targets)
	case *ast.TableName:
		appendTable(src, "", visible, targets)
	}
}

// flattenSource classifies one TableSource as a base table, a CTE
// reference, or a derived table.
func flattenSource(src *ast.TableSource, visible map[string]struct{}, targets *[]FromTarget) {
	switch inner := src.Source.(type) {
	case *ast.TableName:
		appendTable(inner, src.AsName.O, visible, targets)
	case *ast.SelectStmt, *ast.SetOprStmt:
		*targets = append(*targets, FromTarget{Alias: src.AsName.O, Derived: true})
	case *ast.Join:
		// parenthesized join, e.g. FROM (a JOIN b ON ...)
		flattenFrom(inner, visible, targets)
	}
}

// appendTable records a named table unless it resolves to a visible CTE.
// Schema-qualified names can never shadow a CTE.
func appendTable(tbl *ast.TableName, alias string, visible map[string]struct{}, targets *[]FromTarget) {
	if tbl.Schema.L == "" {
		if _, ok := visible[tbl.Name.L]; ok {
			return
		}
	}
	*targets = append(*targets, FromTarget{Table: tbl.Name.O, Alias: alias})
}

// subqueryCollector gathers subquery bodies in document order. It does not
// descend into a found subquery; nested scopes are handled by recursion so
// CTE visibility stays correct at each level.
type subqueryCollector struct {
	found []ast.ResultSetNode
}

func (c *subqueryCollector) Enter(in ast.Node) (ast.Node, bool) {
	if sq, ok := in.(*ast.SubqueryExpr); ok {
		c.found = append(c.found, sq.Query)
		return in, true
	}
	return in, false
}

func (c *subqueryCollector) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

func collectSubqueries(node ast.Node) []ast.ResultSetNode {
	c := &subqueryCollector{}
	node.Accept(c)
	return c.found
}

// MergeWhere conjoins a predicate into the scope's WHERE clause. An
// existing OR/XOR expression is parenthesized first so the injected AND
// binds over the whole original condition, never just its right arm.
func MergeWhere(sel *ast.SelectStmt, pred ast.ExprNode) {
	if sel.Where == nil {
		sel.Where = pred
		return
	}
	existing := sel.Where
	if lowerPrecedenceThanAnd(existing) {
		existing = &ast.ParenthesesExpr{Expr: existing}
	}
	sel.Where = &ast.BinaryOperationExpr{
		Op: opcode.LogicAnd,
		L:  existing,
		R:  pred,
	}
}

func lowerPrecedenceThanAnd(e ast.ExprNode) bool {
	b, ok := e.(*ast.BinaryOperationExpr)
	return ok && (b.Op == opcode.LogicOr || b.Op == opcode.LogicXor)
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// NormalizeTable lowercases a table name for allowlist and schema lookups.
func NormalizeTable(name string) string {
	return strings.ToLower(name)
}

// Nil-safe clause accessors. The ast clause types are distinct structs; a
// typed nil inside an ast.Node interface would defeat the nil checks above.

func fieldsNode(sel *ast.SelectStmt) ast.Node {
	if sel.Fields == nil {
		return nil
	}
	return sel.Fields
}

func fromNode(sel *ast.SelectStmt) ast.Node {
	if sel.From == nil {
		return nil
	}
	return sel.From
}

func whereNode(sel *ast.SelectStmt) ast.Node {
	if sel.Where == nil {
		return nil
	}
	return sel.Where
}

func groupByNode(sel *ast.SelectStmt) ast.Node {
	if sel.GroupBy == nil {
		return nil
	}
	return sel.GroupBy
}

func havingNode(sel *ast.SelectStmt) ast.Node {
	if sel.Having == nil {
		return nil
	}
	return sel.Having
}

func orderByNode(sel *ast.SelectStmt) ast.Node {
	if sel.OrderBy == nil {
		return nil
	}
	return sel.OrderBy
}
