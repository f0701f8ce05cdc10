// Package sqlast wraps the TiDB SQL parser behind dialect-aware parse,
// print, and scope-traversal primitives used by the rewrite transformer.
//
// Dialect handling: each supported provider maps to a parser SQL mode and a
// set of restore flags in a closed table (dialectFor). SQLite, DuckDB and
// PostgreSQL parse with ANSI quoting (double quotes delimit identifiers,
// not strings); MySQL keeps backquoted identifiers. Rewritten SQL always
// carries ? parameter markers; per-driver placeholder conversion is the
// execution layer's job (sqlx Rebind convention).
//
// All functions are side-effect free except MergeWhere, which mutates the
// scope it is given; the transformer owns the statement it mutates. Parse
// failures return typed errors, never panic.
package sqlast

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/mysql"

	// Registers the value and parameter-marker expression constructors
	// (ast.NewValueExpr, ast.NewParamMarkerExpr). The parser module ships
	// no other standalone driver.
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/solatis/tenantkeeper/internal/types"
)

// dialect selects parser and printer behavior for one provider.
type dialect struct {
	sqlMode      mysql.SQLMode
	restoreFlags format.RestoreFlags
}

// baseRestoreFlags are shared by every dialect: uppercase keywords,
// single-quoted strings, spaces around binary operators.
const baseRestoreFlags = format.RestoreKeyWordUppercase |
	format.RestoreStringSingleQuotes |
	format.RestoreSpacesAroundBinaryOperation

// dialectFor returns the dialect table entry for a provider. Only MySQL
// understands charset introducers (_utf8mb4'...'); every other dialect must
// restore string literals as bare quoted text or the output will not parse.
func dialectFor(p types.Provider) (dialect, bool) {
	switch p {
	case types.ProviderSQLite, types.ProviderDuckDB, types.ProviderPostgres:
		return dialect{
			sqlMode:      mysql.ModeANSIQuotes,
			restoreFlags: baseRestoreFlags | format.RestoreStringWithoutCharset,
		}, true
	case types.ProviderMySQL:
		return dialect{
			sqlMode:      mysql.ModeNone,
			restoreFlags: baseRestoreFlags | format.RestoreNameBackQuotes,
		}, true
	default:
		return dialect{}, false
	}
}

// Parse parses a single SQL statement for the provider's dialect.
// Multi-statement input is rejected by ParseOneStmt, which removes a whole
// class of piggyback-statement injection attempts before any scoping logic.
func Parse(sql string, provider types.Provider) (ast.StmtNode, error) {
	d, ok := dialectFor(provider)
	if !ok {
		return nil, types.ErrUnknownProvider
	}
	p := parser.New()
	p.SetSQLMode(d.sqlMode)
	stmt, err := p.ParseOneStmt(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("parse %s statement: %w", provider, err)
	}
	return stmt, nil
}

// Print renders a statement back to SQL text for the provider's dialect.
func Print(stmt ast.StmtNode, provider types.Provider) (string, error) {
	d, ok := dialectFor(provider)
	if !ok {
		return "", types.ErrUnknownProvider
	}
	var sb strings.Builder
	ctx := format.NewRestoreCtx(d.restoreFlags, &sb)
	if err := stmt.Restore(ctx); err != nil {
		return "", fmt.Errorf("print %s statement: %w", provider, err)
	}
	return sb.String(), nil
}

// nodeCounter counts visited AST nodes.
type nodeCounter struct {
	n int
}

func (c *nodeCounter) Enter(in ast.Node) (ast.Node, bool) {
	c.n++
	return in, false
}

func (c *nodeCounter) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// CountNodes returns the number of nodes in the parse tree. Used as a cheap
// complexity bound before any scope traversal begins.
func CountNodes(node ast.Node) int {
	c := &nodeCounter{}
	node.Accept(c)
	return c.n
}
