// Package types provides domain models shared across TenantKeeper components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library so the rewrite core can be embedded without pulling in the parser
// or database stacks. ID utilities in ids.go import uuid but are isolated
// for selective inclusion.
package types

import (
	"strings"
	"time"
)

// Provider identifies the SQL dialect a query is parsed and printed for.
// Closed enum: dialect behavior (quoting mode, restore flags) is selected by
// a per-provider table in internal/sqlast, never by runtime string dispatch.
type Provider int

const (
	ProviderUnspecified Provider = iota
	ProviderSQLite
	ProviderPostgres
	ProviderDuckDB
	ProviderMySQL
)

// ParseProvider converts a configuration string to a Provider.
// Rejects unknown dialects so misconfiguration surfaces at load time.
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite":
		return ProviderSQLite, true
	case "postgres", "postgresql":
		return ProviderPostgres, true
	case "duckdb":
		return ProviderDuckDB, true
	case "mysql":
		return ProviderMySQL, true
	default:
		return ProviderUnspecified, false
	}
}

// String returns the canonical configuration name of the provider.
func (p Provider) String() string {
	switch p {
	case ProviderSQLite:
		return "sqlite"
	case ProviderPostgres:
		return "postgres"
	case ProviderDuckDB:
		return "duckdb"
	case ProviderMySQL:
		return "mysql"
	default:
		return "unspecified"
	}
}

// Known reports whether the provider is a member of the closed dialect set.
func (p Provider) Known() bool {
	return p >= ProviderSQLite && p <= ProviderMySQL
}

// TableRef identifies a base-table FROM reference that received a tenant
// predicate. Alias is empty when the table is referenced without one.
type TableRef struct {
	Table string
	Alias string
}

// Qualifier returns the name that prefixes the injected tenant column:
// the alias when present, the table name otherwise.
func (r TableRef) Qualifier() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Table
}

// Resource limits enforced by the rewrite engine. Adversarial SQL complexity
// is a denial-of-service vector; every traversal is capped.
const (
	// DefaultMaxTargets limits eligible rewrite targets per request.
	// 32 tables covers wide reporting joins; beyond that the query is
	// almost certainly generated to exhaust the rewriter.
	DefaultMaxTargets = 32

	// DefaultMaxParams limits total bind parameters (pre-existing markers
	// plus injected tenant markers) in the rewritten statement.
	DefaultMaxParams = 128

	// DefaultMaxASTNodes bounds parse-tree size before any scope walk.
	// Checked immediately after parse as a cheap bail-out.
	DefaultMaxASTNodes = 20_000
)

// DefaultTenantColumn is the column name injected when none is configured.
const DefaultTenantColumn = "tenant_id"

// RewriteRequest is the immutable input to the rewrite transformer.
// Constructed fresh per evaluation and never mutated by the transformer.
type RewriteRequest struct {
	SQL          string
	Provider     Provider
	TenantID     any    // nil means absent; the transformer rejects nil
	TenantColumn string // defaults to DefaultTenantColumn when empty

	MaxTargets  int
	MaxParams   int
	MaxASTNodes int

	// TableColumns is an optional schema snapshot: table name (lowercase)
	// to column-name set. nil disables schema checks entirely; a table
	// absent from a non-nil map is treated as schema-unavailable.
	TableColumns map[string]map[string]struct{}

	// TableAllowlist holds lowercased table names exempt from tenant
	// scoping (shared reference data).
	TableAllowlist map[string]struct{}

	// CallerParams are the values bound to parameter markers already
	// present in SQL, in their textual order. nil means the caller binds
	// its own values; a non-nil slice must match the marker count exactly
	// or the request is rejected.
	CallerParams []any

	// Deadline is the cooperative wall-clock guard threaded through the
	// scope walk. Zero means no deadline.
	Deadline time.Time
}

// RewriteSuccess is the immutable result of a successful rewrite.
// Params are ordered to match the left-to-right textual position of the
// predicates they bind.
type RewriteSuccess struct {
	RewrittenSQL          string
	Params                []any
	TablesRewritten       []TableRef
	TenantPredicatesAdded int

	// MergedParams is the complete bind list for executing RewrittenSQL:
	// CallerParams interleaved with the injected tenant values in marker
	// document order. When CallerParams is nil it carries the injected
	// tenant values only.
	MergedParams []any
}

// ErrorKind classifies rewrite failures. Closed enum.
type ErrorKind int

const (
	KindInvalidRequest ErrorKind = iota
	KindParseError
	KindSubqueryUnsupported // derived table used as a FROM source
	KindTargetLimitExceeded
	KindParamLimitExceeded
	KindASTNodeLimitExceeded
	KindSchemaColumnMissing
	KindDeadlineExceeded
)

// String returns the stable identifier of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindParseError:
		return "PARSE_ERROR"
	case KindSubqueryUnsupported:
		return "SUBQUERY_UNSUPPORTED"
	case KindTargetLimitExceeded:
		return "TARGET_LIMIT_EXCEEDED"
	case KindParamLimitExceeded:
		return "PARAM_LIMIT_EXCEEDED"
	case KindASTNodeLimitExceeded:
		return "AST_NODE_LIMIT_EXCEEDED"
	case KindSchemaColumnMissing:
		return "SCHEMA_COLUMN_MISSING"
	case KindDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// FailureReason is the policy-facing reason taxonomy. Carried independently
// of ErrorKind so the policy mapping stays stable if kinds are split later.
// Closed enum; Code values are safe for telemetry attributes.
type FailureReason int

const (
	ReasonUnsupportedShape FailureReason = iota
	ReasonParamLimitExceeded
	ReasonTargetLimitExceeded
	ReasonASTLimitExceeded
	ReasonTenantColumnMissing
	ReasonParseError
	ReasonTimeout
)

// Code returns the stable identifier of the reason.
func (r FailureReason) Code() string {
	switch r {
	case ReasonUnsupportedShape:
		return "UNSUPPORTED_SHAPE"
	case ReasonParamLimitExceeded:
		return "PARAM_LIMIT_EXCEEDED"
	case ReasonTargetLimitExceeded:
		return "TARGET_LIMIT_EXCEEDED"
	case ReasonASTLimitExceeded:
		return "AST_LIMIT_EXCEEDED"
	case ReasonTenantColumnMissing:
		return "TENANT_COLUMN_MISSING"
	case ReasonParseError:
		return "PARSE_ERROR"
	case ReasonTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// AllFailureReasons returns the full closed set of reasons. Telemetry
// consumers use this to pre-register the bounded value space.
func AllFailureReasons() []FailureReason {
	return []FailureReason{
		ReasonUnsupportedShape,
		ReasonParamLimitExceeded,
		ReasonTargetLimitExceeded,
		ReasonASTLimitExceeded,
		ReasonTenantColumnMissing,
		ReasonParseError,
		ReasonTimeout,
	}
}

// RewriteFailure is the immutable tagged failure result of the transformer.
// Message is diagnostic only and must never be surfaced to telemetry or
// client payloads; the bounded Kind/Reason pair carries the structured data.
type RewriteFailure struct {
	Kind    ErrorKind
	Reason  FailureReason
	Message string
}
