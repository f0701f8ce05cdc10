// Package rewrite implements the tenant-scoped SQL rewrite transformer.
package rewrite

import (
	"fmt"
	"time"

	"github.com/solatis/tenantkeeper/internal/sqlast"
	"github.com/solatis/tenantkeeper/internal/types"
)

/*
 * Rewrite transformer.
 *
 * Transform is a pure function from RewriteRequest to RewriteSuccess or
 * RewriteFailure. Workflow:
 *   1. Validate request shape (tenant id present, limits positive)
 *   2. Parse for the provider's dialect
 *   3. Bound parse-tree size before any traversal (cheap bail-out)
 *   4. Enumerate scopes; any derived-table FROM source rejects the request
 *   5. Classify each base-table reference: allowlisted, schema-ineligible,
 *      already scoped (idempotence), or pending injection
 *   6. Enforce target and param limits over the pending set
 *   7. Inject <qualifier>.<tenant_column> = ? per pending target, merging
 *      into each scope's WHERE clause in declaration order
 *   8. Print the mutated tree back to dialect SQL
 *
 * Determinism: scopes and targets are processed in textual declaration
 * order; no map iteration, randomness, or wall-clock value reaches the
 * output. Idempotence: a structurally equal predicate already present in a
 * scope marks that reference as scoped, so a second pass over rewritten SQL
 * injects nothing.
 *
 * The deadline is cooperative: checked per scope and per injection, so
 * worst-case overrun is one target's work, never unbounded.
 */

// injection pairs a scope with one of its eligible targets.
type injection struct {
	scope  *sqlast.Scope
	target sqlast.FromTarget
}

// Transform applies tenant scoping to a single statement. Exactly one of
// the results is non-nil. The request is never mutated.
func Transform(req *types.RewriteRequest) (*types.RewriteSuccess, *types.RewriteFailure) {
	if fail := validate(req); fail != nil {
		return nil, fail
	}
	tenantColumn := req.TenantColumn
	if tenantColumn == "" {
		tenantColumn = types.DefaultTenantColumn
	}

	stmt, err := sqlast.Parse(req.SQL, req.Provider)
	if err != nil {
		return nil, failure(types.KindParseError, types.ReasonParseError, err.Error())
	}

	if n := sqlast.CountNodes(stmt); n > req.MaxASTNodes {
		return nil, failure(types.KindASTNodeLimitExceeded, types.ReasonASTLimitExceeded,
			fmt.Sprintf("statement has %d ast nodes, limit is %d", n, req.MaxASTNodes))
	}

	scopes, err := sqlast.EnumerateScopes(stmt)
	if err != nil {
		return nil, failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, err.Error())
	}

	// Derived tables reject the whole request: predicates pushed into a
	// derived body can change its row multiplicity, and predicates left
	// outside it do not scope the inner read.
	for _, scope := range scopes {
		for _, target := range scope.Targets {
			if target.Derived {
				return nil, failure(types.KindSubqueryUnsupported, types.ReasonUnsupportedShape,
					"derived table used as a FROM source cannot be tenant-scoped")
			}
		}
	}

	var pending []injection
	for _, scope := range scopes {
		if expired(req.Deadline) {
			return nil, deadlineFailure()
		}
		for _, target := range scope.Targets {
			name := sqlast.NormalizeTable(target.Table)
			if _, ok := req.TableAllowlist[name]; ok {
				continue
			}
			if req.TableColumns != nil {
				// A table present in the snapshot must carry the tenant
				// column; an absent table means the schema is unavailable
				// and the rewrite proceeds on structure alone.
				if cols, known := req.TableColumns[name]; known {
					if _, has := cols[tenantColumn]; !has {
						return nil, failure(types.KindSchemaColumnMissing, types.ReasonTenantColumnMissing,
							fmt.Sprintf("table %q has no %q column", target.Table, tenantColumn))
					}
				}
			}
			if sqlast.HasTenantPredicate(scope.Sel, target.Qualifier(), tenantColumn) {
				continue
			}
			pending = append(pending, injection{scope: scope, target: target})
		}
	}

	if len(pending) > req.MaxTargets {
		return nil, failure(types.KindTargetLimitExceeded, types.ReasonTargetLimitExceeded,
			fmt.Sprintf("%d rewrite targets, limit is %d", len(pending), req.MaxTargets))
	}
	existingMarkers := sqlast.CountParamMarkers(stmt)
	if total := existingMarkers + len(pending); total > req.MaxParams {
		return nil, failure(types.KindParamLimitExceeded, types.ReasonParamLimitExceeded,
			fmt.Sprintf("%d bind parameters after rewrite, limit is %d", total, req.MaxParams))
	}
	// A nil CallerParams means the caller binds its own values; a non-nil
	// slice must cover every pre-existing marker exactly, or the statement
	// would execute with misaligned bindings.
	if req.CallerParams != nil && len(req.CallerParams) != existingMarkers {
		return nil, failure(types.KindInvalidRequest, types.ReasonUnsupportedShape,
			fmt.Sprintf("%d caller params supplied for %d parameter markers", len(req.CallerParams), existingMarkers))
	}

	success := &types.RewriteSuccess{TenantPredicatesAdded: len(pending)}
	boundary := len(req.SQL) + 1
	for i, inj := range pending {
		if expired(req.Deadline) {
			return nil, deadlineFailure()
		}
		pred := sqlast.TenantPredicate(inj.target.Qualifier(), tenantColumn,
			sqlast.InjectedMarkerOffset(boundary, i))
		sqlast.MergeWhere(inj.scope.Sel, pred)
		success.Params = append(success.Params, req.TenantID)
		success.TablesRewritten = append(success.TablesRewritten, types.TableRef{
			Table: inj.target.Table,
			Alias: inj.target.Alias,
		})
	}

	if req.CallerParams == nil {
		success.MergedParams = append([]any{}, success.Params...)
	} else {
		merged, ok := sqlast.MergeParams(stmt, boundary, req.CallerParams, req.TenantID)
		if !ok {
			return nil, failure(types.KindInvalidRequest, types.ReasonUnsupportedShape,
				"caller params do not align with parameter markers")
		}
		success.MergedParams = merged
	}

	rewritten, err := sqlast.Print(stmt, req.Provider)
	if err != nil {
		return nil, failure(types.KindParseError, types.ReasonParseError,
			fmt.Sprintf("print rewritten statement: %v", err))
	}
	success.RewrittenSQL = rewritten
	return success, nil
}

// validate enforces request shape: tenant id present, provider known,
// limits positive, SQL non-empty.
func validate(req *types.RewriteRequest) *types.RewriteFailure {
	switch {
	case req == nil:
		return failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, types.ErrNilRequest.Error())
	case req.SQL == "":
		return failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, types.ErrEmptySQL.Error())
	case req.TenantID == nil || req.TenantID == "":
		return failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, types.ErrMissingTenantID.Error())
	case !req.Provider.Known():
		return failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, types.ErrUnknownProvider.Error())
	case req.MaxTargets <= 0 || req.MaxParams <= 0 || req.MaxASTNodes <= 0:
		return failure(types.KindInvalidRequest, types.ReasonUnsupportedShape, types.ErrNonPositiveLimit.Error())
	}
	return nil
}

func failure(kind types.ErrorKind, reason types.FailureReason, msg string) *types.RewriteFailure {
	return &types.RewriteFailure{Kind: kind, Reason: reason, Message: msg}
}

func deadlineFailure() *types.RewriteFailure {
	return failure(types.KindDeadlineExceeded, types.ReasonTimeout, "rewrite exceeded its wall-clock budget")
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
