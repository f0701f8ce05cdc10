package rewrite

import "github.com/solatis/tenantkeeper/internal/types"

// Rewrite is the legacy convenience entry point for call sites that prefer
// errors over tagged results. It builds a request with default limits,
// delegates to Transform, and converts any failure into a single error
// type (*types.TenantRewriteError). No independent logic lives here.
func Rewrite(sql string, provider types.Provider, tenantID any, tableColumns map[string]map[string]struct{}) (*types.RewriteSuccess, error) {
	req := &types.RewriteRequest{
		SQL:          sql,
		Provider:     provider,
		TenantID:     tenantID,
		TenantColumn: types.DefaultTenantColumn,
		MaxTargets:   types.DefaultMaxTargets,
		MaxParams:    types.DefaultMaxParams,
		MaxASTNodes:  types.DefaultMaxASTNodes,
		TableColumns: tableColumns,
	}
	success, fail := Transform(req)
	if fail != nil {
		return nil, &types.TenantRewriteError{Reason: fail.Reason, Message: fail.Message}
	}
	return success, nil
}
