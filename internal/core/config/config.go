// Package config provides configuration management for TenantKeeper.
package config

import (
	"fmt"
	"time"

	"github.com/solatis/tenantkeeper/internal/policy"
	"github.com/solatis/tenantkeeper/internal/types"
)

// PolicyConfig holds the tenant enforcement policy settings as loaded from
// file and environment. String-typed provider and mode keep the file format
// human-editable; ToPolicy converts to the closed enums.
type PolicyConfig struct {
	Provider       string
	Mode           string
	Strict         bool
	MaxTargets     int
	MaxParams      int
	MaxASTNodes    int
	HardTimeout    time.Duration
	WarnAfter      time.Duration
	RewriteEnabled bool
	TenantColumn   string
}

// DefaultPolicyConfig returns configuration with default values.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		Provider:       "sqlite",
		Mode:           "sql_rewrite",
		Strict:         true,
		MaxTargets:     types.DefaultMaxTargets,
		MaxParams:      types.DefaultMaxParams,
		MaxASTNodes:    types.DefaultMaxASTNodes,
		HardTimeout:    500 * time.Millisecond,
		WarnAfter:      100 * time.Millisecond,
		RewriteEnabled: true,
		TenantColumn:   types.DefaultTenantColumn,
	}
}

// ToPolicy converts the loaded settings into a policy configuration,
// rejecting unknown provider or mode names.
func (c *PolicyConfig) ToPolicy() (policy.Config, error) {
	provider, ok := types.ParseProvider(c.Provider)
	if !ok {
		return policy.Config{}, fmt.Errorf("unknown provider %q (expected sqlite, postgres, duckdb or mysql)", c.Provider)
	}
	mode, ok := policy.ParseMode(c.Mode)
	if !ok {
		return policy.Config{}, fmt.Errorf("unknown mode %q (expected disabled or sql_rewrite)", c.Mode)
	}
	return policy.Config{
		Provider:       provider,
		Mode:           mode,
		Strict:         c.Strict,
		MaxTargets:     c.MaxTargets,
		MaxParams:      c.MaxParams,
		MaxASTNodes:    c.MaxASTNodes,
		HardTimeout:    c.HardTimeout,
		WarnAfter:      c.WarnAfter,
		RewriteEnabled: c.RewriteEnabled,
		TenantColumn:   c.TenantColumn,
	}, nil
}
