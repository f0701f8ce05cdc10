package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*PolicyConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultPolicyConfig
	v.SetDefault("tenant_policy.provider", "sqlite")
	v.SetDefault("tenant_policy.mode", "sql_rewrite")
	v.SetDefault("tenant_policy.strict", true)
	v.SetDefault("tenant_policy.max_targets", DefaultPolicyConfig().MaxTargets)
	v.SetDefault("tenant_policy.max_params", DefaultPolicyConfig().MaxParams)
	v.SetDefault("tenant_policy.max_ast_nodes", DefaultPolicyConfig().MaxASTNodes)
	v.SetDefault("tenant_policy.hard_timeout", "500ms")
	v.SetDefault("tenant_policy.warn_after", "100ms")
	v.SetDefault("tenant_policy.rewrite_enabled", true)
	v.SetDefault("tenant_policy.tenant_column", "tenant_id")

	// Bind environment variables with TK_ prefix
	v.SetEnvPrefix("TK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &PolicyConfig{
		Provider:       v.GetString("tenant_policy.provider"),
		Mode:           v.GetString("tenant_policy.mode"),
		Strict:         v.GetBool("tenant_policy.strict"),
		MaxTargets:     v.GetInt("tenant_policy.max_targets"),
		MaxParams:      v.GetInt("tenant_policy.max_params"),
		MaxASTNodes:    v.GetInt("tenant_policy.max_ast_nodes"),
		HardTimeout:    v.GetDuration("tenant_policy.hard_timeout"),
		WarnAfter:      v.GetDuration("tenant_policy.warn_after"),
		RewriteEnabled: v.GetBool("tenant_policy.rewrite_enabled"),
		TenantColumn:   v.GetString("tenant_policy.tenant_column"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks positive limits and the warn/hard timeout ordering.
func validateConfig(cfg *PolicyConfig) error {
	if cfg.MaxTargets <= 0 {
		return fmt.Errorf("max_targets must be positive, got %d", cfg.MaxTargets)
	}
	if cfg.MaxParams <= 0 {
		return fmt.Errorf("max_params must be positive, got %d", cfg.MaxParams)
	}
	if cfg.MaxASTNodes <= 0 {
		return fmt.Errorf("max_ast_nodes must be positive, got %d", cfg.MaxASTNodes)
	}
	if cfg.HardTimeout <= 0 {
		return fmt.Errorf("hard_timeout must be positive, got %v", cfg.HardTimeout)
	}
	if cfg.WarnAfter <= 0 {
		return fmt.Errorf("warn_after must be positive, got %v", cfg.WarnAfter)
	}
	if cfg.WarnAfter >= cfg.HardTimeout {
		return fmt.Errorf("warn_after (%v) must be below hard_timeout (%v)", cfg.WarnAfter, cfg.HardTimeout)
	}
	if cfg.TenantColumn == "" {
		return fmt.Errorf("tenant_column must not be empty")
	}
	return nil
}
