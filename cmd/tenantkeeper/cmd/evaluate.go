package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/solatis/tenantkeeper/internal/core/config"
	"github.com/solatis/tenantkeeper/internal/core/db"
	"github.com/solatis/tenantkeeper/internal/policy"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [sql]",
	Short: "Evaluate a SQL statement against the tenant enforcement policy",
	Long: `Evaluate runs one statement through the tenant enforcement policy and
prints the decision as JSON. SQL is taken from the argument or from stdin.
With --db-url, table schemas are loaded from the live database so missing
tenant columns are rejected before execution.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runEvaluate,
	SilenceUsage: true,
}

var (
	tenantID     string
	tenantColumn string
	providerName string
	allowTables  []string
	params       []string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant identifier to scope the query to")
	evaluateCmd.Flags().StringVar(&tenantColumn, "tenant-column", "", "tenant column name (overrides config)")
	evaluateCmd.Flags().StringVar(&providerName, "provider", "", "sql dialect (overrides config: sqlite, postgres, duckdb, mysql)")
	evaluateCmd.Flags().StringArrayVar(&allowTables, "allow-table", nil, "table exempt from tenant scoping (repeatable)")
	evaluateCmd.Flags().StringArrayVar(&params, "param", nil, "caller bind parameter, in marker order (repeatable)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = providerName
	}

	policyCfg, err := cfg.ToPolicy()
	if err != nil {
		return err
	}

	pol, err := policy.New(policyCfg, newLogger())
	if err != nil {
		return fmt.Errorf("failed to build policy: %w", err)
	}

	sqlText, err := readSQL(cmd, args)
	if err != nil {
		return err
	}

	var loader policy.SchemaLoader
	if dbURL != "" {
		database, err := db.Open(dbURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		snapshot, err := db.LoadSnapshot(database)
		if err != nil {
			return fmt.Errorf("failed to load schema snapshot: %w", err)
		}
		loader = snapshot
	}

	var tenant any
	if tenantID != "" {
		tenant = tenantID
	}

	decision := pol.Evaluate(policy.Request{
		SQL:            sqlText,
		TenantID:       tenant,
		Params:         toAnySlice(params),
		TenantColumn:   tenantColumn,
		TableAllowlist: allowTables,
		Schema:         loader,
	})

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// readSQL takes the statement from the argument or, when absent, stdin.
func readSQL(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read sql from stdin: %w", err)
	}
	sqlText := strings.TrimSpace(string(raw))
	if sqlText == "" {
		return "", fmt.Errorf("no sql provided (argument or stdin)")
	}
	return sqlText, nil
}

func toAnySlice(in []string) []any {
	if len(in) == 0 {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
