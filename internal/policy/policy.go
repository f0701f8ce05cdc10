// Package policy implements the tenant enforcement policy: the stateless
// evaluator deciding whether a query may execute, in what rewritten form,
// and with what bounded outcome otherwise.
package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solatis/tenantkeeper/internal/rewrite"
	"github.com/solatis/tenantkeeper/internal/sqlast"
	"github.com/solatis/tenantkeeper/internal/types"
)

/*
 * Tenant enforcement policy.
 *
 * Evaluate is a state machine with no persistent state across calls:
 *   1. Disabled mode or rewrite disabled: pass through unchanged
 *   2. Requirement probe: cheap structural scan; when every FROM target is
 *      allowlisted (or there are none), scoping is not required. A probe
 *      parse failure fails closed: scoping is treated as required.
 *   3. Scoping required without a tenant id: rejected before the
 *      transformer ever runs
 *   4. Transform under the wall-clock budget (deadline threaded into the
 *      scope walk; a second elapsed check here catches print-time overrun)
 *   5. Success: decision carries the rewritten SQL and merged params
 *   6. Failure: reason mapped to an outcome; strict mode rejects
 *      everything, non-strict degrades to fail-open only for explicitly
 *      configured lenient reasons, never for the security-relevant ones
 *   7. Bounded reason code and envelope metadata derived from the closed
 *      enums only
 *
 * Callers must treat ShouldExecute=false as a hard stop. Failure messages
 * go to logs only; envelope metadata carries the bounded codes.
 */

// Mode selects how the policy enforces tenant scoping.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeSQLRewrite
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return ModeDisabled, true
	case "sql_rewrite":
		return ModeSQLRewrite, true
	default:
		return ModeDisabled, false
	}
}

// String returns the canonical configuration name of the mode.
func (m Mode) String() string {
	if m == ModeSQLRewrite {
		return "sql_rewrite"
	}
	return "disabled"
}

// SchemaLoader resolves a table's column set from a schema snapshot.
// ok=false means the schema is unavailable for that table, which disables
// the column check for it (structure-only rewrite).
type SchemaLoader interface {
	ColumnsFor(table string) (columns map[string]struct{}, ok bool)
}

// Config is the immutable policy configuration. A Policy never mutates it
// after construction, so one instance is safe for concurrent evaluations.
type Config struct {
	Provider       types.Provider
	Mode           Mode
	Strict         bool
	MaxTargets     int
	MaxParams      int
	MaxASTNodes    int
	HardTimeout    time.Duration
	WarnAfter      time.Duration
	RewriteEnabled bool
	TenantColumn   string

	// LenientReasons lists the failure reasons allowed to fail open when
	// Strict is false. Empty by default: non-strict still rejects
	// everything. TENANT_COLUMN_MISSING and UNSUPPORTED_SHAPE are never
	// honored even if configured; leaking rows is worse than refusing.
	LenientReasons []types.FailureReason
}

// DefaultConfig returns a strict sql_rewrite configuration for a provider.
func DefaultConfig(provider types.Provider) Config {
	return Config{
		Provider:       provider,
		Mode:           ModeSQLRewrite,
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

// Policy evaluates queries against one immutable configuration.
type Policy struct {
	cfg     Config
	lenient map[types.FailureReason]struct{}
	logger  *slog.Logger
}

// New validates the configuration and builds a Policy. A nil logger uses
// slog.Default.
func New(cfg Config, logger *slog.Logger) (*Policy, error) {
	if cfg.Mode == ModeSQLRewrite {
		if !cfg.Provider.Known() {
			return nil, fmt.Errorf("policy config: %w", types.ErrUnknownProvider)
		}
		if cfg.MaxTargets <= 0 || cfg.MaxParams <= 0 || cfg.MaxASTNodes <= 0 {
			return nil, fmt.Errorf("policy config: %w", types.ErrNonPositiveLimit)
		}
		if cfg.HardTimeout <= 0 || cfg.WarnAfter <= 0 {
			return nil, fmt.Errorf("policy config: timeouts must be positive")
		}
		if cfg.WarnAfter >= cfg.HardTimeout {
			return nil, fmt.Errorf("policy config: warn_after (%v) must be below hard_timeout (%v)", cfg.WarnAfter, cfg.HardTimeout)
		}
	}
	if cfg.TenantColumn == "" {
		cfg.TenantColumn = types.DefaultTenantColumn
	}
	lenient := make(map[types.FailureReason]struct{}, len(cfg.LenientReasons))
	for _, r := range cfg.LenientReasons {
		// Shape and schema failures stay fail-closed unconditionally.
		if r == types.ReasonTenantColumnMissing || r == types.ReasonUnsupportedShape {
			continue
		}
		lenient[r] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, lenient: lenient, logger: logger}, nil
}

// Request is one evaluation input.
type Request struct {
	SQL            string
	TenantID       any
	Params         []any
	TenantColumn   string   // overrides the configured column when set
	TableAllowlist []string // tables exempt from scoping, any case
	Schema         SchemaLoader
}

// Decision is the evaluation result. ShouldExecute=false is a hard stop:
// neither the original nor any partial SQL may run.
type Decision struct {
	DecisionID        types.DecisionID  `json:"decision_id"`
	TenantRequired    bool              `json:"tenant_required"`
	ShouldExecute     bool              `json:"should_execute"`
	Outcome           Outcome           `json:"-"`
	OutcomeCode       string            `json:"outcome"`
	ReasonCode        string            `json:"reason_code,omitempty"`
	BoundedReasonCode string            `json:"bounded_reason_code"`
	EnvelopeMetadata  map[string]string `json:"envelope_metadata"`

	SQL             string           `json:"sql"`
	Params          []any            `json:"params"`
	TablesRewritten []types.TableRef `json:"tables_rewritten,omitempty"`
}

// Evaluate runs the policy state machine for one query. It never returns
// an error: every failure is a final Decision with a bounded outcome.
func (p *Policy) Evaluate(req Request) Decision {
	start := time.Now()
	d := Decision{DecisionID: types.NewDecisionID()}

	if p.cfg.Mode == ModeDisabled || !p.cfg.RewriteEnabled {
		return p.finish(&d, start, req, OutcomeSkippedNotRequired, "", true)
	}

	allowlist := normalizeAllowlist(req.TableAllowlist)
	required, tables := p.probe(req.SQL, allowlist)
	if !required {
		return p.finish(&d, start, req, OutcomeSkippedNotRequired, "", true)
	}
	d.TenantRequired = true

	if req.TenantID == nil || req.TenantID == "" {
		return p.finish(&d, start, req, OutcomeRejectedMissingTenant, ReasonCodeTenantRequired, false)
	}

	tenantColumn := req.TenantColumn
	if tenantColumn == "" {
		tenantColumn = p.cfg.TenantColumn
	}

	rreq := &types.RewriteRequest{
		SQL:            req.SQL,
		Provider:       p.cfg.Provider,
		TenantID:       req.TenantID,
		TenantColumn:   tenantColumn,
		MaxTargets:     p.cfg.MaxTargets,
		MaxParams:      p.cfg.MaxParams,
		MaxASTNodes:    p.cfg.MaxASTNodes,
		TableColumns:   p.loadColumns(req.Schema, tables),
		TableAllowlist: allowlist,
		CallerParams:   req.Params,
		Deadline:       start.Add(p.cfg.HardTimeout),
	}

	success, fail := rewrite.Transform(rreq)
	if fail != nil {
		if fail.Reason != types.ReasonTimeout {
			// Bounded diagnostics stay in logs; the decision carries codes only.
			p.logger.Debug("tenant rewrite rejected",
				"decision_id", string(d.DecisionID),
				"kind", fail.Kind.String(),
				"reason", fail.Reason.Code(),
				"message", fail.Message)
		}
		outcome := outcomeForReason(fail.Reason)
		if !p.cfg.Strict {
			if _, ok := p.lenient[fail.Reason]; ok {
				return p.finish(&d, start, req, outcome, fail.Reason.Code(), true)
			}
		}
		return p.finish(&d, start, req, outcome, fail.Reason.Code(), false)
	}

	// Print-time overrun is not caught by the cooperative deadline inside
	// the walk; the budget still applies.
	if time.Since(start) > p.cfg.HardTimeout {
		return p.finish(&d, start, req, OutcomeRejectedTimeout, types.ReasonTimeout.Code(), false)
	}

	d.SQL = success.RewrittenSQL
	d.Params = success.MergedParams
	d.TablesRewritten = success.TablesRewritten
	return p.finish(&d, start, req, OutcomeRewriteApplied, "", true)
}

// finish stamps outcome, bounded codes, envelope metadata, pass-through
// SQL/params where applicable, and the warn-threshold log.
func (p *Policy) finish(d *Decision, start time.Time, req Request, outcome Outcome, reasonCode string, execute bool) Decision {
	d.Outcome = outcome
	d.OutcomeCode = outcome.Code()
	d.ShouldExecute = execute
	d.ReasonCode = reasonCode
	d.BoundedReasonCode = BoundedReasonCode(outcome, reasonCode)

	d.EnvelopeMetadata = map[string]string{
		MetadataOutcomeKey: strings.ToLower(outcome.Code()),
	}
	if reasonCode != "" {
		d.EnvelopeMetadata[MetadataReasonKey] = strings.ToLower(reasonCode)
	}

	// Pass-through and fail-open decisions execute the original statement.
	if execute && outcome != OutcomeRewriteApplied {
		d.SQL = req.SQL
		d.Params = req.Params
	}

	if elapsed := time.Since(start); elapsed > p.cfg.WarnAfter && p.cfg.WarnAfter > 0 {
		p.logger.Warn("tenant policy evaluation exceeded warn threshold",
			"decision_id", string(d.DecisionID),
			"outcome", strings.ToLower(outcome.Code()),
			"elapsed", elapsed)
	}
	return *d
}

// probe is the parse-light requirement check: scoping is required when any
// FROM target falls outside the allowlist. Parse or shape problems fail
// closed (required=true) and are classified properly by the transformer.
// Returns the distinct base-table names for the schema loader.
func (p *Policy) probe(sql string, allowlist map[string]struct{}) (bool, []string) {
	stmt, err := sqlast.Parse(sql, p.cfg.Provider)
	if err != nil {
		return true, nil
	}
	scopes, err := sqlast.EnumerateScopes(stmt)
	if err != nil {
		return true, nil
	}

	required := false
	seen := make(map[string]struct{})
	var tables []string
	for _, scope := range scopes {
		for _, target := range scope.Targets {
			if target.Derived {
				required = true
				continue
			}
			name := sqlast.NormalizeTable(target.Table)
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				tables = append(tables, name)
			}
			if _, ok := allowlist[name]; !ok {
				required = true
			}
		}
	}
	return required, tables
}

// loadColumns resolves the schema snapshot for the probed tables. Tables
// the loader cannot resolve stay absent, which the transformer treats as
// schema-unavailable.
func (p *Policy) loadColumns(loader SchemaLoader, tables []string) map[string]map[string]struct{} {
	if loader == nil || len(tables) == 0 {
		return nil
	}
	columns := make(map[string]map[string]struct{}, len(tables))
	for _, table := range tables {
		if cols, ok := loader.ColumnsFor(table); ok {
			columns[table] = cols
		}
	}
	if len(columns) == 0 {
		return nil
	}
	return columns
}

func normalizeAllowlist(tables []string) map[string]struct{} {
	if len(tables) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[sqlast.NormalizeTable(t)] = struct{}{}
	}
	return set
}
