package policy

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/solatis/tenantkeeper/internal/types"
)

// mapSchema is a SchemaLoader backed by a plain map for tests.
type mapSchema map[string][]string

func (m mapSchema) ColumnsFor(table string) (map[string]struct{}, bool) {
	cols, ok := m[table]
	if !ok {
		return nil, false
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return set, true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPolicy(t *testing.T, cfg Config) *Policy {
	t.Helper()
	p, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown provider", mutate: func(c *Config) { c.Provider = types.ProviderUnspecified }},
		{name: "zero max targets", mutate: func(c *Config) { c.MaxTargets = 0 }},
		{name: "zero hard timeout", mutate: func(c *Config) { c.HardTimeout = 0 }},
		{name: "warn at or above hard timeout", mutate: func(c *Config) { c.WarnAfter = c.HardTimeout }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(types.ProviderSQLite)
			tt.mutate(&cfg)
			if _, err := New(cfg, discardLogger()); err == nil {
				t.Error("New() error = nil, want validation error")
			}
		})
	}
}

func TestNew_DisabledModeSkipsRewriteValidation(t *testing.T) {
	cfg := Config{Mode: ModeDisabled}
	if _, err := New(cfg, discardLogger()); err != nil {
		t.Errorf("New() error = %v, want nil for disabled mode", err)
	}
}

func TestEvaluate_DisabledModePassesThrough(t *testing.T) {
	p := mustPolicy(t, Config{Mode: ModeDisabled})

	d := p.Evaluate(Request{SQL: "SELECT * FROM orders", Params: []any{1}})
	if !d.ShouldExecute {
		t.Error("ShouldExecute = false, want true")
	}
	if d.Outcome != OutcomeSkippedNotRequired {
		t.Errorf("Outcome = %v, want OutcomeSkippedNotRequired", d.Outcome)
	}
	if d.SQL != "SELECT * FROM orders" || !reflect.DeepEqual(d.Params, []any{1}) {
		t.Errorf("pass-through SQL/Params = %q / %v, want originals", d.SQL, d.Params)
	}
	if d.TenantRequired {
		t.Error("TenantRequired = true, want false")
	}
}

func TestEvaluate_RewriteDisabledPassesThrough(t *testing.T) {
	cfg := DefaultConfig(types.ProviderSQLite)
	cfg.RewriteEnabled = false
	p := mustPolicy(t, cfg)

	d := p.Evaluate(Request{SQL: "SELECT * FROM orders"})
	if !d.ShouldExecute || d.Outcome != OutcomeSkippedNotRequired {
		t.Errorf("decision = %+v, want pass-through skip", d)
	}
}

func TestEvaluate_NoTablesNotRequired(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{SQL: "SELECT 1 AS ok"})
	if d.TenantRequired {
		t.Error("TenantRequired = true, want false for table-free select")
	}
	if !d.ShouldExecute || d.Outcome != OutcomeSkippedNotRequired {
		t.Errorf("decision = %+v, want skip", d)
	}
	if d.SQL != "SELECT 1 AS ok" {
		t.Errorf("SQL = %q, want original", d.SQL)
	}
}

func TestEvaluate_FullyAllowlistedNotRequired(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{
		SQL:            "SELECT * FROM countries",
		TableAllowlist: []string{"Countries"},
	})
	if d.TenantRequired {
		t.Error("TenantRequired = true, want false when all targets allowlisted")
	}
	if d.Outcome != OutcomeSkippedNotRequired {
		t.Errorf("Outcome = %v, want OutcomeSkippedNotRequired", d.Outcome)
	}
}

func TestEvaluate_MissingTenantRejected(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{SQL: "SELECT * FROM orders"})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, want false")
	}
	if !d.TenantRequired {
		t.Error("TenantRequired = false, want true")
	}
	if d.Outcome != OutcomeRejectedMissingTenant {
		t.Errorf("Outcome = %v, want OutcomeRejectedMissingTenant", d.Outcome)
	}
	if d.ReasonCode != ReasonCodeTenantRequired {
		t.Errorf("ReasonCode = %q, want %q", d.ReasonCode, ReasonCodeTenantRequired)
	}
	if d.SQL != "" {
		t.Errorf("SQL = %q, want empty on rejection", d.SQL)
	}
}

func TestEvaluate_RewriteApplied(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{
		SQL:      "SELECT * FROM orders WHERE status = ?",
		TenantID: 7,
		Params:   []any{"open"},
	})
	if !d.ShouldExecute {
		t.Fatalf("decision = %+v, want executable rewrite", d)
	}
	if d.Outcome != OutcomeRewriteApplied {
		t.Errorf("Outcome = %v, want OutcomeRewriteApplied", d.Outcome)
	}
	if !strings.Contains(d.SQL, "orders.tenant_id = ?") {
		t.Errorf("SQL = %q, missing tenant predicate", d.SQL)
	}
	if !reflect.DeepEqual(d.Params, []any{"open", 7}) {
		t.Errorf("Params = %v, want [open 7]", d.Params)
	}
	want := []types.TableRef{{Table: "orders"}}
	if !reflect.DeepEqual(d.TablesRewritten, want) {
		t.Errorf("TablesRewritten = %v, want %v", d.TablesRewritten, want)
	}
	if d.ReasonCode != "" {
		t.Errorf("ReasonCode = %q, want empty", d.ReasonCode)
	}
	if d.DecisionID == "" {
		t.Error("DecisionID is empty")
	}
}

func TestEvaluate_ParseErrorFailsClosed(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{SQL: "not sql at all", TenantID: 7})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, want false")
	}
	if !d.TenantRequired {
		t.Error("TenantRequired = false, want true (probe fails closed)")
	}
	if d.Outcome != OutcomeRejectedParseError {
		t.Errorf("Outcome = %v, want OutcomeRejectedParseError", d.Outcome)
	}
}

func TestEvaluate_SchemaMismatchRejected(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{
		SQL:      "SELECT * FROM orders",
		TenantID: 7,
		Schema:   mapSchema{"orders": {"id", "status"}},
	})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, want false")
	}
	if d.Outcome != OutcomeRejectedSchemaMismatch {
		t.Errorf("Outcome = %v, want OutcomeRejectedSchemaMismatch", d.Outcome)
	}
	if d.ReasonCode != types.ReasonTenantColumnMissing.Code() {
		t.Errorf("ReasonCode = %q, want %q", d.ReasonCode, types.ReasonTenantColumnMissing.Code())
	}
}

func TestEvaluate_SchemaMatchRewrites(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{
		SQL:      "SELECT * FROM orders",
		TenantID: 7,
		Schema:   mapSchema{"orders": {"id", "status", "tenant_id"}},
	})
	if !d.ShouldExecute || d.Outcome != OutcomeRewriteApplied {
		t.Errorf("decision = %+v, want applied rewrite", d)
	}
}

func TestEvaluate_OutcomeMapping(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		mutate  func(*Config)
		outcome Outcome
		reason  string
	}{
		{
			name:    "derived table",
			sql:     "SELECT * FROM (SELECT * FROM orders) o",
			outcome: OutcomeRejectedUnsupported,
			reason:  types.ReasonUnsupportedShape.Code(),
		},
		{
			name:    "dml statement",
			sql:     "DELETE FROM orders",
			outcome: OutcomeRejectedUnsupported,
			reason:  types.ReasonUnsupportedShape.Code(),
		},
		{
			name:    "target limit",
			sql:     "SELECT * FROM t1, t2, t3",
			mutate:  func(c *Config) { c.MaxTargets = 2 },
			outcome: OutcomeRejectedLimit,
			reason:  types.ReasonTargetLimitExceeded.Code(),
		},
		{
			name:    "ast node limit",
			sql:     "SELECT a, b, c FROM orders WHERE a = 1",
			mutate:  func(c *Config) { c.MaxASTNodes = 2 },
			outcome: OutcomeRejectedLimit,
			reason:  types.ReasonASTLimitExceeded.Code(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(types.ProviderSQLite)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			p := mustPolicy(t, cfg)

			d := p.Evaluate(Request{SQL: tt.sql, TenantID: 7})
			if d.ShouldExecute {
				t.Error("ShouldExecute = true, want false")
			}
			if d.Outcome != tt.outcome {
				t.Errorf("Outcome = %v, want %v", d.Outcome, tt.outcome)
			}
			if d.ReasonCode != tt.reason {
				t.Errorf("ReasonCode = %q, want %q", d.ReasonCode, tt.reason)
			}
		})
	}
}

func TestEvaluate_TimeoutRejected(t *testing.T) {
	cfg := DefaultConfig(types.ProviderSQLite)
	cfg.HardTimeout = 2 * time.Nanosecond
	cfg.WarnAfter = time.Nanosecond
	p := mustPolicy(t, cfg)

	d := p.Evaluate(Request{SQL: "SELECT * FROM orders", TenantID: 7})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, want false")
	}
	if d.Outcome != OutcomeRejectedTimeout {
		t.Errorf("Outcome = %v, want OutcomeRejectedTimeout", d.Outcome)
	}
	if d.ReasonCode != types.ReasonTimeout.Code() {
		t.Errorf("ReasonCode = %q, want %q", d.ReasonCode, types.ReasonTimeout.Code())
	}
}

func TestEvaluate_LenientReasonFailsOpen(t *testing.T) {
	cfg := DefaultConfig(types.ProviderSQLite)
	cfg.Strict = false
	cfg.MaxTargets = 2
	cfg.LenientReasons = []types.FailureReason{types.ReasonTargetLimitExceeded}
	p := mustPolicy(t, cfg)

	d := p.Evaluate(Request{SQL: "SELECT * FROM t1, t2, t3", TenantID: 7, Params: []any{1}})
	if !d.ShouldExecute {
		t.Error("ShouldExecute = false, want fail-open for configured lenient reason")
	}
	if d.Outcome != OutcomeRejectedLimit {
		t.Errorf("Outcome = %v, want OutcomeRejectedLimit", d.Outcome)
	}
	if d.SQL != "SELECT * FROM t1, t2, t3" || !reflect.DeepEqual(d.Params, []any{1}) {
		t.Errorf("fail-open SQL/Params = %q / %v, want originals", d.SQL, d.Params)
	}
}

func TestEvaluate_NonStrictWithoutLenientStillRejects(t *testing.T) {
	cfg := DefaultConfig(types.ProviderSQLite)
	cfg.Strict = false
	cfg.MaxTargets = 2
	p := mustPolicy(t, cfg)

	d := p.Evaluate(Request{SQL: "SELECT * FROM t1, t2, t3", TenantID: 7})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, want false when reason not configured lenient")
	}
}

func TestEvaluate_SchemaMismatchNeverFailsOpen(t *testing.T) {
	cfg := DefaultConfig(types.ProviderSQLite)
	cfg.Strict = false
	cfg.LenientReasons = []types.FailureReason{
		types.ReasonTenantColumnMissing,
		types.ReasonUnsupportedShape,
	}
	p := mustPolicy(t, cfg)

	d := p.Evaluate(Request{
		SQL:      "SELECT * FROM orders",
		TenantID: 7,
		Schema:   mapSchema{"orders": {"id"}},
	})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, schema mismatch must never fail open")
	}

	d = p.Evaluate(Request{SQL: "SELECT * FROM (SELECT * FROM orders) o", TenantID: 7})
	if d.ShouldExecute {
		t.Error("ShouldExecute = true, unsupported shape must never fail open")
	}
}

func TestEvaluate_EnvelopeMetadata(t *testing.T) {
	p := mustPolicy(t, DefaultConfig(types.ProviderSQLite))

	d := p.Evaluate(Request{SQL: "SELECT * FROM orders", TenantID: 7})
	if got := d.EnvelopeMetadata[MetadataOutcomeKey]; got != "rewrite_applied" {
		t.Errorf("metadata outcome = %q, want rewrite_applied", got)
	}
	if _, ok := d.EnvelopeMetadata[MetadataReasonKey]; ok {
		t.Error("metadata reason present on success, want absent")
	}
	if d.BoundedReasonCode != "tenant_rewrite_rewrite_applied" {
		t.Errorf("BoundedReasonCode = %q, want tenant_rewrite_rewrite_applied", d.BoundedReasonCode)
	}

	d = p.Evaluate(Request{SQL: "SELECT * FROM orders"})
	if got := d.EnvelopeMetadata[MetadataReasonKey]; got != "tenant_id_required" {
		t.Errorf("metadata reason = %q, want tenant_id_required", got)
	}
	if d.BoundedReasonCode != "tenant_rewrite_tenant_id_required" {
		t.Errorf("BoundedReasonCode = %q, want tenant_rewrite_tenant_id_required", d.BoundedReasonCode)
	}
}

func TestBoundedReasonCode_ClosedSet(t *testing.T) {
	all := AllBoundedReasonCodes()
	if len(all) == 0 {
		t.Fatal("AllBoundedReasonCodes() is empty")
	}

	seen := make(map[string]struct{}, len(all))
	for _, code := range all {
		if !strings.HasPrefix(code, "tenant_rewrite_") {
			t.Errorf("code %q missing tenant_rewrite_ prefix", code)
		}
		if code != strings.ToLower(code) {
			t.Errorf("code %q is not lowercase", code)
		}
		if _, dup := seen[code]; dup {
			t.Errorf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}

	// Every reachable decision code is a member of the enumerated set.
	for _, o := range AllOutcomes() {
		if _, ok := seen[BoundedReasonCode(o, "")]; !ok {
			t.Errorf("outcome code %q not enumerated", BoundedReasonCode(o, ""))
		}
	}
	for _, r := range types.AllFailureReasons() {
		code := BoundedReasonCode(outcomeForReason(r), r.Code())
		if _, ok := seen[code]; !ok {
			t.Errorf("reason code %q not enumerated", code)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, ok := ParseMode("sql_rewrite"); !ok || m != ModeSQLRewrite {
		t.Errorf("ParseMode(sql_rewrite) = %v, %v", m, ok)
	}
	if m, ok := ParseMode(" Disabled "); !ok || m != ModeDisabled {
		t.Errorf("ParseMode(Disabled) = %v, %v", m, ok)
	}
	if _, ok := ParseMode("bogus"); ok {
		t.Error("ParseMode(bogus) ok = true, want false")
	}
}
