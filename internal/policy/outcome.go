package policy

import (
	"strings"

	"github.com/solatis/tenantkeeper/internal/types"
)

// Outcome classifies the result of one policy evaluation. Closed enum;
// Code values are stable identifiers safe for telemetry attributes.
type Outcome int

const (
	OutcomeSkippedNotRequired Outcome = iota
	OutcomeRewriteApplied
	OutcomeRejectedMissingTenant
	OutcomeRejectedLimit
	OutcomeRejectedUnsupported
	OutcomeRejectedParseError
	OutcomeRejectedSchemaMismatch
	OutcomeRejectedTimeout
)

// Code returns the stable identifier of the outcome.
func (o Outcome) Code() string {
	switch o {
	case OutcomeSkippedNotRequired:
		return "SKIPPED_NOT_REQUIRED"
	case OutcomeRewriteApplied:
		return "REWRITE_APPLIED"
	case OutcomeRejectedMissingTenant:
		return "REJECTED_MISSING_TENANT"
	case OutcomeRejectedLimit:
		return "REJECTED_LIMIT"
	case OutcomeRejectedUnsupported:
		return "REJECTED_UNSUPPORTED"
	case OutcomeRejectedParseError:
		return "REJECTED_PARSE_ERROR"
	case OutcomeRejectedSchemaMismatch:
		return "REJECTED_SCHEMA_MISMATCH"
	case OutcomeRejectedTimeout:
		return "REJECTED_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// AllOutcomes returns the full closed set of outcomes. Telemetry consumers
// use this to pre-register the bounded value space.
func AllOutcomes() []Outcome {
	return []Outcome{
		OutcomeSkippedNotRequired,
		OutcomeRewriteApplied,
		OutcomeRejectedMissingTenant,
		OutcomeRejectedLimit,
		OutcomeRejectedUnsupported,
		OutcomeRejectedParseError,
		OutcomeRejectedSchemaMismatch,
		OutcomeRejectedTimeout,
	}
}

// ReasonCodeTenantRequired is the reason carried when scoping is required
// but the caller supplied no tenant identifier. It short-circuits before
// the transformer runs, so it has no types.FailureReason counterpart.
const ReasonCodeTenantRequired = "TENANT_ID_REQUIRED"

// Envelope metadata keys. Callers attach these verbatim to response
// envelopes and telemetry spans.
const (
	MetadataOutcomeKey = "tenant_rewrite_outcome"
	MetadataReasonKey  = "tenant_rewrite_reason_code"
)

// outcomeForReason maps the transformer's reason taxonomy to outcomes.
func outcomeForReason(r types.FailureReason) Outcome {
	switch r {
	case types.ReasonParamLimitExceeded, types.ReasonTargetLimitExceeded, types.ReasonASTLimitExceeded:
		return OutcomeRejectedLimit
	case types.ReasonUnsupportedShape:
		return OutcomeRejectedUnsupported
	case types.ReasonParseError:
		return OutcomeRejectedParseError
	case types.ReasonTenantColumnMissing:
		return OutcomeRejectedSchemaMismatch
	case types.ReasonTimeout:
		return OutcomeRejectedTimeout
	default:
		return OutcomeRejectedUnsupported
	}
}

// BoundedReasonCode derives the telemetry-safe reason string from the
// closed enums: "tenant_rewrite_" + snake_case(reason code, or the outcome
// code when no reason exists). Inputs come only from Outcome.Code and
// FailureReason.Code (plus ReasonCodeTenantRequired), so the value space
// is statically enumerable.
func BoundedReasonCode(outcome Outcome, reasonCode string) string {
	code := reasonCode
	if code == "" {
		code = outcome.Code()
	}
	return "tenant_rewrite_" + strings.ToLower(code)
}

// AllBoundedReasonCodes enumerates every value BoundedReasonCode can
// produce. Metric systems can pre-register this set.
func AllBoundedReasonCodes() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(code string) {
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, o := range AllOutcomes() {
		add(BoundedReasonCode(o, ""))
	}
	add(BoundedReasonCode(OutcomeRejectedMissingTenant, ReasonCodeTenantRequired))
	for _, r := range types.AllFailureReasons() {
		add(BoundedReasonCode(outcomeForReason(r), r.Code()))
	}
	return out
}
