package moderation

import (
	"fmt"
	"strings"

	"github.com/whisper/contentguard/internal/metrics"
)

// Decision is what the gate tells the submit action to do.
type Decision string

const (
	Allow        Decision = "allow"
	Block        Decision = "block"
	WarnButAllow Decision = "warn_but_allow"
)

// FailurePolicy decides the outcome when a check could not be completed.
type FailurePolicy string

const (
	FailClosed   FailurePolicy = "fail_closed"
	FailOpenWarn FailurePolicy = "fail_open_warn"
)

// ParseFailurePolicy accepts "fail_closed" and "fail_open_warn", with '-'
// allowed in place of '_'.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")) {
	case FailClosed:
		return FailClosed, nil
	case FailOpenWarn:
		return FailOpenWarn, nil
	}
	return "", fmt.Errorf("moderation: unknown failure policy %q", s)
}

// NoticeCheckUnavailable is shown to the author when a check failed and the
// content was let through.
const NoticeCheckUnavailable = "moderation check unavailable, retry before posting"

// GateConfig names the failure policy for every content type.
type GateConfig struct {
	OnFailure map[ContentType]FailurePolicy
}

// DefaultGateConfig fails closed for usernames and open with a warning for
// posts and comments.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		OnFailure: map[ContentType]FailurePolicy{
			ContentPost:     FailOpenWarn,
			ContentComment:  FailOpenWarn,
			ContentUsername: FailClosed,
		},
	}
}

// GateResult is a Decision together with the text shown to the author.
type GateResult struct {
	Decision Decision
	Notice   string
}

// PolicyGate turns verdicts into submit decisions. It is immutable after
// construction.
type PolicyGate struct {
	onFailure map[ContentType]FailurePolicy
}

// NewPolicyGate builds a gate. Content types missing from cfg fall back to
// the defaults; an unknown content type always fails closed.
func NewPolicyGate(cfg GateConfig) *PolicyGate {
	g := &PolicyGate{onFailure: DefaultGateConfig().OnFailure}
	for ct, p := range cfg.OnFailure {
		g.onFailure[ct] = p
	}
	return g
}

// FailurePolicyFor returns the failure policy applied to ct.
func (g *PolicyGate) FailurePolicyFor(ct ContentType) FailurePolicy {
	if p, ok := g.onFailure[ct]; ok {
		return p
	}
	return FailClosed
}

// Evaluate decides on a completed check. Flagged content is blocked for
// every content type and there is no client-side override.
func (g *PolicyGate) Evaluate(v Verdict, ct ContentType) Decision {
	return g.Decide(v, nil, ct).Decision
}

// EvaluateOutcome decides on the result of Pipeline.CheckContent, applying
// the failure policy of ct when err is set.
func (g *PolicyGate) EvaluateOutcome(v Verdict, err error, ct ContentType) Decision {
	return g.Decide(v, err, ct).Decision
}

// Decide is EvaluateOutcome with the author-facing notice attached.
func (g *PolicyGate) Decide(v Verdict, err error, ct ContentType) GateResult {
	var res GateResult
	switch {
	case err != nil:
		// Any error means the check did not complete, and an incomplete
		// check is never clean.
		res = g.onCheckFailed(ct)
	case v.IsFlagged:
		res = GateResult{Decision: Block, Notice: FlaggedNotice(v)}
	default:
		res = GateResult{Decision: Allow}
	}
	metrics.GateDecisions.WithLabelValues(string(ct), string(res.Decision)).Inc()
	return res
}

func (g *PolicyGate) onCheckFailed(ct ContentType) GateResult {
	if g.FailurePolicyFor(ct) == FailOpenWarn {
		return GateResult{Decision: WarnButAllow, Notice: NoticeCheckUnavailable}
	}
	return GateResult{Decision: Block, Notice: NoticeCheckUnavailable}
}

// FlaggedNotice describes a flagged verdict to its author.
func FlaggedNotice(v Verdict) string {
	return fmt.Sprintf("content flagged as %s (confidence %.0f%%, severity %.0f%%)",
		v.Category, v.Confidence*100, v.Severity*100)
}
