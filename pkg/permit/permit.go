// Package permit implements execution-permit construction and validation:
// one-shot and bounded authorizations that bind a single executor dispatch
// to a specific point in an audit stream.
package permit

import (
	"github.com/forgeward/kernel/pkg/canonical"
	"github.com/forgeward/kernel/pkg/kernelerr"
)

// Decision is the outcome a permit encodes.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionWarn   Decision = "warn"
	DecisionBlock  Decision = "block"
	DecisionReview Decision = "review"
)

// Scope restricts how many chain positions a permit authorizes.
type Scope string

const (
	ScopeOneShot Scope = "one_shot"
	ScopeBounded Scope = "bounded"
)

var allowedDecisions = map[Decision]bool{DecisionAllow: true, DecisionWarn: true, DecisionBlock: true, DecisionReview: true}
var allowedScopes = map[Scope]bool{ScopeOneShot: true, ScopeBounded: true}
var allowedExpiryKeys = map[string]bool{"valid_for_sequence_range": true, "valid_for_commit": true}

// ExecutionPermit authorizes a single executor dispatch.
type ExecutionPermit struct {
	PermitID           string
	PolicyHash         string
	RequestFingerprint string
	Capability         map[string]any
	Decision           Decision
	SeverityToGating   map[string]string
	IssuedBy           string
	IssuedAtSequence   int64
	StreamID           string
	PrevEventHash      string
	PermitScope        Scope
	ExpiryCondition    map[string]any
}

func errInvalid(field string) error {
	return kernelerr.New(kernelerr.ClassInputShape, kernelerr.Code("secure_layer.permit.invalid."+field), "", nil)
}

func requireNonEmptyString(v, field string) error {
	if v == "" {
		return errInvalid(field)
	}
	return nil
}

func requireNonEmptyMapping[V any](m map[string]V, field string) error {
	if len(m) == 0 {
		return errInvalid(field)
	}
	return nil
}

// ValidateStructure enforces every attribute-level invariant from the
// permit data model: required fields, allowed decision/scope enums, a
// complete severity_to_gating mapping, a well-formed expiry condition, and
// the honest fixed-point permit_id.
func ValidateStructure(p *ExecutionPermit) error {
	for _, f := range []struct{ v, name string }{
		{p.PermitID, "permit_id"},
		{p.PolicyHash, "policy_hash"},
		{p.RequestFingerprint, "request_fingerprint"},
		{p.IssuedBy, "issued_by"},
		{p.StreamID, "stream_id"},
		{p.PrevEventHash, "prev_event_hash"},
	} {
		if err := requireNonEmptyString(f.v, f.name); err != nil {
			return err
		}
	}

	if p.IssuedAtSequence < 0 {
		return errInvalid("issued_at_sequence")
	}
	if !allowedDecisions[p.Decision] {
		return errInvalid("decision")
	}
	if !allowedScopes[p.PermitScope] {
		return errInvalid("permit_scope")
	}

	if err := requireNonEmptyMapping(p.Capability, "capability"); err != nil {
		return err
	}
	if err := requireNonEmptyMapping(p.SeverityToGating, "severity_to_gating"); err != nil {
		return err
	}
	if err := validateSeverityToGating(p.SeverityToGating); err != nil {
		return err
	}
	if err := validateExpiryCondition(p.ExpiryCondition); err != nil {
		return err
	}

	computed, err := ComputePermitID(p)
	if err != nil {
		return err
	}
	if p.PermitID != computed {
		return errInvalid("permit_id_mismatch")
	}
	return nil
}

func validateSeverityToGating(m map[string]string) error {
	required := map[string]string{
		"allow":  "proceed",
		"warn":   "proceed_emit_audit",
		"block":  "deny_emit_audit",
		"review": "pause_pending_ledger",
	}
	for key := range required {
		v, ok := m[key]
		if !ok || v == "" {
			return errInvalid("severity_to_gating")
		}
	}
	for key := range m {
		if _, ok := required[key]; !ok {
			return errInvalid("severity_to_gating")
		}
	}
	return nil
}

func validateExpiryCondition(expiry map[string]any) error {
	if len(expiry) == 0 {
		return errInvalid("expiry_condition")
	}
	for key := range expiry {
		if !allowedExpiryKeys[key] {
			return errInvalid("expiry_condition_key")
		}
	}
	rangeVal, hasRange := expiry["valid_for_sequence_range"]
	commitVal, hasCommit := expiry["valid_for_commit"]
	if !hasRange && !hasCommit {
		return errInvalid("expiry_condition_missing")
	}
	if hasRange {
		if _, _, err := validateSequenceRange(rangeVal); err != nil {
			return err
		}
	}
	if hasCommit {
		sha, ok := commitVal.(string)
		if !ok || sha == "" {
			return errInvalid("valid_for_commit")
		}
	}
	return rejectFloats(expiry)
}

func validateSequenceRange(v any) (int64, int64, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return 0, 0, errInvalid("valid_for_sequence_range")
	}
	start, ok1 := asInt(list[0])
	end, ok2 := asInt(list[1])
	if !ok1 || !ok2 {
		return 0, 0, errInvalid("valid_for_sequence_range")
	}
	if start < 0 || end < 0 || start > end {
		return 0, 0, errInvalid("valid_for_sequence_range")
	}
	return start, end, nil
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}

func rejectFloats(v any) error {
	switch t := v.(type) {
	case float64:
		return errInvalid("float_in_expiry_condition")
	case []any:
		for _, item := range t {
			if err := rejectFloats(item); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, item := range t {
			if err := rejectFloats(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputePermitIDInput builds the canonical, domain-hash-ready input that
// compute_permit_id hashes. Forbids floats recursively.
func ComputePermitIDInput(p *ExecutionPermit) (map[string]any, error) {
	if err := rejectFloats(p.Capability); err != nil {
		return nil, err
	}
	if err := rejectFloats(p.ExpiryCondition); err != nil {
		return nil, err
	}
	severity := map[string]any{}
	for k, v := range p.SeverityToGating {
		severity[k] = v
	}
	return map[string]any{
		"policy_hash":          p.PolicyHash,
		"request_fingerprint":  p.RequestFingerprint,
		"capability":           p.Capability,
		"decision":             string(p.Decision),
		"severity_to_gating":   severity,
		"issued_by":            p.IssuedBy,
		"issued_at_sequence":   p.IssuedAtSequence,
		"stream_id":            p.StreamID,
		"prev_event_hash":      p.PrevEventHash,
		"permit_scope":         string(p.PermitScope),
		"expiry_condition":     p.ExpiryCondition,
	}, nil
}

// ComputePermitID is the honest fixed-point: the permit's identity is the
// domain hash of its own input.
func ComputePermitID(p *ExecutionPermit) (string, error) {
	input, err := ComputePermitIDInput(p)
	if err != nil {
		return "", err
	}
	return canonical.DomainHash(canonical.DomainExecutionPermit, input)
}

// VerifyAgainstChain validates permit structure and then binds the permit
// to the caller's current chain position, enforcing the scope-specific
// sequence-range rule.
func VerifyAgainstChain(p *ExecutionPermit, currentStreamID string, currentSequence int64, currentPrevEventHash string) error {
	if err := ValidateStructure(p); err != nil {
		return err
	}
	if currentStreamID == "" {
		return errInvalid("current_stream_id")
	}
	if currentPrevEventHash == "" {
		return errInvalid("current_prev_event_hash")
	}
	if currentSequence < 0 {
		return errInvalid("current_sequence")
	}

	if p.StreamID != currentStreamID {
		return errInvalid("stream_id_mismatch")
	}
	if p.PrevEventHash != currentPrevEventHash {
		return errInvalid("prev_event_hash_mismatch")
	}
	if p.PermitScope == ScopeOneShot && p.IssuedAtSequence != currentSequence {
		return errInvalid("sequence_mismatch")
	}

	rangeVal, ok := p.ExpiryCondition["valid_for_sequence_range"]
	if !ok {
		return errInvalid("expiry_sequence_range_missing")
	}
	start, end, err := validateSequenceRange(rangeVal)
	if err != nil {
		return err
	}

	if p.PermitScope == ScopeOneShot {
		if start != p.IssuedAtSequence || end != p.IssuedAtSequence {
			return errInvalid("one_shot_range_mismatch")
		}
	} else {
		if !(start <= currentSequence && currentSequence <= end) {
			return errInvalid("bounded_range_violation")
		}
	}

	if commitVal, ok := p.ExpiryCondition["valid_for_commit"]; ok {
		sha, ok := commitVal.(string)
		if !ok || sha == "" {
			return errInvalid("valid_for_commit")
		}
	}
	return nil
}
