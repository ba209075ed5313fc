package permit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validPermit(t *testing.T, scope Scope, issuedAt int64, rangeVal []any) *ExecutionPermit {
	t.Helper()
	p := &ExecutionPermit{
		PolicyHash:         "policy-hash-1",
		RequestFingerprint: "fp-1",
		Capability:         map[string]any{"op": "executor.dispatch_task_once"},
		Decision:           DecisionAllow,
		SeverityToGating: map[string]string{
			"allow":  "proceed",
			"warn":   "proceed_emit_audit",
			"block":  "deny_emit_audit",
			"review": "pause_pending_ledger",
		},
		IssuedBy:         "supervisor",
		IssuedAtSequence: issuedAt,
		StreamID:         "stream-1",
		PrevEventHash:    "prev-hash-1",
		PermitScope:      scope,
		ExpiryCondition:  map[string]any{"valid_for_sequence_range": rangeVal},
	}
	id, err := ComputePermitID(p)
	require.NoError(t, err)
	p.PermitID = id
	return p
}

func TestValidateStructure_HonestFixedPoint(t *testing.T) {
	p := validPermit(t, ScopeOneShot, 5, []any{int64(5), int64(5)})
	require.NoError(t, ValidateStructure(p))
}

func TestValidateStructure_RejectsTamperedPermitID(t *testing.T) {
	p := validPermit(t, ScopeOneShot, 5, []any{int64(5), int64(5)})
	p.PermitID = "tampered"
	err := ValidateStructure(p)
	require.Error(t, err)
}

func TestVerifyAgainstChain_OneShotBinding(t *testing.T) {
	p := validPermit(t, ScopeOneShot, 5, []any{int64(5), int64(5)})

	require.NoError(t, VerifyAgainstChain(p, "stream-1", 5, "prev-hash-1"))

	err := VerifyAgainstChain(p, "stream-1", 6, "prev-hash-1")
	require.Error(t, err)

	err = VerifyAgainstChain(p, "stream-other", 5, "prev-hash-1")
	require.Error(t, err)
}

func TestVerifyAgainstChain_BoundedRange(t *testing.T) {
	p := validPermit(t, ScopeBounded, 5, []any{int64(5), int64(10)})
	require.NoError(t, VerifyAgainstChain(p, "stream-1", 7, "prev-hash-1"))
	require.Error(t, VerifyAgainstChain(p, "stream-1", 11, "prev-hash-1"))
}

func TestValidateStructure_RejectsIncompleteSeverityMapping(t *testing.T) {
	p := validPermit(t, ScopeOneShot, 5, []any{int64(5), int64(5)})
	delete(p.SeverityToGating, "review")
	id, err := ComputePermitID(p)
	require.NoError(t, err)
	p.PermitID = id
	require.Error(t, ValidateStructure(p))
}
