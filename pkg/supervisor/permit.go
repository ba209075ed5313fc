package supervisor

import (
	"fmt"

	"github.com/forgeward/kernel/pkg/canonical"
	"github.com/forgeward/kernel/pkg/permit"
)

// IssuePermit builds the one-shot execution permit for dispatching task
// taskID: stream_id "task-<id>", sequence and issued_at_sequence both
// equal to taskID, prev_event_hash the governance hash, and a request
// fingerprint over the fixed executor.dispatch_task_once capability.
func IssuePermit(policyHash, governanceHash string, taskID int) (*permit.ExecutionPermit, error) {
	target := fmt.Sprintf("task:%d", taskID)
	fingerprintInput, err := canonical.RequestFingerprintInput("supervisor", "executor.dispatch_task_once", "execute_capability", target, governanceHash)
	if err != nil {
		return nil, err
	}
	requestFingerprint, err := canonical.DomainHash(canonical.DomainRequestFingerprint, fingerprintInput)
	if err != nil {
		return nil, err
	}

	streamID := fmt.Sprintf("task-%d", taskID)
	p := &permit.ExecutionPermit{
		PolicyHash:         policyHash,
		RequestFingerprint: requestFingerprint,
		Capability:         map[string]any{"name": "executor.dispatch_task_once", "target": target},
		Decision:           permit.DecisionAllow,
		SeverityToGating: map[string]string{
			"allow":  "proceed",
			"warn":   "proceed_emit_audit",
			"block":  "deny_emit_audit",
			"review": "pause_pending_ledger",
		},
		IssuedBy:         "supervisor",
		IssuedAtSequence: int64(taskID),
		StreamID:         streamID,
		PrevEventHash:    governanceHash,
		PermitScope:      permit.ScopeOneShot,
		ExpiryCondition: map[string]any{
			"valid_for_sequence_range": []any{int64(taskID), int64(taskID)},
		},
	}

	permitID, err := permit.ComputePermitID(p)
	if err != nil {
		return nil, err
	}
	p.PermitID = permitID

	if err := permit.ValidateStructure(p); err != nil {
		return nil, err
	}
	return p, nil
}
