package canonical

// Domain tags. Distinct per semantic object to prevent cross-context hash
// collisions; every tag is version-qualified.
const (
	DomainPolicyHash          = "secure_layer.policy_hash.v1"
	DomainRequestFingerprint  = "secure_layer.request_fingerprint.v1"
	DomainAuditEventIdentity  = "secure_layer.audit_event_identity.v1"
	DomainAuditEventBody      = "secure_layer.audit_event_body.v1"
	DomainAuditEvent          = "secure_layer.audit_event.v1"
	DomainReviewID            = "secure_layer.review_id.v1"
	DomainReviewDecision      = "secure_layer.review_decision.v1"
	DomainExecutionPermit     = "secure_layer.execution_permit.v1"
)

func requireNonEmpty(value, field string) (string, error) {
	if value == "" {
		return "", invalid(field)
	}
	return value, nil
}

// PolicyHashInput builds the canonical input for the policy-hash domain hash.
func PolicyHashInput(policyID, policyVersion, conflictResolutionMode, tieBreaker, stableOrderMode, rulesHash string) (map[string]any, error) {
	fields := map[string]*string{
		"policy_id":                &policyID,
		"policy_version":           &policyVersion,
		"conflict_resolution_mode": &conflictResolutionMode,
		"tie_breaker":              &tieBreaker,
		"stable_order_mode":        &stableOrderMode,
		"rules_hash":               &rulesHash,
	}
	for name, v := range fields {
		if _, err := requireNonEmpty(*v, name); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"policy_id":                policyID,
		"policy_version":           policyVersion,
		"conflict_resolution_mode": conflictResolutionMode,
		"tie_breaker":              tieBreaker,
		"stable_order_mode":        stableOrderMode,
		"rules_hash":               rulesHash,
	}, nil
}

// RequestFingerprintInput builds the canonical input for the
// request-fingerprint domain hash.
func RequestFingerprintInput(actorID, capability, operation, target, contextHash string) (map[string]any, error) {
	for name, v := range map[string]string{
		"actor_id":     actorID,
		"capability":   capability,
		"operation":    operation,
		"target":       target,
		"context_hash": contextHash,
	} {
		if _, err := requireNonEmpty(v, name); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"actor_id":     actorID,
		"capability":   capability,
		"operation":    operation,
		"target":       target,
		"context_hash": contextHash,
	}, nil
}

// AuditEventIdentityInput builds the identity half of an audit event hash.
func AuditEventIdentityInput(eventID, eventType, policyHash, requestFingerprint string, sequence int64, streamID, prevEventHash string) (map[string]any, error) {
	if sequence < 0 {
		return nil, invalid("sequence")
	}
	for name, v := range map[string]string{
		"event_id":             eventID,
		"event_type":           eventType,
		"policy_hash":          policyHash,
		"request_fingerprint":  requestFingerprint,
		"stream_id":            streamID,
	} {
		if _, err := requireNonEmpty(v, name); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"event_id":            eventID,
		"event_type":          eventType,
		"policy_hash":         policyHash,
		"request_fingerprint": requestFingerprint,
		"sequence":            sequence,
		"stream_id":           streamID,
		"prev_event_hash":     prevEventHash,
	}, nil
}

// AuditEventBodyInput builds the body half of an audit event hash.
func AuditEventBodyInput(payload map[string]any) (map[string]any, error) {
	if _, err := RequireMapping(payload, false); err != nil {
		return nil, err
	}
	return map[string]any{"payload": payload}, nil
}

// ReviewIDInput builds the canonical input for a review-id domain hash.
func ReviewIDInput(policyHash, requestFingerprint string) (map[string]any, error) {
	for name, v := range map[string]string{
		"policy_hash":         policyHash,
		"request_fingerprint": requestFingerprint,
	} {
		if _, err := requireNonEmpty(v, name); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"policy_hash":         policyHash,
		"request_fingerprint": requestFingerprint,
	}, nil
}

// ReviewDecisionInput builds the canonical input for a review-decision
// domain hash. decision must be "allow" or "block".
func ReviewDecisionInput(reviewID, policyHash, requestFingerprint, decision, decidedBy, signatureRef string) (map[string]any, error) {
	if decision != "allow" && decision != "block" {
		return nil, invalid("decision")
	}
	for name, v := range map[string]string{
		"review_id":           reviewID,
		"policy_hash":         policyHash,
		"request_fingerprint": requestFingerprint,
		"decided_by":          decidedBy,
		"signature_ref":       signatureRef,
	} {
		if _, err := requireNonEmpty(v, name); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"review_id":           reviewID,
		"policy_hash":         policyHash,
		"request_fingerprint": requestFingerprint,
		"decision":            decision,
		"decided_by":          decidedBy,
		"signature_ref":       signatureRef,
	}, nil
}
