// Package audit implements the audit event taxonomy, chain validation, and
// the append-only artifact sink described by the governance kernel's
// data model.
package audit

import (
	"github.com/forgeward/kernel/pkg/canonical"
	"github.com/forgeward/kernel/pkg/kernelerr"
)

// EventType enumerates the fixed set of audit event kinds.
type EventType string

const (
	EventPolicyEvaluated   EventType = "policy.evaluated"
	EventToolExecRequested EventType = "tool.exec.requested"
	EventToolExecAllowed   EventType = "tool.exec.allowed"
	EventToolExecBlocked   EventType = "tool.exec.blocked"
	EventToolExecWarned    EventType = "tool.exec.warned"
	EventToolExecReviewed  EventType = "tool.exec.reviewed"
	EventNetEgressRequested EventType = "net.egress.requested"
	EventNetEgressAllowed   EventType = "net.egress.allowed"
	EventNetEgressBlocked   EventType = "net.egress.blocked"
	EventNetEgressWarned    EventType = "net.egress.warned"
	EventNetEgressReviewed  EventType = "net.egress.reviewed"
	EventSecretUseRequested EventType = "secret.use.requested"
	EventSecretUseAllowed   EventType = "secret.use.allowed"
	EventSecretUseBlocked   EventType = "secret.use.blocked"
	EventSecretUseWarned    EventType = "secret.use.warned"
	EventSecretUseReviewed  EventType = "secret.use.reviewed"
	EventReviewPaused       EventType = "review.paused"
	EventReviewResolved     EventType = "review.resolved"
	EventPermitUsed         EventType = "permit.used"
)

// Event is a single entry in an append-only audit stream.
type Event struct {
	EventID            string
	EventType          EventType
	PolicyHash         string
	RequestFingerprint string
	Sequence           int64
	StreamID           string
	PrevEventHash      string
	Payload            map[string]any
}

func errInvalid(reason string) error {
	return kernelerr.New(kernelerr.ClassInputShape, kernelerr.Code("secure_layer.audit.invalid"), reason, nil)
}

// Validate enforces the attribute-level invariants for a single event.
func Validate(e Event) error {
	if e.EventID == "" {
		return errInvalid("event_id")
	}
	if e.PolicyHash == "" {
		return errInvalid("policy_hash")
	}
	if e.RequestFingerprint == "" {
		return errInvalid("request_fingerprint")
	}
	if e.StreamID == "" {
		return errInvalid("stream_id")
	}
	if e.Sequence < 0 {
		return errInvalid("sequence")
	}
	if e.Payload == nil {
		return errInvalid("payload")
	}
	return nil
}

// errChain constructs a chain-integrity class error. These propagate to a
// controller kill-switch rather than failing a single task.
func errChain(reason string) error {
	return kernelerr.New(kernelerr.ClassChainIntegrity, kernelerr.Code("secure_layer.audit.invalid"), reason, nil)
}

// ValidateStream enforces, across an ordered slice of events: constant
// stream_id, contiguous sequences starting at 0, and that each event's
// prev_event_hash equals the fingerprint of the event immediately before
// it. An empty slice is valid (nothing to check). There is no reordering
// or gap-filling — callers must present events already in sequence order.
func ValidateStream(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	streamID := events[0].StreamID
	for _, e := range events {
		if err := Validate(e); err != nil {
			return err
		}
		if e.StreamID != streamID {
			return errChain("stream_id_mismatch")
		}
	}

	expectedSeq := int64(0)
	prevHash := ""
	for _, e := range events {
		if e.Sequence != expectedSeq {
			return errChain("non_contiguous_sequence")
		}
		if e.PrevEventHash != prevHash {
			return errChain("prev_event_hash_mismatch")
		}
		fp, err := Fingerprint(e)
		if err != nil {
			return err
		}
		prevHash = fp
		expectedSeq++
	}
	return nil
}

// Fingerprint computes event_fingerprint(event) =
// domain_hash(canonical.DomainAuditEvent, {identity, body}).
func Fingerprint(e Event) (string, error) {
	identity, err := canonical.AuditEventIdentityInput(
		e.EventID, string(e.EventType), e.PolicyHash, e.RequestFingerprint,
		e.Sequence, e.StreamID, e.PrevEventHash,
	)
	if err != nil {
		return "", err
	}
	body, err := canonical.AuditEventBodyInput(e.Payload)
	if err != nil {
		return "", err
	}
	return canonical.DomainHash(canonical.DomainAuditEvent, map[string]any{
		"identity": identity,
		"body":     body,
	})
}
