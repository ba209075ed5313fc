package policy

import "github.com/forgeward/kernel/pkg/canonical"

// LedgerResolution is the outcome of resolving a paused review.
type LedgerResolution string

const (
	LedgerAllow      LedgerResolution = "allow"
	LedgerBlock      LedgerResolution = "block"
	LedgerUnresolved LedgerResolution = "unresolved"
)

// ReviewArtifact is a recorded human (or delegated) review decision.
type ReviewArtifact struct {
	ReviewID           string
	PolicyHash         string
	RequestFingerprint string
	Decision           LedgerResolution // allow or block only
}

// ResolveReviewArtifact returns allow/block only when the artifact's
// review_id, policy_hash, and request_fingerprint all match the caller's
// expectations; otherwise unresolved.
func ResolveReviewArtifact(artifact *ReviewArtifact, reviewID, requestFingerprint, policyHash string) LedgerResolution {
	if artifact == nil {
		return LedgerUnresolved
	}
	if artifact.ReviewID != reviewID {
		return LedgerUnresolved
	}
	if artifact.PolicyHash != policyHash {
		return LedgerUnresolved
	}
	if artifact.RequestFingerprint != requestFingerprint {
		return LedgerUnresolved
	}
	return artifact.Decision
}

// VerifyReviewResume reconstructs the expected review_id via
// domain_hash(canonical.DomainReviewID, …) and checks that the resume artifact's
// decision is allow or block, in addition to matching policy hash and
// request fingerprint.
func VerifyReviewResume(policyHash, requestFingerprint string, artifact map[string]any) bool {
	if artifact == nil {
		return false
	}
	reviewID, _ := artifact["review_id"].(string)
	artifactPolicyHash, _ := artifact["policy_hash"].(string)
	artifactRequestFingerprint, _ := artifact["request_fingerprint"].(string)
	decision, _ := artifact["decision"].(string)
	decidedBy, _ := artifact["decided_by"].(string)
	signatureRef, _ := artifact["signature_ref"].(string)

	input, err := canonical.ReviewIDInput(policyHash, requestFingerprint)
	if err != nil {
		return false
	}
	expectedReviewID, err := canonical.DomainHash(canonical.DomainReviewID, input)
	if err != nil {
		return false
	}
	if reviewID != expectedReviewID {
		return false
	}
	if artifactPolicyHash != policyHash {
		return false
	}
	if artifactRequestFingerprint != requestFingerprint {
		return false
	}

	if _, err := canonical.ReviewDecisionInput(reviewID, artifactPolicyHash, artifactRequestFingerprint, decision, decidedBy, signatureRef); err != nil {
		return false
	}
	return decision == "allow" || decision == "block"
}
