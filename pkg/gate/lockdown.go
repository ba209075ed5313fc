package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LockdownError reports that the policy document on disk has drifted
// from the hash recorded at controller startup.
type LockdownError struct {
	Baseline string
	Current  string
}

func (e *LockdownError) Error() string {
	return fmt.Sprintf("POLICY_LOCKDOWN baseline=%s current=%s", e.Baseline, e.Current)
}

// EnforcePolicyHashLockdown reloads the policy document at policyPath and
// compares its hash against the recorded baseline, failing closed on any
// mismatch. The policy is always returned alongside its current hash so a
// caller that chooses to ignore the mismatch still has something to work
// with; RunCycle does not make that choice.
func EnforcePolicyHashLockdown(policyPath, baseline string) (*Policy, string, error) {
	policy, currentHash, err := LoadPolicy(policyPath)
	if err != nil {
		return nil, "", err
	}
	if currentHash != baseline {
		return policy, currentHash, &LockdownError{Baseline: baseline, Current: currentHash}
	}
	return policy, currentHash, nil
}

// BaselineArtifactPath is where the policy hash baseline recorded at
// controller startup is written.
func BaselineArtifactPath() string {
	return filepath.Join("artifacts", "governance", "policy-baseline.json")
}

// WriteBaselineArtifact records {policy_path, policy_hash_baseline} to
// BaselineArtifactPath, creating parent directories as needed.
func WriteBaselineArtifact(policyPath, baseline string) (string, error) {
	path := BaselineArtifactPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	encoded, err := json.MarshalIndent(map[string]any{
		"policy_path":          policyPath,
		"policy_hash_baseline": baseline,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	encoded = append(encoded, '\n')
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
