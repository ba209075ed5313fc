package enforcer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Enforcer, string) {
	t.Helper()
	dir := t.TempDir()
	governancePath := filepath.Join(dir, "docs", "governance.md")
	environmentPath := filepath.Join(dir, "agents", "state", "environment.json")
	violationLogPath := filepath.Join(dir, "logs", "governance_violations.log")

	require.NoError(t, os.MkdirAll(filepath.Dir(governancePath), 0o755))
	require.NoError(t, os.WriteFile(governancePath, []byte("# Governance Contract\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(environmentPath), 0o755))
	require.NoError(t, os.WriteFile(environmentPath, []byte(`{"phase": "default"}`), 0o644))

	e := New(governancePath, environmentPath, violationLogPath)
	_, err := e.LoadContext()
	require.NoError(t, err)
	return e, governancePath
}

func TestEnforceImmutability_DetectsMutation(t *testing.T) {
	e, governancePath := setup(t)
	require.NoError(t, e.EnforceImmutability())

	require.NoError(t, os.WriteFile(governancePath, []byte("# Mutated\n"), 0o644))
	err := e.EnforceImmutability()
	require.Error(t, err)
	require.False(t, e.Last.GovernanceCompliant)
}

func TestValidateInstruction_RejectsRoleSeparationViolation(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateInstruction("The planner should write the implementation directly.")
	require.Error(t, err)
}

func TestValidateInstruction_RejectsForbiddenArchitecturalAction(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateInstruction("Perform an uncontrolled architectural rewrite of the entire system.")
	require.Error(t, err)
}

func TestValidateInstruction_RejectsNondeterministicPhrasing(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateInstruction("Fix the bug, maybe refactor the helper too.")
	require.Error(t, err)
}

func TestValidateInstruction_AllowsCleanInstruction(t *testing.T) {
	e, _ := setup(t)
	require.NoError(t, e.ValidateInstruction("Update `pkg/foo/bar.go` to fix the off-by-one error."))
}

func TestValidateCommitPolicy_RejectsFilesOutsideAllowlist(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateCommitPolicy("Update `pkg/foo/bar.go`.", []string{"pkg/foo/bar.go", "pkg/other/baz.go"}, "fix(foo): correct off-by-one")
	require.Error(t, err)
}

func TestValidateCommitPolicy_RejectsBadMessageFormat(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateCommitPolicy("Update `pkg/foo/bar.go`.", []string{"pkg/foo/bar.go"}, "updated the file")
	require.Error(t, err)
}

func TestValidateCommitPolicy_RejectsGovernanceDocMutation(t *testing.T) {
	e, _ := setup(t)
	err := e.ValidateCommitPolicy("Update `docs/governance.md`.", []string{"docs/governance.md"}, "chore(gov): update policy")
	require.Error(t, err)
}

func TestValidateCommitPolicy_AllowsConformingCommit(t *testing.T) {
	e, _ := setup(t)
	require.NoError(t, e.ValidateCommitPolicy("Update `pkg/foo/bar.go`.", []string{"pkg/foo/bar.go"}, "fix(foo): correct off-by-one"))
}

func TestComplianceReportBlock_ReflectsViolations(t *testing.T) {
	e, _ := setup(t)
	_ = e.ValidateInstruction("maybe fix it")
	block := e.ComplianceReportBlock()
	require.Contains(t, block, "governance_compliant: false")
	require.Contains(t, block, "violations_detected: 1")
}
