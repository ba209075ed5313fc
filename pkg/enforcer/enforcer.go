// Package enforcer implements the governance enforcer (C8): immutability
// hash-checking of the governance contract, instruction validation, and
// commit-policy validation, with every denial recorded to a violation
// ledger.
package enforcer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgeward/kernel/pkg/kernelerr"
)

// Violation is one recorded governance denial.
type Violation struct {
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Rule      string         `json:"rule"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
}

// Report is the enforcer's accumulated compliance state for the current
// cycle.
type Report struct {
	GovernanceCompliant bool        `json:"governance_compliant"`
	Violations          []Violation `json:"violations"`
	EnforcementActions  []string    `json:"enforcement_actions"`
}

// Enforcer loads the governance contract and environment snapshot once
// and re-verifies the contract's hash before every gated operation.
type Enforcer struct {
	governancePath    string
	environmentPath   string
	violationLogPath  string
	governanceHash    string
	governanceLoaded  bool
	clock             func() time.Time

	Last Report
}

// New constructs an Enforcer against the given fixed file locations.
func New(governancePath, environmentPath, violationLogPath string) *Enforcer {
	return &Enforcer{
		governancePath:   governancePath,
		environmentPath:  environmentPath,
		violationLogPath: violationLogPath,
		clock:            time.Now,
		Last:             emptyReport(),
	}
}

func emptyReport() Report {
	return Report{GovernanceCompliant: true, Violations: []Violation{}, EnforcementActions: []string{}}
}

func sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (e *Enforcer) recordViolation(rule, message string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	v := Violation{
		Timestamp: e.clock().UTC().Format("2006-01-02T15:04:05Z"),
		Severity:  "critical",
		Rule:      rule,
		Message:   message,
		Context:   context,
	}
	e.Last.GovernanceCompliant = false
	e.Last.Violations = append(e.Last.Violations, v)
	e.Last.EnforcementActions = append(e.Last.EnforcementActions, "task_rejected")
	_ = appendJSONLSorted(e.violationLogPath, v)
}

func appendJSONLSorted(path string, v Violation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// sort_keys equivalent: marshal through a plain map so Go's map key
	// ordering (alphabetical) matches json.dumps(..., sort_keys=True).
	generic := map[string]any{
		"timestamp": v.Timestamp,
		"severity":  v.Severity,
		"rule":      v.Rule,
		"message":   v.Message,
		"context":   v.Context,
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(encoded, '\n'))
	return err
}

// LoadContext reads the governance contract and environment snapshot,
// recording the governance contract's hash. Every later enforcement call compares
// against this hash.
func (e *Enforcer) LoadContext() (map[string]any, error) {
	e.Last = emptyReport()

	text, err := os.ReadFile(e.governancePath)
	if err != nil {
		e.recordViolation("context_loading", fmt.Sprintf("Failed to load governance context: %v", err), nil)
		return nil, kernelerr.New(kernelerr.ClassGovernance, "governance.context_loading_failed", "context loading failed", nil)
	}
	envRaw, err := os.ReadFile(e.environmentPath)
	if err != nil {
		e.recordViolation("context_loading", fmt.Sprintf("Failed to load governance context: %v", err), nil)
		return nil, kernelerr.New(kernelerr.ClassGovernance, "governance.context_loading_failed", "context loading failed", nil)
	}
	var env map[string]any
	if err := json.Unmarshal(envRaw, &env); err != nil {
		e.recordViolation("context_loading", fmt.Sprintf("Failed to load governance context: %v", err), nil)
		return nil, kernelerr.New(kernelerr.ClassGovernance, "governance.context_loading_failed", "context loading failed", nil)
	}

	e.governanceHash = sha256Hex(string(text))
	e.governanceLoaded = true
	return map[string]any{
		"governance_hash":   e.governanceHash,
		"environment_loaded": true,
	}, nil
}

// EnforceImmutability re-reads the governance contract and fails closed
// if its hash has drifted since LoadContext.
func (e *Enforcer) EnforceImmutability() error {
	if !e.governanceLoaded {
		e.recordViolation("immutability", "Governance context was not loaded before enforcement", nil)
		return kernelerr.New(kernelerr.ClassGovernance, "governance.context_missing", "governance context missing", nil)
	}
	text, err := os.ReadFile(e.governancePath)
	if err != nil {
		e.recordViolation("immutability", fmt.Sprintf("Cannot verify governance immutability: %v", err), nil)
		return kernelerr.New(kernelerr.ClassGovernance, "governance.immutability_unverifiable", "cannot verify governance immutability", nil)
	}
	if sha256Hex(string(text)) != e.governanceHash {
		e.recordViolation("immutability", "Governance Contract changed after startup without amendment flow", map[string]any{"governance_path": e.governancePath})
		return kernelerr.New(kernelerr.ClassGovernance, "governance.contract_mutated", "governance contract mutation detected", nil)
	}
	return nil
}

var roleSeparationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\bplanner\b.{0,40}\b(write|implement|code|refactor|modify)\b`),
	regexp.MustCompile(`(?s)\bplanner\b.{0,40}\b(commit|push|execute)\b`),
}

var forbiddenActionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\buncontrolled architectural\b`),
	regexp.MustCompile(`\barchitectural rewrite\b`),
	regexp.MustCompile(`\brewrite (the )?(entire|whole)\b`),
	regexp.MustCompile(`\bspeculative rewrite\b`),
}

var nondeterministicTerms = []string{"maybe", "perhaps", "if possible", "as needed", "when convenient"}

// ValidateInstruction rejects instructions that cross the PLANNER/
// EXECUTOR role boundary, request an uncontrolled architectural action,
// or carry non-deterministic phrasing.
func (e *Enforcer) ValidateInstruction(instructionText string) error {
	lower := strings.ToLower(instructionText)

	for _, pattern := range roleSeparationPatterns {
		if pattern.MatchString(lower) {
			e.recordViolation("role_separation", "Instruction violates role separation for PLANNER", map[string]any{"pattern": pattern.String()})
			return kernelerr.New(kernelerr.ClassGovernance, "governance.instruction_invalid", "instruction validation failed", nil)
		}
	}
	for _, pattern := range forbiddenActionPatterns {
		if pattern.MatchString(lower) {
			e.recordViolation("allowed_actions", "Instruction requests forbidden architectural action", map[string]any{"pattern": pattern.String()})
			return kernelerr.New(kernelerr.ClassGovernance, "governance.instruction_invalid", "instruction validation failed", nil)
		}
	}
	for _, term := range nondeterministicTerms {
		if strings.Contains(lower, term) {
			e.recordViolation("deterministic_behavior", "Instruction contains non-deterministic phrasing", map[string]any{"term": term})
			return kernelerr.New(kernelerr.ClassGovernance, "governance.instruction_invalid", "instruction validation failed", nil)
		}
	}
	return nil
}

// ValidatePreComputation re-checks immutability and instruction validity,
// then requires a non-blank intended outcome, before any irreversible
// dispatch.
func (e *Enforcer) ValidatePreComputation(instructionText, intendedOutcome string) error {
	if err := e.EnforceImmutability(); err != nil {
		return err
	}
	if err := e.ValidateInstruction(instructionText); err != nil {
		return err
	}
	if strings.TrimSpace(intendedOutcome) == "" {
		e.recordViolation("pre_computation", "Intended outcome is missing", nil)
		return kernelerr.New(kernelerr.ClassGovernance, "governance.pre_computation_failed", "pre-computation validation failed", nil)
	}
	return nil
}

var allowedFilePattern = regexp.MustCompile("`([A-Za-z0-9_./-]+)`")
var commitMessagePattern = regexp.MustCompile(`^(feat|fix|chore)\([^)]+\): .+`)

// extractAllowedFiles parses backtick-quoted repository paths out of
// instruction text.
func extractAllowedFiles(instructionText string) map[string]bool {
	matches := allowedFilePattern.FindAllStringSubmatch(instructionText, -1)
	out := make(map[string]bool, len(matches))
	for _, m := range matches {
		out[m[1]] = true
	}
	return out
}

// ValidateCommitPolicy rejects a commit that touches files outside the
// instruction's explicit allowlist, that carries a non-conforming
// message, or that mutates the governance contract itself.
func (e *Enforcer) ValidateCommitPolicy(instructionText string, changedFiles []string, commitMessage string) error {
	if err := e.EnforceImmutability(); err != nil {
		return err
	}

	allowed := extractAllowedFiles(instructionText)
	if len(allowed) == 0 {
		e.recordViolation("commit_policy.affected_files", "No explicit allowed files found in instruction text", nil)
		return kernelerr.New(kernelerr.ClassGovernance, "governance.commit_policy_failed", "commit policy validation failed", nil)
	}

	var disallowed []string
	for _, f := range changedFiles {
		if !allowed[f] {
			disallowed = append(disallowed, f)
		}
	}
	if len(disallowed) > 0 {
		e.recordViolation("commit_policy.affected_files", "Commit includes files not explicitly allowed by task", map[string]any{"disallowed_files": disallowed})
		return kernelerr.New(kernelerr.ClassGovernance, "governance.commit_policy_failed", "commit policy validation failed", nil)
	}

	if !commitMessagePattern.MatchString(commitMessage) {
		e.recordViolation("commit_policy.message_format", "Commit message does not follow required convention", map[string]any{"message": commitMessage})
		return kernelerr.New(kernelerr.ClassGovernance, "governance.commit_policy_failed", "commit policy validation failed", nil)
	}

	for _, f := range changedFiles {
		if f == "docs/governance.md" {
			e.recordViolation("content_compliance", "Commit attempts to modify immutable governance contract", nil)
			return kernelerr.New(kernelerr.ClassGovernance, "governance.commit_policy_failed", "commit policy validation failed", nil)
		}
	}
	return nil
}

// ComplianceReportBlock renders the current cycle's compliance state as a
// Markdown block suitable for embedding in a PR description or commit
// trailer.
func (e *Enforcer) ComplianceReportBlock() string {
	lines := []string{"## Governance Compliance Report"}
	lines = append(lines, fmt.Sprintf("- governance_compliant: %t", e.Last.GovernanceCompliant))
	if len(e.Last.Violations) > 0 {
		lines = append(lines, fmt.Sprintf("- violations_detected: %d", len(e.Last.Violations)))
	} else {
		lines = append(lines, "- violations_detected: 0")
	}
	if len(e.Last.EnforcementActions) > 0 {
		lines = append(lines, "- enforcement_actions: "+strings.Join(e.Last.EnforcementActions, ", "))
	} else {
		lines = append(lines, "- enforcement_actions: none")
	}
	return strings.Join(lines, "\n")
}
