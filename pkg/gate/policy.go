// Package gate implements the PR governance gate (C6): a fixed ordered
// suite of independent checks over a pull request's branches, template,
// files, reviews, statuses, and commits.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// RequiredPolicyKeys are the top-level keys every governance policy
// document must declare.
var RequiredPolicyKeys = []string{"version", "branch_rules", "approvals", "high_risk_paths", "commit_signing", "ci"}

// BranchRules governs which head branch names are acceptable and whether
// feature branches may only target develop.
type BranchRules struct {
	FeatureToDevelopOnly bool                     `yaml:"feature_to_develop_only"`
	Patterns             map[string]BranchPattern `yaml:"patterns"`
}

// BranchPattern names a single regex an acceptable head branch must match.
type BranchPattern struct {
	Regex string `yaml:"regex"`
}

// IssueLinkConfig controls issue-reference detection in PR text.
type IssueLinkConfig struct {
	Required bool     `yaml:"required"`
	Patterns []string `yaml:"patterns"`
}

// PRTemplateConfig governs required PR description sections.
type PRTemplateConfig struct {
	RequiredSections   []string `yaml:"required_sections"`
	RejectPlaceholders []string `yaml:"reject_placeholders"`
	MinSectionLength   int      `yaml:"min_section_length"`
}

// LocksConfig governs the high-risk-path lock-token discipline.
type LocksConfig struct {
	RequiredOnHighRisk bool     `yaml:"required_on_high_risk"`
	Exclusive          bool     `yaml:"exclusive"`
	Allowed            []string `yaml:"allowed"`
}

// CIConfig names the baseline required status-check contexts.
type CIConfig struct {
	RequiredChecks []string `yaml:"required_checks"`
}

// SystemEvolutionConfig escalates CI and approval requirements when a PR
// touches system-evolution paths.
type SystemEvolutionConfig struct {
	DetectPaths []string       `yaml:"detect_paths"`
	Approvals   ApprovalRule   `yaml:"approvals"`
	CI          CIConfig       `yaml:"ci"`
}

// CommitSigningConfig governs whether every commit must be signature
// verified.
type CommitSigningConfig struct {
	Required bool `yaml:"required"`
}

// ApprovalRule is one base branch's approval requirement.
type ApprovalRule struct {
	MinApprovals            int  `yaml:"min_approvals"`
	RequireHumanApproval     bool `yaml:"require_human_approval"`
	RequireDistinctReviewer bool `yaml:"require_distinct_reviewer"`
}

// Policy is the full governance policy document (spec §3, §6).
type Policy struct {
	Version             string                  `yaml:"version"`
	BranchRules         BranchRules             `yaml:"branch_rules"`
	DisallowSelfApproval bool                   `yaml:"-"`
	ApprovalsByBranch   map[string]ApprovalRule `yaml:"-"`
	IssueLink           IssueLinkConfig         `yaml:"issue_link"`
	PRTemplate          PRTemplateConfig        `yaml:"pr_template"`
	HighRiskPaths       []string                `yaml:"high_risk_paths"`
	Locks               LocksConfig             `yaml:"locks"`
	CI                  CIConfig                `yaml:"ci"`
	SystemEvolution     SystemEvolutionConfig   `yaml:"system_evolution"`
	CommitSigning       CommitSigningConfig     `yaml:"commit_signing"`
}

// rawApprovals mirrors the YAML shape: a flat mapping where
// "disallow_self_approval" is a sibling key to per-branch rule mappings.
type rawApprovals map[string]yaml.Node

type policyYAML struct {
	Version         string                `yaml:"version"`
	BranchRules     BranchRules           `yaml:"branch_rules"`
	Approvals       map[string]yaml.Node  `yaml:"approvals"`
	IssueLink       IssueLinkConfig       `yaml:"issue_link"`
	PRTemplate      PRTemplateConfig      `yaml:"pr_template"`
	HighRiskPaths   []string              `yaml:"high_risk_paths"`
	Locks           LocksConfig           `yaml:"locks"`
	CI              CIConfig              `yaml:"ci"`
	SystemEvolution SystemEvolutionConfig `yaml:"system_evolution"`
	CommitSigning   CommitSigningConfig   `yaml:"commit_signing"`
}

// LoadError is raised when the policy document cannot be read, parsed, or
// validated against the required top-level key set.
type LoadError struct{ Reason string }

func (e *LoadError) Error() string { return "pr_gate.policy: " + e.Reason }

// LoadPolicy reads, parses, and validates the governance policy document,
// returning the parsed Policy and its SHA-256 hex hash over the raw bytes.
func LoadPolicy(path string) (*Policy, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &LoadError{Reason: fmt.Sprintf("failed to read policy: %v", err)}
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, "", &LoadError{Reason: fmt.Sprintf("failed to parse policy YAML: %v", err)}
	}
	if generic == nil {
		return nil, "", &LoadError{Reason: "policy YAML must be a mapping"}
	}

	var missing []string
	for _, key := range RequiredPolicyKeys {
		if _, ok := generic[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, "", &LoadError{Reason: fmt.Sprintf("policy missing required keys: %v", missing)}
	}

	var py policyYAML
	if err := yaml.Unmarshal(raw, &py); err != nil {
		return nil, "", &LoadError{Reason: fmt.Sprintf("failed to parse policy YAML: %v", err)}
	}

	policy := &Policy{
		Version:           py.Version,
		BranchRules:       py.BranchRules,
		IssueLink:         py.IssueLink,
		PRTemplate:        py.PRTemplate,
		HighRiskPaths:     py.HighRiskPaths,
		Locks:             py.Locks,
		CI:                py.CI,
		SystemEvolution:   py.SystemEvolution,
		CommitSigning:     py.CommitSigning,
		ApprovalsByBranch: map[string]ApprovalRule{},
	}

	for branch, node := range py.Approvals {
		if branch == "disallow_self_approval" {
			var v bool
			_ = node.Decode(&v)
			policy.DisallowSelfApproval = v
			continue
		}
		var rule ApprovalRule
		if err := node.Decode(&rule); err == nil {
			policy.ApprovalsByBranch[branch] = rule
		}
	}

	sum := sha256.Sum256(raw)
	return policy, hex.EncodeToString(sum[:]), nil
}

// branchPatterns compiles the named head-branch regexes.
func (p *Policy) branchPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(p.BranchRules.Patterns))
	for name, spec := range p.BranchRules.Patterns {
		if spec.Regex == "" {
			continue
		}
		if re, err := regexp.Compile(spec.Regex); err == nil {
			out[name] = re
		}
	}
	return out
}
