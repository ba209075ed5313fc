package gate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/forgeward/kernel/pkg/forge"
)

// Input bundles the full PR surface the gate evaluates: the target pull
// request, every other currently open PR (for lock exclusivity), the
// changed file list, reviews, commit statuses, and commits.
type Input struct {
	PR        forge.PullRequest
	OpenPRs   []forge.PullRequest
	Files     []string
	Reviews   []forge.Review
	Statuses  []forge.StatusCheck
	Commits   []forge.Commit
}

// CheckResult is one gate's outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Report is the full, ordered gate evaluation outcome for a single PR at
// a single head SHA.
type Report struct {
	PRNumber   int           `json:"pr_number"`
	HeadSHA    string        `json:"head_sha"`
	PolicyHash string        `json:"policy_hash"`
	Checks     []CheckResult `json:"checks"`
	Passed     bool          `json:"passed"`
}

var issueRefPattern = regexp.MustCompile(`#\d+`)
var sectionHeaderPattern = regexp.MustCompile(`(?m)^###\s+(.+?)\s*$`)
var lockTokenPattern = regexp.MustCompile(`\bLOCK:[A-Za-z0-9_./-]+\b`)

// EvaluatePR runs all fifteen gates in a fixed order and returns the
// composed report. Gates are independent: one gate's failure never
// short-circuits another's evaluation.
func EvaluatePR(policy *Policy, policyHash string, in Input) Report {
	checks := []CheckResult{
		checkBranchNameRegex(policy, in),
		checkFeatureToDevelopOnly(policy, in),
		checkIssueReferenceRequired(policy, in),
		checkPRTemplateSections(policy, in),
		checkPRTemplatePlaceholders(policy, in),
		checkHighRiskPathDetection(policy, in),
		checkLockRequired(policy, in),
		checkLockExclusive(policy, in),
		checkRequiredStatusChecks(policy, in),
		checkSelfApprovalForbidden(policy, in),
		checkMinApprovalsMet(policy, in),
		checkDistinctReviewerRequired(policy, in),
		checkHumanApprovalRequired(policy, in),
		checkSystemEvolutionEscalation(policy, in),
		checkCommitSigningRequired(policy, in),
	}

	passed := true
	for _, c := range checks {
		if !c.Passed {
			passed = false
			break
		}
	}

	return Report{
		PRNumber:   in.PR.Number,
		HeadSHA:    in.PR.Head.SHA,
		PolicyHash: policyHash,
		Checks:     checks,
		Passed:     passed,
	}
}

func result(name string, passed bool, reasonFmt string, args ...any) CheckResult {
	if passed {
		return CheckResult{Name: name, Passed: true}
	}
	return CheckResult{Name: name, Passed: false, Reason: fmt.Sprintf(reasonFmt, args...)}
}

func isHighRisk(policy *Policy, files []string) bool {
	for _, f := range files {
		for _, prefix := range policy.HighRiskPaths {
			if strings.HasPrefix(f, prefix) {
				return true
			}
		}
	}
	return false
}

func touchesSystemEvolution(policy *Policy, files []string) bool {
	for _, f := range files {
		for _, prefix := range policy.SystemEvolution.DetectPaths {
			if strings.HasPrefix(f, prefix) {
				return true
			}
		}
	}
	return false
}

// checkBranchNameRegex requires the head branch to match at least one of
// the policy's named branch patterns.
func checkBranchNameRegex(policy *Policy, in Input) CheckResult {
	patterns := policy.branchPatterns()
	if len(patterns) == 0 {
		return result("branch_name_regex", true, "")
	}
	for _, re := range patterns {
		if re.MatchString(in.PR.Head.Ref) {
			return result("branch_name_regex", true, "")
		}
	}
	return result("branch_name_regex", false, "head branch %q matches no configured pattern", in.PR.Head.Ref)
}

// checkFeatureToDevelopOnly requires feature/* branches to target develop
// only, when the policy enables the rule.
func checkFeatureToDevelopOnly(policy *Policy, in Input) CheckResult {
	if !policy.BranchRules.FeatureToDevelopOnly {
		return result("feature_to_develop_only", true, "")
	}
	isFeature := false
	if re, ok := policy.branchPatterns()["feature"]; ok {
		isFeature = re.MatchString(in.PR.Head.Ref)
	} else {
		isFeature = strings.HasPrefix(in.PR.Head.Ref, "feature/")
	}
	if !isFeature {
		return result("feature_to_develop_only", true, "")
	}
	if in.PR.Base.Ref != "develop" {
		return result("feature_to_develop_only", false, "feature branch %q must target develop, targets %q", in.PR.Head.Ref, in.PR.Base.Ref)
	}
	return result("feature_to_develop_only", true, "")
}

// checkIssueReferenceRequired requires an issue reference (e.g. "#123")
// somewhere in the PR title or body.
func checkIssueReferenceRequired(policy *Policy, in Input) CheckResult {
	if !policy.IssueLink.Required {
		return result("issue_reference_required", true, "")
	}
	text := in.PR.Title + "\n" + in.PR.Body
	patterns := policy.IssueLink.Patterns
	if len(patterns) == 0 {
		if issueRefPattern.MatchString(text) {
			return result("issue_reference_required", true, "")
		}
		return result("issue_reference_required", false, "no issue reference found in title or body")
	}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil && re.MatchString(text) {
			return result("issue_reference_required", true, "")
		}
	}
	return result("issue_reference_required", false, "no issue reference found in title or body")
}

// sectionMap splits a PR body into "### Heading" sections, mapping each
// heading to the text that follows it up to the next heading.
func sectionMap(body string) map[string]string {
	indices := sectionHeaderPattern.FindAllStringSubmatchIndex(body, -1)
	headers := sectionHeaderPattern.FindAllStringSubmatch(body, -1)
	sections := map[string]string{}
	for i, idx := range indices {
		start := idx[1]
		end := len(body)
		if i+1 < len(indices) {
			end = indices[i+1][0]
		}
		heading := strings.TrimSpace(headers[i][1])
		sections[heading] = strings.TrimSpace(body[start:end])
	}
	return sections
}

// checkPRTemplateSections requires every policy-named section heading to
// be present with non-trivial content.
func checkPRTemplateSections(policy *Policy, in Input) CheckResult {
	if len(policy.PRTemplate.RequiredSections) == 0 {
		return result("pr_template_sections", true, "")
	}
	sections := sectionMap(in.PR.Body)
	for _, name := range policy.PRTemplate.RequiredSections {
		content, ok := sections[name]
		if !ok {
			return result("pr_template_sections", false, "missing required section %q", name)
		}
		if policy.PRTemplate.MinSectionLength > 0 && len(content) < policy.PRTemplate.MinSectionLength {
			return result("pr_template_sections", false, "section %q is shorter than the required minimum", name)
		}
	}
	return result("pr_template_sections", true, "")
}

// checkPRTemplatePlaceholders rejects unreplaced template placeholder
// text left in the PR body.
func checkPRTemplatePlaceholders(policy *Policy, in Input) CheckResult {
	for _, placeholder := range policy.PRTemplate.RejectPlaceholders {
		if strings.Contains(in.PR.Body, placeholder) {
			return result("pr_template_placeholders", false, "body still contains placeholder %q", placeholder)
		}
	}
	return result("pr_template_placeholders", true, "")
}

// checkHighRiskPathDetection always passes; it exists to surface
// high-risk-path status into the report for downstream gates and
// operators, matching the evaluator's informational gate.
func checkHighRiskPathDetection(policy *Policy, in Input) CheckResult {
	if isHighRisk(policy, in.Files) {
		return CheckResult{Name: "high_risk_path_detection", Passed: true, Reason: "touches high-risk paths"}
	}
	return result("high_risk_path_detection", true, "")
}

// checkLockRequired requires a "LOCK:<token>" marker in the PR body when
// the change touches a high-risk path and locking is required.
func checkLockRequired(policy *Policy, in Input) CheckResult {
	if !policy.Locks.RequiredOnHighRisk || !isHighRisk(policy, in.Files) {
		return result("lock_required", true, "")
	}
	if lockTokenPattern.FindString(in.PR.Body) == "" {
		return result("lock_required", false, "high-risk change requires a LOCK: token in the PR body")
	}
	return result("lock_required", true, "")
}

func extractLockTokens(body string) []string {
	matches := lockTokenPattern.FindAllString(body, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, strings.TrimPrefix(m, "LOCK:"))
	}
	return tokens
}

// checkLockExclusive requires that no other currently open PR holds any
// of the same lock tokens.
func checkLockExclusive(policy *Policy, in Input) CheckResult {
	if !policy.Locks.Exclusive {
		return result("lock_exclusive", true, "")
	}
	mine := extractLockTokens(in.PR.Body)
	if len(mine) == 0 {
		return result("lock_exclusive", true, "")
	}
	mineSet := map[string]bool{}
	for _, t := range mine {
		mineSet[t] = true
	}
	for _, other := range in.OpenPRs {
		if other.Number == in.PR.Number {
			continue
		}
		for _, t := range extractLockTokens(other.Body) {
			if mineSet[t] {
				return result("lock_exclusive", false, "lock token %q already held by open PR #%d", t, other.Number)
			}
		}
	}
	return result("lock_exclusive", true, "")
}

func statusByContext(statuses []forge.StatusCheck) map[string]string {
	out := map[string]string{}
	for _, s := range statuses {
		if _, seen := out[s.Context]; !seen {
			out[s.Context] = s.State
		}
	}
	return out
}

func checkRequiredChecks(name string, required []string, statuses []forge.StatusCheck) CheckResult {
	if len(required) == 0 {
		return result(name, true, "")
	}
	byContext := statusByContext(statuses)
	var missing, failing []string
	for _, c := range required {
		state, ok := byContext[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		if state != "success" {
			failing = append(failing, c)
		}
	}
	if len(missing) > 0 || len(failing) > 0 {
		sort.Strings(missing)
		sort.Strings(failing)
		return result(name, false, "required checks missing=%v failing=%v", missing, failing)
	}
	return result(name, true, "")
}

// checkRequiredStatusChecks requires every policy-named baseline CI
// context to report a successful status.
func checkRequiredStatusChecks(policy *Policy, in Input) CheckResult {
	return checkRequiredChecks("required_status_checks", policy.CI.RequiredChecks, in.Statuses)
}

func latestApprovedReviews(reviews []forge.Review) map[string]forge.Review {
	latest := map[string]forge.Review{}
	for _, r := range reviews {
		if r.State != "APPROVED" {
			continue
		}
		prior, ok := latest[r.User.Login]
		if !ok || r.SubmittedAt > prior.SubmittedAt {
			latest[r.User.Login] = r
		}
	}
	return latest
}

// checkSelfApprovalForbidden rejects the PR author appearing among its
// own approvers when the policy disallows self-approval.
func checkSelfApprovalForbidden(policy *Policy, in Input) CheckResult {
	if !policy.DisallowSelfApproval {
		return result("self_approval_forbidden", true, "")
	}
	approved := latestApprovedReviews(in.Reviews)
	if _, ok := approved[in.PR.User.Login]; ok {
		return result("self_approval_forbidden", false, "author %q may not approve their own PR", in.PR.User.Login)
	}
	return result("self_approval_forbidden", true, "")
}

func resolveApprovalRule(policy *Policy, in Input) (ApprovalRule, bool) {
	rule, ok := policy.ApprovalsByBranch[in.PR.Base.Ref]
	return rule, ok
}

// effectiveApprovalRule folds the system-evolution escalation into the
// base branch's approval rule: min_approvals becomes the greater of the
// two, and require_human_approval becomes true if either requires it.
// Mirrors evaluator.py's min_approvals = max(base, sys_evo) /
// require_human = require_human or sys_require_human.
func effectiveApprovalRule(policy *Policy, in Input) ApprovalRule {
	rule, _ := resolveApprovalRule(policy, in)
	if !touchesSystemEvolution(policy, in.Files) {
		return rule
	}
	escalated := policy.SystemEvolution.Approvals
	if escalated.MinApprovals > rule.MinApprovals {
		rule.MinApprovals = escalated.MinApprovals
	}
	rule.RequireHumanApproval = rule.RequireHumanApproval || escalated.RequireHumanApproval
	return rule
}

// checkMinApprovalsMet requires at least the base branch's configured
// minimum count of distinct approving reviewers, escalated when the PR
// touches a system-evolution path.
func checkMinApprovalsMet(policy *Policy, in Input) CheckResult {
	rule := effectiveApprovalRule(policy, in)
	if rule.MinApprovals == 0 {
		return result("min_approvals_met", true, "")
	}
	approved := latestApprovedReviews(in.Reviews)
	if len(approved) < rule.MinApprovals {
		return result("min_approvals_met", false, "%d approvals present, %d required for base %q", len(approved), rule.MinApprovals, in.PR.Base.Ref)
	}
	return result("min_approvals_met", true, "")
}

// checkDistinctReviewerRequired requires at least one approver distinct
// from the PR author, when the base branch's rule requires it.
func checkDistinctReviewerRequired(policy *Policy, in Input) CheckResult {
	rule, ok := resolveApprovalRule(policy, in)
	if !ok || !rule.RequireDistinctReviewer {
		return result("distinct_reviewer_required", true, "")
	}
	approved := latestApprovedReviews(in.Reviews)
	for login := range approved {
		if login != in.PR.User.Login {
			return result("distinct_reviewer_required", true, "")
		}
	}
	return result("distinct_reviewer_required", false, "no approval from a reviewer distinct from the author")
}

// checkHumanApprovalRequired requires at least one approval from a
// non-bot reviewer, when the base branch's rule (escalated for
// system-evolution changes) requires it.
func checkHumanApprovalRequired(policy *Policy, in Input) CheckResult {
	rule := effectiveApprovalRule(policy, in)
	if !rule.RequireHumanApproval {
		return result("human_approval_required", true, "")
	}
	for _, r := range in.Reviews {
		if r.State == "APPROVED" && r.User.Type != "Bot" {
			return result("human_approval_required", true, "")
		}
	}
	return result("human_approval_required", false, "no human approval recorded")
}

// checkSystemEvolutionEscalation applies the stricter system-evolution
// approval and CI requirements when the change touches a detect_paths
// prefix.
func checkSystemEvolutionEscalation(policy *Policy, in Input) CheckResult {
	if !touchesSystemEvolution(policy, in.Files) {
		return result("system_evolution_escalation", true, "")
	}
	approved := latestApprovedReviews(in.Reviews)
	minApprovals := policy.SystemEvolution.Approvals.MinApprovals
	if minApprovals > 0 && len(approved) < minApprovals {
		return result("system_evolution_escalation", false, "system-evolution change needs %d approvals, has %d", minApprovals, len(approved))
	}
	if policy.SystemEvolution.Approvals.RequireHumanApproval {
		humanApproved := false
		for _, r := range in.Reviews {
			if r.State == "APPROVED" && r.User.Type != "Bot" {
				humanApproved = true
				break
			}
		}
		if !humanApproved {
			return result("system_evolution_escalation", false, "system-evolution change requires human approval")
		}
	}
	ciResult := checkRequiredChecks("system_evolution_escalation", policy.SystemEvolution.CI.RequiredChecks, in.Statuses)
	if !ciResult.Passed {
		return ciResult
	}
	return result("system_evolution_escalation", true, "")
}

// checkCommitSigningRequired requires every commit to resolve as
// signature-verified, preferring the forge's own verification field and
// falling back to the local git signature probe.
func checkCommitSigningRequired(policy *Policy, in Input) CheckResult {
	if !policy.CommitSigning.Required {
		return result("commit_signing_required", true, "")
	}
	var unsigned, unverifiable []string
	for _, c := range in.Commits {
		if c.HasForgeVerification {
			if !c.ForgeVerified {
				unsigned = append(unsigned, c.SHA)
			}
			continue
		}
		if !c.SignatureVerifiable {
			unverifiable = append(unverifiable, c.SHA)
			continue
		}
		if !c.SignatureVerified {
			unsigned = append(unsigned, c.SHA)
		}
	}
	if len(unsigned) > 0 || len(unverifiable) > 0 {
		return result("commit_signing_required", false, "unsigned=%v unverifiable=%v", unsigned, unverifiable)
	}
	return result("commit_signing_required", true, "")
}
