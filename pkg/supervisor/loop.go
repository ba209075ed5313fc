package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeward/kernel/pkg/audit"
	"github.com/forgeward/kernel/pkg/envcheck"
	"github.com/forgeward/kernel/pkg/forge"
	"github.com/forgeward/kernel/pkg/gate"
	"github.com/forgeward/kernel/pkg/kernelerr"
	"github.com/forgeward/kernel/pkg/permit"
)

// Dependencies bundles the collaborators one RunCycle invocation needs,
// separated from Config so tests can substitute fakes for the executor
// command and the audit sink root without touching the forge client.
type Dependencies struct {
	Config
	RepoRoot       string
	PolicyHash     string
	ExecutorCommand func(taskID int, instructionText string) []string
	Lock           *ExecutionLock
}

// RunCycle executes exactly one iteration of the control-loop state
// machine against one eligible task, if any. It does not loop or sleep
// itself — the caller (cmd/supervisor) is responsible for repetition.
func RunCycle(ctx context.Context, deps Dependencies) (CycleOutcome, error) {
	var outcome CycleOutcome

	envResult := envcheck.Validate(ctx, deps.EnvCheck)
	outcome.EnvironmentValid = envResult.EnvironmentValid
	if !envResult.EnvironmentValid {
		return outcome, kernelerr.New(kernelerr.ClassEnvironment, "environment.preflight_failed", fmt.Sprintf("failed checks: %v", envResult.ChecksFailed), nil)
	}

	gateReports, err := runPRGate(ctx, deps)
	if err != nil {
		return outcome, err
	}
	outcome.GateReports = gateReports

	issues, err := deps.Forge.GetOpenIssues(ctx)
	if err != nil {
		return outcome, kernelerr.New(kernelerr.ClassEnvironment, "environment.forge_unreachable", err.Error(), nil)
	}

	if _, err := ReleaseStaleClaims(ctx, deps.Forge, issues, deps.StaleClaimTTLSeconds, time.Now()); err != nil {
		return outcome, kernelerr.New(kernelerr.ClassEnvironment, "environment.stale_release_failed", err.Error(), nil)
	}

	activePhase := ActivePhase(issues)
	outcome.ActivePhase = activePhase
	if activePhase == "" {
		outcome.AutonomyIdle = true
		return outcome, nil
	}

	eligible := EligibleTasks(issues, activePhase)
	outcome.EligibleTaskCount = len(eligible)

	task, ok := SelectTask(eligible)
	if !ok {
		return outcome, nil
	}

	instructionText := task.Title
	if task.Body != "" {
		instructionText = instructionText + "\n\n" + task.Body
	}

	if err := deps.Enforcer.ValidatePreComputation(instructionText, fmt.Sprintf("Claim issue #%d as in-progress", task.Number)); err != nil {
		return outcome, err
	}

	claimed, err := Claim(ctx, deps.Forge, task.Number)
	if err != nil {
		return outcome, kernelerr.New(kernelerr.ClassEnvironment, "environment.claim_failed", err.Error(), nil)
	}
	if !claimed {
		return outcome, nil
	}
	outcome.ClaimedIssue = task.Number

	issuedPermit, err := IssuePermit(deps.PolicyHash, deps.GovernanceHash, task.Number)
	if err != nil {
		return outcome, err
	}

	if err := ValidateInstructionDeterministic(instructionText); err != nil {
		return outcome, err
	}

	if err := deps.Lock.TryAcquire(); err != nil {
		return outcome, err
	}
	defer deps.Lock.Release()

	command := deps.ExecutorCommand(task.Number, instructionText)
	maxDuration := time.Duration(deps.MaxDurationSeconds) * time.Second
	if maxDuration <= 0 {
		maxDuration = 60 * time.Second
	}
	result, err := Dispatch(ctx, command, maxDuration)
	if err != nil {
		return outcome, err
	}

	allowedFiles := deps.AllowedFiles(task.Number)
	result = ApplyAllowedFilesFallback(result, allowedFiles)

	verified := Verify(result, allowedFiles)
	outcome.FinalState = "blocked"

	streamID := fmt.Sprintf("task-%d", task.Number)

	if verified && result.Status == "success" && result.TestsPassed {
		commitMessage := CommitMessage(task.Number)
		if err := deps.Enforcer.ValidateCommitPolicy(instructionText, result.ChangedFiles, commitMessage); err == nil {
			hash, err := Commit(ctx, result.ChangedFiles, commitMessage)
			if err != nil {
				outcome.FinalState = "retry_pending"
			} else {
				outcome.CommitCreated = hash != ""
				outcome.CommitHash = hash
				outcome.FinalState = "completed"
			}
		}
	} else if result.TimedOut {
		outcome.FinalState = "retry_pending"
	}

	if err := recordPermitUsed(deps.RepoRoot, streamID, issuedPermit, task.Number); err != nil {
		return outcome, kernelerr.New(kernelerr.ClassChainIntegrity, "secure_layer.killswitch.audit_append_violation", err.Error(), nil)
	}

	if outcome.FinalState == "completed" {
		if err := closeTask(ctx, deps.Forge, task, outcome.CommitHash); err != nil {
			return outcome, kernelerr.New(kernelerr.ClassEnvironment, "environment.close_failed", err.Error(), nil)
		}
		outcome.TaskCompleted = true
	}

	remaining := EligibleTasks(mustReload(issues, task.Number), activePhase)
	if PhaseComplete(len(remaining), outcome.TaskCompleted) {
		outcome.PhaseComplete = true
		if NextPhase(activePhase) != "" {
			outcome.PhasePromoted = true
		} else {
			outcome.AutonomyComplete = true
		}
	}

	return outcome, nil
}

// runPRGate enforces the policy-hash lockdown, then evaluates every open
// pull request against the reloaded policy, writing a gate artifact and
// publishing a governance commit status for each PR not already covered
// by the evaluation cache. A policy-hash mismatch fails the cycle closed
// before a single PR is evaluated.
func runPRGate(ctx context.Context, deps Dependencies) ([]gate.Report, error) {
	policy, currentHash, err := gate.EnforcePolicyHashLockdown(deps.PolicyPath, deps.PolicyHash)
	if err != nil {
		var lockdown *gate.LockdownError
		if errors.As(err, &lockdown) {
			return nil, kernelerr.New(kernelerr.ClassChainIntegrity, "governance.policy_lockdown_violation", lockdown.Error(), map[string]any{
				"baseline": lockdown.Baseline,
				"current":  lockdown.Current,
			})
		}
		return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.policy_load_failed", err, nil)
	}

	prs, err := deps.Forge.GetOpenPullRequests(ctx)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.list_pull_requests_failed", err, nil)
	}

	reports := make([]gate.Report, 0, len(prs))
	for _, pr := range prs {
		if deps.GateCache != nil && deps.GateCache.Seen(pr.Number, pr.Head.SHA, currentHash) {
			continue
		}

		files, err := deps.Forge.GetPullRequestFiles(ctx, pr.Number)
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.list_files_failed", err, nil)
		}
		reviews, err := deps.Forge.GetPullRequestReviews(ctx, pr.Number)
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.list_reviews_failed", err, nil)
		}
		statuses, err := deps.Forge.GetCommitStatuses(ctx, pr.Head.SHA)
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.list_statuses_failed", err, nil)
		}
		commits, err := deps.Forge.GetPullRequestCommits(ctx, pr.Number)
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.list_commits_failed", err, nil)
		}

		report := gate.EvaluatePR(policy, currentHash, gate.Input{
			PR:       pr,
			OpenPRs:  prs,
			Files:    files,
			Reviews:  reviews,
			Statuses: statuses,
			Commits:  commits,
		})
		reports = append(reports, report)

		if _, err := gate.WriteGateArtifact(report); err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.artifact_write_failed", err, nil)
		}

		state := gate.StatusFailure
		if report.Passed {
			state = gate.StatusSuccess
		}
		description := fmt.Sprintf("%d/%d checks passed", passedCheckCount(report), len(report.Checks))
		if err := gate.PublishGovernanceStatus(ctx, deps.Forge.HTTPClient(), deps.Forge.BaseURL(), deps.Forge.Owner(), deps.Forge.Repo(), deps.Forge.Token(), pr.Head.SHA, state, description, "", "supervisor/governance"); err != nil {
			return nil, kernelerr.Wrap(kernelerr.ClassGateInternal, "gate_internal.status_publish_failed", err, nil)
		}

		if deps.GateCache != nil {
			deps.GateCache.Mark(pr.Number, pr.Head.SHA, currentHash)
		}
	}

	return reports, nil
}

func passedCheckCount(r gate.Report) int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// mustReload removes the claimed issue from the in-memory issue list so
// phase-completion can be evaluated without a second forge round trip.
func mustReload(issues []forge.Issue, claimedNumber int) []forge.Issue {
	out := make([]forge.Issue, 0, len(issues))
	for _, i := range issues {
		if i.Number == claimedNumber {
			continue
		}
		out = append(out, i)
	}
	return out
}

func recordPermitUsed(repoRoot, streamID string, p *permit.ExecutionPermit, taskNumber int) error {
	event := audit.Event{
		EventID:            uuid.NewString(),
		EventType:          audit.EventPermitUsed,
		PolicyHash:         p.PolicyHash,
		RequestFingerprint: p.RequestFingerprint,
		Sequence:           0,
		StreamID:           streamID,
		PrevEventHash:      "",
		Payload: map[string]any{
			"permit_id":    p.PermitID,
			"issued_by":    p.IssuedBy,
			"permit_scope": string(p.PermitScope),
			"task":         fmt.Sprintf("task-%d", taskNumber),
		},
	}
	writer := audit.RepoWriter{RepoRoot: repoRoot}
	if _, err := writer.WriteEvent(event); err != nil {
		return err
	}
	return audit.VerifyStreamFromRepo(repoRoot, streamID)
}

func closeTask(ctx context.Context, client *forge.Client, task forge.Issue, commitHash string) error {
	labels, err := client.GetIssueLabels(ctx, task.Number)
	if err != nil {
		return err
	}
	var labelID int64
	for _, l := range labels {
		if l.Name == InProgressLabel {
			labelID = l.ID
		}
	}
	if labelID != 0 {
		if err := client.RemoveLabel(ctx, task.Number, labelID); err != nil {
			return err
		}
	}
	message := "Closed by supervisor."
	if commitHash != "" {
		message = fmt.Sprintf("Closed by supervisor. Commit: %s", commitHash)
	}
	if err := client.PostComment(ctx, task.Number, message); err != nil {
		return err
	}
	return client.CloseIssue(ctx, task.Number)
}
