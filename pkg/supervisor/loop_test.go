package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgeward/kernel/pkg/audit"
	"github.com/forgeward/kernel/pkg/enforcer"
	"github.com/forgeward/kernel/pkg/envcheck"
	"github.com/forgeward/kernel/pkg/forge"
	"github.com/forgeward/kernel/pkg/gate"
)

// fakeForge is a minimal stateful Gitea-shaped server covering exactly
// the endpoints one RunCycle dispatch of task #3 exercises.
type fakeForge struct {
	mu         sync.Mutex
	labels     []forge.Label
	taskLabels map[int][]forge.Label
	closed     map[int]bool
	comments   []string
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		labels:     []forge.Label{{ID: 1, Name: "type:build"}, {ID: 2, Name: "in-progress"}},
		taskLabels: map[int][]forge.Label{3: {{ID: 1, Name: "type:build"}}},
		closed:     map[int]bool{},
	}
}

func (f *fakeForge) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/user" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"login": "supervisor"})
		case r.URL.Path == "/repos/o/r/pulls" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]forge.PullRequest{})
		case r.URL.Path == "/repos/o/r/issues" && r.Method == http.MethodGet:
			milestone := forge.Milestone{ID: 1, Title: "bootstrap", State: "open"}
			issue := forge.Issue{
				Number:    3,
				Title:     "Wire the dispatch entrypoint",
				Body:      "Implement `executor/dispatch.go`",
				State:     "open",
				Labels:    f.taskLabels[3],
				Milestone: &milestone,
			}
			json.NewEncoder(w).Encode([]forge.Issue{issue})
		case r.URL.Path == "/repos/o/r/labels" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(f.labels)
		case r.URL.Path == "/repos/o/r/issues/3/labels" && r.Method == http.MethodPost:
			f.taskLabels[3] = append(f.taskLabels[3], forge.Label{ID: 2, Name: "in-progress"})
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/repos/o/r/issues/3/labels" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(f.taskLabels[3])
		case r.URL.Path == "/repos/o/r/issues/3/labels/2" && r.Method == http.MethodDelete:
			var kept []forge.Label
			for _, l := range f.taskLabels[3] {
				if l.Name != "in-progress" {
					kept = append(kept, l)
				}
			}
			f.taskLabels[3] = kept
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/repos/o/r/issues/3/comments" && r.Method == http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.comments = append(f.comments, body["body"].(string))
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/repos/o/r/issues/3" && r.Method == http.MethodPatch:
			f.closed[3] = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func setupGitRepo(t *testing.T, changedFile string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "supervisor@example.com")
	run("config", "user.name", "supervisor")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "seed")
	// The repository-state preflight check requires a reachable
	// "origin" remote; a repo is its own valid local-transport remote.
	run("remote", "add", "origin", dir)

	fullPath := filepath.Join(dir, changedFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, []byte("package executor\n"), 0o644))
	return dir
}

func setupEnforcer(t *testing.T, repoRoot string) (*enforcer.Enforcer, string, string) {
	t.Helper()
	govPath := filepath.Join(repoRoot, "governance.md")
	envPath := filepath.Join(repoRoot, "environment.json")
	violationPath := filepath.Join(repoRoot, "violations.jsonl")
	require.NoError(t, os.WriteFile(govPath, []byte("# Governance\nNo actor may approve its own change.\n"), 0o644))
	require.NoError(t, os.WriteFile(envPath, []byte(`{}`), 0o644))
	e := enforcer.New(govPath, envPath, violationPath)
	_, err := e.LoadContext()
	require.NoError(t, err)
	return e, govPath, envPath
}

// setupPolicy writes a minimal governance policy document with every
// approval requirement at zero, so PR-gate evaluation of the (empty) open
// pull request set in these fixtures never fails, and returns its path
// alongside the baseline hash RunCycle's lockdown check must match.
func setupPolicy(t *testing.T, dir string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	doc := `version: "1"
branch_rules:
  feature_to_develop_only: true
  patterns:
    feature:
      regex: "^feature/.+"
approvals:
  disallow_self_approval: true
  develop:
    min_approvals: 0
    require_human_approval: false
    require_distinct_reviewer: false
high_risk_paths: []
commit_signing:
  required: false
ci:
  required_checks: []
system_evolution:
  detect_paths: []
  approvals:
    min_approvals: 0
  ci:
    required_checks: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, hash, err := gate.LoadPolicy(path)
	require.NoError(t, err)
	return path, hash
}

func TestRunCycle_SingleDispatchCompletesTask(t *testing.T) {
	fake := newFakeForge()
	srv := httptest.NewServer(http.StripPrefix("/api/v1", fake.handler()))
	defer srv.Close()

	repoRoot := setupGitRepo(t, "executor/dispatch.go")
	enf, govPath, envPath := setupEnforcer(t, repoRoot)
	policyPath, policyHash := setupPolicy(t, repoRoot)
	client := forge.New(srv.URL, "o", "r", "test-token", 100)

	prevDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(repoRoot))
	t.Cleanup(func() { _ = os.Chdir(prevDir) })

	cfg := Config{
		Forge:                client,
		Enforcer:             enf,
		GovernanceHash:       "0000000000000000000000000000000000000000000000000000000000000",
		StaleClaimTTLSeconds: 1800,
		MaxDurationSeconds:   10,
		AllowedFiles: func(taskID int) []string {
			return []string{"executor/dispatch.go"}
		},
		PolicyPath: policyPath,
		GateCache:  gate.NewEvaluationCache(),
		EnvCheck: envcheck.Config{
			APIBase:         client.BaseURL(),
			Owner:           "o",
			Repo:            "r",
			AuthHeaders:     map[string]string{"Authorization": "token test-token"},
			GovernancePath:  govPath,
			EnvironmentPath: envPath,
		},
	}

	executorCommand := func(taskID int, instructionText string) []string {
		result := map[string]any{
			"status":         "success",
			"changed_files":  []string{"executor/dispatch.go"},
			"tests_passed":   true,
			"logs":           "ok",
			"commit_message": CommitMessage(taskID),
		}
		payload, err := json.Marshal(result)
		require.NoError(t, err)
		return []string{"sh", "-c", "echo '" + string(payload) + "'"}
	}

	deps := Dependencies{
		Config:          cfg,
		RepoRoot:        repoRoot,
		PolicyHash:      policyHash,
		ExecutorCommand: executorCommand,
		Lock:            &ExecutionLock{},
	}

	outcome, err := RunCycle(context.Background(), deps)
	require.NoError(t, err)

	require.Equal(t, "bootstrap", outcome.ActivePhase)
	require.Equal(t, 3, outcome.ClaimedIssue)
	require.Equal(t, "completed", outcome.FinalState)
	require.True(t, outcome.TaskCompleted)
	require.True(t, outcome.CommitCreated)
	require.NotEmpty(t, outcome.CommitHash)

	require.True(t, fake.closed[3])
	for _, l := range fake.taskLabels[3] {
		require.NotEqual(t, "in-progress", l.Name)
	}
	require.Len(t, fake.comments, 1)

	events, err := audit.LoadStreamFromRepo(repoRoot, "task-3")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, audit.EventPermitUsed, events[0].EventType)
	require.NoError(t, audit.VerifyStreamFromRepo(repoRoot, "task-3"))
}

func TestRunCycle_NoEligibleTaskIsIdle(t *testing.T) {
	srv := httptest.NewServer(http.StripPrefix("/api/v1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user":
			json.NewEncoder(w).Encode(map[string]any{"login": "supervisor"})
		case r.URL.Path == "/repos/o/r/pulls":
			json.NewEncoder(w).Encode([]forge.PullRequest{})
		case r.URL.Path == "/repos/o/r/labels":
			json.NewEncoder(w).Encode([]forge.Label{{ID: 1, Name: "in-progress"}})
		case r.URL.Path == "/repos/o/r/issues":
			json.NewEncoder(w).Encode([]forge.Issue{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})))
	defer srv.Close()

	repoRoot := setupGitRepo(t, "README.md")
	enf, govPath, envPath := setupEnforcer(t, repoRoot)
	policyPath, policyHash := setupPolicy(t, repoRoot)
	client := forge.New(srv.URL, "o", "r", "test-token", 100)

	prevDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(repoRoot))
	t.Cleanup(func() { _ = os.Chdir(prevDir) })

	deps := Dependencies{
		Config: Config{
			Forge:                client,
			Enforcer:             enf,
			GovernanceHash:       "hash",
			StaleClaimTTLSeconds: 1800,
			MaxDurationSeconds:   10,
			AllowedFiles:         func(int) []string { return nil },
			PolicyPath:           policyPath,
			GateCache:            gate.NewEvaluationCache(),
			EnvCheck: envcheck.Config{
				APIBase:         client.BaseURL(),
				Owner:           "o",
				Repo:            "r",
				AuthHeaders:     map[string]string{"Authorization": "token test-token"},
				GovernancePath:  govPath,
				EnvironmentPath: envPath,
			},
		},
		RepoRoot:   repoRoot,
		PolicyHash: policyHash,
		ExecutorCommand: func(int, string) []string {
			return nil
		},
		Lock: &ExecutionLock{},
	}

	outcome, err := RunCycle(context.Background(), deps)
	require.NoError(t, err)
	require.True(t, outcome.AutonomyIdle)
	require.Equal(t, "", outcome.ActivePhase)
}
