// Package envcheck implements the environment validator (C9): a bounded,
// ordered set of preflight checks the supervisor runs once per cycle
// before any task is claimed.
package envcheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"
)

const checkTimeout = 5 * time.Second

// Result is the outcome of a full preflight validation pass.
type Result struct {
	EnvironmentValid bool      `json:"environment_valid"`
	ChecksPassed     []string  `json:"checks_passed"`
	ChecksFailed     []string  `json:"checks_failed"`
	Timestamp        string    `json:"timestamp"`
}

// Config names the fixed inputs a validation pass needs.
type Config struct {
	APIBase         string
	Owner           string
	Repo            string
	AuthHeaders     map[string]string
	GovernancePath  string
	EnvironmentPath string
	HTTPClient      *http.Client
}

func runGitCheck(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	return cmd.Run()
}

// checkRepositoryState requires a remote-backed git work tree: the CWD is
// inside a work tree, a remote origin is configured and reachable, and the
// status command itself succeeds. The status output is not inspected, so
// uncommitted changes do not fail the check.
func checkRepositoryState(ctx context.Context) error {
	checks := [][]string{
		{"rev-parse", "--is-inside-work-tree"},
		{"config", "--get", "remote.origin.url"},
		{"ls-remote", "--exit-code", "origin"},
		{"status", "--porcelain=v1"},
	}
	for _, args := range checks {
		if err := runGitCheck(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func sha256File(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	_ = hex.EncodeToString(h.Sum(nil))
	return nil
}

// checkGovernanceFiles requires the governance contract and environment
// snapshot to exist and be hash-readable.
func checkGovernanceFiles(governancePath, environmentPath string) error {
	if _, err := os.Stat(governancePath); err != nil {
		return fmt.Errorf("environment.governance.missing: %w", err)
	}
	if _, err := os.Stat(environmentPath); err != nil {
		return fmt.Errorf("environment.governance.missing: %w", err)
	}
	if err := sha256File(governancePath); err != nil {
		return fmt.Errorf("environment.governance.unreadable: %w", err)
	}
	if err := sha256File(environmentPath); err != nil {
		return fmt.Errorf("environment.governance.unreadable: %w", err)
	}
	return nil
}

// checkRuntimeIntegrity requires the controller's own executable to be
// invocable (run with --help, which must exit successfully), the idiomatic
// Go analogue of the original's "python3 -c import supervisor" self-import
// probe.
func checkRuntimeIntegrity(ctx context.Context) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, self, "--help")
	return cmd.Run()
}

func apiJSONRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string) (int, any, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(raw) == 0 {
		return resp.StatusCode, nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, decoded, nil
}

// checkForgeConnectivity requires an Authorization header to be present
// and the forge's user and open-issues endpoints to respond within the
// bounded timeout.
func checkForgeConnectivity(ctx context.Context, client *http.Client, cfg Config) error {
	headers := map[string]string{"Accept": "application/json"}
	for k, v := range cfg.AuthHeaders {
		headers[k] = v
	}
	if _, ok := headers["Authorization"]; !ok {
		return fmt.Errorf("environment.gitea.auth_failed: missing auth token")
	}
	if _, _, err := apiJSONRequest(ctx, client, http.MethodGet, cfg.APIBase+"/user", headers); err != nil {
		return fmt.Errorf("environment.gitea.unreachable: %w", err)
	}
	_, issues, err := apiJSONRequest(ctx, client, http.MethodGet, fmt.Sprintf("%s/repos/%s/%s/issues?state=open", cfg.APIBase, cfg.Owner, cfg.Repo), headers)
	if err != nil {
		return fmt.Errorf("environment.gitea.unreachable: %w", err)
	}
	if _, ok := issues.([]any); !ok {
		return fmt.Errorf("environment.gitea.invalid_response: issues endpoint did not return a list")
	}
	return nil
}

// checkLabelAvailability requires the repository to carry an
// "in-progress" label, used by the supervisor to mark claimed tasks.
func checkLabelAvailability(ctx context.Context, client *http.Client, cfg Config) error {
	headers := map[string]string{"Accept": "application/json"}
	for k, v := range cfg.AuthHeaders {
		headers[k] = v
	}
	_, labels, err := apiJSONRequest(ctx, client, http.MethodGet, fmt.Sprintf("%s/repos/%s/%s/labels", cfg.APIBase, cfg.Owner, cfg.Repo), headers)
	if err != nil {
		return fmt.Errorf("environment.labels.missing: %w", err)
	}
	list, ok := labels.([]any)
	if !ok {
		return fmt.Errorf("environment.labels.missing: labels endpoint did not return a list")
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := m["name"].(string); name == "in-progress" {
			return nil
		}
	}
	return fmt.Errorf("environment.labels.missing: missing in-progress label")
}

// Validate runs the full ordered preflight suite. Every check is
// independent: one check's failure never prevents another from running,
// so the caller always sees the complete pass/fail picture.
func Validate(ctx context.Context, cfg Config) Result {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}

	var passed, failed []string

	gitCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := checkRepositoryState(gitCtx); err != nil {
		failed = append(failed, "environment.repository.unavailable")
	} else {
		passed = append(passed, "repository_state")
	}

	if err := checkGovernanceFiles(cfg.GovernancePath, cfg.EnvironmentPath); err != nil {
		failed = append(failed, err.Error())
	} else {
		passed = append(passed, "governance_files")
	}

	runtimeCtx, cancelRuntime := context.WithTimeout(ctx, checkTimeout)
	defer cancelRuntime()
	if err := checkRuntimeIntegrity(runtimeCtx); err != nil {
		failed = append(failed, "environment.runtime.invalid")
	} else {
		passed = append(passed, "python_runtime")
	}

	forgeCtx, cancelForge := context.WithTimeout(ctx, checkTimeout)
	defer cancelForge()
	if err := checkForgeConnectivity(forgeCtx, client, cfg); err != nil {
		failed = append(failed, err.Error())
	} else {
		passed = append(passed, "gitea_connectivity")
	}

	labelCtx, cancelLabel := context.WithTimeout(ctx, checkTimeout)
	defer cancelLabel()
	if err := checkLabelAvailability(labelCtx, client, cfg); err != nil {
		failed = append(failed, err.Error())
	} else {
		passed = append(passed, "label_availability")
	}

	return Result{
		EnvironmentValid: len(failed) == 0,
		ChecksPassed:     passed,
		ChecksFailed:     failed,
		Timestamp:        time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
}
