package envcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckGovernanceFiles_MissingGovernanceFails(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "environment.json")
	require.NoError(t, os.WriteFile(envPath, []byte(`{}`), 0o644))

	err := checkGovernanceFiles(filepath.Join(dir, "missing.md"), envPath)
	require.Error(t, err)
}

func TestCheckGovernanceFiles_BothPresentSucceeds(t *testing.T) {
	dir := t.TempDir()
	govPath := filepath.Join(dir, "governance.md")
	envPath := filepath.Join(dir, "environment.json")
	require.NoError(t, os.WriteFile(govPath, []byte("# Governance"), 0o644))
	require.NoError(t, os.WriteFile(envPath, []byte(`{}`), 0o644))

	require.NoError(t, checkGovernanceFiles(govPath, envPath))
}

func TestCheckForgeConnectivity_RequiresAuthorizationHeader(t *testing.T) {
	cfg := Config{APIBase: "http://example.invalid", Owner: "o", Repo: "r"}
	err := checkForgeConnectivity(context.Background(), http.DefaultClient, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth_failed")
}

func TestCheckForgeConnectivity_SucceedsAgainstFakeForge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			json.NewEncoder(w).Encode(map[string]any{"login": "svc"})
		case "/repos/o/r/issues":
			json.NewEncoder(w).Encode([]any{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := Config{
		APIBase:     srv.URL,
		Owner:       "o",
		Repo:        "r",
		AuthHeaders: map[string]string{"Authorization": "token abc"},
	}
	require.NoError(t, checkForgeConnectivity(context.Background(), srv.Client(), cfg))
}

func TestCheckLabelAvailability_MissingLabelFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{map[string]any{"name": "bug"}})
	}))
	defer srv.Close()

	cfg := Config{APIBase: srv.URL, Owner: "o", Repo: "r"}
	err := checkLabelAvailability(context.Background(), srv.Client(), cfg)
	require.Error(t, err)
}

func TestCheckLabelAvailability_PresentLabelSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{map[string]any{"name": "in-progress"}})
	}))
	defer srv.Close()

	cfg := Config{APIBase: srv.URL, Owner: "o", Repo: "r"}
	require.NoError(t, checkLabelAvailability(context.Background(), srv.Client(), cfg))
}

func TestValidate_AggregatesIndependentChecks(t *testing.T) {
	dir := t.TempDir()
	govPath := filepath.Join(dir, "governance.md")
	envPath := filepath.Join(dir, "environment.json")
	require.NoError(t, os.WriteFile(govPath, []byte("# Governance"), 0o644))
	require.NoError(t, os.WriteFile(envPath, []byte(`{}`), 0o644))

	cfg := Config{
		APIBase:         "http://127.0.0.1:0",
		Owner:           "o",
		Repo:            "r",
		GovernancePath:  govPath,
		EnvironmentPath: envPath,
	}
	result := Validate(context.Background(), cfg)
	require.False(t, result.EnvironmentValid)
	require.Contains(t, result.ChecksPassed, "governance_files")
	require.NotEmpty(t, result.ChecksFailed)
}
