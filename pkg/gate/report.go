package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// reportLogPrefix is the fixed prefix every rendered gate report line
// carries, so log scrapers can grep for governance decisions without
// parsing every line as JSON.
const reportLogPrefix = "PR_GATE_REPORT "

func reportToMap(r Report) map[string]any {
	checks := make([]map[string]any, 0, len(r.Checks))
	for _, c := range r.Checks {
		entry := map[string]any{
			"name":   c.Name,
			"passed": c.Passed,
		}
		if c.Reason != "" {
			entry["reason"] = c.Reason
		}
		checks = append(checks, entry)
	}
	return map[string]any{
		"pr_number":   r.PRNumber,
		"head_sha":    r.HeadSHA,
		"policy_hash": r.PolicyHash,
		"checks":      checks,
		"passed":      r.Passed,
	}
}

// GateReportLine renders a report as a single loggable line: a fixed
// prefix followed by its compact JSON encoding, with map keys sorted.
func GateReportLine(r Report) (string, error) {
	encoded, err := json.Marshal(reportToMap(r))
	if err != nil {
		return "", err
	}
	return reportLogPrefix + string(encoded), nil
}

// ArtifactPath is where a report for a given PR and head SHA is written.
func ArtifactPath(prNumber int, headSHA string) string {
	return filepath.Join("artifacts", "governance", fmt.Sprintf("pr-%d-%s.json", prNumber, headSHA))
}

// WriteGateArtifact renders a report with sorted keys and two-space
// indentation, terminated by a trailing newline, and writes it to its
// fixed artifact path, creating parent directories as needed.
func WriteGateArtifact(r Report) (string, error) {
	path := ArtifactPath(r.PRNumber, r.HeadSHA)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	encoded, err := json.MarshalIndent(reportToMap(r), "", "  ")
	if err != nil {
		return "", err
	}
	encoded = append(encoded, '\n')
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
