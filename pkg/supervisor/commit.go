package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runGit executes a git subcommand in the current work tree, mirroring
// the original orchestrator's bare subprocess.run(check=True) idiom.
func runGit(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// CommitMessage renders the fixed governed-commit message for a task.
func CommitMessage(taskID int) string {
	return fmt.Sprintf("feat(task-%d): governed executor result", taskID)
}

// Commit stages exactly the changed files and creates a single commit
// with the governed message, returning the new commit's short hash.
func Commit(ctx context.Context, changedFiles []string, message string) (string, error) {
	if len(changedFiles) == 0 {
		return "", nil
	}
	args := append([]string{"add", "--"}, changedFiles...)
	if _, err := runGit(ctx, args...); err != nil {
		return "", err
	}
	if _, err := runGit(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	out, err := runGit(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
