package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/forgeward/kernel/pkg/kernelerr"
)

// ExecutionLock is the process-wide non-blocking exclusive lock the
// supervisor holds while the executor sub-process runs. There is no
// distributed lock and no waiting: contention is a deterministic error.
type ExecutionLock struct {
	lock sync.Mutex
	held bool
}

// TryAcquire attempts to take the lock without blocking. Returns an error
// with code execution.lock.violation on contention.
func (l *ExecutionLock) TryAcquire() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.held {
		return kernelerr.New(kernelerr.ClassDispatch, "execution.lock.violation", "execution lock already held", nil)
	}
	l.held = true
	return nil
}

// Release frees the lock.
func (l *ExecutionLock) Release() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.held = false
}

var nondeterministicPhrases = []string{"maybe", "perhaps", "if possible", "as needed"}

// ValidateInstructionDeterministic rejects dispatch instructions carrying
// any of the fixed nondeterministic phrases, before the executor runs.
func ValidateInstructionDeterministic(instructionText string) error {
	lower := strings.ToLower(instructionText)
	for _, phrase := range nondeterministicPhrases {
		if strings.Contains(lower, phrase) {
			return kernelerr.New(kernelerr.ClassDispatch, "execution.dispatch.nondeterministic", "instruction contains nondeterministic phrasing", map[string]any{"phrase": phrase})
		}
	}
	return nil
}

// Dispatch runs the executor as a single external sub-process, bounded
// by maxDuration. A timeout returns status "failure" with TimedOut set;
// no exit code is recorded in the result. A launch failure or a non-zero
// exit returns execution.dispatch.malformed.
func Dispatch(ctx context.Context, command []string, maxDuration time.Duration) (ExecutorResult, error) {
	if len(command) == 0 {
		return ExecutorResult{}, kernelerr.New(kernelerr.ClassDispatch, "execution.dispatch.malformed", "no executor command configured", nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, maxDuration)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return ExecutorResult{Status: "failure", TimedOut: true}, nil
	}
	if err != nil {
		return ExecutorResult{}, kernelerr.New(kernelerr.ClassDispatch, "execution.dispatch.malformed", err.Error(), nil)
	}

	return parseExecutorOutput(stdout.String()), nil
}

// parseExecutorOutput parses the last non-blank line of stdout as JSON.
// When that line is absent or malformed, it returns status "failure" with
// no changed files; ApplyAllowedFilesFallback supplies the allowed files.
func parseExecutorOutput(stdout string) ExecutorResult {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	var lastLine string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			lastLine = strings.TrimSpace(lines[i])
			break
		}
	}

	var result ExecutorResult
	if lastLine != "" {
		if err := json.Unmarshal([]byte(lastLine), &result); err == nil {
			return result
		}
	}
	return ExecutorResult{Status: "failure"}
}

// ApplyAllowedFilesFallback fills in ChangedFiles from allowedFiles when
// the executor omitted changed_files, recording that the fallback fired.
func ApplyAllowedFilesFallback(result ExecutorResult, allowedFiles []string) ExecutorResult {
	if len(result.ChangedFiles) > 0 {
		return result
	}
	result.ChangedFiles = allowedFiles
	result.ChangedFilesInferred = true
	return result
}

var commitMessagePattern = regexp.MustCompile(`^(feat|fix|chore)\([^)]+\): .+`)

func subset(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, f := range b {
		set[f] = true
	}
	for _, f := range a {
		if !set[f] {
			return false
		}
	}
	return true
}

// Verify checks that a dispatch result is deterministic, scoped to the
// allowed files, not timed out, and (if present) carries a conforming
// commit message.
func Verify(result ExecutorResult, allowedFiles []string) bool {
	if result.TimedOut {
		return false
	}
	if result.Status != "success" && result.Status != "failure" {
		return false
	}
	if !subset(result.ChangedFiles, allowedFiles) {
		return false
	}
	if result.CommitMessage != "" && !commitMessagePattern.MatchString(result.CommitMessage) {
		return false
	}
	return true
}
