// Package supervisor implements the single-writer control loop (C7):
// phase detection, task selection, claim, permit issuance, dispatch,
// verification, governed commit, and phase transition.
package supervisor

import (
	"github.com/forgeward/kernel/pkg/enforcer"
	"github.com/forgeward/kernel/pkg/envcheck"
	"github.com/forgeward/kernel/pkg/forge"
	"github.com/forgeward/kernel/pkg/gate"
)

// Phases is the fixed ordered list of milestone phases the loop
// progresses through before entering autonomy mode.
var Phases = []string{"bootstrap", "foundation", "expansion", "hardening", "release"}

// InProgressLabel is the claim marker attached to an issue while a task
// is dispatched.
const InProgressLabel = "in-progress"

// BuildLabel marks an issue as eligible build work.
const BuildLabel = "type:build"

// Config bundles everything one supervisor cycle needs.
type Config struct {
	Forge             *forge.Client
	Enforcer          *enforcer.Enforcer
	GovernanceHash    string
	StaleClaimTTLSeconds int
	MaxDurationSeconds   int
	AllowedFiles      func(taskID int) []string
	// PolicyPath is the governance policy document reloaded and hash-
	// checked against PolicyHash at the start of every cycle.
	PolicyPath string
	// GateCache remembers which (PR, head SHA, policy hash) triples have
	// already been evaluated, so an unchanged PR is not re-published.
	GateCache *gate.EvaluationCache
	// EnvCheck is the preflight configuration run once per cycle before
	// any claim is attempted.
	EnvCheck envcheck.Config
}

// ExecutorResult is the executor sub-process's parsed final line of
// stdout, or the deterministic fallback when that line is absent.
type ExecutorResult struct {
	Status              string   `json:"status"`
	ChangedFiles         []string `json:"changed_files"`
	TestsPassed          bool     `json:"tests_passed"`
	Logs                 string   `json:"logs"`
	Timestamp            string   `json:"timestamp"`
	CommitMessage        string   `json:"commit_message"`
	TimedOut             bool     `json:"-"`
	ChangedFilesInferred bool     `json:"changed_files_inferred,omitempty"`
}

// CycleOutcome summarizes one RunCycle call for the stdout contract and
// for tests.
type CycleOutcome struct {
	EnvironmentValid  bool
	GateReports       []gate.Report
	ActivePhase       string
	EligibleTaskCount int
	ClaimedIssue      int
	TaskCompleted     bool
	FinalState        string
	CommitCreated     bool
	CommitHash        string
	PhaseComplete     bool
	PhasePromoted     bool
	AutonomyComplete  bool
	AutonomyIdle      bool
}
