package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/forgeward/kernel/pkg/config"
	"github.com/forgeward/kernel/pkg/enforcer"
	"github.com/forgeward/kernel/pkg/envcheck"
	"github.com/forgeward/kernel/pkg/forge"
	"github.com/forgeward/kernel/pkg/gate"
	"github.com/forgeward/kernel/pkg/kernelerr"
	"github.com/forgeward/kernel/pkg/supervisor"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint proper, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runCycleCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "cycle":
		return runCycleCmd(args[2:], stdout, stderr)
	case "loop":
		return runLoopCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "supervisor v0.1.0")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Governance supervisor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  supervisor <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  cycle    Run exactly one control-loop cycle (default)")
	fmt.Fprintln(w, "  loop     Run cycles repeatedly with a fixed sleep interval")
	fmt.Fprintln(w, "  doctor   Validate the environment without dispatching")
	fmt.Fprintln(w, "  version  Print the supervisor version")
	fmt.Fprintln(w, "  help     Show this help")
}

func buildDeps(cfg *config.Config) (supervisor.Dependencies, error) {
	violationPath := cfg.ViolationLogPath
	enf := enforcer.New(cfg.GovernancePath, cfg.EnvironmentPath, violationPath)
	loaded, err := enf.LoadContext()
	if err != nil {
		return supervisor.Dependencies{}, err
	}
	governanceHash, _ := loaded["governance_hash"].(string)

	client := forge.New(cfg.ForgeBaseURL, cfg.ForgeOwner, cfg.ForgeRepo, cfg.ForgeToken, cfg.ForgeRequestsPerSec)

	repoInfo, err := client.GetRepo(context.Background())
	if err == nil && repoInfo.Name != "" {
		client = client.WithIdentity(repoInfo.Owner.Login, repoInfo.Name)
	}

	_, policyBaseline, err := gate.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return supervisor.Dependencies{}, err
	}
	if _, err := gate.WriteBaselineArtifact(cfg.PolicyPath, policyBaseline); err != nil {
		return supervisor.Dependencies{}, err
	}

	return supervisor.Dependencies{
		Config: supervisor.Config{
			Forge:                client,
			Enforcer:             enf,
			GovernanceHash:       governanceHash,
			StaleClaimTTLSeconds: cfg.StaleClaimTTLSeconds,
			MaxDurationSeconds:   cfg.MaxDurationSeconds,
			AllowedFiles:         func(int) []string { return nil },
			PolicyPath:           cfg.PolicyPath,
			GateCache:            gate.NewEvaluationCache(),
			EnvCheck: envcheck.Config{
				APIBase:         client.BaseURL(),
				Owner:           client.Owner(),
				Repo:            client.Repo(),
				AuthHeaders:     map[string]string{"Authorization": "token " + client.Token()},
				GovernancePath:  cfg.GovernancePath,
				EnvironmentPath: cfg.EnvironmentPath,
			},
		},
		RepoRoot:   cfg.RepoRoot,
		PolicyHash: policyBaseline,
		ExecutorCommand: func(taskID int, instructionText string) []string {
			return []string{"./executor", "--task", fmt.Sprintf("%d", taskID)}
		},
		Lock: &supervisor.ExecutionLock{},
	}, nil
}

func runCycleCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cycle", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "emit the cycle outcome as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	deps, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize supervisor: %v\n", err)
		return 2
	}

	outcome, err := supervisor.RunCycle(context.Background(), deps)
	if err != nil {
		printLockdownToken(stdout, err)
		fmt.Fprintf(stderr, "cycle failed: %v\n", err)
		if exitCode := killSwitchExitCode(err); exitCode != 0 {
			return exitCode
		}
		return 1
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, report := range outcome.GateReports {
		if line, err := gate.GateReportLine(report); err == nil {
			fmt.Fprintln(stdout, line)
		}
	}

	fmt.Fprintf(stdout, "ACTIVE_PHASE %s\n", outcome.ActivePhase)
	fmt.Fprintf(stdout, "ELIGIBLE_TASK_COUNT %d\n", outcome.EligibleTaskCount)
	if outcome.ClaimedIssue != 0 {
		fmt.Fprintf(stdout, "CLAIMED issue #%d\n", outcome.ClaimedIssue)
	}
	if outcome.TaskCompleted {
		fmt.Fprintf(stdout, "TASK_COMPLETED issue=%d final_state=%s\n", outcome.ClaimedIssue, outcome.FinalState)
	}
	if outcome.PhasePromoted {
		fmt.Fprintln(stdout, "PHASE_COMPLETE")
	}
	if outcome.AutonomyComplete {
		fmt.Fprintln(stdout, "AUTONOMY_MODE")
	}
	return 0
}

func runLoopCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("loop", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	sleepSeconds := cmd.Int("sleep", 30, "seconds to sleep between cycles")
	maxCycles := cmd.Int("max-cycles", 0, "stop after this many cycles (0 = unbounded)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	deps, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize supervisor: %v\n", err)
		return 2
	}

	for cycle := 0; *maxCycles == 0 || cycle < *maxCycles; cycle++ {
		outcome, err := supervisor.RunCycle(context.Background(), deps)
		if err != nil {
			printLockdownToken(stdout, err)
			fmt.Fprintf(stderr, "cycle failed: %v\n", err)
			if exitCode := killSwitchExitCode(err); exitCode != 0 {
				return exitCode
			}
			return 1
		}
		for _, report := range outcome.GateReports {
			if line, err := gate.GateReportLine(report); err == nil {
				fmt.Fprintln(stdout, line)
			}
		}
		fmt.Fprintf(stdout, "cycle %d: active_phase=%s eligible=%d claimed=%d final_state=%s\n",
			cycle, outcome.ActivePhase, outcome.EligibleTaskCount, outcome.ClaimedIssue, outcome.FinalState)
		if outcome.AutonomyComplete {
			fmt.Fprintln(stdout, "AUTONOMY_MODE")
		}
		time.Sleep(time.Duration(*sleepSeconds) * time.Second)
	}
	return 0
}

func runDoctorCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	result := envcheck.Validate(context.Background(), envcheck.Config{
		APIBase:         cfg.ForgeBaseURL,
		Owner:           cfg.ForgeOwner,
		Repo:            cfg.ForgeRepo,
		AuthHeaders:     map[string]string{"Authorization": "token " + cfg.ForgeToken},
		GovernancePath:  cfg.GovernancePath,
		EnvironmentPath: cfg.EnvironmentPath,
	})

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(stdout, string(data))
	if !result.EnvironmentValid {
		return 1
	}
	return 0
}

// printLockdownToken emits the POLICY_LOCKDOWN stdout-contract token when
// err carries a policy-hash mismatch, so a scraping caller sees the
// baseline/current hashes even though the cycle itself failed.
func printLockdownToken(stdout io.Writer, err error) {
	if kerr, ok := kernelerr.As(err); ok && kerr.Code == "governance.policy_lockdown_violation" {
		fmt.Fprintln(stdout, kerr.Message)
	}
}

// killSwitchExitCode returns 2 when the error is a chain-integrity
// violation (audit-stream tamper or a policy-hash lockdown violation),
// which must terminate the process rather than
// fail a single cycle. Returns 0 for every other error class, which the
// caller treats as an ordinary single-cycle failure (exit 1).
func killSwitchExitCode(err error) int {
	if kerr, ok := kernelerr.As(err); ok && kerr.KillSwitch() {
		return 2
	}
	return 0
}
