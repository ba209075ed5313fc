package supervisor

// AutonomyState tracks the recursion-cooldown and hard-block bookkeeping
// for self-generated build tasks once every fixed phase is complete.
type AutonomyState struct {
	LastCloseWasRecursive bool
	PriorCycleGovernanceViolation bool
	PriorCycleEnvironmentFailure  bool
	PriorCycleRollback            bool
	PriorCycleCommitScopeMismatch bool
}

// CanCreateRecursiveTask reports whether a new self-generated build task
// may be created this cycle: the prior autonomous close must not itself
// have been recursive, and no hard-block condition may be active.
func (s AutonomyState) CanCreateRecursiveTask() bool {
	if s.PriorCycleGovernanceViolation || s.PriorCycleEnvironmentFailure || s.PriorCycleRollback || s.PriorCycleCommitScopeMismatch {
		return false
	}
	return !s.LastCloseWasRecursive
}

// RecordClose updates cooldown state after a successful autonomous close.
func (s AutonomyState) RecordClose(wasRecursive bool) AutonomyState {
	s.LastCloseWasRecursive = wasRecursive
	s.PriorCycleGovernanceViolation = false
	s.PriorCycleEnvironmentFailure = false
	s.PriorCycleRollback = false
	s.PriorCycleCommitScopeMismatch = false
	return s
}

// PhaseComplete reports whether the active phase has no eligible task
// remaining and the last verified task in that phase closed cleanly.
func PhaseComplete(eligibleRemaining int, lastTaskVerifiedAndClosed bool) bool {
	return eligibleRemaining == 0 && lastTaskVerifiedAndClosed
}

// NextPhase returns the phase following current in the fixed ordered
// list, or "" once the final phase has been passed (autonomy mode).
func NextPhase(current string) string {
	for i, p := range Phases {
		if p == current && i+1 < len(Phases) {
			return Phases[i+1]
		}
	}
	return ""
}
