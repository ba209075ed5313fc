package supervisor

import "github.com/forgeward/kernel/pkg/forge"

// ActivePhase returns the earliest phase in Phases whose milestone still
// has at least one open issue carrying BuildLabel. Returns "" when every
// phase's build work is done, signaling autonomy mode.
func ActivePhase(issues []forge.Issue) string {
	byPhase := map[string]int{}
	for _, issue := range issues {
		if issue.State != "open" || !issue.HasLabel(BuildLabel) || issue.Milestone == nil {
			continue
		}
		byPhase[issue.Milestone.Title]++
	}
	for _, phase := range Phases {
		if byPhase[phase] > 0 {
			return phase
		}
	}
	return ""
}

// EligibleTasks filters to issues that are open, carry BuildLabel, lack
// InProgressLabel, and belong to the given active phase's milestone.
func EligibleTasks(issues []forge.Issue, activePhase string) []forge.Issue {
	var out []forge.Issue
	for _, issue := range issues {
		if issue.State != "open" {
			continue
		}
		if !issue.HasLabel(BuildLabel) {
			continue
		}
		if issue.HasLabel(InProgressLabel) {
			continue
		}
		if issue.Milestone == nil || issue.Milestone.Title != activePhase {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// SelectTask deterministically picks the lowest-numbered eligible issue.
// Returns ok=false when no issue is eligible.
func SelectTask(eligible []forge.Issue) (forge.Issue, bool) {
	if len(eligible) == 0 {
		return forge.Issue{}, false
	}
	best := eligible[0]
	for _, issue := range eligible[1:] {
		if issue.Number < best.Number {
			best = issue
		}
	}
	return best, true
}
