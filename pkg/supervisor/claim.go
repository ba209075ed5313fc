package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeward/kernel/pkg/forge"
)

// ensureInProgressLabel returns the in-progress label's id, creating it
// deterministically if the repository does not yet define it.
func ensureInProgressLabel(ctx context.Context, client *forge.Client) (int64, error) {
	labels, err := client.GetLabels(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range labels {
		if l.Name == InProgressLabel {
			return l.ID, nil
		}
	}
	created, err := client.CreateLabel(ctx, InProgressLabel, "f29513", "Task currently claimed by supervisor")
	if err != nil {
		return 0, err
	}
	if created.ID != 0 {
		return created.ID, nil
	}
	// Label may already exist due to a race; re-fetch once.
	labels, err = client.GetLabels(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range labels {
		if l.Name == InProgressLabel {
			return l.ID, nil
		}
	}
	return 0, fmt.Errorf("supervisor.claim: could not resolve in-progress label id")
}

// Claim attaches the in-progress label to an issue and re-reads its
// labels to verify the attach actually took. All steps must succeed.
func Claim(ctx context.Context, client *forge.Client, issueNumber int) (bool, error) {
	labelID, err := ensureInProgressLabel(ctx, client)
	if err != nil {
		return false, err
	}
	if err := client.AttachLabel(ctx, issueNumber, labelID); err != nil {
		return false, err
	}
	labels, err := client.GetIssueLabels(ctx, issueNumber)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l.Name == InProgressLabel {
			return true, nil
		}
	}
	return false, nil
}

// staleClaimTTL returns the effective TTL, defaulting to the spec's
// normative 1800 seconds.
func staleClaimTTL(configuredSeconds int) time.Duration {
	if configuredSeconds <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(configuredSeconds) * time.Second
}

// latestLabelAddTime returns the timestamp of the newest in-progress
// label-add timeline event, or the zero time if none is present.
func latestLabelAddTime(timeline []forge.TimelineEntry) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, entry := range timeline {
		if entry.Type != "label" || entry.Label == nil || entry.Label.Name != InProgressLabel {
			continue
		}
		ts, err := time.Parse(time.RFC3339, entry.Created)
		if err != nil {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	return latest, found
}

// ReleaseStaleClaims removes the in-progress label and posts a release
// comment on every claimed issue whose newest claim event is older than
// the TTL, returning the issue numbers released.
func ReleaseStaleClaims(ctx context.Context, client *forge.Client, issues []forge.Issue, ttlSeconds int, now time.Time) ([]int, error) {
	ttl := staleClaimTTL(ttlSeconds)
	var released []int

	for _, issue := range issues {
		if !issue.HasLabel(InProgressLabel) {
			continue
		}
		timeline, err := client.GetIssueTimeline(ctx, issue.Number)
		if err != nil {
			return released, err
		}
		claimedAt, found := latestLabelAddTime(timeline)
		if !found {
			continue
		}
		if now.Sub(claimedAt) < ttl {
			continue
		}

		var labelID int64
		for _, l := range issue.Labels {
			if l.Name == InProgressLabel {
				labelID = l.ID
			}
		}
		if err := client.RemoveLabel(ctx, issue.Number, labelID); err != nil {
			return released, err
		}
		if err := client.PostComment(ctx, issue.Number, "Claim released: exceeded stale-claim TTL."); err != nil {
			return released, err
		}
		released = append(released, issue.Number)
	}
	return released, nil
}
