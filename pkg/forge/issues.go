package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// RepoInfo is the canonical owner/name resolution response.
type RepoInfo struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// GetRepo resolves the configured owner/repo to their canonical API
// values, following any forge-side rename or redirect.
func (c *Client) GetRepo(ctx context.Context) (RepoInfo, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s", url.PathEscape(c.owner), url.PathEscape(c.repo))
	var out RepoInfo
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return RepoInfo{}, err
	}
	return out, nil
}

// Label is a single issue label.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Milestone is a single repository milestone.
type Milestone struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

// Issue is the subset of a forge issue the supervisor reasons about.
type Issue struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	Labels    []Label `json:"labels"`
	Milestone *Milestone `json:"milestone"`
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// GetOpenIssues lists every open issue, up to the forge's page limit.
func (c *Client) GetOpenIssues(ctx context.Context) ([]Issue, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues?state=open&limit=300", url.PathEscape(c.owner), url.PathEscape(c.repo))
	var out []Issue
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// GetMilestones lists every milestone regardless of state.
func (c *Client) GetMilestones(ctx context.Context) ([]Milestone, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/milestones?state=all", url.PathEscape(c.owner), url.PathEscape(c.repo))
	var out []Milestone
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// TimelineEntry is one issue timeline event, used to compute in-progress
// claim age for stale-claim release.
type TimelineEntry struct {
	Type    string `json:"type"`
	Label   *Label `json:"label"`
	Created string `json:"created_at"`
}

// GetIssueTimeline lists an issue's timeline events.
func (c *Client) GetIssueTimeline(ctx context.Context, number int) ([]TimelineEntry, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/timeline", url.PathEscape(c.owner), url.PathEscape(c.repo), number)
	var out []TimelineEntry
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// GetLabels lists every label defined on the repository.
func (c *Client) GetLabels(ctx context.Context) ([]Label, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/labels", url.PathEscape(c.owner), url.PathEscape(c.repo))
	var out []Label
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// CreateLabel creates a new repository label.
func (c *Client) CreateLabel(ctx context.Context, name, color, description string) (Label, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/labels", url.PathEscape(c.owner), url.PathEscape(c.repo))
	payload := map[string]any{"name": name, "color": color, "description": description}
	var out Label
	if err := c.apiJSONRequest(ctx, http.MethodPost, endpoint, payload, &out); err != nil {
		return Label{}, err
	}
	return out, nil
}

// AttachLabel attaches an existing label id to an issue.
func (c *Client) AttachLabel(ctx context.Context, issueNumber int, labelID int64) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", url.PathEscape(c.owner), url.PathEscape(c.repo), issueNumber)
	payload := map[string]any{"labels": []int64{labelID}}
	return c.apiJSONRequest(ctx, http.MethodPost, endpoint, payload, nil)
}

// RemoveLabel removes a label id from an issue.
func (c *Client) RemoveLabel(ctx context.Context, issueNumber int, labelID int64) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%d", url.PathEscape(c.owner), url.PathEscape(c.repo), issueNumber, labelID)
	return c.apiJSONRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// GetIssueLabels re-reads an issue's current labels, used to verify a
// claim actually took.
func (c *Client) GetIssueLabels(ctx context.Context, issueNumber int) ([]Label, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", url.PathEscape(c.owner), url.PathEscape(c.repo), issueNumber)
	var out []Label
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// PostComment posts a comment to an issue.
func (c *Client) PostComment(ctx context.Context, issueNumber int, body string) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(c.owner), url.PathEscape(c.repo), issueNumber)
	return c.apiJSONRequest(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, nil)
}

// CloseIssue transitions an issue to the closed state.
func (c *Client) CloseIssue(ctx context.Context, issueNumber int) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(c.owner), url.PathEscape(c.repo), issueNumber)
	return c.apiJSONRequest(ctx, http.MethodPatch, endpoint, map[string]any{"state": "closed"}, nil)
}
