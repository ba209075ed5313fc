// Package forge is a typed REST client over the forge (Gitea-compatible)
// pull-request API surface the PR governance gate reads from.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultTimeout = 5 * time.Second

// Client talks to a single forge instance's REST API for one repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client. baseURL is normalized to always end in
// "/api/v1" exactly once, matching common Gitea/Forgejo deployments.
func New(baseURL, owner, repo, token string, requestsPerSecond float64) *Client {
	return &Client{
		baseURL:    normalizeAPIBase(baseURL),
		owner:      owner,
		repo:       repo,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// BaseURL returns the normalized API base this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Owner returns the currently bound repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the currently bound repository name.
func (c *Client) Repo() string { return c.repo }

// Token returns the bearer token this client authenticates with.
func (c *Client) Token() string { return c.token }

// HTTPClient returns the underlying http.Client, for callers (such as the
// status publisher) that need to issue requests outside this client's
// typed method set.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// WithIdentity returns a shallow copy of the client bound to a
// (possibly forge-resolved) canonical owner/repo pair, sharing the same
// HTTP client and rate limiter.
func (c *Client) WithIdentity(owner, repo string) *Client {
	clone := *c
	clone.owner = owner
	clone.repo = repo
	return &clone
}

// normalizeAPIBase strips trailing slashes and ensures exactly one
// "/api/v1" suffix, so callers may pass either a bare forge origin or an
// already-suffixed API base.
func normalizeAPIBase(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.HasSuffix(trimmed, "/api/v1") {
		return trimmed
	}
	return trimmed + "/api/v1"
}

// ErrUnexpectedResponse is returned when the forge responds with a JSON
// shape a list-returning endpoint did not expect.
type ErrUnexpectedResponse struct {
	Endpoint string
	Reason   string
}

func (e *ErrUnexpectedResponse) Error() string {
	return fmt.Sprintf("forge: unexpected response from %s: %s", e.Endpoint, e.Reason)
}

func (c *Client) apiJSONRequest(ctx context.Context, method, endpoint string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("forge: %s %s returned status %d: %s", method, endpoint, resp.StatusCode, string(payload))
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func requireListResponse[T any](endpoint string, payload []T) ([]T, error) {
	if payload == nil {
		return nil, &ErrUnexpectedResponse{Endpoint: endpoint, Reason: "expected a JSON array"}
	}
	return payload, nil
}

// PullRequest is the subset of a forge pull request the gate reasons
// about.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Base   struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

// GetOpenPullRequests returns every currently open pull request against
// the configured repository.
func (c *Client) GetOpenPullRequests(ctx context.Context) ([]PullRequest, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls?state=open", url.PathEscape(c.owner), url.PathEscape(c.repo))
	var out []PullRequest
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// PullRequestFile is one changed file entry in a pull request diff.
type PullRequestFile struct {
	Filename string `json:"filename"`
}

// GetPullRequestFiles lists the files changed by a pull request.
func (c *Client) GetPullRequestFiles(ctx context.Context, number int) ([]string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d/files", url.PathEscape(c.owner), url.PathEscape(c.repo), number)
	var out []PullRequestFile
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	files, err := requireListResponse(endpoint, out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	return names, nil
}

// Review is a single pull-request review submission.
type Review struct {
	User struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
	State       string `json:"state"`
	SubmittedAt string `json:"submitted_at"`
}

// GetPullRequestReviews lists every review submitted against a pull
// request.
func (c *Client) GetPullRequestReviews(ctx context.Context, number int) ([]Review, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", url.PathEscape(c.owner), url.PathEscape(c.repo), number)
	var out []Review
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// StatusCheck is one commit status entry.
type StatusCheck struct {
	Context string `json:"context"`
	State   string `json:"status"`
}

// GetCommitStatuses lists the status checks recorded against a commit.
func (c *Client) GetCommitStatuses(ctx context.Context, sha string) ([]StatusCheck, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/commits/%s/statuses", url.PathEscape(c.owner), url.PathEscape(c.repo), sha)
	var out []StatusCheck
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return requireListResponse(endpoint, out)
}

// Commit is a single pull-request commit, with its signature
// verification resolved either from the forge's own verification field or,
// failing that, a local git signature probe.
type Commit struct {
	SHA                  string
	HasForgeVerification bool
	ForgeVerified        bool
	SignatureVerifiable  bool
	SignatureVerified    bool
}

type rawCommit struct {
	SHA           string `json:"sha"`
	Verification *struct {
		Verified bool `json:"verified"`
		Reason   string `json:"reason"`
	} `json:"verification"`
}

// GetPullRequestCommits lists a pull request's commits, resolving each
// commit's signature status.
func (c *Client) GetPullRequestCommits(ctx context.Context, number int) ([]Commit, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d/commits", url.PathEscape(c.owner), url.PathEscape(c.repo), number)
	var out []rawCommit
	if err := c.apiJSONRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	raws, err := requireListResponse(endpoint, out)
	if err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raws))
	for _, r := range raws {
		commit := Commit{SHA: r.SHA}
		if r.Verification != nil {
			commit.HasForgeVerification = true
			commit.ForgeVerified = r.Verification.Verified
		} else {
			verifiable, verified := localSignatureProbe(ctx, r.SHA)
			commit.SignatureVerifiable = verifiable
			commit.SignatureVerified = verified
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

var signatureGoodPattern = regexp.MustCompile(`Good .* signature`)
var signatureGoodGitPattern = regexp.MustCompile(`Good "git" signature`)
var signatureBadPattern = regexp.MustCompile(`No signature|BAD signature`)
var signatureUnverifiablePattern = regexp.MustCompile(`Can't check signature|No public key`)

// localSignatureProbe shells out to "git log --show-signature" for a
// single commit when the forge response carries no verification block.
// It returns (verifiable, verified).
func localSignatureProbe(ctx context.Context, sha string) (bool, bool) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--show-signature", sha)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, false
	}
	text := string(output)
	switch {
	case signatureGoodGitPattern.MatchString(text):
		return true, true
	case signatureGoodPattern.MatchString(text):
		return true, true
	case signatureBadPattern.MatchString(text):
		return true, false
	case signatureUnverifiablePattern.MatchString(text):
		return false, false
	default:
		return false, false
	}
}
