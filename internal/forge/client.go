package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jules-labs/fleet/internal/httpclient"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Client implements jules.Forge against the GitHub REST API.
type Client struct {
	http   *httpclient.Client
	tokens TokenSource
}

// New builds a forge Client. http should be constructed with BaseURL
// "https://api.github.com".
func New(http *httpclient.Client, tokens TokenSource) *Client {
	return &Client{http: http, tokens: tokens}
}

func (c *Client) authed(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Authorization"] = "Bearer " + token
	req.Headers["Accept"] = "application/vnd.github+json"
	return c.http.Do(ctx, req)
}

func repoPath(owner, repo, suffix string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + suffix
}

func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts jules.IssueListOptions) ([]jules.Issue, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Milestone != 0 {
		q.Set("milestone", strconv.Itoa(opts.Milestone))
	}
	for _, l := range opts.Labels {
		q.Add("labels", l)
	}
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/issues"), Query: q})
	if err != nil {
		return nil, err
	}
	var wire []wireIssue
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, jules.NewError(jules.KindGitHubAPIError, "decoding issue list", err, "")
	}
	out := make([]jules.Issue, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toIssue())
	}
	return out, nil
}

func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (jules.Issue, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/issues/"+strconv.Itoa(number))})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return jules.Issue{}, jules.NewError(jules.KindIssueNotFound, "issue not found", err, "")
		}
		return jules.Issue{}, err
	}
	var w wireIssue
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return jules.Issue{}, jules.NewError(jules.KindGitHubAPIError, "decoding issue", err, "")
	}
	return w.toIssue(), nil
}

func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := c.authed(ctx, &httpclient.Request{
		Method: "POST",
		Path:   repoPath(owner, repo, "/issues/"+strconv.Itoa(number)+"/comments"),
		Body:   map[string]string{"body": body},
	})
	return err
}

func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]jules.IssueComment, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/issues/"+strconv.Itoa(number)+"/comments")})
	if err != nil {
		return nil, err
	}
	var wire []struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, jules.NewError(jules.KindGitHubAPIError, "decoding issue comments", err, "")
	}
	out := make([]jules.IssueComment, 0, len(wire))
	for _, w := range wire {
		out = append(out, jules.IssueComment{ID: w.ID, Body: w.Body, CreatedAt: w.CreatedAt})
	}
	return out, nil
}

func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) error {
	_, err := c.authed(ctx, &httpclient.Request{
		Method: "POST",
		Path:   repoPath(owner, repo, "/issues"),
		Body:   map[string]interface{}{"title": title, "body": body, "labels": labels},
	})
	if err != nil {
		return jules.NewError(jules.KindGitHubAPIError, "creating issue", err, "")
	}
	return nil
}

type wireIssue struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	State    string `json:"state"`
	ClosedAt *time.Time `json:"closed_at"`
	Labels   []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
}

func (w wireIssue) toIssue() jules.Issue {
	labels := make([]string, 0, len(w.Labels))
	for _, l := range w.Labels {
		labels = append(labels, l.Name)
	}
	issue := jules.Issue{Number: w.Number, Title: w.Title, Body: w.Body, State: w.State, Labels: labels}
	if w.Milestone != nil {
		issue.Milestone = w.Milestone.Title
	}
	if w.Assignee != nil {
		issue.Assignee = w.Assignee.Login
	}
	if w.ClosedAt != nil {
		issue.ClosedAt = *w.ClosedAt
	}
	return issue
}

type wirePullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	Merged    bool   `json:"merged"`
	Mergeable *bool  `json:"mergeable"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

func (w wirePullRequest) toPullRequest() jules.PullRequest {
	return jules.PullRequest{
		Number: w.Number, Title: w.Title, Body: w.Body, State: w.State, URL: w.HTMLURL,
		Merged: w.Merged, Mergeable: w.Mergeable, Head: w.Head.Ref, Base: w.Base.Ref,
	}
}

func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (jules.PullRequest, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/pulls/"+strconv.Itoa(number))})
	if err != nil {
		return jules.PullRequest{}, err
	}
	var w wirePullRequest
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return jules.PullRequest{}, jules.NewError(jules.KindGitHubAPIError, "decoding pull request", err, "")
	}
	return w.toPullRequest(), nil
}

func (c *Client) ListPullRequests(ctx context.Context, owner, repo string, opts jules.PullRequestListOptions) ([]jules.PullRequest, error) {
	q := url.Values{}
	state := opts.State
	if state == "" {
		state = "open"
	}
	q.Set("state", state)
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/pulls"), Query: q})
	if err != nil {
		return nil, err
	}
	var wire []wirePullRequest
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, jules.NewError(jules.KindGitHubAPIError, "decoding pull request list", err, "")
	}
	out := make([]jules.PullRequest, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toPullRequest())
	}
	if opts.Label == "" {
		return out, nil
	}
	// The pulls.list endpoint has no label filter of its own (labels live
	// on the issue, not the PR, in GitHub's model); fetch each candidate's
	// issue labels and keep only matches.
	filtered := out[:0]
	for _, pr := range out {
		issue, err := c.GetIssue(ctx, owner, repo, pr.Number)
		if err != nil {
			continue
		}
		for _, l := range issue.Labels {
			if l == opts.Label {
				filtered = append(filtered, pr)
				break
			}
		}
	}
	return filtered, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, input jules.PullRequestInput) (jules.PullRequest, error) {
	resp, err := c.authed(ctx, &httpclient.Request{
		Method: "POST",
		Path:   repoPath(owner, repo, "/pulls"),
		Body: map[string]string{
			"title": input.Title,
			"head":  input.Head,
			"base":  input.Base,
			"body":  input.Body,
		},
	})
	if err != nil {
		return jules.PullRequest{}, jules.NewError(jules.KindPRCreateFailed, "creating pull request", err, "")
	}
	var w wirePullRequest
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return jules.PullRequest{}, jules.NewError(jules.KindGitHubAPIError, "decoding created pull request", err, "")
	}
	return w.toPullRequest(), nil
}

func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error {
	if method == "" {
		method = "merge"
	}
	_, err := c.authed(ctx, &httpclient.Request{
		Method: "PUT",
		Path:   repoPath(owner, repo, "/pulls/"+strconv.Itoa(number)+"/merge"),
		Body:   map[string]string{"merge_method": method},
	})
	if err != nil {
		return jules.NewError(jules.KindMergeFailed, "merging pull request", err, "")
	}
	return nil
}

// UpdateBranch rebases number's head against its base via pulls.updateBranch.
// A 422 means the update could not be fast-forwarded without a merge — the
// conflict Fleet.Merge's state machine needs to detect.
func (c *Client) UpdateBranch(ctx context.Context, owner, repo string, number int) (bool, error) {
	resp, err := c.authed(ctx, &httpclient.Request{
		Method: "PUT",
		Path:   repoPath(owner, repo, "/pulls/"+strconv.Itoa(number)+"/update-branch"),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == 422 {
			return true, nil
		}
		return false, jules.NewError(jules.KindGitHubAPIError, "updating branch", err, "")
	}
	return false, nil
}

// ClosePullRequest appends footer to number's body then closes it.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int, footer string) error {
	pr, err := c.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return err
	}
	body := pr.Body
	if footer != "" {
		body = strings.TrimRight(body, "\n") + "\n\n" + footer
	}
	_, err = c.authed(ctx, &httpclient.Request{
		Method: "PATCH",
		Path:   repoPath(owner, repo, "/pulls/"+strconv.Itoa(number)),
		Body:   map[string]string{"state": "closed", "body": body},
	})
	if err != nil {
		return jules.NewError(jules.KindGitHubAPIError, "closing pull request", err, "")
	}
	return nil
}

func (c *Client) GetRef(ctx context.Context, owner, repo, ref string) (string, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/git/ref/"+ref)})
	if err != nil {
		return "", err
	}
	var w struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return "", jules.NewError(jules.KindGitHubAPIError, "decoding ref", err, "")
	}
	return w.Object.SHA, nil
}

func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	_, err := c.authed(ctx, &httpclient.Request{
		Method: "POST",
		Path:   repoPath(owner, repo, "/git/refs"),
		Body:   map[string]string{"ref": "refs/heads/" + branch, "sha": fromSHA},
	})
	if err != nil {
		return jules.NewError(jules.KindBranchCreateFailed, "creating branch", err, "")
	}
	return nil
}

func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, string, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/contents/"+path), Query: q})
	if err != nil {
		return nil, "", err
	}
	var w struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, "", jules.NewError(jules.KindGitHubAPIError, "decoding file content", err, "")
	}
	content, err := base64.StdEncoding.DecodeString(w.Content)
	if err != nil {
		return nil, "", jules.NewError(jules.KindGitHubAPIError, "decoding base64 file content", err, "")
	}
	return content, w.SHA, nil
}

// CommitFile attempts to create path on branch. A 422 means the path
// already exists at this content (Init's skip-and-continue case); that is
// reported via skipped rather than as an error.
func (c *Client) CommitFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) (bool, error) {
	body := map[string]interface{}{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}
	if sha != "" {
		body["sha"] = sha
	}
	resp, err := c.authed(ctx, &httpclient.Request{Method: "PUT", Path: repoPath(owner, repo, "/contents/"+path), Body: body})
	if err != nil {
		if resp != nil && resp.StatusCode == 422 {
			return true, nil
		}
		return false, jules.NewError(jules.KindFileCommitFailed, "committing file", err, "")
	}
	return false, nil
}

func (c *Client) ListChecks(ctx context.Context, owner, repo, ref string) ([]jules.CheckRun, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/commits/"+ref+"/check-runs")})
	if err != nil {
		return nil, err
	}
	var w struct {
		CheckRuns []struct {
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, jules.NewError(jules.KindGitHubAPIError, "decoding check runs", err, "")
	}
	out := make([]jules.CheckRun, 0, len(w.CheckRuns))
	for _, r := range w.CheckRuns {
		out = append(out, jules.CheckRun{Name: r.Name, Status: r.Status, Conclusion: r.Conclusion})
	}
	return out, nil
}

func (c *Client) GetMilestone(ctx context.Context, owner, repo string, number int) (jules.Milestone, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/milestones/"+strconv.Itoa(number))})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return jules.Milestone{}, jules.NewError(jules.KindMilestoneNotFound, "milestone not found", err, "")
		}
		return jules.Milestone{}, err
	}
	var w struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return jules.Milestone{}, jules.NewError(jules.KindGitHubAPIError, "decoding milestone", err, "")
	}
	return jules.Milestone{Number: w.Number, Title: w.Title, State: w.State}, nil
}

func (c *Client) ListMilestones(ctx context.Context, owner, repo string) ([]jules.Milestone, error) {
	resp, err := c.authed(ctx, &httpclient.Request{Method: "GET", Path: repoPath(owner, repo, "/milestones")})
	if err != nil {
		return nil, err
	}
	var wire []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, jules.NewError(jules.KindGitHubAPIError, "decoding milestones", err, "")
	}
	out := make([]jules.Milestone, 0, len(wire))
	for _, w := range wire {
		out = append(out, jules.Milestone{Number: w.Number, Title: w.Title, State: w.State})
	}
	return out, nil
}

// CreateLabel attempts to create name on the repo. A 422 means the label
// already exists; that is reported via skipped rather than as an error
// (spec.md section 4.10 "configure").
func (c *Client) CreateLabel(ctx context.Context, owner, repo, name, color string) (bool, error) {
	resp, err := c.authed(ctx, &httpclient.Request{
		Method: "POST",
		Path:   repoPath(owner, repo, "/labels"),
		Body:   map[string]string{"name": name, "color": color},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == 422 {
			return true, nil
		}
		return false, jules.NewError(jules.KindGitHubAPIError, "creating label", err, "")
	}
	return false, nil
}

// DeleteLabel attempts to delete name. A 404 means it's already gone; that
// is reported via skipped rather than as an error.
func (c *Client) DeleteLabel(ctx context.Context, owner, repo, name string) (bool, error) {
	resp, err := c.authed(ctx, &httpclient.Request{
		Method: "DELETE",
		Path:   repoPath(owner, repo, "/labels/"+url.PathEscape(name)),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return true, nil
		}
		return false, jules.NewError(jules.KindGitHubAPIError, "deleting label", err, "")
	}
	return false, nil
}
