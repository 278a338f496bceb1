package jules

import (
	"context"
	"time"
)

// Issue is the forge's view of a GitHub-shaped issue.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Milestone string   `json:"milestone,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	ClosedAt  time.Time `json:"closedAt,omitempty"`
}

// IssueComment is one comment on an issue or pull request (pull requests
// are issues for commenting purposes on the forge API).
type IssueComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// PullRequest is the forge's view of a pull request.
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Head      string `json:"head"`
	Base      string `json:"base"`
	URL       string `json:"url"`
	Merged    bool   `json:"merged"`
	Mergeable *bool  `json:"mergeable,omitempty"`
}

// PullRequestListOptions filters Forge.ListPullRequests.
type PullRequestListOptions struct {
	State string // open | closed | all
	Label string
}

// PullRequestInput is the body of Forge.CreatePullRequest.
type PullRequestInput struct {
	Title string
	Head  string
	Base  string
	Body  string
}

// CheckRun is a single CI check attached to a ref.
type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued | in_progress | completed
	Conclusion string `json:"conclusion"` // success | failure | neutral | cancelled | ...
}

// Milestone groups issues into a scope (spec.md section 4.2's "goal" concept
// maps onto a milestone when a GoalParser reads it from a forge milestone).
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// Forge is the GitHub-shaped repository adapter (spec.md section 4.2 DOMAIN
// MODULE EXPANSION). One implementation lives in internal/forge, backed by
// either a GitHub App installation token or a static PAT.
//
// Methods that have idempotent-skip semantics on the forge (section 4.10's
// "422 Already Exists -> skip", "404 -> skip") report that via a bool
// rather than swallowing it into the error, so callers (Fleet.Init,
// Fleet.Configure, Fleet.Merge) can tell a skip from a hard failure.
type Forge interface {
	ListIssues(ctx context.Context, owner, repo string, opts IssueListOptions) ([]Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (Issue, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) error
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error)

	GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error)
	ListPullRequests(ctx context.Context, owner, repo string, opts PullRequestListOptions) ([]PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input PullRequestInput) (PullRequest, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error
	// UpdateBranch rebases/updates number's head against its base, mapping
	// to pulls.updateBranch. conflict reports a 422 ("not mergeable" /
	// merge conflict) distinctly from other failures.
	UpdateBranch(ctx context.Context, owner, repo string, number int) (conflict bool, err error)
	// ClosePullRequest closes number, appending footer to its body first.
	ClosePullRequest(ctx context.Context, owner, repo string, number int, footer string) error

	GetRef(ctx context.Context, owner, repo, ref string) (string, error)
	CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error

	GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, string, error) // content, sha
	// CommitFile attempts to create path on branch. skipped reports a 422
	// Already Exists, distinct from a hard failure.
	CommitFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) (skipped bool, err error)

	ListChecks(ctx context.Context, owner, repo, ref string) ([]CheckRun, error)

	GetMilestone(ctx context.Context, owner, repo string, number int) (Milestone, error)
	ListMilestones(ctx context.Context, owner, repo string) ([]Milestone, error)

	// CreateLabel attempts to create name on the repo. skipped reports a
	// 422 Already Exists.
	CreateLabel(ctx context.Context, owner, repo, name, color string) (skipped bool, err error)
	// DeleteLabel attempts to delete name. skipped reports a 404.
	DeleteLabel(ctx context.Context, owner, repo, name string) (skipped bool, err error)
}

// IssueListOptions filters Forge.ListIssues.
type IssueListOptions struct {
	State     string // open | closed | all
	Labels    []string
	Milestone int
}
