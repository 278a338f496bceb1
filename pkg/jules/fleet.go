package jules

import "context"

// Result is a tagged-union return value fleet handlers use instead of a
// bare error, so a caller (CLI or otherwise) can distinguish a recoverable
// failure with a suggested next step from a hard stop (spec.md section
// 4.2's "handlers never throw" rule).
type Result[T any] struct {
	OK          bool
	Data        T
	Code        string
	Message     string
	Recoverable bool
	Suggestion  string
}

// Ok builds a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Err builds a failed Result.
func Err[T any](code, message string, recoverable bool, suggestion string) Result[T] {
	return Result[T]{OK: false, Code: code, Message: message, Recoverable: recoverable, Suggestion: suggestion}
}

// GoalParser extracts a goal (a unit of work to dispatch) from a forge
// scope such as a milestone or label. Reading the underlying goal
// markdown/frontmatter is an external collaborator's job (spec.md section
// 1's Non-goals); a fleet's analyze handler is handed the already-parsed
// Goals and only asks a GoalParser to turn "scope" into them when the
// caller (e.g. the CLI) wants a milestone-derived source.
type GoalParser interface {
	Parse(ctx context.Context, scope string) ([]Goal, error)
}

// Goal is one unit of work discovered by analyze, destined for dispatch.
type Goal struct {
	IssueNumber int
	Title       string
	Prompt      string
	Files       []string // files the issue/PR already touches, for overlap clustering
}

// Cluster groups goals whose Files overlap, as computed by Fleet.AnalyzeOverlap.
type Cluster struct {
	Goals []Goal
	Files []string
}

// DispatchRecord tracks one dispatched session against its originating
// goal, plus the forge coordinates of the repository it targets. Fleet.Merge
// does not read DispatchRecords; it selects pull requests by MergeSelector.
type DispatchRecord struct {
	SessionID      string
	IssueNumber    int
	Owner          string
	Repo           string
	Branch         string
	HeadRef        string
	PullRequestURL string
	RetryCount     int
	State          SessionState
}

// LabelAction describes one repo label Fleet.Configure should reconcile.
type LabelAction struct {
	Name   string
	Color  string
	Action string // "create" | "delete"
}

// MergeSelector picks which pull requests a Fleet.Merge batch operates on
// (spec.md section 4.10 "merge (sequential)").
type MergeSelector struct {
	Mode  string // "label" | "fleet-run"
	RunID string // required when Mode == "fleet-run"
}

// PRMergeOutcome is one pull request's result within a MergeBatchOutcome.
type PRMergeOutcome struct {
	PRNumber     int
	SessionID    string
	Merged       bool
	ReDispatched bool
	Reason       string
}

// MergeBatchOutcome is the result of a Fleet.Merge run: every selected pull
// request processed strictly in selection order (spec.md section 5's
// "Merge processing of PRs is strictly sequential" ordering guarantee).
type MergeBatchOutcome struct {
	Merged   []int // PR numbers successfully merged, in merge order
	Outcomes []PRMergeOutcome
}

// MilestoneContext is the forge context Fleet.Analyze gathers before
// composing the analyzer prompt for a goal (spec.md section 4.10 "analyze").
type MilestoneContext struct {
	Milestone      Milestone
	OpenIssues     []Issue
	RecentlyClosed []Issue
	RecentPRs      []PullRequest
}

// AnalyzeSkip records one goal Fleet.Analyze could not dispatch an
// analyzer session for; per-goal failures are non-fatal.
type AnalyzeSkip struct {
	Goal   Goal
	Reason string
}

// AnalyzeOutcome is the result of Fleet.Analyze's per-goal analyzer dispatch.
type AnalyzeOutcome struct {
	SessionsStarted []DispatchRecord
	Skipped         []AnalyzeSkip
}

// DispatchSkip records one issue Fleet.DispatchMilestone did not dispatch:
// it already carries a dispatch marker, or listing its comments, creating
// its session, or writing the marker failed. Reason says which.
type DispatchSkip struct {
	IssueNumber int
	Reason      string
}

// DispatchBatchOutcome is the result of Fleet.DispatchMilestone's
// idempotent per-issue dispatch sweep.
type DispatchBatchOutcome struct {
	Dispatched []DispatchRecord
	Skipped    []DispatchSkip
}

// SignalInput is the input to Fleet.SignalCreate (spec.md section 4.10
// "signal create").
type SignalInput struct {
	SessionID string
	Kind      string // insight | assessment
	Title     string
	Body      string
	Tags      []string
	Scope     string // optional milestone title, matched case-insensitively
}

// Fleet is the orchestration surface spec.md section 4.2/4.10 describes:
// init a workspace, configure a forge target's labels, turn a scope into
// goals and dispatch analyzer/worker sessions for them, merge results back
// to the base branch, and trace/inspect state. Every operation returns a
// Result instead of a bare error.
type Fleet interface {
	Init(ctx context.Context, owner, repo, baseBranch string) Result[struct{}]
	Configure(ctx context.Context, owner, repo, baseBranch string, labels []LabelAction) Result[struct{}]

	Analyze(ctx context.Context, scope string, goals []Goal) Result[AnalyzeOutcome]
	AnalyzeOverlap(ctx context.Context, goals []Goal) Result[[]Cluster]

	Dispatch(ctx context.Context, goal Goal) Result[DispatchRecord]
	DispatchMilestone(ctx context.Context, milestone int) Result[DispatchBatchOutcome]

	Merge(ctx context.Context, owner, repo, baseBranch string, sel MergeSelector, opts MergeOptions) Result[MergeBatchOutcome]

	Trace(ctx context.Context, sessionID string) Result[Snapshot]

	SignalCreate(ctx context.Context, input SignalInput) Result[struct{}]
}

// MergeOptions bounds Fleet.Merge's CI wait and re-dispatch behaviour
// (spec.md section 4.10).
type MergeOptions struct {
	MaxCIWaitSeconds   int
	MaxMergeRetries    int
	PollTimeoutSeconds int
	Method             string // merge | squash | rebase
	Admin              bool
}
