package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/pkg/jules"
)

// fakeForge is a minimal jules.Forge double, mirroring how the teacher's
// command tests inject a fake capi.Client instead of hitting a real API.
type fakeForge struct {
	milestones map[int]jules.Milestone
	issues     []jules.Issue
	comments   map[int][]jules.IssueComment
	checks     map[string][]jules.CheckRun
	prs        map[int]jules.PullRequest
	merged     []int
	conflicts  map[int]bool // PR number -> UpdateBranch reports a conflict
	closed     []int
	labels     []jules.LabelAction
	createdIssues []createdIssue

	// openPRsAfterClose is what ListPullRequests returns once a
	// ClosePullRequest has happened, simulating a replacement PR appearing.
	openPRsAfterClose []jules.PullRequest
}

type createdIssue struct {
	title, body string
	labels      []string
}

func (f *fakeForge) ListIssues(ctx context.Context, owner, repo string, opts jules.IssueListOptions) ([]jules.Issue, error) {
	var out []jules.Issue
	out = append(out, f.issues...)
	return out, nil
}
func (f *fakeForge) GetIssue(ctx context.Context, owner, repo string, number int) (jules.Issue, error) {
	return jules.Issue{}, nil
}
func (f *fakeForge) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) error {
	f.createdIssues = append(f.createdIssues, createdIssue{title: title, body: body, labels: labels})
	return nil
}
func (f *fakeForge) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if f.comments == nil {
		f.comments = map[int][]jules.IssueComment{}
	}
	f.comments[number] = append(f.comments[number], jules.IssueComment{Body: body})
	return nil
}
func (f *fakeForge) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]jules.IssueComment, error) {
	return f.comments[number], nil
}
func (f *fakeForge) GetPullRequest(ctx context.Context, owner, repo string, number int) (jules.PullRequest, error) {
	return f.prs[number], nil
}
func (f *fakeForge) ListPullRequests(ctx context.Context, owner, repo string, opts jules.PullRequestListOptions) ([]jules.PullRequest, error) {
	if len(f.closed) > 0 {
		return f.openPRsAfterClose, nil
	}
	var out []jules.PullRequest
	for _, pr := range f.prs {
		out = append(out, pr)
	}
	return out, nil
}
func (f *fakeForge) CreatePullRequest(ctx context.Context, owner, repo string, input jules.PullRequestInput) (jules.PullRequest, error) {
	return jules.PullRequest{Number: 200, Title: input.Title, Head: input.Head, Base: input.Base}, nil
}
func (f *fakeForge) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error {
	f.merged = append(f.merged, number)
	return nil
}
func (f *fakeForge) UpdateBranch(ctx context.Context, owner, repo string, number int) (bool, error) {
	return f.conflicts != nil && f.conflicts[number], nil
}
func (f *fakeForge) ClosePullRequest(ctx context.Context, owner, repo string, number int, footer string) error {
	f.closed = append(f.closed, number)
	return nil
}
func (f *fakeForge) GetRef(ctx context.Context, owner, repo, ref string) (string, error) {
	return "sha", nil
}
func (f *fakeForge) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	return nil
}
func (f *fakeForge) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, string, error) {
	return nil, "", nil
}
func (f *fakeForge) CommitFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) (bool, error) {
	return false, nil
}
func (f *fakeForge) ListChecks(ctx context.Context, owner, repo, ref string) ([]jules.CheckRun, error) {
	return f.checks[ref], nil
}
func (f *fakeForge) GetMilestone(ctx context.Context, owner, repo string, number int) (jules.Milestone, error) {
	m, ok := f.milestones[number]
	if !ok {
		return jules.Milestone{}, jules.NewError(jules.KindSourceNotFound, "milestone not found", nil, "")
	}
	return m, nil
}
func (f *fakeForge) ListMilestones(ctx context.Context, owner, repo string) ([]jules.Milestone, error) {
	var out []jules.Milestone
	for _, m := range f.milestones {
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeForge) CreateLabel(ctx context.Context, owner, repo, name, color string) (bool, error) {
	f.labels = append(f.labels, jules.LabelAction{Name: name, Color: color, Action: "create"})
	return false, nil
}
func (f *fakeForge) DeleteLabel(ctx context.Context, owner, repo, name string) (bool, error) {
	f.labels = append(f.labels, jules.LabelAction{Name: name, Action: "delete"})
	return false, nil
}

type fakeDispatcher struct {
	session jules.AutomatedSession
}

func (d *fakeDispatcher) Run(ctx context.Context, cfg jules.RunConfig) (jules.AutomatedSession, error) {
	return d.session, nil
}

type fakeSession struct {
	id   string
	info jules.Session
}

func (s *fakeSession) ID() string                                                 { return s.id }
func (s *fakeSession) Hydrate(ctx context.Context) ([]jules.Activity, error)       { return nil, nil }
func (s *fakeSession) History(ctx context.Context) ([]jules.Activity, error)       { return nil, nil }
func (s *fakeSession) Latest(ctx context.Context, n int) ([]jules.Activity, error) { return nil, nil }
func (s *fakeSession) Updates(ctx context.Context) ([]jules.Activity, error)       { return nil, nil }
func (s *fakeSession) Stream(ctx context.Context) (<-chan jules.Activity, <-chan error) {
	return nil, nil
}
func (s *fakeSession) Select(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	return jules.Activity{}, jules.ErrNoMoreItems
}
func (s *fakeSession) Snapshot(ctx context.Context) (jules.Snapshot, error) { return jules.Snapshot{}, nil }
func (s *fakeSession) Info(ctx context.Context) (jules.Session, error)      { return s.info, nil }
func (s *fakeSession) Approve(ctx context.Context) error                   { return nil }
func (s *fakeSession) Send(ctx context.Context, message string) error      { return nil }
func (s *fakeSession) Ask(ctx context.Context, message string) (jules.Activity, error) {
	return jules.Activity{}, nil
}
func (s *fakeSession) WaitFor(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	return jules.Activity{}, nil
}
func (s *fakeSession) Result(ctx context.Context) ([]jules.Output, error) { return nil, nil }

func TestHandlers_AnalyzeDispatchesOneSessionPerGoal(t *testing.T) {
	forge := &fakeForge{milestones: map[int]jules.Milestone{7: {Number: 7, Title: "v1"}}}
	session := &fakeSession{id: "sess-1", info: jules.Session{ID: "sess-1", State: jules.StateQueued}}
	h := New(&fakeDispatcher{session: session}, forge, platform.Default{})
	require.True(t, h.Configure(context.Background(), "acme", "widgets", "main", nil).OK)

	goals := []jules.Goal{
		{IssueNumber: 1, Title: "fix thing", Prompt: "do the fix"},
		{IssueNumber: 2, Title: "fix other thing", Prompt: "do the other fix"},
	}
	res := h.Analyze(context.Background(), "7", goals)
	require.True(t, res.OK)
	require.Len(t, res.Data.SessionsStarted, 2)
	assert.Equal(t, 1, res.Data.SessionsStarted[0].IssueNumber)
	assert.Equal(t, 2, res.Data.SessionsStarted[1].IssueNumber)
	assert.Empty(t, res.Data.Skipped)
}

func TestHandlers_AnalyzeNoGoalsIsRecoverable(t *testing.T) {
	h := New(&fakeDispatcher{}, &fakeForge{}, platform.Default{})

	res := h.Analyze(context.Background(), "99", nil)
	require.False(t, res.OK)
	assert.Equal(t, "scope_not_found", res.Code)
	assert.True(t, res.Recoverable)
}

func TestHandlers_AnalyzeOverlapClustersBySharedFiles(t *testing.T) {
	h := New(&fakeDispatcher{}, &fakeForge{}, platform.Default{})

	goals := []jules.Goal{
		{IssueNumber: 1, Files: []string{"a.go", "b.go"}},
		{IssueNumber: 2, Files: []string{"b.go", "c.go"}},
		{IssueNumber: 3, Files: []string{"z.go"}},
	}
	res := h.AnalyzeOverlap(context.Background(), goals)
	require.True(t, res.OK)
	require.Len(t, res.Data, 2) // {1,2} share b.go; {3} is alone

	var sizes []int
	for _, c := range res.Data {
		sizes = append(sizes, len(c.Goals))
	}
	assert.Contains(t, sizes, 2)
	assert.Contains(t, sizes, 1)
}

func TestHandlers_DispatchCreatesSession(t *testing.T) {
	session := &fakeSession{id: "sess-1", info: jules.Session{ID: "sess-1", State: jules.StateQueued}}
	h := New(&fakeDispatcher{session: session}, &fakeForge{}, platform.Default{})
	require.True(t, h.Configure(context.Background(), "acme", "widgets", "main", nil).OK)

	res := h.Dispatch(context.Background(), jules.Goal{IssueNumber: 42, Title: "goal"})
	require.True(t, res.OK)
	assert.Equal(t, "sess-1", res.Data.SessionID)
	assert.Equal(t, 42, res.Data.IssueNumber)
	assert.Equal(t, "acme", res.Data.Owner)
}

func TestHandlers_DispatchMilestoneSkipsIssuesAlreadyMarked(t *testing.T) {
	forge := &fakeForge{
		issues: []jules.Issue{
			{Number: 1, Title: "already dispatched"},
			{Number: 2, Title: "fresh goal"},
		},
		comments: map[int][]jules.IssueComment{
			1: {{Body: "Fleet Dispatch Event\n\nsession: sess-old"}},
		},
	}
	session := &fakeSession{id: "sess-new", info: jules.Session{ID: "sess-new", State: jules.StateQueued}}
	h := New(&fakeDispatcher{session: session}, forge, platform.Default{})
	require.True(t, h.Configure(context.Background(), "acme", "widgets", "main", nil).OK)

	res := h.DispatchMilestone(context.Background(), 7)
	require.True(t, res.OK)
	require.Len(t, res.Data.Dispatched, 1)
	assert.Equal(t, 2, res.Data.Dispatched[0].IssueNumber)
	require.Len(t, res.Data.Skipped, 1)
	assert.Equal(t, 1, res.Data.Skipped[0].IssueNumber)
	assert.Equal(t, "already dispatched", res.Data.Skipped[0].Reason)
	// A marker comment was recorded for the freshly-dispatched issue only.
	assert.Len(t, forge.comments[2], 1)
}

func TestHandlers_ConfigureReconcilesLabels(t *testing.T) {
	forge := &fakeForge{}
	h := New(&fakeDispatcher{}, forge, platform.Default{})

	res := h.Configure(context.Background(), "acme", "widgets", "main", []jules.LabelAction{
		{Name: "fleet-merge-ready", Color: "abcdef", Action: "create"},
		{Name: "stale-label", Action: "delete"},
	})
	require.True(t, res.OK)
	require.Len(t, forge.labels, 2)
	assert.Equal(t, "create", forge.labels[0].Action)
	assert.Equal(t, "delete", forge.labels[1].Action)
}

func TestHandlers_SignalCreateResolvesScope(t *testing.T) {
	forge := &fakeForge{milestones: map[int]jules.Milestone{1: {Number: 1, Title: "v1"}}}
	h := New(&fakeDispatcher{}, forge, platform.Default{})
	require.True(t, h.Configure(context.Background(), "acme", "widgets", "main", nil).OK)

	res := h.SignalCreate(context.Background(), jules.SignalInput{
		SessionID: "sess-1", Kind: "insight", Title: "found something", Scope: "V1",
	})
	require.True(t, res.OK)
	require.Len(t, forge.createdIssues, 1)
	assert.Equal(t, "found something", forge.createdIssues[0].title)
	assert.Contains(t, forge.createdIssues[0].labels, "fleet-insight")
}

func TestHandlers_SignalCreateUnresolvedScopeFails(t *testing.T) {
	forge := &fakeForge{milestones: map[int]jules.Milestone{}}
	h := New(&fakeDispatcher{}, forge, platform.Default{})
	require.True(t, h.Configure(context.Background(), "acme", "widgets", "main", nil).OK)

	res := h.SignalCreate(context.Background(), jules.SignalInput{
		Kind: "assessment", Title: "risk", Scope: "nonexistent",
	})
	require.False(t, res.OK)
	assert.Equal(t, "scope_not_found", res.Code)
}

func TestHandlers_MergeBatchMergesInOrder(t *testing.T) {
	forge := &fakeForge{
		checks: map[string][]jules.CheckRun{
			"head-42": {{Name: "ci", Status: "completed", Conclusion: "success"}},
			"head-43": {{Name: "ci", Status: "completed", Conclusion: "success"}},
		},
		prs: map[int]jules.PullRequest{
			42: {Number: 42, Head: "head-42", Body: "<!-- fleet-run: run-1 -->"},
			43: {Number: 43, Head: "head-43", Body: "<!-- fleet-run: run-1 -->"},
		},
	}
	h := New(&fakeDispatcher{}, forge, platform.Default{})

	res := h.Merge(context.Background(), "acme", "widgets", "main",
		jules.MergeSelector{Mode: "fleet-run", RunID: "run-1"}, jules.MergeOptions{})
	require.True(t, res.OK)
	assert.Equal(t, []int{42, 43}, res.Data.Merged)
	assert.Equal(t, []int{42, 43}, forge.merged)
}

func TestHandlers_WaitForChecksSucceedsWhenNoChecksConfigured(t *testing.T) {
	forge := &fakeForge{
		prs: map[int]jules.PullRequest{5: {Number: 5, Head: "head-5", Body: "<!-- fleet-run: run-1 -->"}},
	}
	h := New(&fakeDispatcher{}, forge, platform.Default{})

	res := h.Merge(context.Background(), "acme", "widgets", "main",
		jules.MergeSelector{Mode: "fleet-run", RunID: "run-1"}, jules.MergeOptions{})
	require.True(t, res.OK)
	assert.Equal(t, []int{5}, res.Data.Merged)
}

func TestHandlers_MergeFailsOnNonSuccessNonSkippedConclusion(t *testing.T) {
	forge := &fakeForge{
		checks: map[string][]jules.CheckRun{
			"head-5": {{Name: "ci", Status: "completed", Conclusion: "cancelled"}},
		},
		prs: map[int]jules.PullRequest{5: {Number: 5, Head: "head-5", Body: "<!-- fleet-run: run-1 -->"}},
	}
	h := New(&fakeDispatcher{}, forge, platform.Default{})

	res := h.Merge(context.Background(), "acme", "widgets", "main",
		jules.MergeSelector{Mode: "fleet-run", RunID: "run-1"}, jules.MergeOptions{})
	require.False(t, res.OK)
	assert.Empty(t, forge.merged)
}

// TestHandlers_MergeConflictReDispatchesUntilRetriesExhausted exercises the
// second PR of a batch (the first PR of a batch always skips the
// updateBranch/conflict check on its first attempt, per spec.md section
// 4.10): PR 43 conflicts, gets closed and re-dispatched, and its
// replacement (found via session id in the head ref) conflicts again,
// exhausting a MaxMergeRetries of 1.
func TestHandlers_MergeConflictReDispatchesUntilRetriesExhausted(t *testing.T) {
	forge := &fakeForge{
		checks: map[string][]jules.CheckRun{
			"head-42": {{Name: "ci", Status: "completed", Conclusion: "success"}},
		},
		prs: map[int]jules.PullRequest{
			42: {Number: 42, Head: "head-42", Body: "<!-- fleet-run: run-1 -->"},
			43: {Number: 43, Head: "head-43", Body: "<!-- fleet-run: run-1 -->", URL: "https://example.com/pulls/43"},
		},
		conflicts: map[int]bool{43: true, 100: true},
		openPRsAfterClose: []jules.PullRequest{
			{Number: 100, Head: "branch-sess-replacement"},
		},
	}
	replacement := &fakeSession{id: "sess-replacement", info: jules.Session{ID: "sess-replacement", State: jules.StateQueued}}
	h := New(&fakeDispatcher{session: replacement}, forge, platform.Default{})

	res := h.Merge(context.Background(), "acme", "widgets", "main",
		jules.MergeSelector{Mode: "fleet-run", RunID: "run-1"},
		jules.MergeOptions{MaxMergeRetries: 1, PollTimeoutSeconds: 60})
	require.True(t, res.OK)
	assert.Equal(t, []int{42}, res.Data.Merged)
	require.Len(t, res.Data.Outcomes, 2)
	last := res.Data.Outcomes[1]
	assert.False(t, last.Merged)
	assert.Contains(t, last.Reason, "manual resolution")
	assert.Equal(t, []int{43}, forge.closed)
}
