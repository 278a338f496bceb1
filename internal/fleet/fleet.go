// Package fleet implements jules.Fleet: init/configure a workspace,
// analyze a scope into goals, cluster goals by file overlap, dispatch a
// session per goal or per milestone, merge results, trace session state,
// and raise out-of-band signals (spec.md section 4.2, 4.10). Every
// operation returns a jules.Result instead of a bare error, so a CLI or
// another caller can distinguish a recoverable failure with a suggested
// next step from a hard stop.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/internal/shared"
	"github.com/jules-labs/fleet/pkg/jules"
)

// SnapshotResolver looks up a session's full snapshot by id. Handlers
// depends on this narrow seam rather than the full jules.Client so Trace
// can be tested with a fake resolver.
type SnapshotResolver func(ctx context.Context, sessionID string) (jules.Snapshot, error)

// Handlers implements jules.Fleet.
type Handlers struct {
	dispatcher jules.SessionDispatcher
	forge      jules.Forge
	fs         platform.Adapter
	resolve    SnapshotResolver

	owner      string
	repo       string
	baseBranch string
}

// Option configures Handlers at construction time.
type Option func(*Handlers)

// WithSnapshotResolver wires Trace up to a concrete snapshot source
// (normally julesclient.Client.Activities(id).Snapshot).
func WithSnapshotResolver(resolve SnapshotResolver) Option {
	return func(h *Handlers) { h.resolve = resolve }
}

func New(dispatcher jules.SessionDispatcher, forge jules.Forge, fs platform.Adapter, opts ...Option) *Handlers {
	h := &Handlers{dispatcher: dispatcher, forge: forge, fs: fs}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// bootstrapFile is one template file Init commits to the init branch.
type bootstrapFile struct {
	path    string
	content string
}

// bootstrapFiles is the fixed template set Init seeds a repo with, plus
// the example goal (spec.md section 4.10 init: "commitFiles(templates ∪
// {example-goal})").
func bootstrapFiles() []bootstrapFile {
	return []bootstrapFile{
		{
			path: ".jules/config.yml",
			content: "# fleet configuration\n" +
				"baseBranch: main\n" +
				"labels:\n" +
				"  mergeReady: " + constants.FleetMergeReadyLabel + "\n" +
				"  insight: " + constants.FleetInsightLabel + "\n" +
				"  assessment: " + constants.FleetAssessmentLabel + "\n" +
				"  dispatch: " + constants.FleetDispatchLabel + "\n",
		},
		{
			path: ".jules/templates/goal.md",
			content: "---\n" +
				"title: \"\"\n" +
				"milestone: \"\"\n" +
				"targetFiles: []\n" +
				"---\n\n" +
				"Describe the unit of work for a dispatched session here.\n",
		},
		{
			path:    "fleet/goals/example-goal.md",
			content: "---\ntitle: \"Example goal\"\ntargetFiles: []\n---\n\nReplace this file with a real goal before running analyze.\n",
		},
	}
}

// Init seeds a repo with the fleet bootstrap branch, templates, an init
// pull request, and label set (spec.md section 4.10 "init"): createBranch
// -> commitFiles(templates ∪ {example-goal}) -> bail if nothing new was
// committed -> createInitPR -> label bootstrap.
func (h *Handlers) Init(ctx context.Context, owner, repo, baseBranch string) jules.Result[struct{}] {
	if owner == "" || repo == "" {
		return jules.Err[struct{}]("invalid_configuration", "owner and repo are required", true, "pass --owner and --repo")
	}
	if baseBranch == "" {
		baseBranch = "main"
	}

	baseSHA, err := h.forge.GetRef(ctx, owner, repo, "heads/"+baseBranch)
	if err != nil {
		return jules.Err[struct{}]("init_failed", err.Error(), false, "")
	}

	branch := fmt.Sprintf("fleet/init-%d", h.fs.Now().Unix())
	if err := h.forge.CreateBranch(ctx, owner, repo, branch, baseSHA); err != nil {
		return jules.Err[struct{}]("init_failed", jules.NewError(jules.KindBranchCreateFailed, "creating init branch", err, "").Error(), true, "retry init")
	}

	created := 0
	for _, f := range bootstrapFiles() {
		skipped, err := h.forge.CommitFile(ctx, owner, repo, f.path, branch, "fleet: bootstrap "+f.path, []byte(f.content), "")
		if err != nil {
			return jules.Err[struct{}]("init_failed", jules.NewError(jules.KindFileCommitFailed, "committing "+f.path, err, "").Error(), false, "")
		}
		if !skipped {
			created++
		}
	}
	if created == 0 {
		return jules.Err[struct{}]("ALREADY_INITIALIZED", "every bootstrap file already exists on "+baseBranch, true, "Use configure to update settings")
	}

	if _, err := h.forge.CreatePullRequest(ctx, owner, repo, jules.PullRequestInput{
		Title: "fleet: bootstrap",
		Head:  branch,
		Base:  baseBranch,
		Body:  "Seeds fleet configuration, goal templates, and an example goal.",
	}); err != nil {
		return jules.Err[struct{}]("init_failed", jules.NewError(jules.KindPRCreateFailed, "creating init pull request", err, "").Error(), false, "")
	}

	if err := h.reconcileLabels(ctx, owner, repo, bootstrapLabels("create")); err != nil {
		return jules.Err[struct{}]("init_failed", err.Error(), true, "re-run configure to finish label bootstrap")
	}

	h.owner, h.repo, h.baseBranch = owner, repo, baseBranch
	return jules.Ok(struct{}{})
}

// bootstrapLabels builds the LabelAction set for the fixed fleet label
// vocabulary, all tagged with the same action.
func bootstrapLabels(action string) []jules.LabelAction {
	return []jules.LabelAction{
		{Name: constants.FleetMergeReadyLabel, Color: constants.FleetMergeReadyColor, Action: action},
		{Name: constants.FleetInsightLabel, Color: constants.FleetInsightColor, Action: action},
		{Name: constants.FleetAssessmentLabel, Color: constants.FleetAssessmentColor, Action: action},
		{Name: constants.FleetDispatchLabel, Color: constants.FleetDispatchColor, Action: action},
	}
}

// reconcileLabels applies each LabelAction to the forge (spec.md section
// 4.10 "configure": create -> 422 skipped, other error recoverable;
// delete -> 404 skipped). A single non-skip failure aborts the batch.
func (h *Handlers) reconcileLabels(ctx context.Context, owner, repo string, actions []jules.LabelAction) error {
	for _, a := range actions {
		switch a.Action {
		case "delete":
			if _, err := h.forge.DeleteLabel(ctx, owner, repo, a.Name); err != nil {
				return jules.NewError(jules.KindGitHubAPIError, "deleting label "+a.Name, err, "")
			}
		default:
			if _, err := h.forge.CreateLabel(ctx, owner, repo, a.Name, a.Color); err != nil {
				return jules.NewError(jules.KindGitHubAPIError, "creating label "+a.Name, err, "")
			}
		}
	}
	return nil
}

// Configure stores the repo coordinates subsequent Fleet calls default to,
// and reconciles any caller-supplied labels against the forge (spec.md
// section 4.10 "configure").
func (h *Handlers) Configure(ctx context.Context, owner, repo, baseBranch string, labels []jules.LabelAction) jules.Result[struct{}] {
	if owner == "" || repo == "" {
		return jules.Err[struct{}]("invalid_configuration", "owner and repo are required", true, "pass --owner and --repo")
	}
	h.owner, h.repo, h.baseBranch = owner, repo, baseBranch
	if h.baseBranch == "" {
		h.baseBranch = "main"
	}
	if len(labels) == 0 {
		return jules.Ok(struct{}{})
	}
	if err := h.reconcileLabels(ctx, owner, repo, labels); err != nil {
		return jules.Err[struct{}]("configure_failed", err.Error(), true, "retry configure")
	}
	return jules.Ok(struct{}{})
}

// analyzerPrompt is the fixed multi-phase template spec.md section 4.10
// "analyze" describes: dedup rules plus signal-creation CLI instructions,
// composed with the goal body and milestone context.
func analyzerPrompt(goal jules.Goal, mc jules.MilestoneContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the fleet analyzer for goal #%d: %s\n\n", goal.IssueNumber, goal.Title)
	b.WriteString(goal.Prompt)
	b.WriteString("\n\nPhase 1: review the milestone context below and identify work already covered by an open issue or a pull request merged in the last 14 days; do not propose duplicate work.\n")
	fmt.Fprintf(&b, "Open issues (%d):\n", len(mc.OpenIssues))
	for _, i := range mc.OpenIssues {
		fmt.Fprintf(&b, "  #%d %s\n", i.Number, i.Title)
	}
	fmt.Fprintf(&b, "Recently closed issues (%d):\n", len(mc.RecentlyClosed))
	for _, i := range mc.RecentlyClosed {
		fmt.Fprintf(&b, "  #%d %s\n", i.Number, i.Title)
	}
	fmt.Fprintf(&b, "Recent pull requests (%d):\n", len(mc.RecentPRs))
	for _, pr := range mc.RecentPRs {
		fmt.Fprintf(&b, "  #%d %s\n", pr.Number, pr.Title)
	}
	b.WriteString("\nPhase 2: decompose the goal into concrete, non-overlapping units of work.\n")
	b.WriteString("Phase 3: for each insight or risk worth surfacing to maintainers, run `jules fleet signal create --kind insight` (or --kind assessment); do not skip this step if you find dedup conflicts.\n")
	return b.String()
}

// milestoneContext gathers the forge context analyze needs before composing
// the analyzer prompt (spec.md section 4.10 "analyze"). scope must be a
// milestone number; an empty context (zero value) is returned when it
// isn't, so analyze can still proceed without milestone-scoped dedup hints.
func (h *Handlers) milestoneContext(ctx context.Context, owner, repo, scope string) (jules.MilestoneContext, error) {
	number, err := strconv.Atoi(scope)
	if err != nil {
		return jules.MilestoneContext{}, nil
	}
	milestone, err := h.forge.GetMilestone(ctx, owner, repo, number)
	if err != nil {
		return jules.MilestoneContext{}, err
	}
	openIssues, err := h.forge.ListIssues(ctx, owner, repo, jules.IssueListOptions{State: "open", Milestone: milestone.Number})
	if err != nil {
		return jules.MilestoneContext{}, err
	}
	closedIssues, err := h.forge.ListIssues(ctx, owner, repo, jules.IssueListOptions{State: "closed", Milestone: milestone.Number})
	if err != nil {
		return jules.MilestoneContext{}, err
	}
	cutoff := h.fs.Now().Add(-constants.RecentlyClosedWindow)
	var recentlyClosed []jules.Issue
	for _, i := range closedIssues {
		if i.ClosedAt.After(cutoff) {
			recentlyClosed = append(recentlyClosed, i)
		}
	}
	recentPRs, err := h.forge.ListPullRequests(ctx, owner, repo, jules.PullRequestListOptions{State: "all"})
	if err != nil {
		return jules.MilestoneContext{}, err
	}
	return jules.MilestoneContext{
		Milestone:      milestone,
		OpenIssues:     openIssues,
		RecentlyClosed: recentlyClosed,
		RecentPRs:      recentPRs,
	}, nil
}

// Analyze dispatches one analyzer session per goal, after composing each
// with milestone context (spec.md section 4.10 "analyze"). Per-goal
// dispatch failures are non-fatal: the batch result carries a reduced
// SessionsStarted list and a Skipped entry per failure.
func (h *Handlers) Analyze(ctx context.Context, scope string, goals []jules.Goal) jules.Result[jules.AnalyzeOutcome] {
	if len(goals) == 0 {
		return jules.Err[jules.AnalyzeOutcome]("scope_not_found", "no goals to analyze", true, "check the milestone or label name")
	}

	mc, err := h.milestoneContext(ctx, h.owner, h.repo, scope)
	if err != nil {
		return jules.Err[jules.AnalyzeOutcome]("analyze_failed", err.Error(), false, "")
	}

	outcome := jules.AnalyzeOutcome{}
	for _, goal := range goals {
		session, err := h.dispatcher.Run(ctx, jules.RunConfig{
			Prompt:       analyzerPrompt(goal, mc),
			Title:        "analyze: " + goal.Title,
			Source:       jules.Source{Owner: h.owner, Repo: h.repo, BaseBranch: h.baseBranch},
			AutoCreatePR: false,
		})
		if err != nil {
			outcome.Skipped = append(outcome.Skipped, jules.AnalyzeSkip{Goal: goal, Reason: err.Error()})
			continue
		}
		info, err := session.Info(ctx)
		if err != nil {
			outcome.Skipped = append(outcome.Skipped, jules.AnalyzeSkip{Goal: goal, Reason: err.Error()})
			continue
		}
		outcome.SessionsStarted = append(outcome.SessionsStarted, jules.DispatchRecord{
			SessionID:   session.ID(),
			IssueNumber: goal.IssueNumber,
			Owner:       h.owner,
			Repo:        h.repo,
			State:       info.State,
		})
	}
	return jules.Ok(outcome)
}

// AnalyzeOverlap clusters goals whose Files sets intersect, via weighted
// union-find: two goals are connected iff a chain of shared files joins
// them, matching spec.md section 4.2's overlap-analysis invariant (goals in
// the same cluster iff connected by shared files).
func (h *Handlers) AnalyzeOverlap(ctx context.Context, goals []jules.Goal) jules.Result[[]jules.Cluster] {
	uf := shared.NewUnionFind(len(goals))
	fileOwner := map[string]int{}
	for i, g := range goals {
		for _, f := range g.Files {
			if j, ok := fileOwner[f]; ok {
				uf.Union(i, j)
			} else {
				fileOwner[f] = i
			}
		}
	}

	clusters := make([]jules.Cluster, 0)
	for _, members := range uf.Groups() {
		cluster := jules.Cluster{}
		fileSet := map[string]bool{}
		for _, idx := range members {
			cluster.Goals = append(cluster.Goals, goals[idx])
			for _, f := range goals[idx].Files {
				fileSet[f] = true
			}
		}
		for f := range fileSet {
			cluster.Files = append(cluster.Files, f)
		}
		clusters = append(clusters, cluster)
	}
	return jules.Ok(clusters)
}

// Dispatch creates a session for goal and records it. It does not wait for
// the session to finish, so the returned DispatchRecord's Branch, HeadRef
// and PullRequestURL are left empty.
func (h *Handlers) Dispatch(ctx context.Context, goal jules.Goal) jules.Result[jules.DispatchRecord] {
	session, err := h.dispatcher.Run(ctx, jules.RunConfig{
		Prompt:       goal.Prompt,
		Title:        goal.Title,
		Source:       jules.Source{Owner: h.owner, Repo: h.repo, BaseBranch: h.baseBranch},
		AutoCreatePR: true,
	})
	if err != nil {
		return jules.Err[jules.DispatchRecord]("dispatch_failed", err.Error(), true, "retry dispatch for this goal")
	}
	info, err := session.Info(ctx)
	if err != nil {
		return jules.Err[jules.DispatchRecord]("dispatch_failed", err.Error(), true, "")
	}
	return jules.Ok(jules.DispatchRecord{
		SessionID:   session.ID(),
		IssueNumber: goal.IssueNumber,
		Owner:       h.owner,
		Repo:        h.repo,
		State:       info.State,
	})
}

// dispatchMarker returns the literal comment body written back after a
// successful milestone dispatch (spec.md section 6 "Dispatch marker
// format": must contain the literal substring "Fleet Dispatch Event" and
// the session id).
func dispatchMarker(sessionID string, at time.Time) string {
	return fmt.Sprintf("%s\n\nsession: %s\ndispatched: %s", constants.FleetDispatchMarker, sessionID, at.UTC().Format(time.RFC3339))
}

// hasDispatchMarker reports whether any comment already records a fleet
// dispatch for this issue.
func hasDispatchMarker(comments []jules.IssueComment) bool {
	for _, c := range comments {
		if strings.Contains(c.Body, constants.FleetDispatchMarker) {
			return true
		}
	}
	return false
}

// DispatchMilestone sweeps every fleet-labeled open issue in milestone,
// dispatching a worker session for each that doesn't already carry a
// dispatch marker comment (spec.md section 4.10 "dispatch"). Per-issue
// failures are non-fatal.
func (h *Handlers) DispatchMilestone(ctx context.Context, milestone int) jules.Result[jules.DispatchBatchOutcome] {
	issues, err := h.forge.ListIssues(ctx, h.owner, h.repo, jules.IssueListOptions{
		State:     "open",
		Labels:    []string{constants.FleetDispatchLabel},
		Milestone: milestone,
	})
	if err != nil {
		return jules.Err[jules.DispatchBatchOutcome]("dispatch_failed", err.Error(), false, "")
	}

	outcome := jules.DispatchBatchOutcome{}
	for _, issue := range issues {
		comments, err := h.forge.ListIssueComments(ctx, h.owner, h.repo, issue.Number)
		if err != nil {
			outcome.Skipped = append(outcome.Skipped, jules.DispatchSkip{IssueNumber: issue.Number, Reason: err.Error()})
			continue
		}
		if hasDispatchMarker(comments) {
			outcome.Skipped = append(outcome.Skipped, jules.DispatchSkip{IssueNumber: issue.Number, Reason: "already dispatched"})
			continue
		}

		session, err := h.dispatcher.Run(ctx, jules.RunConfig{
			Prompt:              "Fleet worker task for issue #" + strconv.Itoa(issue.Number) + ": " + issue.Title + "\n\n" + issue.Body,
			Title:               issue.Title,
			Source:              jules.Source{Owner: h.owner, Repo: h.repo, BaseBranch: h.baseBranch},
			RequirePlanApproval: false,
			AutoCreatePR:        true,
		})
		if err != nil {
			outcome.Skipped = append(outcome.Skipped, jules.DispatchSkip{IssueNumber: issue.Number, Reason: err.Error()})
			continue
		}

		if err := h.forge.CreateIssueComment(ctx, h.owner, h.repo, issue.Number, dispatchMarker(session.ID(), h.fs.Now())); err != nil {
			outcome.Skipped = append(outcome.Skipped, jules.DispatchSkip{IssueNumber: issue.Number, Reason: "dispatched but failed to record marker: " + err.Error()})
			continue
		}

		info, err := session.Info(ctx)
		state := jules.SessionState("")
		if err == nil {
			state = info.State
		}
		outcome.Dispatched = append(outcome.Dispatched, jules.DispatchRecord{
			SessionID:   session.ID(),
			IssueNumber: issue.Number,
			Owner:       h.owner,
			Repo:        h.repo,
			State:       state,
		})
	}
	return jules.Ok(outcome)
}

// Trace composes a session's full snapshot for inspection.
func (h *Handlers) Trace(ctx context.Context, sessionID string) jules.Result[jules.Snapshot] {
	if h.resolve == nil {
		return jules.Err[jules.Snapshot]("trace_unavailable", "no snapshot resolver configured", false, "")
	}
	snap, err := h.resolve(ctx, sessionID)
	if err != nil {
		if jules.IsNotFoundError(err) {
			return jules.Err[jules.Snapshot]("session_not_found", err.Error(), true, "check the session id")
		}
		return jules.Err[jules.Snapshot]("trace_failed", err.Error(), false, "")
	}
	return jules.Ok(snap)
}

// signalLabel maps a signal kind to its forge label (spec.md section 4.10
// "signal create").
func signalLabel(kind string) (string, bool) {
	switch kind {
	case "insight":
		return constants.FleetInsightLabel, true
	case "assessment":
		return constants.FleetAssessmentLabel, true
	default:
		return "", false
	}
}

// SignalCreate raises a forge issue for an insight or assessment raised by
// a running session (spec.md section 4.10 "signal create"). scope, when
// set, is resolved against open milestones by case-insensitive title match;
// unresolved scope is a hard failure (jules.ErrScopeNotFound).
func (h *Handlers) SignalCreate(ctx context.Context, input jules.SignalInput) jules.Result[struct{}] {
	if input.Kind == "" || input.Title == "" {
		return jules.Err[struct{}]("invalid_signal", "kind and title are required", true, "")
	}
	label, ok := signalLabel(input.Kind)
	if !ok {
		return jules.Err[struct{}]("invalid_signal", "kind must be insight or assessment", true, "")
	}

	labels := append([]string{label}, input.Tags...)

	body := input.Body
	if input.SessionID != "" {
		body = fmt.Sprintf("session: %s\n\n%s", input.SessionID, body)
	}

	if input.Scope != "" {
		milestones, err := h.forge.ListMilestones(ctx, h.owner, h.repo)
		if err != nil {
			return jules.Err[struct{}]("signal_failed", err.Error(), false, "")
		}
		found := false
		for _, m := range milestones {
			if strings.EqualFold(m.Title, input.Scope) {
				found = true
				break
			}
		}
		if !found {
			return jules.Err[struct{}]("scope_not_found", jules.ErrScopeNotFound.Error(), true, "check the milestone title")
		}
	}

	if err := h.forge.CreateIssue(ctx, h.owner, h.repo, input.Title, body, labels); err != nil {
		return jules.Err[struct{}]("signal_failed", err.Error(), false, "")
	}
	return jules.Ok(struct{}{})
}
