package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Merge selects the pull requests sel identifies, then merges them
// strictly in order (spec.md section 5's "Merge processing of PRs is
// strictly sequential" guarantee): no PR is attempted until the previous
// one in the batch is merged or the whole run fails fatally.
func (h *Handlers) Merge(ctx context.Context, owner, repo, baseBranch string, sel jules.MergeSelector, opts jules.MergeOptions) jules.Result[jules.MergeBatchOutcome] {
	opts = withMergeDefaults(opts)

	prs, err := h.selectMergeCandidates(ctx, owner, repo, sel)
	if err != nil {
		return jules.Err[jules.MergeBatchOutcome]("merge_selection_failed", err.Error(), false, "")
	}

	batch := jules.MergeBatchOutcome{}
	for i, pr := range prs {
		outcome, err := h.mergeOnePR(ctx, owner, repo, baseBranch, pr.Number, i == 0, opts)
		if err != nil {
			batch.Outcomes = append(batch.Outcomes, jules.PRMergeOutcome{PRNumber: pr.Number, Reason: err.Error()})
			return jules.Err[jules.MergeBatchOutcome]("merge_failed", err.Error(), false, "")
		}
		batch.Outcomes = append(batch.Outcomes, outcome)
		if outcome.Merged {
			batch.Merged = append(batch.Merged, outcome.PRNumber)
		}
	}
	return jules.Ok(batch)
}

// selectMergeCandidates resolves sel into the ordered list of pull
// requests Merge will process (spec.md section 4.10 "merge (sequential)"
// selection rules).
func (h *Handlers) selectMergeCandidates(ctx context.Context, owner, repo string, sel jules.MergeSelector) ([]jules.PullRequest, error) {
	var out []jules.PullRequest
	var err error
	switch sel.Mode {
	case "fleet-run":
		all, ferr := h.forge.ListPullRequests(ctx, owner, repo, jules.PullRequestListOptions{State: "open"})
		if ferr != nil {
			return nil, ferr
		}
		marker := fmt.Sprintf("<!-- fleet-run: %s -->", sel.RunID)
		for _, pr := range all {
			if strings.Contains(pr.Body, marker) {
				out = append(out, pr)
			}
		}
	default: // "label"
		out, err = h.forge.ListPullRequests(ctx, owner, repo, jules.PullRequestListOptions{State: "open", Label: constants.FleetMergeReadyLabel})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// mergeOnePR drives one pull request through the state machine spec.md
// section 4.10 describes: `selected -> rebased -> ci-green -> merged`, with
// `rebased -> conflict -> redispatched -> pending-new-pr -> rebased`
// looping back until MaxMergeRetries is exhausted. firstOfBatch gates the
// "skip updateBranch on the first PR of a batch, first attempt" rule.
func (h *Handlers) mergeOnePR(ctx context.Context, owner, repo, baseBranch string, prNumber int, firstOfBatch bool, opts jules.MergeOptions) (jules.PRMergeOutcome, error) {
	retries := 0
	attempt := 0
	for {
		pr, err := h.forge.GetPullRequest(ctx, owner, repo, prNumber)
		if err != nil {
			return jules.PRMergeOutcome{}, err
		}

		if !(firstOfBatch && attempt == 0) {
			conflict, err := h.forge.UpdateBranch(ctx, owner, repo, prNumber)
			if err != nil {
				return jules.PRMergeOutcome{}, err
			}
			if conflict {
				if retries >= opts.MaxMergeRetries {
					return jules.PRMergeOutcome{
						PRNumber: prNumber, Merged: false, ReDispatched: false,
						Reason: fmt.Sprintf("merge conflict, retries exhausted; see %s for manual resolution", pr.URL),
					}, nil
				}
				replacement, err := h.reDispatch(ctx, owner, repo, baseBranch, pr, opts)
				if err != nil {
					return jules.PRMergeOutcome{}, err
				}
				prNumber = replacement.Number
				retries++
				attempt++
				continue
			}
		}

		if err := h.waitForChecks(ctx, owner, repo, pr.Head, opts); err != nil {
			return jules.PRMergeOutcome{}, err
		}

		if err := h.forge.MergePullRequest(ctx, owner, repo, prNumber, opts.Method); err != nil {
			return jules.PRMergeOutcome{}, jules.NewError(jules.KindMergeFailed, "merging pull request", err, "")
		}
		return jules.PRMergeOutcome{PRNumber: prNumber, Merged: true}, nil
	}
}

// reDispatch implements spec.md section 4.10's "Conflict handling": close
// the conflicting PR with an appended footer, dispatch a new session with
// the original PR body as prompt, then poll the forge for a PR whose head
// ref or body names the new session.
func (h *Handlers) reDispatch(ctx context.Context, owner, repo, baseBranch string, pr jules.PullRequest, opts jules.MergeOptions) (jules.PullRequest, error) {
	footer := "Closed by fleet merge: base branch moved and this pull request could not be rebased automatically. Re-dispatching."
	if err := h.forge.ClosePullRequest(ctx, owner, repo, pr.Number, footer); err != nil {
		return jules.PullRequest{}, jules.NewError(jules.KindRedispatchFailed, "closing conflicting pull request", err, "")
	}

	session, err := h.dispatcher.Run(ctx, jules.RunConfig{
		Prompt:       pr.Body,
		Title:        pr.Title,
		Source:       jules.Source{Owner: owner, Repo: repo, BaseBranch: baseBranch},
		AutoCreatePR: true,
	})
	if err != nil {
		return jules.PullRequest{}, jules.NewError(jules.KindRedispatchFailed, "dispatching replacement session", err, "")
	}

	deadline := h.fs.Now().Add(time.Duration(opts.PollTimeoutSeconds) * time.Second)
	for {
		open, err := h.forge.ListPullRequests(ctx, owner, repo, jules.PullRequestListOptions{State: "open"})
		if err != nil {
			return jules.PullRequest{}, err
		}
		for _, candidate := range open {
			if strings.Contains(candidate.Head, session.ID()) || strings.Contains(candidate.Body, session.ID()) {
				return candidate, nil
			}
		}
		if h.fs.Now().After(deadline) {
			return jules.PullRequest{}, jules.NewError(jules.KindRedispatchFailed, "timed out waiting for replacement pull request", nil, "")
		}
		if err := h.fs.Sleep(ctx, constants.DefaultReDispatchPollEvery); err != nil {
			return jules.PullRequest{}, err
		}
	}
}

func withMergeDefaults(opts jules.MergeOptions) jules.MergeOptions {
	if opts.MaxCIWaitSeconds == 0 {
		opts.MaxCIWaitSeconds = constants.DefaultMaxCIWaitSeconds
	}
	if opts.MaxMergeRetries == 0 {
		opts.MaxMergeRetries = constants.DefaultMaxMergeRetries
	}
	if opts.PollTimeoutSeconds == 0 {
		opts.PollTimeoutSeconds = constants.DefaultPollTimeoutSeconds
	}
	if opts.Method == "" {
		opts.Method = "squash"
	}
	return opts
}

// waitForChecks polls ListChecks until every check_run completes, bounded
// by opts.MaxCIWaitSeconds. No check runs at all counts as success (spec.md
// section 4.10: "succeed if no check runs, or all status==completed with
// conclusion in {success, skipped}; fail on any other terminal conclusion").
func (h *Handlers) waitForChecks(ctx context.Context, owner, repo, ref string, opts jules.MergeOptions) error {
	deadline := h.fs.Now().Add(time.Duration(opts.MaxCIWaitSeconds) * time.Second)
	for {
		checks, err := h.forge.ListChecks(ctx, owner, repo, ref)
		if err != nil {
			return err
		}
		if len(checks) == 0 {
			return nil
		}

		allDone := true
		for _, c := range checks {
			if c.Status != "completed" {
				allDone = false
				continue
			}
			if c.Conclusion != "success" && c.Conclusion != "skipped" {
				return jules.NewError(jules.KindGitHubAPIError, "check failed: "+c.Name, nil, "")
			}
		}
		if allDone {
			return nil
		}
		if h.fs.Now().After(deadline) {
			return jules.NewError(jules.KindTimeout, "timed out waiting for checks", nil, "")
		}
		if err := h.fs.Sleep(ctx, constants.DefaultReDispatchPollEvery); err != nil {
			return err
		}
	}
}
