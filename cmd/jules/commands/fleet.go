package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jules-labs/fleet/internal/fleet"
	"github.com/jules-labs/fleet/pkg/jules"
)

func fleetCmd() *cobra.Command {
	var owner, repo, baseBranch string

	root := &cobra.Command{
		Use:   "fleet",
		Short: "Init/configure a repo, analyze a scope into goals, dispatch and merge sessions",
	}
	root.PersistentFlags().StringVar(&owner, "owner", "", "forge repository owner")
	root.PersistentFlags().StringVar(&repo, "repo", "", "forge repository name")
	root.PersistentFlags().StringVar(&baseBranch, "base-branch", "main", "base branch for dispatched sessions")

	root.AddCommand(
		fleetInitCmd(&owner, &repo, &baseBranch),
		fleetConfigureCmd(&owner, &repo, &baseBranch),
		fleetAnalyzeCmd(&owner, &repo),
		fleetDispatchCmd(),
		fleetMergeCmd(&baseBranch),
		fleetTraceCmd(),
		fleetSignalCmd(),
	)
	return root
}

func report[T any](res jules.Result[T]) error {
	if !res.OK {
		fail("%s: %s", res.Code, res.Message)
		if res.Suggestion != "" {
			warn("suggestion: %s", res.Suggestion)
		}
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

func fleetInitCmd(owner, repo, baseBranch *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Bootstrap a repo: branch, templates, init PR, and the fixed fleet label set",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			return report(client.Fleet().Init(ctx, *owner, *repo, *baseBranch))
		},
	}
}

func fleetConfigureCmd(owner, repo, baseBranch *string) *cobra.Command {
	var createLabels, deleteLabels []string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure the forge target (owner/repo/base branch) and reconcile labels for this fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			var actions []jules.LabelAction
			for _, spec := range createLabels {
				name, color := splitLabelSpec(spec)
				actions = append(actions, jules.LabelAction{Name: name, Color: color, Action: "create"})
			}
			for _, name := range deleteLabels {
				actions = append(actions, jules.LabelAction{Name: name, Action: "delete"})
			}
			return report(client.Fleet().Configure(ctx, *owner, *repo, *baseBranch, actions))
		},
	}
	cmd.Flags().StringArrayVar(&createLabels, "label", nil, "label to create, as name or name:color (repeatable)")
	cmd.Flags().StringArrayVar(&deleteLabels, "delete-label", nil, "label name to delete (repeatable)")
	return cmd
}

func splitLabelSpec(spec string) (name, color string) {
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, "ededed"
}

func fleetAnalyzeCmd(owner, repo *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [scope]",
		Short: "Dispatch one analyzer session per goal discovered under a milestone scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			parser := fleet.MilestoneGoalParser{Forge: client.Forge(), Owner: *owner, Repo: *repo}
			goals, err := parser.Parse(ctx, args[0])
			if err != nil {
				return err
			}
			res := client.Fleet().Analyze(ctx, args[0], goals)
			if err := report(res); err != nil {
				return err
			}
			for _, rec := range res.Data.SessionsStarted {
				fmt.Printf("analyzer session %s for issue #%d\n", rec.SessionID, rec.IssueNumber)
			}
			for _, skip := range res.Data.Skipped {
				warn("skipped goal #%d: %s", skip.Goal.IssueNumber, skip.Reason)
			}
			return nil
		},
	}
}

func fleetDispatchCmd() *cobra.Command {
	var issueNumber, milestone int
	var title, prompt string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a session for a single goal, or sweep an entire milestone with --milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("milestone") {
				res := client.Fleet().DispatchMilestone(ctx, milestone)
				if err := report(res); err != nil {
					return err
				}
				for _, rec := range res.Data.Dispatched {
					fmt.Printf("dispatched session %s for issue #%d\n", rec.SessionID, rec.IssueNumber)
				}
				for _, skip := range res.Data.Skipped {
					warn("skipped issue #%d: %s", skip.IssueNumber, skip.Reason)
				}
				return nil
			}

			res := client.Fleet().Dispatch(ctx, jules.Goal{IssueNumber: issueNumber, Title: title, Prompt: prompt})
			if err := report(res); err != nil {
				return err
			}
			fmt.Printf("dispatched session %s for issue #%d\n", res.Data.SessionID, res.Data.IssueNumber)
			return nil
		},
	}
	cmd.Flags().IntVar(&issueNumber, "issue", 0, "issue number this session addresses")
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt sent to the agent")
	cmd.Flags().IntVar(&milestone, "milestone", 0, "sweep every fleet-labeled open issue in this milestone instead of a single goal")
	return cmd
}

func fleetMergeCmd(baseBranch *string) *cobra.Command {
	var owner, repo, mode, runID, method string
	var maxRetries, maxCIWaitSeconds, pollTimeoutSeconds int
	var admin bool

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge every pull request a selector matches, strictly in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			sel := jules.MergeSelector{Mode: mode, RunID: runID}
			opts := jules.MergeOptions{
				MaxMergeRetries:    maxRetries,
				MaxCIWaitSeconds:   maxCIWaitSeconds,
				PollTimeoutSeconds: pollTimeoutSeconds,
				Method:             method,
				Admin:              admin,
			}
			res := client.Fleet().Merge(ctx, owner, repo, *baseBranch, sel, opts)
			if err := report(res); err != nil {
				return err
			}
			fmt.Printf("merged: %v\n", res.Data.Merged)
			for _, outcome := range res.Data.Outcomes {
				if !outcome.Merged {
					warn("PR #%d not merged: %s", outcome.PRNumber, outcome.Reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "pr-owner", "", "pull request repository owner")
	cmd.Flags().StringVar(&repo, "pr-repo", "", "pull request repository name")
	cmd.Flags().StringVar(&mode, "mode", "label", "selection mode: label | fleet-run")
	cmd.Flags().StringVar(&runID, "run-id", "", "fleet run id (required for --mode fleet-run)")
	cmd.Flags().StringVar(&method, "method", "squash", "merge | squash | rebase")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "max re-dispatch attempts on conflict")
	cmd.Flags().IntVar(&maxCIWaitSeconds, "max-ci-wait-seconds", 0, "max seconds to wait for checks before timing out")
	cmd.Flags().IntVar(&pollTimeoutSeconds, "poll-timeout-seconds", 0, "max seconds to wait for a re-dispatched replacement PR")
	cmd.Flags().BoolVar(&admin, "admin", false, "bypass branch protection when merging")
	return cmd
}

func fleetTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace [session-id]",
		Short: "Print a session's full snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			res := client.Fleet().Trace(ctx, args[0])
			if err := report(res); err != nil {
				return err
			}
			fmt.Printf("%+v\n", res.Data)
			return nil
		},
	}
}

func fleetSignalCmd() *cobra.Command {
	root := &cobra.Command{Use: "signal", Short: "Raise a forge issue signalling an insight or assessment"}
	root.AddCommand(fleetSignalCreateCmd())
	return root
}

func fleetSignalCreateCmd() *cobra.Command {
	var sessionID, kind, title, body, scope string
	var tags []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a forge issue for an insight or assessment raised by a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			return report(client.Fleet().SignalCreate(ctx, jules.SignalInput{
				SessionID: sessionID,
				Kind:      kind,
				Title:     title,
				Body:      body,
				Tags:      tags,
				Scope:     scope,
			}))
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id raising the signal")
	cmd.Flags().StringVar(&kind, "kind", "", "signal kind: insight | assessment")
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&body, "body", "", "issue body")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "additional label to apply (repeatable)")
	cmd.Flags().StringVar(&scope, "scope", "", "milestone title to attach the issue to")
	return cmd
}
