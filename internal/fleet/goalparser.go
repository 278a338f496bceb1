package fleet

import (
	"context"
	"strconv"

	"github.com/jules-labs/fleet/pkg/jules"
)

// MilestoneGoalParser implements jules.GoalParser by reading every open
// issue under a milestone and turning each into a dispatchable Goal. scope
// is the milestone number as a string; this is the default GoalParser
// wired in by cmd/jules's analyze command (spec.md section 4.2's "scope"
// concept mapped onto a forge milestone).
type MilestoneGoalParser struct {
	Forge jules.Forge
	Owner string
	Repo  string
}

func (p MilestoneGoalParser) Parse(ctx context.Context, scope string) ([]jules.Goal, error) {
	number, err := strconv.Atoi(scope)
	if err != nil {
		return nil, jules.NewError(jules.KindInvalidState, "scope must be a milestone number", err, "")
	}
	milestone, err := p.Forge.GetMilestone(ctx, p.Owner, p.Repo, number)
	if err != nil {
		return nil, err
	}
	issues, err := p.Forge.ListIssues(ctx, p.Owner, p.Repo, jules.IssueListOptions{State: "open", Milestone: milestone.Number})
	if err != nil {
		return nil, err
	}
	goals := make([]jules.Goal, 0, len(issues))
	for _, issue := range issues {
		goals = append(goals, jules.Goal{
			IssueNumber: issue.Number,
			Title:       issue.Title,
			Prompt:      issue.Body,
		})
	}
	return goals, nil
}
