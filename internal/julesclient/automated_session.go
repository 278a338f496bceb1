package julesclient

import (
	"context"

	"github.com/jules-labs/fleet/internal/activityclient"
	"github.com/jules-labs/fleet/internal/sessionclient"
	"github.com/jules-labs/fleet/pkg/jules"
)

// automatedSession composes an activityclient.Client and a
// sessionclient.Client against one session id into jules.AutomatedSession.
// Both underlying types are named Client in their own packages, so they're
// held as named fields and forwarded explicitly rather than embedded (two
// embedded fields named Client would collide).
type automatedSession struct {
	id        string
	activities *activityclient.Client
	sessions   *sessionclient.Client
}

func (a *automatedSession) ID() string { return a.id }

func (a *automatedSession) Hydrate(ctx context.Context) ([]jules.Activity, error) {
	return a.activities.Hydrate(ctx)
}

func (a *automatedSession) History(ctx context.Context) ([]jules.Activity, error) {
	return a.activities.History(ctx)
}

func (a *automatedSession) Latest(ctx context.Context, n int) ([]jules.Activity, error) {
	return a.activities.Latest(ctx, n)
}

func (a *automatedSession) Updates(ctx context.Context) ([]jules.Activity, error) {
	return a.activities.Updates(ctx)
}

func (a *automatedSession) Stream(ctx context.Context) (<-chan jules.Activity, <-chan error) {
	return a.activities.Stream(ctx)
}

func (a *automatedSession) Select(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	return a.activities.Select(ctx, pred)
}

func (a *automatedSession) Snapshot(ctx context.Context) (jules.Snapshot, error) {
	return a.activities.Snapshot(ctx)
}

func (a *automatedSession) Info(ctx context.Context) (jules.Session, error) {
	return a.sessions.Info(ctx)
}

func (a *automatedSession) Approve(ctx context.Context) error {
	return a.sessions.Approve(ctx)
}

func (a *automatedSession) Send(ctx context.Context, message string) error {
	return a.sessions.Send(ctx, message)
}

func (a *automatedSession) Ask(ctx context.Context, message string) (jules.Activity, error) {
	return a.sessions.Ask(ctx, message)
}

func (a *automatedSession) WaitFor(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	return a.sessions.WaitFor(ctx, pred)
}

func (a *automatedSession) Result(ctx context.Context) ([]jules.Output, error) {
	return a.sessions.Result(ctx)
}
