package activityclient

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/netadapter"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Client implements jules.ActivityClient for one session.
type Client struct {
	sessionID string
	net       *netadapter.Adapter
	activities store.ActivityStore
	sessions   store.SessionStore
	fs         platform.Adapter
}

func New(sessionID string, net *netadapter.Adapter, activities store.ActivityStore, sessions store.SessionStore, fs platform.Adapter) *Client {
	return &Client{sessionID: sessionID, net: net, activities: activities, sessions: sessions, fs: fs}
}

// Hydrate brings the cache up to date, unless the session is frozen
// (spec.md section 4.3: no activity in longer than
// constants.FrozenSessionThreshold means the remote session is done
// changing and contacting the network would be wasted work).
func (c *Client) Hydrate(ctx context.Context) ([]jules.Activity, error) {
	cached, err := c.activities.All(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		last := cached[len(cached)-1]
		if c.fs.Now().Sub(last.CreateTime) > constants.FrozenSessionThreshold {
			return decodeAll(cached)
		}
	}

	filter := ""
	if len(cached) > 0 {
		last := cached[len(cached)-1]
		filter = fmt.Sprintf(`createTime>"%s"`, last.CreateTime.UTC().Format(time.RFC3339))
	}

	var fresh []jules.Activity
	cursor := ""
	for {
		page, next, err := c.net.ListActivities(ctx, c.sessionID, cursor, filter, 0)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	if len(fresh) > 0 {
		if err := c.activities.AppendMany(ctx, c.sessionID, fresh); err != nil {
			return nil, err
		}
		if err := c.activities.SetHighWaterMark(ctx, c.sessionID, fresh[len(fresh)-1].ID); err != nil {
			return nil, err
		}
	}

	all, err := c.activities.All(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	return decodeAll(all)
}

func (c *Client) History(ctx context.Context) ([]jules.Activity, error) {
	all, err := c.activities.All(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	return decodeAll(all)
}

func (c *Client) Latest(ctx context.Context, n int) ([]jules.Activity, error) {
	latest, err := c.activities.Latest(ctx, c.sessionID, n)
	if err != nil {
		return nil, err
	}
	return decodeAll(latest)
}

// Updates hydrates then returns only activities after the recorded
// high-water mark from before this call.
func (c *Client) Updates(ctx context.Context) ([]jules.Activity, error) {
	before, err := c.activities.HighWaterMark(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	all, err := c.Hydrate(ctx)
	if err != nil {
		return nil, err
	}
	if before == "" {
		return all, nil
	}
	for i, a := range all {
		if a.ID == before {
			return all[i+1:], nil
		}
	}
	return all, nil
}

// Stream merges a replay of cached history with live polling, closing out
// when the session reaches a terminal state or ctx is cancelled (spec.md
// section 4.6.2).
func (c *Client) Stream(ctx context.Context) (<-chan jules.Activity, <-chan error) {
	out := make(chan jules.Activity)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		cached, err := c.History(ctx)
		if err != nil {
			errs <- err
			return
		}
		seen := make(map[string]bool, len(cached))
		for _, a := range cached {
			seen[a.ID] = true
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}

		live, liveErrs := c.net.RawStream(ctx, c.sessionID)
		for {
			select {
			case a, ok := <-live:
				if !ok {
					return
				}
				if seen[a.ID] {
					continue
				}
				seen[a.ID] = true
				decoded, err := Rehydrate(a)
				if err != nil {
					errs <- err
					return
				}
				if err := c.activities.Append(ctx, c.sessionID, a); err != nil {
					errs <- err
					return
				}
				select {
				case out <- decoded:
				case <-ctx.Done():
					return
				}
				if decoded.Type == jules.ActivitySessionCompleted || decoded.Type == jules.ActivitySessionFailed {
					return
				}
			case err, ok := <-liveErrs:
				if ok && err != nil {
					errs <- err
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

func (c *Client) Select(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	all, err := c.History(ctx)
	if err != nil {
		return jules.Activity{}, err
	}
	for _, a := range all {
		if pred(a) {
			return a, nil
		}
	}
	return jules.Activity{}, jules.ErrNoMoreItems
}

func (c *Client) Snapshot(ctx context.Context) (jules.Snapshot, error) {
	session, ok, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return jules.Snapshot{}, err
	}
	if !ok {
		return jules.Snapshot{}, jules.NewError(jules.KindSourceNotFound, "session not cached: "+c.sessionID, nil, "")
	}
	activities, err := c.Hydrate(ctx)
	if err != nil {
		return jules.Snapshot{}, err
	}
	return buildSnapshot(session, activities), nil
}

func buildSnapshot(session jules.Session, activities []jules.Activity) jules.Snapshot {
	sort.Slice(activities, func(i, j int) bool { return activities[i].CreateTime.Before(activities[j].CreateTime) })

	counts := jules.ActivityCounts{}
	timeline := make([]jules.TimelineEntry, 0, len(activities))
	insights := jules.Insights{}
	for _, a := range activities {
		counts[a.Type]++
		timeline = append(timeline, jules.TimelineEntry{At: a.CreateTime, Type: a.Type})
		switch a.Type {
		case jules.ActivitySessionCompleted, jules.ActivitySessionFailed:
			insights.CompletionAttempts++
		case jules.ActivityPlanGenerated:
			insights.PlanRegenerations++
		case jules.ActivityUserMessaged:
			insights.UserInterventions++
		}
		for _, artifact := range a.Artifacts {
			if b, ok := artifact.(jules.BashOutputArtifact); ok && b.ExitCode != 0 {
				insights.FailedCommands++
			}
		}
	}
	for _, o := range session.Outputs {
		if o.PullRequest != nil {
			insights.PullRequest = o.PullRequest
			break
		}
	}

	var duration time.Duration
	if !session.UpdateTime.IsZero() && !session.CreateTime.IsZero() {
		duration = session.UpdateTime.Sub(session.CreateTime)
	}

	return jules.Snapshot{
		Session:        session,
		Activities:     activities,
		DurationMs:     duration.Milliseconds(),
		ActivityCounts: counts,
		Timeline:       timeline,
		Insights:       insights,
	}
}

func decodeAll(activities []jules.Activity) ([]jules.Activity, error) {
	out := make([]jules.Activity, len(activities))
	for i, a := range activities {
		decoded, err := Rehydrate(a)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}
