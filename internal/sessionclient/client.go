// Package sessionclient implements jules.SessionClient: read-through
// session info with a short cache TTL, plan approval, message send/ask,
// wait-for-predicate, and blocking result retrieval (spec.md section 4.7).
package sessionclient

import (
	"context"
	"sync"
	"time"

	"github.com/jules-labs/fleet/internal/activityclient"
	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/netadapter"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Client implements jules.SessionClient for one session.
type Client struct {
	sessionID  string
	net        *netadapter.Adapter
	sessions   store.SessionStore
	activities *activityclient.Client
	fs         platform.Adapter

	mu         sync.Mutex
	cachedAt   time.Time
}

func New(sessionID string, net *netadapter.Adapter, sessions store.SessionStore, activities *activityclient.Client, fs platform.Adapter) *Client {
	return &Client{sessionID: sessionID, net: net, sessions: sessions, activities: activities, fs: fs}
}

// Info returns the session resource, refreshing from the network when the
// cached envelope is older than constants.SessionInfoCacheTTL.
func (c *Client) Info(ctx context.Context) (jules.Session, error) {
	c.mu.Lock()
	fresh := c.fs.Now().Sub(c.cachedAt) < constants.SessionInfoCacheTTL
	c.mu.Unlock()

	if fresh {
		if cached, ok, err := c.sessions.Get(ctx, c.sessionID); err == nil && ok {
			return cached, nil
		}
	}

	session, err := c.net.GetSession(ctx, c.sessionID)
	if err != nil {
		if cached, ok, cerr := c.sessions.Get(ctx, c.sessionID); cerr == nil && ok {
			return cached, nil
		}
		return jules.Session{}, err
	}
	if err := c.sessions.Upsert(ctx, session); err != nil {
		return jules.Session{}, err
	}
	c.mu.Lock()
	c.cachedAt = c.fs.Now()
	c.mu.Unlock()
	return session, nil
}

// Approve approves the pending plan. It is only valid while the session is
// awaiting plan approval; any other state is jules.ErrInvalidState.
func (c *Client) Approve(ctx context.Context) error {
	session, err := c.Info(ctx)
	if err != nil {
		return err
	}
	if session.State != jules.StateAwaitingPlanApproval {
		return jules.ErrInvalidState
	}
	return c.net.ApproveSession(ctx, c.sessionID)
}

func (c *Client) Send(ctx context.Context, message string) error {
	return c.net.SendMessage(ctx, c.sessionID, message)
}

// Ask sends message then waits for the next agent reply, failing with
// jules.ErrSessionEnded if the session reaches a terminal state first
// without one.
func (c *Client) Ask(ctx context.Context, message string) (jules.Activity, error) {
	before, err := c.activities.History(ctx)
	if err != nil {
		return jules.Activity{}, err
	}
	seen := make(map[string]bool, len(before))
	for _, a := range before {
		seen[a.ID] = true
	}
	if err := c.Send(ctx, message); err != nil {
		return jules.Activity{}, err
	}
	return c.WaitFor(ctx, func(a jules.Activity) bool {
		return !seen[a.ID] && a.Originator == jules.OriginatorAgent
	})
}

// WaitFor blocks on the activity stream until pred matches, the session
// ends, or ctx is cancelled.
func (c *Client) WaitFor(ctx context.Context, pred func(jules.Activity) bool) (jules.Activity, error) {
	stream, errs := c.activities.Stream(ctx)
	for {
		select {
		case a, ok := <-stream:
			if !ok {
				return jules.Activity{}, jules.ErrSessionEnded
			}
			if pred(a) {
				return a, nil
			}
			if a.Type == jules.ActivitySessionCompleted || a.Type == jules.ActivitySessionFailed {
				return jules.Activity{}, jules.ErrSessionEnded
			}
		case err := <-errs:
			if err != nil {
				return jules.Activity{}, err
			}
		case <-ctx.Done():
			return jules.Activity{}, ctx.Err()
		}
	}
}

// Result blocks until the session reaches a terminal state, bounded by
// constants.DefaultResultTimeout unless ctx already carries a tighter
// deadline.
func (c *Client) Result(ctx context.Context) ([]jules.Output, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.DefaultResultTimeout)
		defer cancel()
	}

	for {
		session, err := c.Info(ctx)
		if err != nil {
			return nil, err
		}
		if session.State.IsTerminal() {
			if session.State == jules.StateFailed {
				return session.Outputs, jules.NewError(jules.KindAutomatedSessionFailed, "session failed", nil, "")
			}
			return session.Outputs, nil
		}
		if err := c.fs.Sleep(ctx, constants.DefaultWaitForPollInterval); err != nil {
			return nil, err
		}
	}
}
