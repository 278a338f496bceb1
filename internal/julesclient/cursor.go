package julesclient

import (
	"context"

	"github.com/jules-labs/fleet/internal/query"
	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

// cursor implements jules.Cursor over the query engine: each Next page-scans
// the full session query with StartAfter advanced to the last row returned,
// then hydrates each matched row's full jules.Session from the session
// store (the engine's Row is a projected, possibly-truncated view).
type cursor struct {
	sessions store.SessionStore
	qe       *query.Engine
	q        jules.Query
	done     bool
}

func newCursor(sessions store.SessionStore, qe *query.Engine, q jules.Query) *cursor {
	if q.Limit == 0 {
		q.Limit = 50
	}
	return &cursor{sessions: sessions, qe: qe, q: q}
}

func (c *cursor) Next(ctx context.Context) ([]jules.Session, error) {
	if c.done {
		return nil, nil
	}
	result, err := c.qe.Run(ctx, c.q)
	if err != nil {
		return nil, err
	}

	sessions := make([]jules.Session, 0, len(result.Rows))
	for _, row := range result.Rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		session, ok, err := c.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			sessions = append(sessions, session)
		}
	}

	if result.HasMore {
		c.q.StartAfter = result.NextCursor
		c.q.StartAt = ""
	} else {
		c.done = true
	}
	return sessions, nil
}

func (c *cursor) HasMore() bool { return !c.done }
