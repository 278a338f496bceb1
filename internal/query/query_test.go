package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

func newFixture(t *testing.T) (*Engine, *store.MemorySessionStore, *store.MemoryActivityStore) {
	t.Helper()
	now := func() time.Time { return time.Unix(0, 0) }
	sessions := store.NewMemorySessionStore(now)
	activities := store.NewMemoryActivityStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range []struct {
		id    string
		state jules.SessionState
	}{
		{"s1", jules.StatePlanning},
		{"s2", jules.StateCompleted},
		{"s3", jules.StateFailed},
	} {
		require.NoError(t, sessions.Upsert(context.Background(), jules.Session{
			ID:         s.id,
			Title:      "title-" + s.id,
			State:      s.state,
			CreateTime: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	return New(sessions, activities), sessions, activities
}

func TestEngine_FiltersByWhereClause(t *testing.T) {
	engine, _, _ := newFixture(t)

	result, err := engine.Run(context.Background(), jules.Query{
		Domain: jules.DomainSessions,
		Where:  []jules.WhereClause{{Path: "state", Op: jules.OpEq, Value: string(jules.StateCompleted)}},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "s2", result.Rows[0]["id"])
}

func TestEngine_PaginatesWithStartAfter(t *testing.T) {
	engine, _, _ := newFixture(t)

	first, err := engine.Run(context.Background(), jules.Query{Domain: jules.DomainSessions, Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Rows, 1)
	assert.True(t, first.HasMore)

	second, err := engine.Run(context.Background(), jules.Query{
		Domain:     jules.DomainSessions,
		Limit:      1,
		StartAfter: first.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, second.Rows, 1)
	assert.NotEqual(t, first.Rows[0]["id"], second.Rows[0]["id"])
}

func TestEngine_ProjectionWildcardAndExclusion(t *testing.T) {
	engine, _, _ := newFixture(t)

	result, err := engine.Run(context.Background(), jules.Query{
		Domain: jules.DomainSessions,
		Select: []string{"*", "-prompt"},
		Where:  []jules.WhereClause{{Path: "id", Op: jules.OpEq, Value: "s1"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	_, hasPrompt := result.Rows[0]["prompt"]
	assert.False(t, hasPrompt)
	assert.Equal(t, "s1", result.Rows[0]["id"])
}

func TestEngine_IncludeActivitiesAttachesCounts(t *testing.T) {
	engine, _, activities := newFixture(t)
	require.NoError(t, activities.Append(context.Background(), "s1", jules.Activity{ID: "a1", Type: jules.ActivityAgentMessaged}))
	require.NoError(t, activities.Append(context.Background(), "s1", jules.Activity{ID: "a2", Type: jules.ActivityAgentMessaged}))

	result, err := engine.Run(context.Background(), jules.Query{
		Domain:  jules.DomainSessions,
		Where:   []jules.WhereClause{{Path: "id", Op: jules.OpEq, Value: "s1"}},
		Include: jules.Include{Activities: true},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	counts, ok := result.Rows[0]["activities"].(jules.ActivityCounts)
	require.True(t, ok)
	assert.Equal(t, 2, counts[jules.ActivityAgentMessaged])
}
