package jules

import (
	"context"
	"time"
)

// Op is a filter comparison operator (spec.md section 4.9).
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpExists   Op = "exists"
)

// WhereClause is a single filter predicate over a dot-path field. Path may
// traverse arrays existentially: "activities.type" matches a session if
// any element of activities has that type, per spec.md section 4.9.1.
type WhereClause struct {
	Path  string
	Op    Op
	Value interface{}
}

// Include requests a virtual cross-domain join be attached to each result
// row (spec.md section 4.9.3): include.activities pulls in an
// ActivityCounts-shaped summary, include.session pulls the owning session
// onto an activity row.
type Include struct {
	Activities bool
	Session    bool
}

// Domain selects which index Query scans.
type Domain string

const (
	DomainSessions   Domain = "sessions"
	DomainActivities Domain = "activities"
)

// Query is the structured query grammar the query engine evaluates against
// the local cache (spec.md section 4.9). Zero-value Select means "default
// projection for Domain"; zero-value Limit means "no limit".
type Query struct {
	Domain  Domain
	Where   []WhereClause
	Select  []string // field paths; "*" wildcard, "-field" exclusion, "field as alias" computed
	Include Include
	OrderBy string // defaults to "_sortKey"; direction comes from Desc alone (ascending when false)
	Desc    bool
	Limit   int
	StartAt      string // cursor: resume from this row id inclusive
	StartAfter   string // cursor: resume strictly after this row id
}

// Row is one projected result row; shape depends on Query.Select.
type Row map[string]interface{}

// QueryResult is the output of Client.Query: the projected rows plus the
// cursor to pass as StartAfter for the next page.
type QueryResult struct {
	Rows       []Row
	NextCursor string
	HasMore    bool
}

// Cursor iterates Client.List results page by page.
type Cursor interface {
	Next(ctx context.Context) ([]Session, error)
	HasMore() bool
}

// SyncProgress is one event emitted during Client.Sync (spec.md section 4.8).
type SyncProgress struct {
	SessionID string
	Phase     string // "hydrating" | "terminal" | "error"
	At        time.Time
	Err       error
}

// SyncOptions configures Client.Sync.
type SyncOptions struct {
	Concurrency int
	OnProgress  func(SyncProgress)
	PollEvery   time.Duration
}
