package jules

import "context"

// Client is the top-level entry point. Concrete construction lives in
// internal/julesclient (New), kept out of this package so pkg/jules stays
// pure interface-and-data-model, the way pkg/capi separates its Client
// interface from internal/client's implementation.
type Client interface {
	// Activities returns the activity-history client for session id.
	Activities(sessionID string) ActivityClient

	// Sessions returns the session-control client for session id.
	Sessions(sessionID string) SessionClient

	// Run creates a new session from cfg and returns a handle to it.
	Run(ctx context.Context, cfg RunConfig) (AutomatedSession, error)

	// Session attaches to an existing session by id without creating one.
	Session(sessionID string) AutomatedSession

	// List returns a cursor over sessions matching q.
	List(ctx context.Context, q Query) (Cursor, error)

	// Query runs q against the local cache only; it does not contact the
	// network (spec.md section 4.9).
	Query(ctx context.Context, q Query) (QueryResult, error)

	// All maps fn over items with bounded concurrency (spec.md section 5),
	// aggregating non-fatal per-item errors rather than stopping at the
	// first one, unless opts.StopOnError is set.
	All(ctx context.Context, items []string, opts AllOptions, fn func(ctx context.Context, sessionID string) error) error

	// Sync drives a reconciliation loop over a set of sessions, reporting
	// progress via opts.OnProgress (spec.md section 4.8).
	Sync(ctx context.Context, sessionIDs []string, opts SyncOptions) error

	// With returns a copy of this Client with overrides applied, the way
	// capi.Client.WithBaseURL/WithHTTPClient return adjusted copies rather
	// than mutating the receiver.
	With(overrides Config) Client

	// Forge returns the repository-forge adapter (GitHub-shaped) bound to
	// the source this client was configured for.
	Forge() Forge

	// Fleet returns the fleet orchestration handlers.
	Fleet() Fleet
}

// AllOptions configures Client.All.
type AllOptions struct {
	Concurrency int
	StopOnError bool
}

// RunConfig is the input to Client.Run (spec.md section 4.2).
type RunConfig struct {
	Prompt          string
	Source          Source
	Title           string
	RequirePlanApproval bool
	AutoCreatePR    bool
}

// ActivityClient reads a session's activity history (spec.md section 4.6).
type ActivityClient interface {
	// Hydrate brings the local cache up to date with the network, unless
	// the session is frozen (no change in longer than
	// constants.FrozenSessionThreshold), and returns the full history.
	Hydrate(ctx context.Context) ([]Activity, error)

	// History returns the cached history without contacting the network.
	History(ctx context.Context) ([]Activity, error)

	// Latest returns the last n cached activities without a full scan.
	Latest(ctx context.Context, n int) ([]Activity, error)

	// Updates returns only activities appended since the high-water mark
	// recorded for this session.
	Updates(ctx context.Context) ([]Activity, error)

	// Stream yields activities as they arrive, merging cache replay with
	// live polling (spec.md section 4.6.2), until ctx is cancelled or the
	// session reaches a terminal state.
	Stream(ctx context.Context) (<-chan Activity, <-chan error)

	// Select returns the first cached activity matching pred, or
	// ErrNoMoreItems.
	Select(ctx context.Context, pred func(Activity) bool) (Activity, error)

	// Snapshot composes the session resource with its full activity
	// history and derived fields.
	Snapshot(ctx context.Context) (Snapshot, error)
}

// SessionClient drives a session's lifecycle (spec.md section 4.7).
type SessionClient interface {
	// Info returns the session resource, read-through caching it for
	// constants.SessionInfoCacheTTL.
	Info(ctx context.Context) (Session, error)

	// Approve approves the pending plan.
	Approve(ctx context.Context) error

	// Send posts a user message to the session.
	Send(ctx context.Context, message string) error

	// Ask sends a message and waits for the next agent reply, returning
	// ErrSessionEnded if the session reaches a terminal state first.
	Ask(ctx context.Context, message string) (Activity, error)

	// WaitFor blocks until pred matches a cached or newly-arrived
	// activity, the session ends, or ctx is done.
	WaitFor(ctx context.Context, pred func(Activity) bool) (Activity, error)

	// Result blocks until the session reaches a terminal state and
	// returns its outputs, bounded by constants.DefaultResultTimeout
	// unless ctx carries a tighter deadline.
	Result(ctx context.Context) ([]Output, error)
}

// AutomatedSession composes ActivityClient and SessionClient against one
// session id, the handle returned by Client.Run/Client.Session.
type AutomatedSession interface {
	ActivityClient
	SessionClient
	ID() string
}

// SessionDispatcher is implemented by fleet handlers that need to create
// sessions without depending on the full Client interface (spec.md section
// 4.2 DOMAIN MODULE EXPANSION: dispatch is driven through this narrow seam
// so it can be faked in tests without a fake Client).
type SessionDispatcher interface {
	Run(ctx context.Context, cfg RunConfig) (AutomatedSession, error)
}
