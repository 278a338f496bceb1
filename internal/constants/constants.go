// Package constants collects tunable defaults shared across the SDK and
// fleet packages so they aren't duplicated (and don't drift) between
// internal/httpclient, internal/store, internal/activityclient, and
// internal/fleet.
package constants

import "time"

// HTTP client defaults (spec.md section 4.1).
const (
	// DefaultMaxRetryTimeMs bounds the total wall-clock time retries may
	// consume before the original error is surfaced.
	DefaultMaxRetryTimeMs = 300_000
	// DefaultBaseDelayMs is the base of the exponential backoff.
	DefaultBaseDelayMs = 1_000
	// DefaultMaxDelayMs caps the (pre-jitter) backoff delay.
	DefaultMaxDelayMs = 30_000
	// DefaultMaxConcurrentRequests bounds in-flight HTTP requests.
	DefaultMaxConcurrentRequests = 50
	// DefaultHTTPTimeout is the per-attempt request timeout.
	DefaultHTTPTimeout = 30 * time.Second
)

// Activity/session engine defaults (spec.md section 4.3, 4.6).
const (
	// FrozenSessionThreshold is how old the latest cached activity must be
	// before hydrate() short-circuits without contacting the network.
	FrozenSessionThreshold = 30 * 24 * time.Hour
	// TailChunkSize is the read-from-end chunk size used by
	// store.FileActivityStore.Latest to avoid scanning the whole activity log.
	TailChunkSize = 8192
	// SessionInfoCacheTTL is how long a cached session envelope is
	// considered fresh by sessionclient.Client.Info's read-through check.
	SessionInfoCacheTTL = 5 * time.Second
)

// Network adapter defaults (spec.md section 4.5).
const (
	// DefaultPollingInterval is used by rawStream between exhausted pages.
	DefaultPollingInterval = 3 * time.Second
	// CreateConsistencyRetries bounds the short-backoff retry
	// netadapter.GetSession applies to a transient 404 immediately after
	// session creation. ListActivities does not retry a 404.
	CreateConsistencyRetries   = 3
	CreateConsistencyBaseDelay = 250 * time.Millisecond
)

// Session client defaults (spec.md section 4.7).
const (
	DefaultWaitForPollInterval = 2 * time.Second
	DefaultResultTimeout       = 20 * time.Minute
)

// Fan-out concurrency ceilings (spec.md section 5).
const (
	DefaultAllConcurrency         = 3
	DefaultSessionInfoConcurrency = 5
)

// Fleet merge defaults (spec.md section 4.10).
const (
	DefaultMaxCIWaitSeconds    = 600
	DefaultMaxMergeRetries     = 2
	DefaultPollTimeoutSeconds  = 900
	DefaultReDispatchPollEvery = 30 * time.Second
)

// Fleet label bootstrap set (spec.md section 4.10's init/configure/
// dispatch/signal-create sections name the labels they read and write, but
// never the label used to mark an issue as dispatch-eligible in the first
// place — FleetDispatchLabel fills that gap).
const (
	FleetMergeReadyLabel  = "fleet-merge-ready"
	FleetInsightLabel     = "fleet-insight"
	FleetAssessmentLabel  = "fleet-assessment"
	FleetDispatchLabel    = "fleet-dispatch"

	FleetMergeReadyColor = "0e8a16"
	FleetInsightColor    = "5319e7"
	FleetAssessmentColor = "fbca04"
	FleetDispatchColor   = "1d76db"
)

// FleetDispatchMarker is the literal substring a dispatch-event comment
// must contain for DispatchMilestone's idempotency check (spec.md section
// 6's "Dispatch marker format").
const FleetDispatchMarker = "Fleet Dispatch Event"

// RecentlyClosedWindow bounds how far back Analyze looks for closed issues
// when building milestone context.
const RecentlyClosedWindow = 14 * 24 * time.Hour

// Query engine defaults (spec.md section 4.9).
const (
	DefaultQueryOrder = "desc"
	SummaryMaxLength  = 200
)
