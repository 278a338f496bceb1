// Package jules is the public surface of the fleet SDK: the types,
// interfaces, and configuration a caller programs against. Concrete
// wiring (HTTP transport, on-disk storage, the query evaluator, the forge
// adapter) lives under internal/ and is assembled by internal/julesclient.
package jules

import (
	"encoding/json"
	"time"
)

// Originator identifies who produced an Activity.
type Originator string

const (
	OriginatorUser   Originator = "user"
	OriginatorAgent  Originator = "agent"
	OriginatorSystem Originator = "system"
)

// ActivityType enumerates the tagged variants an Activity can carry.
type ActivityType string

const (
	ActivityPlanGenerated    ActivityType = "planGenerated"
	ActivityPlanApproved     ActivityType = "planApproved"
	ActivityUserMessaged     ActivityType = "userMessaged"
	ActivityAgentMessaged    ActivityType = "agentMessaged"
	ActivityProgressUpdated  ActivityType = "progressUpdated"
	ActivitySessionCompleted ActivityType = "sessionCompleted"
	ActivitySessionFailed    ActivityType = "sessionFailed"
)

// Activity is an immutable record emitted by the Agent API. Once appended
// to storage it is never mutated; a re-delivery with the same ID replaces
// the stored value in place but never changes its position (see
// internal/store.ActivityStore.Append).
type Activity struct {
	ID         string       `json:"id"`
	CreateTime time.Time    `json:"createTime"`
	Originator Originator   `json:"originator"`
	Type       ActivityType `json:"type"`

	// Payload holds the variant-specific fields as a raw map; concrete
	// accessors (PlanSteps, Message, Progress, ...) are added by callers
	// that know the variant from Type. Keeping this as a map (rather than
	// one struct field per variant) mirrors how capi.Job/capi.Info carry
	// loosely-typed nested data and avoids a sprawling switch embedded in
	// the wire struct itself.
	Payload map[string]interface{} `json:"payload,omitempty"`

	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// ArtifactKind tags the variant of an Artifact.
type ArtifactKind string

const (
	ArtifactMedia      ArtifactKind = "media"
	ArtifactBashOutput ArtifactKind = "bashOutput"
	ArtifactChangeSet  ArtifactKind = "changeSet"
)

// Artifact is the tagged-variant interface every rehydrated artifact
// implements. See internal/activityclient/rehydrate.go for the decoder
// that turns cached JSON back into one of these.
type Artifact interface {
	Kind() ArtifactKind
}

// MediaArtifact is a base64 payload plus its mime/format.
type MediaArtifact struct {
	ID      string `json:"id"`
	MimeType string `json:"mimeType"`
	Format  string `json:"format"`
	Data    string `json:"data"` // base64url, kept encoded
}

func (MediaArtifact) Kind() ArtifactKind { return ArtifactMedia }

// BashOutputArtifact is the result of a shell command the agent ran.
type BashOutputArtifact struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func (BashOutputArtifact) Kind() ArtifactKind { return ArtifactBashOutput }

// ChangeType enumerates what happened to a file in a ChangeSetArtifact.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// FileDiff is one file's entry in a parsed unidiff patch.
type FileDiff struct {
	Path       string     `json:"path"`
	ChangeType ChangeType `json:"changeType"`
	Additions  int        `json:"additions"`
	Deletions  int        `json:"deletions"`
}

// ChangeSetArtifact is a unidiff patch plus the metadata needed to apply
// it. Per-file diff stats are computed on demand by
// activityclient.ParseDiffs rather than at rehydration time, since most
// callers only need the patch text (e.g. to hand to `git apply`) and
// parsing 100s of file hunks eagerly for every cached activity would be
// wasted work.
type ChangeSetArtifact struct {
	SourceLabel      string `json:"sourceLabel"`
	Patch            string `json:"patch"`
	BaseCommit       string `json:"baseCommit"`
	SuggestedMessage string `json:"suggestedCommitMessage"`
}

func (ChangeSetArtifact) Kind() ArtifactKind { return ArtifactChangeSet }

// UnknownArtifact preserves an artifact whose kind tag this version of the
// SDK doesn't know how to decode into a concrete variant, so a newer agent
// API kind never breaks rehydration of an otherwise-fine activity (spec.md
// section 4.6.1's forward-compatibility requirement). RawKind is the
// untranslated kind string; Raw is the artifact's full original JSON.
type UnknownArtifact struct {
	RawKind string
	Raw     json.RawMessage
}

func (a UnknownArtifact) Kind() ArtifactKind { return ArtifactKind(a.RawKind) }

// SessionState is the lifecycle state of a remote session, normalised to
// camelCase on ingress (see internal/netadapter.normalizeState).
type SessionState string

const (
	StateUnspecified           SessionState = "unspecified"
	StateQueued                SessionState = "queued"
	StatePlanning              SessionState = "planning"
	StateInProgress            SessionState = "inProgress"
	StateAwaitingPlanApproval  SessionState = "awaitingPlanApproval"
	StateAwaitingUserFeedback  SessionState = "awaitingUserFeedback"
	StatePaused                SessionState = "paused"
	StateCompleted             SessionState = "completed"
	StateFailed                SessionState = "failed"
)

// IsTerminal reports whether the state ends the session's lifecycle.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Source identifies the repository and base branch a session operates on.
type Source struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	BaseBranch string `json:"baseBranch"`
}

// Output is a tagged-variant list entry on a Session resource. Only
// pullRequest is modelled concretely per spec.md section 3; other kinds keep
// only their Kind, and their fields are not retained.
type Output struct {
	Kind        string `json:"kind"`
	PullRequest *PullRequestOutput `json:"pullRequest,omitempty"`
}

// PullRequestOutput is the pull-request shape an AUTO_CREATE_PR session
// reports back once it opens one.
type PullRequestOutput struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	BaseRef string `json:"baseRef,omitempty"`
	HeadRef string `json:"headRef,omitempty"`
}

// Session is the SDK's view of a remote session resource.
type Session struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Title             string       `json:"title"`
	Prompt            string       `json:"prompt"`
	Source            Source       `json:"source"`
	SourceContextLabel string      `json:"sourceContextLabel"`
	URL               string       `json:"url"`
	State             SessionState `json:"state"`
	CreateTime        time.Time    `json:"createTime"`
	UpdateTime        time.Time    `json:"updateTime"`
	Outputs           []Output     `json:"outputs,omitempty"`
}

// IndexEntry is the lightweight projection persisted by session storage's
// index, separate from the full cached envelope (spec.md section 3).
type IndexEntry struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	State      SessionState `json:"state"`
	CreateTime time.Time    `json:"createTime"`
	Source     string       `json:"source"`
	UpdatedAt  time.Time    `json:"_updatedAt"`
}

// CachedEnvelope wraps a Session with its last sync timestamp.
type CachedEnvelope struct {
	Resource     Session `json:"resource"`
	LastSyncedAt int64   `json:"_lastSyncedAt"` // epoch millis
}

// ActivityCounts tallies activities by type for a Snapshot.
type ActivityCounts map[ActivityType]int

// TimelineEntry is one entry in a Snapshot's derived timeline.
type TimelineEntry struct {
	At   time.Time    `json:"at"`
	Type ActivityType `json:"type"`
	Note string       `json:"note,omitempty"`
}

// Insights are the derived signals a Snapshot computes over a session's
// full activity history.
type Insights struct {
	CompletionAttempts int                `json:"completionAttempts"`
	PlanRegenerations  int                `json:"planRegenerations"`
	UserInterventions  int                `json:"userInterventions"`
	FailedCommands     int                `json:"failedCommands"`
	PullRequest        *PullRequestOutput `json:"pullRequest,omitempty"`
}

// Snapshot is a point-in-time composition of a session plus its full
// activity history and derived fields (spec.md section 3).
type Snapshot struct {
	Session        Session        `json:"session"`
	Activities     []Activity     `json:"activities"`
	DurationMs     int64          `json:"durationMs"`
	ActivityCounts ActivityCounts `json:"activityCounts"`
	Timeline       []TimelineEntry `json:"timeline"`
	Insights       Insights       `json:"insights"`
}
