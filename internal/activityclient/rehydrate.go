// Package activityclient implements jules.ActivityClient: read-through
// hydration of a session's activity history against the local cache, the
// high-water-mark update feed, a merged replay+live stream, and artifact
// rehydration (spec.md section 4.6).
package activityclient

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jules-labs/fleet/internal/netadapter"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Rehydrate decodes an activity's raw artifact JSON (stashed under
// netadapter.RawArtifactsKey) into concrete jules.Artifact values,
// tolerating both the current flat shape ({"kind":"media",...}) and an
// older nested shape ({"kind":"media","media":{...}}) a long-lived cache
// entry from before a server-side schema change might still contain
// (spec.md section 4.6.1).
func Rehydrate(a jules.Activity) (jules.Activity, error) {
	raw, ok := a.Payload[netadapter.RawArtifactsKey]
	if !ok {
		return a, nil
	}
	var messages []json.RawMessage
	switch v := raw.(type) {
	case []json.RawMessage:
		messages = v
	case []interface{}:
		// A round trip through a JSON-backed store turns the raw artifacts
		// into generic values; re-encode each one for decodeArtifact.
		for _, item := range v {
			b, err := json.Marshal(item)
			if err != nil {
				return jules.Activity{}, jules.NewError(jules.KindAPI, "re-encoding cached artifact", err, "")
			}
			messages = append(messages, b)
		}
	default:
		return a, nil
	}

	out := a
	out.Payload = clonePayloadWithout(a.Payload, netadapter.RawArtifactsKey)
	out.Artifacts = make([]jules.Artifact, 0, len(messages))
	for _, msg := range messages {
		artifact, err := decodeArtifact(msg)
		if err != nil {
			return jules.Activity{}, jules.NewError(jules.KindAPI, "decoding artifact", err, "")
		}
		out.Artifacts = append(out.Artifacts, artifact)
	}
	return out, nil
}

func clonePayloadWithout(p map[string]interface{}, drop string) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		if k == drop {
			continue
		}
		out[k] = v
	}
	return out
}

type envelope struct {
	Kind string `json:"kind"`

	// Flat shape: fields live directly on the envelope.
	ID               string `json:"id"`
	MimeType         string `json:"mimeType"`
	Format           string `json:"format"`
	Data             string `json:"data"`
	Command          string `json:"command"`
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	ExitCode         int    `json:"exitCode"`
	SourceLabel      string `json:"sourceLabel"`
	Patch            string `json:"patch"`
	BaseCommit       string `json:"baseCommit"`
	SuggestedMessage string `json:"suggestedCommitMessage"`

	// Nested legacy shape: one of these is populated instead of the flat
	// fields above.
	Media      *envelope `json:"media"`
	BashOutput *envelope `json:"bashOutput"`
	ChangeSet  *envelope `json:"changeSet"`
}

func decodeArtifact(msg json.RawMessage) (jules.Artifact, error) {
	var e envelope
	if err := json.Unmarshal(msg, &e); err != nil {
		return nil, err
	}
	switch jules.ArtifactKind(e.Kind) {
	case jules.ArtifactMedia:
		src := &e
		if e.Media != nil {
			src = e.Media
		}
		return jules.MediaArtifact{ID: src.ID, MimeType: src.MimeType, Format: src.Format, Data: src.Data}, nil
	case jules.ArtifactBashOutput:
		src := &e
		if e.BashOutput != nil {
			src = e.BashOutput
		}
		return jules.BashOutputArtifact{Command: src.Command, Stdout: src.Stdout, Stderr: src.Stderr, ExitCode: src.ExitCode}, nil
	case jules.ArtifactChangeSet:
		src := &e
		if e.ChangeSet != nil {
			src = e.ChangeSet
		}
		return jules.ChangeSetArtifact{SourceLabel: src.SourceLabel, Patch: src.Patch, BaseCommit: src.BaseCommit, SuggestedMessage: src.SuggestedMessage}, nil
	default:
		// Pass unrecognised kinds through unchanged rather than failing the
		// whole activity: a newer agent API artifact kind must not break
		// rehydration of an otherwise-fine cached activity.
		raw := append(json.RawMessage(nil), msg...)
		return jules.UnknownArtifact{RawKind: e.Kind, Raw: raw}, nil
	}
}

var unidiffHunkHeader = regexp.MustCompile(`^diff --git a/(\S+) b/(\S+)`)

// ParseDiffs parses a ChangeSetArtifact's unidiff patch into per-file
// FileDiff summaries. Cheap enough to call on demand; callers that need it
// repeatedly should cache the result themselves.
func ParseDiffs(c jules.ChangeSetArtifact) []jules.FileDiff {
	var diffs []jules.FileDiff
	var current *jules.FileDiff
	for _, line := range strings.Split(c.Patch, "\n") {
		if m := unidiffHunkHeader.FindStringSubmatch(line); m != nil {
			if current != nil {
				diffs = append(diffs, *current)
			}
			current = &jules.FileDiff{Path: m[2], ChangeType: jules.ChangeModified}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "new file mode"):
			current.ChangeType = jules.ChangeCreated
		case strings.HasPrefix(line, "deleted file mode"):
			current.ChangeType = jules.ChangeDeleted
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			current.Additions++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			current.Deletions++
		}
	}
	if current != nil {
		diffs = append(diffs, *current)
	}
	return diffs
}
