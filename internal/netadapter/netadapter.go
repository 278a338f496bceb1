// Package netadapter wraps the Agent API's raw wire shapes: session and
// activity endpoints, state normalisation, and the short retry applied to
// a transient 404 immediately after session creation (spec.md section 4.5).
package netadapter

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/httpclient"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Adapter talks to the Agent API's sessions/activities resources over an
// httpclient.Client.
type Adapter struct {
	http *httpclient.Client
	fs   platform.Adapter
}

func New(http *httpclient.Client, fs platform.Adapter) *Adapter {
	return &Adapter{http: http, fs: fs}
}

// wireSession is the on-the-wire session shape; state arrives
// SCREAMING_SNAKE_CASE and is normalised to jules.SessionState on decode.
type wireSession struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Title              string          `json:"title"`
	Prompt             string          `json:"prompt"`
	Source             jules.Source    `json:"source"`
	SourceContextLabel string          `json:"sourceContextLabel"`
	URL                string          `json:"url"`
	State              string          `json:"state"`
	CreateTime         time.Time       `json:"createTime"`
	UpdateTime         time.Time       `json:"updateTime"`
	Outputs            []jules.Output  `json:"outputs"`
}

func (w wireSession) toSession() jules.Session {
	return jules.Session{
		ID: w.ID, Name: w.Name, Title: w.Title, Prompt: w.Prompt,
		Source: w.Source, SourceContextLabel: w.SourceContextLabel, URL: w.URL,
		State:      normalizeState(w.State),
		CreateTime: w.CreateTime, UpdateTime: w.UpdateTime, Outputs: w.Outputs,
	}
}

// normalizeState converts SCREAMING_SNAKE_CASE wire states to the SDK's
// camelCase jules.SessionState, falling back to the lowercased raw value
// for anything unrecognized so a newly-added server-side state doesn't
// fail decoding (spec.md section 4.5.1).
func normalizeState(raw string) jules.SessionState {
	switch strings.ToUpper(raw) {
	case "QUEUED":
		return jules.StateQueued
	case "PLANNING":
		return jules.StatePlanning
	case "IN_PROGRESS":
		return jules.StateInProgress
	case "AWAITING_PLAN_APPROVAL":
		return jules.StateAwaitingPlanApproval
	case "AWAITING_USER_FEEDBACK":
		return jules.StateAwaitingUserFeedback
	case "PAUSED":
		return jules.StatePaused
	case "COMPLETED":
		return jules.StateCompleted
	case "FAILED":
		return jules.StateFailed
	case "", "STATE_UNSPECIFIED":
		return jules.StateUnspecified
	default:
		return jules.SessionState(strings.ToLower(raw))
	}
}

// CreateSession posts a new session.
func (a *Adapter) CreateSession(ctx context.Context, cfg jules.RunConfig) (jules.Session, error) {
	automationMode := "AUTOMATION_MODE_UNSPECIFIED"
	if cfg.AutoCreatePR {
		automationMode = "AUTO_CREATE_PR"
	}
	resp, err := a.http.Post(ctx, "/sessions", map[string]interface{}{
		"prompt": cfg.Prompt,
		"title":  cfg.Title,
		"sourceContext": map[string]interface{}{
			"source": cfg.Source,
		},
		"requirePlanApproval": cfg.RequirePlanApproval,
		"automationMode":      automationMode,
	})
	if err != nil {
		return jules.Session{}, err
	}
	var w wireSession
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return jules.Session{}, jules.NewError(jules.KindAPI, "decoding session", err, "")
	}
	return w.toSession(), nil
}

// GetSession fetches a session, retrying a transient 404 a few times
// (constants.CreateConsistencyRetries) since the Agent API's read path can
// lag just-created sessions.
func (a *Adapter) GetSession(ctx context.Context, id string) (jules.Session, error) {
	var lastErr error
	delay := constants.CreateConsistencyBaseDelay
	for attempt := 0; attempt <= constants.CreateConsistencyRetries; attempt++ {
		resp, err := a.http.Get(ctx, "/sessions/"+id, nil)
		if err == nil {
			var w wireSession
			if derr := json.Unmarshal(resp.Body, &w); derr != nil {
				return jules.Session{}, jules.NewError(jules.KindAPI, "decoding session", derr, "")
			}
			return w.toSession(), nil
		}
		lastErr = err
		if resp == nil || resp.StatusCode != 404 {
			return jules.Session{}, err
		}
		if attempt == constants.CreateConsistencyRetries {
			break
		}
		if err := a.fs.Sleep(ctx, delay); err != nil {
			return jules.Session{}, err
		}
		delay *= 2
	}
	return jules.Session{}, jules.NewError(jules.KindSourceNotFound, "session not found after creation-consistency retries", lastErr, "")
}

// ApproveSession approves the pending plan.
func (a *Adapter) ApproveSession(ctx context.Context, id string) error {
	_, err := a.http.Post(ctx, "/sessions/"+id+":approvePlan", nil)
	return err
}

// SendMessage posts a user message to a session.
func (a *Adapter) SendMessage(ctx context.Context, id, message string) error {
	_, err := a.http.Post(ctx, "/sessions/"+id+":sendMessage", map[string]string{"prompt": message})
	return err
}

// wireActivity is the on-the-wire activity shape.
type wireActivity struct {
	ID         string                 `json:"id"`
	CreateTime time.Time              `json:"createTime"`
	Originator string                 `json:"originator"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	Artifacts  []json.RawMessage      `json:"artifacts"`
}

// ListActivities returns a page of activities after cursor (empty for the
// first page), ordered oldest-first. filter is passed through verbatim as
// the Agent API's `filter` query parameter (e.g. `createTime>"..."`, spec.md
// section 6); empty filter means no time bound.
func (a *Adapter) ListActivities(ctx context.Context, sessionID, cursor, filter string, pageSize int) ([]jules.Activity, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("pageToken", cursor)
	}
	if filter != "" {
		q.Set("filter", filter)
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	resp, err := a.http.Get(ctx, "/sessions/"+sessionID+"/activities", q)
	if err != nil {
		return nil, "", err
	}
	var page struct {
		Activities    []wireActivity `json:"activities"`
		NextPageToken string         `json:"nextPageToken"`
	}
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, "", jules.NewError(jules.KindAPI, "decoding activity page", err, "")
	}
	out := make([]jules.Activity, 0, len(page.Activities))
	for _, w := range page.Activities {
		act := jules.Activity{
			ID: w.ID, CreateTime: w.CreateTime,
			Originator: jules.Originator(strings.ToLower(w.Originator)),
			Type:       jules.ActivityType(w.Type),
			Payload:    w.Payload,
		}
		if len(w.Artifacts) > 0 {
			act.Payload = clonePayload(act.Payload)
			act.Payload[RawArtifactsKey] = w.Artifacts
		}
		out = append(out, act)
	}
	return out, page.NextPageToken, nil
}

// RawArtifactsKey stashes an activity's undecoded artifact JSON on Payload
// so internal/activityclient's rehydration decoder can run independently
// of the wire-shape this package owns, without a circular import.
const RawArtifactsKey = "_rawArtifacts"

func clonePayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RawStream polls ListActivities between constants.DefaultPollingInterval
// until ctx is cancelled, writing every newly observed activity (by ID, not
// yet deduplicated against any local store) to out.
func (a *Adapter) RawStream(ctx context.Context, sessionID string) (<-chan jules.Activity, <-chan error) {
	out := make(chan jules.Activity)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		seen := map[string]bool{}
		cursor := ""
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			activities, next, err := a.ListActivities(ctx, sessionID, cursor, "", 0)
			if err != nil {
				errs <- err
				return
			}
			for _, act := range activities {
				if seen[act.ID] {
					continue
				}
				seen[act.ID] = true
				select {
				case out <- act:
				case <-ctx.Done():
					return
				}
			}
			if next != "" {
				cursor = next
				continue
			}
			if err := a.fs.Sleep(ctx, constants.DefaultPollingInterval); err != nil {
				return
			}
		}
	}()

	return out, errs
}
