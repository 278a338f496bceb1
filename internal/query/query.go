// Package query evaluates jules.Query against the local cache: dot-path
// existential filtering, projection, cross-domain includes, ordering, and
// cursor pagination (spec.md section 4.9).
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jules-labs/fleet/internal/activityclient"
	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Engine evaluates queries over the stores it's bound to.
type Engine struct {
	sessions   store.SessionStore
	activities store.ActivityStore
}

func New(sessions store.SessionStore, activities store.ActivityStore) *Engine {
	return &Engine{sessions: sessions, activities: activities}
}

// row is the internal working representation before projection: a session
// or activity plus whatever fields match(...) needs to evaluate Where.
type row struct {
	id      string
	sortKey string
	fields  map[string]interface{}
}

// Run evaluates q and returns a projected, ordered, paginated QueryResult.
func (e *Engine) Run(ctx context.Context, q jules.Query) (jules.QueryResult, error) {
	var rows []row
	var err error
	switch q.Domain {
	case jules.DomainSessions:
		rows, err = e.scanSessions(ctx, q)
	case jules.DomainActivities:
		rows, err = e.scanActivities(ctx, q)
	default:
		return jules.QueryResult{}, jules.NewError(jules.KindInvalidState, "unknown query domain: "+string(q.Domain), nil, "")
	}
	if err != nil {
		return jules.QueryResult{}, err
	}

	filtered := rows[:0]
	for _, r := range rows {
		if matchAll(r.fields, q.Where) {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "_sortKey"
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := sortValue(rows[i], orderBy), sortValue(rows[j], orderBy)
		if a == b {
			return rows[i].id < rows[j].id // tie-break lexicographic on id
		}
		if q.Desc {
			return a > b
		}
		return a < b
	})

	rows = applyCursor(rows, q)

	hasMore := false
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
		hasMore = true
	}

	sel := resolveSelect(q)
	result := jules.QueryResult{HasMore: hasMore}
	for _, r := range rows {
		result.Rows = append(result.Rows, project(r.fields, sel))
	}
	if len(rows) > 0 {
		result.NextCursor = rows[len(rows)-1].id
	}
	return result, nil
}

func sortValue(r row, field string) string {
	if field == "_sortKey" {
		return r.sortKey
	}
	v, ok := dotGet(r.fields, field)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// applyCursor drops rows before StartAt (keeping the StartAt row), or up to
// and including StartAfter.
func applyCursor(rows []row, q jules.Query) []row {
	cursor := q.StartAt
	inclusive := true
	if q.StartAfter != "" {
		cursor = q.StartAfter
		inclusive = false
	}
	if cursor == "" {
		return rows
	}
	for i, r := range rows {
		if r.id == cursor {
			if inclusive {
				return rows[i:]
			}
			return rows[i+1:]
		}
	}
	return nil
}

func (e *Engine) scanSessions(ctx context.Context, q jules.Query) ([]row, error) {
	index, err := e.sessions.ScanIndex(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(index))
	for _, entry := range index {
		session, ok, err := e.sessions.Get(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		fields := sessionFields(session)
		if q.Include.Activities {
			counts, err := e.activityCounts(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			fields["activities"] = counts
		}
		rows = append(rows, row{id: session.ID, sortKey: session.CreateTime.Format("20060102150405.000000000"), fields: fields})
	}
	return rows, nil
}

func (e *Engine) scanActivities(ctx context.Context, q jules.Query) ([]row, error) {
	index, err := e.sessions.ScanIndex(ctx)
	if err != nil {
		return nil, err
	}
	var rows []row
	for _, entry := range index {
		activities, err := e.activities.All(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range activities {
			decoded, err := activityclient.Rehydrate(a)
			if err != nil {
				return nil, err
			}
			fields := activityFields(decoded)
			fields["sessionId"] = entry.ID
			if q.Include.Session {
				session, ok, err := e.sessions.Get(ctx, entry.ID)
				if err == nil && ok {
					fields["session"] = sessionFields(session)
				}
			}
			rows = append(rows, row{id: decoded.ID, sortKey: decoded.CreateTime.Format("20060102150405.000000000"), fields: fields})
		}
	}
	return rows, nil
}

func (e *Engine) activityCounts(ctx context.Context, sessionID string) (jules.ActivityCounts, error) {
	activities, err := e.activities.All(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	counts := jules.ActivityCounts{}
	for _, a := range activities {
		counts[a.Type]++
	}
	return counts, nil
}

func sessionFields(s jules.Session) map[string]interface{} {
	var durationMs int64
	if !s.CreateTime.IsZero() && !s.UpdateTime.IsZero() {
		durationMs = s.UpdateTime.Sub(s.CreateTime).Milliseconds()
	}
	return map[string]interface{}{
		"id":         s.ID,
		"title":      s.Title,
		"prompt":     truncate(s.Prompt, constants.SummaryMaxLength),
		"state":      string(s.State),
		"source":     s.Source,
		"createTime": s.CreateTime,
		"updateTime": s.UpdateTime,
		"outputs":    s.Outputs,
		"url":        s.URL,
		"durationMs": durationMs,
	}
}

// sessionDefaultSelect is applied when Query.Select is nil (spec.md section
// 4.9: "Zero-value Select means default projection for Domain").
func sessionDefaultSelect() []string {
	return []string{"id", "title", "state", "createTime", "updateTime", "url", "durationMs"}
}

func activityFields(a jules.Activity) map[string]interface{} {
	fields := map[string]interface{}{
		"id":            a.ID,
		"type":          string(a.Type),
		"originator":    string(a.Originator),
		"createTime":    a.CreateTime,
		"artifactCount": len(a.Artifacts),
		"summary":       summarizeActivity(a),
	}
	if len(a.Artifacts) > 0 {
		fields["artifacts"] = a.Artifacts
	}
	for k, v := range a.Payload {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	return fields
}

// activityDefaultSelect is applied when Query.Select is nil.
func activityDefaultSelect() []string {
	return []string{"id", "createTime", "originator", "type", "summary", "artifactCount"}
}

// summarizeActivity derives a short human-readable label for an activity,
// used as the "summary" computed field in the default projection.
func summarizeActivity(a jules.Activity) string {
	var s string
	switch a.Type {
	case jules.ActivityUserMessaged, jules.ActivityAgentMessaged:
		if m, ok := a.Payload["message"].(string); ok {
			s = m
		}
	case jules.ActivityProgressUpdated:
		if m, ok := a.Payload["progress"].(string); ok {
			s = m
		}
	}
	if s == "" {
		s = string(a.Type)
	}
	return truncate(s, constants.SummaryMaxLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// dotGet resolves a dot path against nested maps/structs represented as
// map[string]interface{}. It does not descend into arrays: a path that
// crosses one resolves to no value. Arrays are matched existentially by
// matchPath instead: any element satisfying the remaining path counts as a
// hit (spec.md section 4.9.1).
func dotGet(fields map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = fields
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchAll(fields map[string]interface{}, clauses []jules.WhereClause) bool {
	for _, clause := range clauses {
		if !matchOne(fields, clause) {
			return false
		}
	}
	return true
}

func matchOne(fields map[string]interface{}, clause jules.WhereClause) bool {
	parts := strings.Split(clause.Path, ".")
	return matchPath(fields, parts, clause)
}

// matchPath walks parts, and when it encounters a slice mid-path, matches
// existentially: the clause is satisfied if ANY element of the array
// satisfies the remaining path.
func matchPath(node interface{}, parts []string, clause jules.WhereClause) bool {
	if len(parts) == 0 {
		return compare(node, clause.Op, clause.Value)
	}
	switch v := node.(type) {
	case map[string]interface{}:
		next, ok := v[parts[0]]
		if !ok {
			return clause.Op == jules.OpExists && toBool(clause.Value) == false
		}
		return matchPath(next, parts[1:], clause)
	case []interface{}:
		for _, elem := range v {
			if matchPath(elem, parts, clause) {
				return true
			}
		}
		return false
	case []jules.Activity:
		for _, elem := range v {
			if matchPath(activityFields(elem), parts, clause) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func compare(actual interface{}, op jules.Op, expected interface{}) bool {
	switch op {
	case jules.OpExists:
		return (actual != nil) == toBool(expected)
	case jules.OpEq:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
	case jules.OpNeq:
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected)
	case jules.OpContains:
		return strings.Contains(strings.ToLower(fmt.Sprintf("%v", actual)), strings.ToLower(fmt.Sprintf("%v", expected)))
	case jules.OpIn:
		values, ok := expected.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			if fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", v) {
				return true
			}
		}
		return false
	case jules.OpGt, jules.OpGte, jules.OpLt, jules.OpLte:
		a, aok := asFloat(actual)
		b, bok := asFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case jules.OpGt:
			return a > b
		case jules.OpGte:
			return a >= b
		case jules.OpLt:
			return a < b
		default:
			return a <= b
		}
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// resolveSelect turns Query.Select into the concrete field list project
// uses. A nil Select (never set by the caller) applies the domain's fixed
// default projection, augmented with "activities"/"session" when the
// matching Include flag pulled in a cross-domain join. An explicit empty
// slice ([]string{}) is the caller asking for the full document,
// equivalent to "*" (spec.md section 4.9: "Zero-value Select means default
// projection for Domain").
func resolveSelect(q jules.Query) []string {
	if q.Select == nil {
		var sel []string
		switch q.Domain {
		case jules.DomainActivities:
			sel = append(sel, activityDefaultSelect()...)
		default:
			sel = append(sel, sessionDefaultSelect()...)
		}
		if q.Include.Activities {
			sel = append(sel, "activities")
		}
		if q.Include.Session {
			sel = append(sel, "session")
		}
		return sel
	}
	if len(q.Select) == 0 {
		return []string{"*"}
	}
	return q.Select
}

// project applies sel to fields: "*" keeps everything, "-field" excludes
// one field from an otherwise-full projection, a plain name keeps just
// that field, and "field as alias" renames it on output.
func project(fields map[string]interface{}, sel []string) jules.Row {
	out := jules.Row{}
	wildcard := false
	excludes := map[string]bool{}
	for _, s := range sel {
		if s == "*" {
			wildcard = true
			continue
		}
		if strings.HasPrefix(s, "-") {
			excludes[strings.TrimPrefix(s, "-")] = true
			continue
		}
		if idx := strings.Index(s, " as "); idx >= 0 {
			field := strings.TrimSpace(s[:idx])
			alias := strings.TrimSpace(s[idx+4:])
			if v, ok := dotGet(fields, field); ok {
				out[alias] = v
			}
			continue
		}
		if v, ok := dotGet(fields, s); ok {
			out[s] = v
		}
	}

	if wildcard {
		for k, v := range fields {
			if excludes[k] {
				continue
			}
			out[k] = v
		}
	}
	return out
}
