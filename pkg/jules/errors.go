package jules

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrorKind is the closed taxonomy of failure modes this SDK surfaces
// (spec.md section 7). It is a kind, not a type name: most of these are
// carried by the single *Error wrapper below; a few (the ones a caller is
// expected to branch on with errors.Is, not just log) are also exposed as
// package-level sentinels, mirroring capi.ErrNotFound/capi.ErrForbidden.
type ErrorKind string

const (
	KindMissingCredentials       ErrorKind = "missing_credentials"
	KindNetwork                  ErrorKind = "network"
	KindAuthentication            ErrorKind = "authentication"
	KindRateLimitExhausted        ErrorKind = "rate_limit_exhausted"
	KindAPI                       ErrorKind = "api"
	KindTimeout                   ErrorKind = "timeout"
	KindInvalidState              ErrorKind = "invalid_state"
	KindSessionEndedBeforeReply    ErrorKind = "session_ended_before_reply"
	KindAutomatedSessionFailed     ErrorKind = "automated_session_failed"
	KindSourceNotFound             ErrorKind = "source_not_found"
	KindGoalNotFound               ErrorKind = "goal_not_found"
	KindFileCommitFailed           ErrorKind = "file_commit_failed"
	KindBranchCreateFailed         ErrorKind = "branch_create_failed"
	KindPRCreateFailed             ErrorKind = "pr_create_failed"
	KindMergeFailed                ErrorKind = "merge_failed"
	KindRedispatchFailed           ErrorKind = "redispatch_failed"
	KindScopeNotFound              ErrorKind = "scope_not_found"
	KindMilestoneNotFound          ErrorKind = "milestone_not_found"
	KindIssueNotFound              ErrorKind = "issue_not_found"
	KindGitHubAPIError             ErrorKind = "github_api_error"
	KindCancelled                  ErrorKind = "cancelled"
	KindUnknown                    ErrorKind = "unknown"
)

// Error is the wrapped-error case of the taxonomy: it carries a Kind, a
// human message, an optional underlying Cause, and (for anything that
// originated as an HTTP call) a URL already stripped of query and
// fragment per spec.md section 6's "Error URL sanitisation" rule.
type Error struct {
	Kind         ErrorKind
	Message      string
	Cause        error
	SanitizedURL string
}

func (e *Error) Error() string {
	if e.SanitizedURL != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.SanitizedURL)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: KindX}) match on Kind alone,
// ignoring Message/Cause/SanitizedURL.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError is the single constructor every error site in this module
// should go through, so SanitizeURL is never forgotten (spec.md section 9:
// "Centralise in one helper; every error constructor MUST call it.").
func NewError(kind ErrorKind, message string, cause error, rawURL string) *Error {
	return &Error{
		Kind:         kind,
		Message:      message,
		Cause:        cause,
		SanitizedURL: SanitizeURL(rawURL),
	}
}

// SanitizeURL strips query string and fragment from rawURL. It tolerates
// unparsable input by falling back to stripping everything from the first
// '?' or '#' textually, so a malformed URL never leaks a token embedded
// in a query parameter.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if u, err := url.Parse(rawURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		return u.String()
	}
	for i, c := range rawURL {
		if c == '?' || c == '#' {
			return rawURL[:i]
		}
	}
	return rawURL
}

// Sentinel errors for cases callers are expected to branch on directly
// with errors.Is, mirroring capi's package-level Err* sentinels.
var (
	ErrMissingCredentials = &Error{Kind: KindMissingCredentials, Message: "API key is required"}
	ErrInvalidState       = &Error{Kind: KindInvalidState, Message: "operation not valid in current session state"}
	ErrSessionEnded       = &Error{Kind: KindSessionEndedBeforeReply, Message: "session ended before agent replied"}
	ErrScopeNotFound      = &Error{Kind: KindScopeNotFound, Message: "scope did not match any open milestone"}
	ErrNoMoreItems        = errors.New("no more items")
)

// IsKind reports whether err (or something it wraps) carries the given
// ErrorKind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsAuthError reports an authentication failure (401/403).
func IsAuthError(err error) bool { return IsKind(err, KindAuthentication) }

// IsNotFoundError is a convenience used by fleet handlers that treat
// issue/milestone/PR-not-found as a distinct, often recoverable, case.
func IsNotFoundError(err error) bool {
	return IsKind(err, KindIssueNotFound) || IsKind(err, KindMilestoneNotFound) || IsKind(err, KindSourceNotFound)
}
