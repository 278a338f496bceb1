// Package jules provides a client SDK for a remote coding-agent service: a
// small set of resources (sessions, activities) reachable over a retrying
// HTTP transport, backed by a write-through local cache, with a query
// engine for composing read-only views over that cache and a fleet
// orchestration layer (analyze/dispatch/merge) built on top of a
// GitHub-shaped repository forge.
//
// Construction goes through internal/julesclient.New(Config); this package
// only defines the shapes callers program against.
package jules
