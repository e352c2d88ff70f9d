// Package api exposes ingest, history and stats over HTTP with gin.
//
// Every route is served at the root and again under /api/predict, the
// prefix existing mobile clients use. Errors are returned as
// {"detail": "...", "kind": "..."} with 400 for invalid input, 404 for
// unknown resources and 500 for classification, storage and invariant
// failures, so callers can tell which stage failed.
package api
