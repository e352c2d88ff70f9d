// Package scan defines the domain types shared by every skinscan package.
//
// This package contains type definitions and small helpers only. All other
// internal packages import scan; scan imports nothing internal.
//
// Key constraints:
//   - A Record is insert-only. Nothing in this module updates or deletes one.
//   - Record.Label is always a member of the configured LabelSet.
//   - Record.Confidence is always within [0.0, 1.0].
//   - Record.Timestamp is assigned by the ingestion coordinator, never by a client.
package scan
