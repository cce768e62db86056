// Package model defines the shared data types of the feed client.
//
// Conventions:
//   - IDs: opaque strings assigned by the backend (never parsed)
//   - Timestamps: time.Time in UTC, decoded from RFC 3339 strings
//   - Payload: the upstream row verbatim, as raw JSON
package model
