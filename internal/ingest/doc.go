// Package ingest turns push sources into Items for one parent.
//
// Two ingestors exist: Socket, which joins the parent's room on the push
// socket, and ChangeFeed, which LISTENs for row inserts in Postgres. Both
// reconnect with exponential backoff, drop malformed payloads at the boundary
// and never report failures upward beyond their connected state.
package ingest
