// Package connection keeps one authenticated push-socket connection alive.
//
// Client wraps a single gorilla websocket: bearer-token handshake, read loop,
// heartbeat pings and stale detection. Manager owns a Client for its whole
// lifetime: it dials, runs an on-connect hook (the join message), forwards
// frames, and redials with exponential backoff whenever the connection drops.
package connection
