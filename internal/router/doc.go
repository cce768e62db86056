// Package router turns raw upstream payloads into model.Items and queues them.
//
// Inputs:
//   - REST rows (arrays under the resource key)
//   - Push-socket envelopes {"op": ..., "d": {...}}
//   - Change-feed notifications {"table": ..., "type": ..., "record": {...}}
//
// Anything malformed becomes a *DecodeError; callers drop it at their boundary.
// Queue is the unbounded FIFO the feed uses as its single apply point.
package router
