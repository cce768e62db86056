// Package poller implements the fetch-only fallback.
//
// While every push source is down, the Poller refetches the newest pages of a
// parent on a fixed interval and hands them to the feed like any other page,
// so items keep arriving until a push source reconnects.
package poller
