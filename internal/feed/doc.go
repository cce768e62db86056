// Package feed wires one fetcher, its push ingestors and a merge store for a
// single parent.
//
// Every completion (fetched page, polled page, pushed item, local post) is
// queued and applied to the store by one goroutine, which is the only writer.
// Stop cancels in-flight work; nothing is applied once cancellation has been
// observed.
//
// When every ingestor has been down for DegradeAfter, the feed switches to a
// fetch-only fallback that refetches the newest page every PollInterval until
// any ingestor reconnects.
package feed
