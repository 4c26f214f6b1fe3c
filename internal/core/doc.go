// Package core provides the fetch, flatten and load pipeline for mirrored feeds.
//
// It has no CLI dependencies and can be driven by any frontend or by tests.
//
// # Pipeline
//
// Each configured source runs one pipeline:
//
//  1. [Fetcher.Fetch] retrieves the document with a bounded timeout
//  2. [ParseDocument] checks header/name and flattens every row element
//  3. [Loader.Replace] drops, recreates and fills the source's table in one transaction
//
// Any fetch or document failure triggers drop-on-error: the table is removed
// so consumers never read data from a stale or foreign feed.
//
// # Concurrency
//
// [Service.Run] starts every pipeline at once and waits for all of them.
// Fetching and parsing run in parallel; every database statement goes through
// [Store.Exclusive] so pipelines never interleave on the shared connection.
// [Slots] caps how many pipelines run at a time; waiting is bounded only by
// the run context.
//
// # Errors
//
// Errors wrap the sentinels in error_messages.go and are classified by
// [MapError] into stable codes used in logs and the run history.
package core
