// Package snapshot supplies periodic request/response baselines for the dashboard
// totals that live stream deltas are merged onto.
//
// A Source fetches one Baseline. HTTPSource is the reference implementation: a JSON GET
// retried with pkg/retry, where 5xx and 429 responses are retried and other non-2xx
// responses fail immediately.
//
// A Poller refreshes every registered source on an interval, concurrently, and keeps
// the latest baseline of each in a TTL cache. A baseline older than MaxAge is stale and
// Latest stops returning it, so consumers never merge outdated totals. Listeners
// registered with OnBaseline receive each fresh baseline, typically to feed
// aggregate.Totals.ApplySnapshot.
package snapshot
