// Package retry provides retry policies for trafficstreams.
//
// Two shapes of retry are covered:
//
//   - Do and DoWithResult retry a single bounded operation (for example fetching a
//     snapshot baseline) with exponential backoff, stopping early on NonRetryable errors
//     or context cancellation.
//   - Schedule describes reconnects of a long-lived stream. It does not sleep; the
//     connection manager asks it for the next delay and arms its own timer so that the
//     retry lands in the connection's signal queue.
//
// Reconnects default to a fixed interval with unlimited attempts:
//
//	s := retry.FixedSchedule(3*time.Second, 0)
//	if delay, ok := s.Next(conn.retries); ok {
//	    time.AfterFunc(delay, postRetry)
//	}
package retry
