// Package buffer provides a generic, bounded, thread-safe circular buffer.
//
// The buffer backs every bounded history in trafficstreams: a subscription's event log
// (capacity MaxEvents, default 100) and each aggregation entry's value history
// (capacity 10). Both use the default DropOldest policy, so the newest item always fits
// and the oldest is evicted first:
//
//	log, _ := buffer.NewCircularBuffer[event.Event](100,
//	    buffer.WithMetrics[event.Event](registry, "subscription_events"))
//	_ = log.Write(ev)
//	recent := log.Items() // oldest first, non-destructive
//
// Statistics (writes, reads, drops, high-water mark) are always collected. WithMetrics
// additionally exports them as trafficstreams_buffer_* metrics labelled with the prefix.
package buffer
