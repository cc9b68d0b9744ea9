// Package subscription is the per-view face of the stream connection manager.
//
// A Subscription registers one subscriber id on one stream URL, classifies every
// delivered message and keeps the most recent events in a bounded log (100 by
// default, oldest dropped first). Handshakes are dropped silently and unrecognized
// payloads are only counted.
//
// State returns a View snapshot: whether the stream is open, the event log oldest
// first, the last error message and how many times the stream has opened.
//
// Disconnect and Close revoke the registration before returning. Callbacks already
// queued for a revoked registration are discarded, so a view never sees events after
// it let go. The event log survives Disconnect; ClearEvents empties it.
//
//	sub, err := subscription.New(manager, subscription.Options{
//	    URL:         "/stream/traffic",
//	    AutoConnect: true,
//	    OnEvent:     func(ev event.Event) { agg.Fold(ev, nil) },
//	})
//	defer sub.Close()
package subscription
