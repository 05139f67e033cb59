package realtime

import "github.com/mwhartley/execution-core/events"

// Handler adapts a Broadcaster into an events.Handler, so it can be
// registered on an events.Registry via OnAny. Broadcasting happens in its
// own goroutine per event so a stalled websocket client never blocks the
// engine's emit call.
func Handler(b *Broadcaster) events.Handler {
	return func(e events.Event) {
		go b.Broadcast(string(e.Kind), e.Fields)
	}
}
