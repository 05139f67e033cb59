package events

import "github.com/rs/zerolog/log"

// LoggingSink emits every event as a structured zerolog line. cmd/engine
// registers it alongside the websocket broadcast, so every action is logged
// regardless of what else consumes it.
type LoggingSink struct{}

// Emit logs the event at info level, with kind and fields flattened into
// structured log attributes.
func (LoggingSink) Emit(e Event) {
	evt := log.Info().Str("event", string(e.Kind)).Time("ts", e.Timestamp)
	for k, v := range e.Fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg("engine event")
}

// MultiSink fans an event out to several sinks, e.g. logging + websocket
// broadcast + audit ledger, all from a single emit call site.
type MultiSink []Sink

// Emit forwards e to every sink in order.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
