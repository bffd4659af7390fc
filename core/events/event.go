package events

// Event is a structured notification describing a single state transition.
type Event interface {
	EventType() string
}

// Emitter forwards events to downstream subscribers (indexers, audit sinks).
// Implementations must not block the caller.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Engines default
// to it so event emission stays strictly optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
