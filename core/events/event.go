package events

// Event is a structured state change emitted by the payment protocol. The
// attribute map carries the business payload in a transport-neutral form so
// webhooks and indexers can consume it without decoding records.
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType returns the canonical event type string.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// Emitter broadcasts events to downstream subscribers (gateway webhooks,
// indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default when a component does not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

type multiEmitter []Emitter

func (m multiEmitter) Emit(event *Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(event)
		}
	}
}

// Multi fans an event out to every supplied emitter in order.
func Multi(emitters ...Emitter) Emitter {
	filtered := make(multiEmitter, 0, len(emitters))
	for _, emitter := range emitters {
		if emitter != nil {
			filtered = append(filtered, emitter)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return filtered
}
