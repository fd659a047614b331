package types

// Event is a typed record emitted during router state transitions. Events are
// the only externally durable audit trail: one event per state change, with
// before/after values carried in the attributes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
