package types

// Event is the flattened form of a lifecycle notification handed to emitters.
// Attributes are string-encoded so downstream consumers never need the
// originating package's types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
