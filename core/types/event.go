package types

// Event is the rendered form of a ledger event as journaled, streamed and
// returned over RPC. Attribute values are strings; amounts use decimal.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute stored under key, or "" when absent.
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}
