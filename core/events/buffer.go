package events

import "p2plend/core/types"

// Buffer collects emitted events until the surrounding operation decides
// whether to publish or discard them.
type Buffer struct {
	events []types.Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	rendered := Render(evt)
	if rendered == nil {
		return
	}
	b.events = append(b.events, *rendered)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []types.Event {
	out := b.events
	b.events = nil
	return out
}

// Discard drops all buffered events.
func (b *Buffer) Discard() { b.events = nil }
