// Package history implements the history binding (spec.md §4.G): a
// thin mediator between the navigation controller and the browser's
// history primitive, using a "spf-timestamp" stamp on every entry to
// classify pop events as back or forward.
package history

import (
	"time"
)

// State is the opaque per-entry payload the host attaches to history
// entries; SPF only reads/writes the Timestamp field it owns.
type State map[string]any

const timestampKey = "spf-timestamp"

// Primitive is the external collaborator this package wraps: the
// browser's History API (or an equivalent a host supplies).
type Primitive interface {
	// PushState records url as a new entry, carrying state.
	PushState(url string, state State)
	// ReplaceState overwrites the current entry with url and state.
	ReplaceState(url string, state State)
	// URL returns the document's current location.
	URL() string
}

// PopEvent is what a host delivers to Binding.HandlePop when the
// browser (or an equivalent) fires a pop notification.
type PopEvent struct {
	URL   string
	State State
	// HasState is false for the pop fired by the initial page load,
	// which carries no SPF state (spec.md §4.G: "if the event carries
	// no state, ignore").
	HasState bool
}

// Callback is invoked once per classified pop, with back=true for a
// backward navigation and false for forward.
type Callback func(url string, state State, back bool)

// Binding mediates Primitive, stamping every entry with a timestamp
// and classifying pop events by comparing stamps.
type Binding struct {
	prim      Primitive
	onPop     Callback
	storedURL string
	storedTS  int64
	now       func() time.Time
}

// New constructs a Binding and records the current URL as a
// replace-state entry, per spec.md §4.G's initialization step.
func New(prim Primitive, onPop Callback) *Binding {
	return newWithClock(prim, onPop, time.Now)
}

func newWithClock(prim Primitive, onPop Callback, now func() time.Time) *Binding {
	b := &Binding{prim: prim, onPop: onPop, now: now}
	ts := now().UnixNano()
	b.storedURL = prim.URL()
	b.storedTS = ts
	prim.ReplaceState(b.storedURL, State{timestampKey: ts})
	return b
}

// Add pushes a new history entry for url, stamping it with the current
// time.
func (b *Binding) Add(url string, state State) {
	ts := b.now().UnixNano()
	merged := mergeState(state, ts)
	b.prim.PushState(url, merged)
	b.storedURL = url
	b.storedTS = ts
}

// Replace overwrites the current history entry with url, stamping it
// with the current time.
func (b *Binding) Replace(url string, state State) {
	ts := b.now().UnixNano()
	merged := mergeState(state, ts)
	b.prim.ReplaceState(url, merged)
	b.storedURL = url
	b.storedTS = ts
}

func mergeState(state State, ts int64) State {
	merged := make(State, len(state)+1)
	for k, v := range state {
		merged[k] = v
	}
	merged[timestampKey] = ts
	return merged
}

// HandlePop implements spec.md §4.G's pop classification: an event
// with no state is ignored (the initial load's pop); an unchanged URL
// re-applies the same state; otherwise the incoming timestamp is
// compared against the stored one to classify back vs forward, the
// incoming timestamp becomes the new stored one, and onPop fires.
func (b *Binding) HandlePop(ev PopEvent) {
	if !ev.HasState {
		return
	}
	if ev.URL == b.storedURL {
		if b.onPop != nil {
			b.onPop(ev.URL, ev.State, false)
		}
		return
	}

	incoming, _ := ev.State[timestampKey].(int64)
	back := incoming < b.storedTS

	b.storedURL = ev.URL
	b.storedTS = incoming

	if b.onPop != nil {
		b.onPop(ev.URL, ev.State, back)
	}
}
