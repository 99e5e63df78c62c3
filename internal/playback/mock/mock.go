// Package mock provides an in-memory mock implementation of
// [playback.Handle] for use in unit tests.
//
// The mock records every method call and lets the test configure return
// values via exported fields. The [Handle.Factory] method yields a
// constructor suitable for [playback.BinderConfig.NewHandle] that captures
// the event sink, so tests can fire ready/ended/error events by hand.
// It is safe for concurrent use.
package mock

import (
	"sync"

	"github.com/perchkit/perch/internal/playback"
)

// Compile-time interface assertion.
var _ playback.Handle = (*Handle)(nil)

// Handle is a mock implementation of [playback.Handle].
type Handle struct {
	mu sync.Mutex

	// PlayError is returned by [Handle.Play].
	PlayError error

	// Events holds the event sink captured by [Handle.Factory]. Tests call
	// its fields directly to simulate backend events.
	Events playback.Events

	// LoadCalls records the URLs passed to Load, in order.
	LoadCalls []string

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountSeekStart records how many times SeekStart was called.
	CallCountSeekStart int
}

// Factory returns a constructor for [playback.BinderConfig.NewHandle] that
// stores the event sink on h and returns h itself.
func (h *Handle) Factory() func(playback.Events) playback.Handle {
	return func(ev playback.Events) playback.Handle {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.Events = ev
		return h
	}
}

// Load implements [playback.Handle].
func (h *Handle) Load(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LoadCalls = append(h.LoadCalls, url)
}

// Play implements [playback.Handle].
func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPlay++
	return h.PlayError
}

// Pause implements [playback.Handle].
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPause++
}

// SeekStart implements [playback.Handle].
func (h *Handle) SeekStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountSeekStart++
}

// Loads returns a copy of the recorded Load URLs.
func (h *Handle) Loads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.LoadCalls))
	copy(out, h.LoadCalls)
	return out
}
