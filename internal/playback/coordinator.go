// Package playback implements the single-flight audio playback coordinator.
//
// The package is built around three pieces:
//
//   - [Coordinator]: shared playback state: which detection clip is
//     selected and whether it is actively rendering. At most one clip is
//     selected system-wide; requesting a second clip replaces the first.
//   - [Handle]: the injected audio backend capability (load / play /
//     pause / seek plus lifecycle events).
//   - [Binder]: the one component that owns a live Handle and translates
//     coordinator state into actual playback commands.
//
// Consumers (feed rows, the status endpoint) only ever talk to the
// Coordinator: they call [Coordinator.PlayDetection] and read the selection
// and activity cells to render play/pause affordances. They never touch the
// Handle directly.
package playback

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/perchkit/perch/internal/store"
)

// msgPlayFailed is the user-facing message for a rejected play-start.
const msgPlayFailed = "Failed to play audio"

// Selection identifies the detection clip currently designated for playback.
// The zero value means no clip is selected.
type Selection struct {
	// ID is the detection id whose clip is selected. Meaningless when OK is
	// false.
	ID int64

	// OK reports whether any clip is selected.
	OK bool
}

// Coordinator mediates all playback requests so that at most one clip plays
// at a time, independent of which consumer issued the request.
//
// State is published through two observable cells: the selection (which clip,
// if any) and the activity flag (rendering vs. paused). The activity flag is
// true only while a selection exists. All methods are safe for concurrent
// use; PlayDetection and StopPlayback never return errors.
type Coordinator struct {
	mu     sync.Mutex
	handle Handle

	selection *store.Cell[Selection]
	activity  *store.Cell[bool]

	onPlayError func(error)
}

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithPlayErrorFunc registers fn to be called when a pause/resume toggle
// fails to restart rendering (for example, the output device rejected the
// stream). The coordinator logs the failure regardless; fn receives the
// user-facing error. The coordinator's own state is not rolled back on this
// path; the consumer of the callback decides whether to call
// [Coordinator.StopPlayback].
func WithPlayErrorFunc(fn func(error)) Option {
	return func(c *Coordinator) { c.onPlayError = fn }
}

// New creates a Coordinator with no selection, no activity, and no
// registered handle.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		selection: store.New(Selection{}),
		activity:  store.New(false),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Selection returns the observable cell holding the current [Selection].
func (c *Coordinator) Selection() *store.Cell[Selection] {
	return c.selection
}

// Activity returns the observable cell reporting whether the selected clip
// is actively rendering (as opposed to selected-but-paused).
func (c *Coordinator) Activity() *store.Cell[bool] {
	return c.activity
}

// PlayDetection requests playback of the clip for detection id.
//
// When id equals the current selection and a handle is registered, the call
// toggles play/pause on the handle and mirrors the resulting state into the
// activity cell. In every other case it replaces the selection with id and
// sets activity true; the binder observes the selection change and performs
// the actual load + start, so this branch never touches the handle.
func (c *Coordinator) PlayDetection(id int64) {
	c.mu.Lock()
	h := c.handle
	sel := c.selection.Get()
	toggle := sel.OK && sel.ID == id && h != nil
	c.mu.Unlock()

	if !toggle {
		c.selection.Set(Selection{ID: id, OK: true})
		c.activity.Set(true)
		return
	}

	if c.activity.Get() {
		h.Pause()
		c.activity.Set(false)
		return
	}

	if err := h.Play(); err != nil {
		slog.Error("playback: resume rejected", "detection_id", id, "err", err)
		if c.onPlayError != nil {
			c.onPlayError(errors.New(msgPlayFailed))
		}
		return
	}
	c.activity.Set(true)
}

// StopPlayback halts rendering and clears all playback state. When a handle
// is registered it is paused and rewound to the start; the selection and
// activity cells are cleared unconditionally.
func (c *Coordinator) StopPlayback() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.Pause()
		h.SeekStart()
	}
	c.selection.Set(Selection{})
	c.activity.Set(false)
}

// RegisterHandle replaces the coordinator's handle reference. The binder
// calls this with a live handle when it starts and with nil when it shuts
// down. No validation is performed; the last writer wins.
func (c *Coordinator) RegisterHandle(h Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

// IsDetectionPlaying reports whether id is the currently selected clip. It
// does not consider activity: a paused selection still reports true.
func (c *Coordinator) IsDetectionPlaying(id int64) bool {
	sel := c.selection.Get()
	return sel.OK && sel.ID == id
}
