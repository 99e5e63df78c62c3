package playback

import (
	"fmt"
	"log/slog"
	"sync"
)

// BinderConfig holds the dependencies for a [Binder].
type BinderConfig struct {
	// Coordinator is the playback coordinator the binder serves. Required.
	Coordinator *Coordinator

	// NewHandle constructs the audio backend, wiring the binder's event
	// sink into it. The binder owns the returned handle for its lifetime.
	// Required.
	NewHandle func(Events) Handle

	// ClipURL derives the audio resource URL for a detection id. Required;
	// typically [api.Client.ClipURL].
	ClipURL func(id int64) string

	// OnPlayStarted, when non-nil, is invoked each time a loaded clip
	// actually begins rendering.
	OnPlayStarted func()

	// OnPlayEnded, when non-nil, is invoked after a clip finishes rendering
	// naturally (after playback state has been cleared).
	OnPlayEnded func()

	// OnError, when non-nil, receives the failure class and the user-facing
	// message for any load or start failure. Playback state is already
	// cleared when it fires, so the user can retry immediately.
	OnError func(code ErrorCode, msg string)
}

// Binder owns the one live audio rendering resource and translates
// coordinator state into playback commands and lifecycle events.
//
// On construction it registers its handle with the coordinator and
// subscribes to the selection cell. Whenever the selection changes to a new
// detection id the binder loads the clip URL and, once the backend reports
// ready, starts rendering. Terminal events (ended, error) are routed back
// into [Coordinator.StopPlayback] so that state always returns to idle.
//
// The application mounts at most one Binder at a time. The design does not
// defend against two binders registering simultaneously; the last register
// wins.
type Binder struct {
	coord         *Coordinator
	handle        Handle
	clipURL       func(int64) string
	onPlayStarted func()
	onPlayEnded   func()
	onError       func(ErrorCode, string)
	unsubscribe   func()

	mu       sync.Mutex
	loadedID int64
	loaded   bool
	closed   bool
}

// NewBinder creates a Binder, constructs its handle, and registers it with
// the coordinator.
func NewBinder(cfg BinderConfig) (*Binder, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("playback: binder requires a coordinator")
	}
	if cfg.NewHandle == nil {
		return nil, fmt.Errorf("playback: binder requires a handle constructor")
	}
	if cfg.ClipURL == nil {
		return nil, fmt.Errorf("playback: binder requires a clip URL template")
	}

	b := &Binder{
		coord:         cfg.Coordinator,
		clipURL:       cfg.ClipURL,
		onPlayStarted: cfg.OnPlayStarted,
		onPlayEnded:   cfg.OnPlayEnded,
		onError:       cfg.OnError,
	}
	b.handle = cfg.NewHandle(Events{
		OnReady: b.handleReady,
		OnEnded: b.handleEnded,
		OnError: b.handleError,
	})

	cfg.Coordinator.RegisterHandle(b.handle)
	b.unsubscribe = cfg.Coordinator.Selection().Subscribe(b.onSelection)

	// The coordinator may already hold a selection from before the binder
	// existed; pick it up.
	b.onSelection(cfg.Coordinator.Selection().Get())
	return b, nil
}

// onSelection reacts to selection changes: a new id triggers a load, a
// cleared selection forgets the loaded clip so a re-request reloads it from
// the beginning.
func (b *Binder) onSelection(sel Selection) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if !sel.OK {
		b.loaded = false
		b.loadedID = 0
		b.mu.Unlock()
		return
	}
	if b.loaded && b.loadedID == sel.ID {
		b.mu.Unlock()
		return
	}
	b.loaded = true
	b.loadedID = sel.ID
	b.mu.Unlock()

	b.handle.Load(b.clipURL(sel.ID))
}

// handleReady starts rendering once the backend has decoded the clip. If the
// selection moved on while the load was in flight the event is ignored.
func (b *Binder) handleReady() {
	b.mu.Lock()
	id, loaded := b.loadedID, b.loaded
	closed := b.closed
	b.mu.Unlock()
	if closed || !loaded {
		return
	}

	sel := b.coord.Selection().Get()
	if !sel.OK || sel.ID != id {
		return
	}

	if err := b.handle.Play(); err != nil {
		slog.Error("playback: start rejected", "detection_id", id, "err", err)
		b.reportError(ErrCodeUnknown, msgPlayFailed)
		b.coord.StopPlayback()
		return
	}
	if b.onPlayStarted != nil {
		b.onPlayStarted()
	}
}

// handleEnded clears playback state after a natural end-of-clip.
func (b *Binder) handleEnded() {
	b.coord.StopPlayback()
	if b.onPlayEnded != nil {
		b.onPlayEnded()
	}
}

// handleError maps the backend error code to a user-facing message and
// returns playback state to idle.
func (b *Binder) handleError(code ErrorCode) {
	msg := code.Message()
	slog.Warn("playback: clip error", "code", code.String(), "msg", msg)
	b.reportError(code, msg)
	b.coord.StopPlayback()
}

func (b *Binder) reportError(code ErrorCode, msg string) {
	if b.onError != nil {
		b.onError(code, msg)
	}
}

// Close releases ownership of the handle: it cancels the selection
// subscription and registers nil with the coordinator. The coordinator's
// selection and activity are left untouched, matching the transient
// ownership semantics of the handle.
func (b *Binder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.unsubscribe()
	b.coord.RegisterHandle(nil)
	return nil
}
