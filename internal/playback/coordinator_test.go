package playback_test

import (
	"testing"

	"github.com/perchkit/perch/internal/playback"
	"github.com/perchkit/perch/internal/playback/mock"
)

func TestPlayDetection_NewSelection(t *testing.T) {
	t.Parallel()
	c := playback.New()

	c.PlayDetection(42)

	sel := c.Selection().Get()
	if !sel.OK || sel.ID != 42 {
		t.Errorf("selection: got %+v, want {ID:42 OK:true}", sel)
	}
	if !c.Activity().Get() {
		t.Error("activity: got false, want true")
	}
}

func TestPlayDetection_SameIDTogglesActivity(t *testing.T) {
	t.Parallel()
	c := playback.New()
	h := &mock.Handle{}
	c.RegisterHandle(h)

	c.PlayDetection(42)
	if !c.Activity().Get() {
		t.Fatal("after first play: activity should be true")
	}

	c.PlayDetection(42)
	if c.Activity().Get() {
		t.Error("after second play: activity should be false (paused)")
	}
	if h.CallCountPause != 1 {
		t.Errorf("pause calls: got %d, want 1", h.CallCountPause)
	}

	c.PlayDetection(42)
	if !c.Activity().Get() {
		t.Error("after third play: activity should be true (resumed)")
	}
	if h.CallCountPlay != 1 {
		t.Errorf("play calls: got %d, want 1", h.CallCountPlay)
	}

	sel := c.Selection().Get()
	if !sel.OK || sel.ID != 42 {
		t.Errorf("selection changed during toggling: got %+v", sel)
	}
}

func TestPlayDetection_DifferentIDReplacesSelection(t *testing.T) {
	t.Parallel()
	c := playback.New()
	h := &mock.Handle{}
	c.RegisterHandle(h)

	c.PlayDetection(1)
	c.PlayDetection(2)

	sel := c.Selection().Get()
	if !sel.OK || sel.ID != 2 {
		t.Errorf("selection: got %+v, want {ID:2 OK:true}", sel)
	}
	if !c.Activity().Get() {
		t.Error("activity: got false, want true")
	}
	if c.IsDetectionPlaying(1) {
		t.Error("detection 1 still reported as playing after replacement")
	}
	// The replace branch never touches the handle; the binder does the load.
	if h.CallCountPlay != 0 || h.CallCountPause != 0 {
		t.Errorf("handle touched on replace: play=%d pause=%d", h.CallCountPlay, h.CallCountPause)
	}
}

func TestPlayDetection_SingleFlight(t *testing.T) {
	t.Parallel()
	c := playback.New()

	ids := []int64{7, 3, 3, 9, 1}
	for _, id := range ids {
		c.PlayDetection(id)

		selected := 0
		for _, probe := range []int64{1, 3, 7, 9} {
			if c.IsDetectionPlaying(probe) {
				selected++
			}
		}
		if selected != 1 {
			t.Fatalf("after PlayDetection(%d): %d ids reported selected, want exactly 1", id, selected)
		}
	}
}

func TestStopPlayback_ClearsState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(*playback.Coordinator, *mock.Handle)
	}{
		{"from idle", func(c *playback.Coordinator, h *mock.Handle) {}},
		{"while rendering", func(c *playback.Coordinator, h *mock.Handle) {
			c.PlayDetection(42)
		}},
		{"while paused", func(c *playback.Coordinator, h *mock.Handle) {
			c.PlayDetection(42)
			c.PlayDetection(42)
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := playback.New()
			h := &mock.Handle{}
			c.RegisterHandle(h)
			tt.setup(c, h)

			c.StopPlayback()

			if sel := c.Selection().Get(); sel.OK {
				t.Errorf("selection after stop: got %+v, want none", sel)
			}
			if c.Activity().Get() {
				t.Error("activity after stop: got true, want false")
			}
			if h.CallCountSeekStart == 0 {
				t.Error("stop with a registered handle should rewind it")
			}
		})
	}
}

func TestStopPlayback_NoHandle(t *testing.T) {
	t.Parallel()
	c := playback.New()
	c.PlayDetection(42)

	// Must not panic and must still clear state.
	c.StopPlayback()

	if sel := c.Selection().Get(); sel.OK {
		t.Errorf("selection after stop: got %+v, want none", sel)
	}
}

func TestIsDetectionPlaying_IgnoresActivity(t *testing.T) {
	t.Parallel()
	c := playback.New()
	h := &mock.Handle{}
	c.RegisterHandle(h)

	c.PlayDetection(42)
	c.PlayDetection(42) // pause

	if c.Activity().Get() {
		t.Fatal("expected paused state")
	}
	if !c.IsDetectionPlaying(42) {
		t.Error("paused selection should still report as playing")
	}
	if c.IsDetectionPlaying(7) {
		t.Error("unselected id reported as playing")
	}
}

func TestPlayDetection_UnregisteredHandleSkipsToggle(t *testing.T) {
	t.Parallel()
	c := playback.New()
	h := &mock.Handle{}
	c.RegisterHandle(h)

	c.PlayDetection(42)
	c.RegisterHandle(nil)

	// Same id, but no live handle: the toggle branch requires both, so this
	// re-selects instead of pausing.
	c.PlayDetection(42)

	if !c.Activity().Get() {
		t.Error("activity: got false, want true")
	}
	if h.CallCountPause != 0 || h.CallCountPlay != 0 {
		t.Errorf("released handle was touched: play=%d pause=%d", h.CallCountPlay, h.CallCountPause)
	}
}

func TestPlayDetection_ResumeFailureSurfacesError(t *testing.T) {
	t.Parallel()
	var reported []string
	c := playback.New(playback.WithPlayErrorFunc(func(err error) {
		reported = append(reported, err.Error())
	}))
	h := &mock.Handle{}
	c.RegisterHandle(h)

	c.PlayDetection(42)
	c.PlayDetection(42) // pause

	h.PlayError = errAutoplay
	c.PlayDetection(42) // resume attempt fails

	if c.Activity().Get() {
		t.Error("activity should stay false after a rejected resume")
	}
	if sel := c.Selection().Get(); !sel.OK || sel.ID != 42 {
		t.Errorf("selection should not be rolled back automatically: got %+v", sel)
	}
	if len(reported) != 1 || reported[0] != "Failed to play audio" {
		t.Errorf("error callback: got %v, want [\"Failed to play audio\"]", reported)
	}
}

var errAutoplay = errStr("output device rejected stream")

type errStr string

func (e errStr) Error() string { return string(e) }
