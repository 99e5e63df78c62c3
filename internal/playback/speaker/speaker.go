// Package speaker plays detection clips through the host's audio device.
//
// It implements [playback.Handle] on top of the beep mixer: Load fetches the
// clip over HTTP and decodes it as WAV, Play queues it on the speaker, Pause
// and SeekStart drive the beep control wrapper. Loads are asynchronous; the
// outcome is reported through the [playback.Events] callbacks, and a newer
// Load silently discards the outcome of any older one still in flight.
package speaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/faiface/beep"
	bspeaker "github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/perchkit/perch/internal/observe"
	"github.com/perchkit/perch/internal/playback"
)

// mixRate is the sample rate the device is opened at. Clips with a different
// rate are resampled on the fly.
const mixRate = beep.SampleRate(48000)

const defaultFetchTimeout = 30 * time.Second

// engine is the slice of the beep speaker the handle drives. The real
// implementation opens the audio device; tests substitute a fake.
type engine interface {
	Init(sr beep.SampleRate) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
}

// beepEngine adapts the process-global beep speaker. The device is opened at
// most once per process.
type beepEngine struct {
	once    sync.Once
	initErr error
}

func (e *beepEngine) Init(sr beep.SampleRate) error {
	e.once.Do(func() {
		e.initErr = bspeaker.Init(sr, sr.N(100*time.Millisecond))
	})
	return e.initErr
}

func (e *beepEngine) Play(s beep.Streamer) { bspeaker.Play(s) }
func (e *beepEngine) Lock()                { bspeaker.Lock() }
func (e *beepEngine) Unlock()              { bspeaker.Unlock() }
func (e *beepEngine) Clear()               { bspeaker.Clear() }

var defaultEngine = &beepEngine{}

// Option configures the handles produced by [NewFactory].
type Option func(*Handle)

// WithHTTPClient sets the client used to fetch clips. Default:
// http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handle) {
		if c != nil {
			h.httpc = c
		}
	}
}

// WithFetchTimeout bounds each clip download. Default: 30s.
func WithFetchTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMetrics records clip fetch latency. Default: none.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handle) { h.metrics = m }
}

// NewFactory returns a handle constructor suitable for
// [playback.BinderConfig].NewHandle. All handles share the process-global
// audio device.
func NewFactory(opts ...Option) func(playback.Events) playback.Handle {
	return func(events playback.Events) playback.Handle {
		h := &Handle{
			events:  events,
			httpc:   http.DefaultClient,
			timeout: defaultFetchTimeout,
			eng:     defaultEngine,
		}
		for _, opt := range opts {
			opt(h)
		}
		return h
	}
}

// Handle is a speaker-backed clip player. Methods are safe for concurrent
// use.
type Handle struct {
	events  playback.Events
	httpc   *http.Client
	timeout time.Duration
	eng     engine
	metrics *observe.Metrics

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
	stream beep.StreamSeekCloser
	ctrl   *beep.Ctrl
	queued bool
}

// Load starts fetching and decoding the clip at url. It returns immediately;
// OnReady or OnError fires when the load settles. A second Load supersedes
// the first.
func (h *Handle) Load(url string) {
	h.mu.Lock()
	h.gen++
	gen := h.gen
	if h.cancel != nil {
		h.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	h.cancel = cancel
	h.mu.Unlock()

	go h.load(ctx, gen, url)
}

func (h *Handle) load(ctx context.Context, gen int, url string) {
	start := time.Now()
	stream, format, code, err := fetchClip(ctx, h.httpc, url)
	if err != nil {
		slog.Warn("clip load failed", "url", url, "code", code, "error", err)
		h.report(gen, code)
		return
	}
	if h.metrics != nil {
		h.metrics.ClipFetchDuration.Record(ctx, time.Since(start).Seconds())
	}

	if err := h.eng.Init(mixRate); err != nil {
		slog.Error("audio device init failed", "error", err)
		stream.Close()
		h.report(gen, playback.ErrCodeUnknown)
		return
	}

	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		stream.Close()
		return
	}
	if h.stream != nil {
		h.stream.Close()
	}
	if h.queued {
		h.eng.Clear()
	}
	h.stream = stream
	h.queued = false
	var streamer beep.Streamer = stream
	if format.SampleRate != mixRate {
		streamer = beep.Resample(4, format.SampleRate, mixRate, stream)
	}
	h.ctrl = &beep.Ctrl{Streamer: streamer, Paused: true}
	h.mu.Unlock()

	slog.Debug("clip ready", "url", url, "sample_rate", int(format.SampleRate))
	if h.events.OnReady != nil {
		h.events.OnReady()
	}
}

// report delivers an error callback unless a newer Load has taken over.
func (h *Handle) report(gen int, code playback.ErrorCode) {
	h.mu.Lock()
	stale := gen != h.gen
	h.mu.Unlock()
	if stale {
		return
	}
	if h.events.OnError != nil {
		h.events.OnError(code)
	}
}

// Play starts or resumes the loaded clip. The first Play after a load queues
// the clip on the mixer; subsequent calls just unpause it.
func (h *Handle) Play() error {
	h.mu.Lock()
	if h.ctrl == nil {
		h.mu.Unlock()
		return errors.New("no clip loaded")
	}
	gen := h.gen
	ctrl := h.ctrl
	queued := h.queued
	h.queued = true
	h.mu.Unlock()

	h.eng.Lock()
	ctrl.Paused = false
	h.eng.Unlock()

	if !queued {
		h.eng.Play(beep.Seq(ctrl, beep.Callback(func() { h.ended(gen) })))
	}
	return nil
}

// ended runs on the mixer goroutine when the clip drains.
func (h *Handle) ended(gen int) {
	h.mu.Lock()
	stale := gen != h.gen
	if !stale {
		h.queued = false
	}
	h.mu.Unlock()
	if stale {
		return
	}
	if h.events.OnEnded != nil {
		h.events.OnEnded()
	}
}

// Pause halts playback, keeping the position.
func (h *Handle) Pause() {
	h.mu.Lock()
	ctrl := h.ctrl
	h.mu.Unlock()
	if ctrl == nil {
		return
	}
	h.eng.Lock()
	ctrl.Paused = true
	h.eng.Unlock()
}

// SeekStart rewinds the loaded clip to its beginning.
func (h *Handle) SeekStart() {
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream == nil {
		return
	}
	h.eng.Lock()
	err := stream.Seek(0)
	h.eng.Unlock()
	if err != nil {
		slog.Warn("clip rewind failed", "error", err)
	}
}

// Close cancels any in-flight load and releases the loaded clip. The audio
// device stays open for other handles.
func (h *Handle) Close() {
	h.mu.Lock()
	h.gen++
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	stream := h.stream
	queued := h.queued
	h.stream = nil
	h.ctrl = nil
	h.queued = false
	h.mu.Unlock()

	if queued {
		h.eng.Clear()
	}
	if stream != nil {
		stream.Close()
	}
}

// fetchClip downloads and decodes one clip. On failure it returns the
// playback error code matching the failure class: cancellation maps to
// aborted, transport trouble to network, a non-2xx status to
// source-unsupported and an undecodable body to decode.
func fetchClip(ctx context.Context, httpc *http.Client, url string) (beep.StreamSeekCloser, beep.Format, playback.ErrorCode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, beep.Format{}, playback.ErrCodeUnknown, err
	}

	resp, err := httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, beep.Format{}, playback.ErrCodeAborted, err
		}
		return nil, beep.Format{}, playback.ErrCodeNetwork, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, beep.Format{}, playback.ErrCodeAborted, err
		}
		return nil, beep.Format{}, playback.ErrCodeNetwork, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, beep.Format{}, playback.ErrCodeSourceUnsupported,
			fmt.Errorf("clip request returned status %d", resp.StatusCode)
	}

	stream, format, err := wav.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, beep.Format{}, playback.ErrCodeDecode, fmt.Errorf("decoding clip: %w", err)
	}
	return stream, format, 0, nil
}
