package speaker

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/perchkit/perch/internal/observe"
	"github.com/perchkit/perch/internal/playback"
)

// fakeEngine records mixer interactions instead of opening a device.
type fakeEngine struct {
	mu        sync.Mutex
	streamers []beep.Streamer
	clears    int
}

func (e *fakeEngine) Init(sr beep.SampleRate) error { return nil }

func (e *fakeEngine) Play(s beep.Streamer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamers = append(e.streamers, s)
}

func (e *fakeEngine) Lock()   {}
func (e *fakeEngine) Unlock() {}

func (e *fakeEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamers = nil
	e.clears++
}

func (e *fakeEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streamers)
}

// drain streams every queued streamer to exhaustion, firing callbacks the
// way the real mixer goroutine would.
func (e *fakeEngine) drain() {
	e.mu.Lock()
	streamers := e.streamers
	e.streamers = nil
	e.mu.Unlock()

	buf := make([][2]float64, 512)
	for _, s := range streamers {
		for {
			if _, ok := s.Stream(buf); !ok {
				break
			}
		}
	}
}

// wavBytes builds a minimal PCM16 mono WAV clip.
func wavBytes(samples int) []byte {
	data := make([]byte, samples*2)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(48000))
	binary.Write(&buf, binary.LittleEndian, uint32(48000*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

type recorder struct {
	ready chan struct{}
	ended chan struct{}
	errs  chan playback.ErrorCode
}

func newRecorder() *recorder {
	return &recorder{
		ready: make(chan struct{}, 4),
		ended: make(chan struct{}, 4),
		errs:  make(chan playback.ErrorCode, 4),
	}
}

func (r *recorder) events() playback.Events {
	return playback.Events{
		OnReady: func() { r.ready <- struct{}{} },
		OnEnded: func() { r.ended <- struct{}{} },
		OnError: func(code playback.ErrorCode) { r.errs <- code },
	}
}

func newTestHandle(t *testing.T, srv *httptest.Server, rec *recorder) (*Handle, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	h := NewFactory(WithHTTPClient(srv.Client()))(rec.events()).(*Handle)
	h.eng = eng
	t.Cleanup(h.Close)
	return h, eng
}

func waitReady(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.ready:
	case code := <-rec.errs:
		t.Fatalf("load failed with %v", code)
	case <-time.After(5 * time.Second):
		t.Fatal("clip never became ready")
	}
}

func waitErr(t *testing.T, rec *recorder, want playback.ErrorCode) {
	t.Helper()
	select {
	case code := <-rec.errs:
		if code != want {
			t.Fatalf("error code: got %v, want %v", code, want)
		}
	case <-rec.ready:
		t.Fatal("load unexpectedly succeeded")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func clipServer(t *testing.T, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandle_LoadAndPlay(t *testing.T) {
	t.Parallel()
	srv := clipServer(t, wavBytes(4800), http.StatusOK)
	rec := newRecorder()
	h, eng := newTestHandle(t, srv, rec)

	if err := h.Play(); err == nil {
		t.Error("Play before Load must fail")
	}

	h.Load(srv.URL + "/api/v2/audio/1")
	waitReady(t, rec)

	if err := h.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := eng.playCount(); got != 1 {
		t.Fatalf("queued streamers: got %d, want 1", got)
	}

	// Pause and resume must not requeue.
	h.Pause()
	if err := h.Play(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := eng.playCount(); got != 1 {
		t.Errorf("queued streamers after resume: got %d, want 1", got)
	}
}

func TestHandle_EndedFiresOnDrain(t *testing.T) {
	t.Parallel()
	srv := clipServer(t, wavBytes(1024), http.StatusOK)
	rec := newRecorder()
	h, eng := newTestHandle(t, srv, rec)

	h.Load(srv.URL + "/clip")
	waitReady(t, rec)
	if err := h.Play(); err != nil {
		t.Fatal(err)
	}

	eng.drain()
	select {
	case <-rec.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("OnEnded not delivered")
	}
}

func TestHandle_SeekStartAllowsReplay(t *testing.T) {
	t.Parallel()
	srv := clipServer(t, wavBytes(1024), http.StatusOK)
	rec := newRecorder()
	h, eng := newTestHandle(t, srv, rec)

	h.Load(srv.URL + "/clip")
	waitReady(t, rec)
	if err := h.Play(); err != nil {
		t.Fatal(err)
	}
	eng.drain()
	<-rec.ended

	h.SeekStart()
	if err := h.Play(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := eng.playCount(); got != 1 {
		t.Errorf("replay must requeue the clip, got %d streamers", got)
	}
}

func TestHandle_ErrorClassification(t *testing.T) {
	t.Parallel()

	t.Run("missing clip", func(t *testing.T) {
		t.Parallel()
		srv := clipServer(t, []byte("not found"), http.StatusNotFound)
		rec := newRecorder()
		h, _ := newTestHandle(t, srv, rec)
		h.Load(srv.URL + "/clip")
		waitErr(t, rec, playback.ErrCodeSourceUnsupported)
	})

	t.Run("undecodable body", func(t *testing.T) {
		t.Parallel()
		srv := clipServer(t, []byte("this is not audio"), http.StatusOK)
		rec := newRecorder()
		h, _ := newTestHandle(t, srv, rec)
		h.Load(srv.URL + "/clip")
		waitErr(t, rec, playback.ErrCodeDecode)
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()
		srv := clipServer(t, nil, http.StatusOK)
		rec := newRecorder()
		h, _ := newTestHandle(t, srv, rec)
		srv.Close()
		h.Load(srv.URL + "/clip")
		waitErr(t, rec, playback.ErrCodeNetwork)
	})
}

func TestHandle_RecordsFetchDuration(t *testing.T) {
	t.Parallel()
	srv := clipServer(t, wavBytes(1024), http.StatusOK)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	h := NewFactory(WithHTTPClient(srv.Client()), WithMetrics(m))(rec.events()).(*Handle)
	h.eng = &fakeEngine{}
	t.Cleanup(h.Close)

	h.Load(srv.URL + "/clip")
	waitReady(t, rec)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "perch.clip.fetch.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatal("fetch duration histogram has no data points")
			}
			if hist.DataPoints[0].Count != 1 {
				t.Errorf("sample count: got %d, want 1", hist.DataPoints[0].Count)
			}
			return
		}
	}
	t.Fatal("fetch duration metric not recorded")
}

func TestHandle_NewerLoadSupersedesOlder(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(wavBytes(256))
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	fast := clipServer(t, wavBytes(256), http.StatusOK)

	rec := newRecorder()
	h, _ := newTestHandle(t, slow, rec)

	h.Load(slow.URL + "/old")
	h.Load(fast.URL + "/new")
	waitReady(t, rec)

	// The superseded load must not surface a second outcome.
	select {
	case <-rec.ready:
		t.Error("stale load reported ready")
	case code := <-rec.errs:
		t.Errorf("stale load reported error %v", code)
	case <-time.After(200 * time.Millisecond):
	}
}
