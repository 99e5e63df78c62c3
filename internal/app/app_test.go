package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/perchkit/perch/internal/api"
	"github.com/perchkit/perch/internal/app"
	"github.com/perchkit/perch/internal/config"
	"github.com/perchkit/perch/internal/observe"
	"github.com/perchkit/perch/internal/playback/mock"
)

// fakeServer mimics the slice of the detection server the app touches.
type fakeServer struct {
	srv    *httptest.Server
	events chan api.Event

	// listDelay stalls the detections endpoint. Set before any request.
	listDelay time.Duration
}

func newFakeServer(t *testing.T, total int) *fakeServer {
	t.Helper()
	fs := &fakeServer{events: make(chan api.Event, 4)}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/health":
			w.WriteHeader(http.StatusOK)
		case "/api/v2/detections":
			if fs.listDelay > 0 {
				select {
				case <-time.After(fs.listDelay):
				case <-r.Context().Done():
					return
				}
			}
			page := api.DetectionsPage{Total: total}
			for i := 0; i < 5 && i < total; i++ {
				page.Data = append(page.Data, api.Detection{ID: int64(total - i)})
			}
			json.NewEncoder(w).Encode(page)
		case "/api/v2/ws/notifications":
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()
			for {
				select {
				case ev := <-fs.events:
					if err := wsjson.Write(r.Context(), conn, ev); err != nil {
						return
					}
				case <-r.Context().Done():
					return
				}
			}
		default:
			http.NotFound(w, r)
		}
	})

	fs.srv = httptest.NewServer(handler)
	t.Cleanup(fs.srv.Close)
	return fs
}

func testConfig(url string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{BaseURL: url},
		Feed:     config.FeedConfig{PageSize: 5},
		LogLevel: config.LogInfo,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestApp(t *testing.T, fs *fakeServer) (*app.App, *mock.Handle) {
	t.Helper()
	h := &mock.Handle{}
	a, err := app.New(context.Background(), testConfig(fs.srv.URL),
		app.WithHandleFactory(h.Factory()),
		app.WithHTTPClient(fs.srv.Client()),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, h
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 12)
	a, _ := newTestApp(t, fs)

	if a.Client() == nil || a.Feed() == nil || a.Playback() == nil || a.Settings() == nil {
		t.Fatal("subsystem accessor returned nil")
	}
}

func TestNew_AppliesRequestTimeout(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 12)
	fs.listDelay = 5 * time.Second

	cfg := testConfig(fs.srv.URL)
	cfg.Server.RequestTimeout = 100 * time.Millisecond

	// No WithHTTPClient: the app must build its own client with the
	// configured timeout.
	a, err := app.New(context.Background(), cfg,
		app.WithHandleFactory((&mock.Handle{}).Factory()),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	start := time.Now()
	if err := a.Feed().LoadMore(context.Background()); err == nil {
		t.Fatal("expected the stalled request to time out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request gave up after %v, want roughly the 100ms timeout", elapsed)
	}
}

func TestApp_RunLoadsFeedAndAppliesLiveEvents(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 12)
	a, _ := newTestApp(t, fs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool { return a.Feed().Len() == 5 })

	fs.events <- api.Event{
		Type:      api.EventNewDetection,
		Detection: &api.Detection{ID: 999, CommonName: "Common Swift"},
	}
	waitFor(t, func() bool { return a.Feed().Len() == 6 })

	rows := a.Feed().Rows()
	if rows[0].ID != 999 {
		t.Errorf("live detection should be first, got id %d", rows[0].ID)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_PlaybackUsesClipURL(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 3)
	a, h := newTestApp(t, fs)

	a.Playback().PlayDetection(42)

	loads := h.Loads()
	if len(loads) != 1 {
		t.Fatalf("Load calls: got %d, want 1", len(loads))
	}
	want := fs.srv.URL + "/api/v2/audio/42"
	if loads[0] != want {
		t.Errorf("clip URL: got %q, want %q", loads[0], want)
	}
}

func TestApp_Snapshot(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 3)
	a, _ := newTestApp(t, fs)

	a.Playback().PlayDetection(7)

	snap, ok := a.Snapshot().(map[string]any)
	if !ok {
		t.Fatalf("snapshot type: %T", a.Snapshot())
	}
	if snap["playing"] != true {
		t.Error("snapshot should report playing")
	}
	if snap["selected_detection"] != int64(7) {
		t.Errorf("selected_detection: got %v", snap["selected_detection"])
	}
}

func TestApp_ApplyConfigDiffResetsFeedRange(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 12)
	a, _ := newTestApp(t, fs)
	ctx := context.Background()

	if err := a.Feed().LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Feed().Len() == 0 {
		t.Fatal("feed should have rows before the diff")
	}

	a.ApplyConfigDiff(ctx, config.ConfigDiff{
		FeedRangeChanged: true,
		NewFeed: config.FeedConfig{
			PageSize:  5,
			StartDate: "2026-08-01",
			EndDate:   "2026-08-24",
		},
	})

	// The window was reset and reloaded from offset zero.
	if a.Feed().Len() != 5 {
		t.Errorf("window after range change: got %d rows, want 5", a.Feed().Len())
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, 3)
	a, _ := newTestApp(t, fs)

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
