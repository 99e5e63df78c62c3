// Package app wires all perch subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background loops, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithHandleFactory,
// WithHTTPClient, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perchkit/perch/internal/api"
	"github.com/perchkit/perch/internal/config"
	"github.com/perchkit/perch/internal/feed"
	"github.com/perchkit/perch/internal/health"
	"github.com/perchkit/perch/internal/observe"
	"github.com/perchkit/perch/internal/playback"
	"github.com/perchkit/perch/internal/playback/speaker"
	"github.com/perchkit/perch/internal/resilience"
	"github.com/perchkit/perch/internal/settings"
)

// defaultRequestTimeout bounds API requests when server.request_timeout is
// not configured.
const defaultRequestTimeout = 15 * time.Second

// App owns all subsystem lifetimes: the API client, the playback
// coordinator and binder, the detection feed, the settings saver, and the
// optional status server.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	httpc  *http.Client
	client *api.Client
	feed   *feed.Feed
	coord  *playback.Coordinator
	binder *playback.Binder
	saver  *settings.Saver
	status *observe.StatusServer

	// newHandle builds the playback backend; replaced in tests.
	newHandle func(playback.Events) playback.Handle

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHandleFactory injects a playback handle constructor instead of the
// speaker backend.
func WithHandleFactory(fn func(playback.Events) playback.Handle) Option {
	return func(a *App) { a.newHandle = fn }
}

// WithHTTPClient injects the HTTP client used for API calls and clip
// downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpc = c }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.httpc == nil {
		timeout := cfg.Server.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		a.httpc = &http.Client{
			Transport: observe.NewTransport(nil, a.metrics),
			Timeout:   timeout,
		}
	}

	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("app: init client: %w", err)
	}
	a.initFeed()
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	a.initSaver()
	a.initStatus()

	// A failed probe is not fatal; the server may come up later.
	if err := a.client.Healthy(ctx); err != nil {
		slog.Warn("detection server not reachable yet", "err", err)
	}

	return a, nil
}

// initClient builds the API client with breaker, auth, and instrumentation.
func (a *App) initClient() error {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "api",
		FailureThreshold: a.cfg.Server.Breaker.FailureThreshold,
		Cooldown:         a.cfg.Server.Breaker.Cooldown,
	})

	opts := []api.Option{
		api.WithHTTPClient(a.httpc),
		api.WithBreaker(breaker),
		api.WithMetrics(a.metrics),
	}
	if a.cfg.Server.Token != "" {
		opts = append(opts, api.WithToken(a.cfg.Server.Token))
	}

	client, err := api.New(a.cfg.Server.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

func (a *App) initFeed() {
	a.feed = feed.New(a.client, feed.Config{
		PageSize:          a.cfg.Feed.PageSize,
		PrefetchThreshold: a.cfg.Feed.PrefetchThreshold,
		StartDate:         a.cfg.Feed.StartDate,
		EndDate:           a.cfg.Feed.EndDate,
	})
}

// initPlayback builds the coordinator and binds it to the audio backend.
func (a *App) initPlayback() error {
	a.coord = playback.New(
		playback.WithPlayErrorFunc(func(err error) {
			slog.Error("playback failed", "err", err)
		}),
	)

	if a.newHandle == nil {
		a.newHandle = speaker.NewFactory(
			speaker.WithHTTPClient(a.httpc),
			speaker.WithFetchTimeout(a.cfg.Playback.FetchTimeout),
			speaker.WithMetrics(a.metrics),
		)
	}

	binder, err := playback.NewBinder(playback.BinderConfig{
		Coordinator: a.coord,
		NewHandle:   a.newHandle,
		ClipURL:     a.client.ClipURL,
		OnPlayStarted: func() {
			a.metrics.PlaybackStarts.Add(context.Background(), 1)
		},
		OnPlayEnded: func() {
			slog.Debug("clip finished")
		},
		OnError: func(code playback.ErrorCode, msg string) {
			a.metrics.RecordPlaybackError(context.Background(), code.String())
			slog.Error("playback failed", "code", code.String(), "message", msg)
		},
	})
	if err != nil {
		return err
	}
	a.binder = binder
	a.closers = append(a.closers, a.binder.Close)
	return nil
}

func (a *App) initSaver() {
	a.saver = settings.NewSaver(a.client,
		settings.WithDebounce(a.cfg.Settings.Debounce),
		settings.WithSaveTimeout(a.cfg.Settings.SaveTimeout),
		settings.WithOnSaved(func(domain api.SettingsDomain) {
			a.metrics.RecordSettingsSave(context.Background(), string(domain), "ok")
		}),
		settings.WithOnSaveError(func(domain api.SettingsDomain, err error) {
			a.metrics.RecordSettingsSave(context.Background(), string(domain), "error")
		}),
	)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.saver.Close(ctx)
	})
}

func (a *App) initStatus() {
	if !a.cfg.Status.Enabled {
		return
	}
	h := health.New(health.Checker{
		Name:  "server",
		Check: a.client.Healthy,
	})
	a.status = observe.NewStatusServer(a.cfg.Status.ListenAddr, h, a.Snapshot)
}

// Run starts the background loops and blocks until ctx is cancelled: the
// initial feed load, the live notification stream, and the status server.
func (a *App) Run(ctx context.Context) error {
	if err := a.feed.LoadMore(ctx); err != nil {
		slog.Warn("initial feed load failed", "err", err)
	} else {
		a.metrics.FeedPages.Add(ctx, 1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.client.StreamNotifications(ctx, a.handleEvent)
	})

	if a.status != nil {
		g.Go(a.status.Start)
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.status.Shutdown(sctx)
		})
	}

	slog.Info("perch running",
		"server", a.cfg.Server.BaseURL,
		"status", a.cfg.Status.Enabled,
	)
	return g.Wait()
}

// handleEvent folds one live notification into the feed.
func (a *App) handleEvent(ev api.Event) {
	a.metrics.RecordLiveEvent(context.Background(), ev.Type)
	a.feed.ApplyEvent(ev)
}

// ApplyConfigDiff applies a hot-reloadable config change.
func (a *App) ApplyConfigDiff(ctx context.Context, d config.ConfigDiff) {
	if d.FeedTuningChanged {
		a.feed.Retune(d.NewFeed.PageSize, d.NewFeed.PrefetchThreshold)
		slog.Info("feed tuning updated",
			"page_size", d.NewFeed.PageSize,
			"prefetch_threshold", d.NewFeed.PrefetchThreshold,
		)
	}
	if d.FeedRangeChanged {
		a.feed.Reset(d.NewFeed.StartDate, d.NewFeed.EndDate)
		if err := a.feed.LoadMore(ctx); err != nil {
			slog.Warn("feed reload after range change failed", "err", err)
		}
		slog.Info("feed range updated",
			"start_date", d.NewFeed.StartDate,
			"end_date", d.NewFeed.EndDate,
		)
	}
}

// Snapshot reports the client's runtime state; served at /status.
func (a *App) Snapshot() any {
	sel := a.coord.Selection().Get()
	snap := map[string]any{
		"server":         a.cfg.Server.BaseURL,
		"feed_window":    a.feed.Len(),
		"feed_total":     a.feed.Total(),
		"feed_exhausted": a.feed.Exhausted(),
		"playing":        a.coord.Activity().Get(),
		"settings_dirty": a.saver.Dirty(),
	}
	if sel.OK {
		snap["selected_detection"] = sel.ID
	}
	return snap
}

// Client returns the API client.
func (a *App) Client() *api.Client { return a.client }

// Feed returns the detection feed.
func (a *App) Feed() *feed.Feed { return a.feed }

// Playback returns the playback coordinator.
func (a *App) Playback() *playback.Coordinator { return a.coord }

// Settings returns the settings saver.
func (a *App) Settings() *settings.Saver { return a.saver }

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop playback first so the audio device quiesces.
		a.coord.StopPlayback()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
