// Package feed maintains a windowed, append-only view over the server's
// detection listing, the headless equivalent of the dashboard's
// infinite-scroll list.
//
// Pages are fetched on demand with offset/limit pagination. A consumer
// walking the feed calls [Feed.EnsureAhead] with its cursor position; when
// the cursor comes within the prefetch threshold of the window's end the
// next page is fetched, so the consumer never stalls at a page boundary.
// Concurrent requests for the same page collapse into one server call.
// Live new-detection events are prepended as they arrive.
package feed

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/perchkit/perch/internal/api"
)

const (
	defaultPageSize = 20
	defaultPrefetch = 5
)

// Client is the slice of the API client the feed needs. *api.Client
// satisfies it; tests substitute a mock.
type Client interface {
	ListDetections(ctx context.Context, q api.ListQuery) (*api.DetectionsPage, error)
	Review(ctx context.Context, id int64, v api.Verdict) error
}

// Config tunes a [Feed]. Zero-value fields get defaults.
type Config struct {
	// PageSize is the number of rows fetched per request. Default: 20.
	PageSize int

	// PrefetchThreshold is how close (in rows) the consumer cursor may get
	// to the window's end before the next page is fetched. Default: 5.
	PrefetchThreshold int

	// StartDate and EndDate bound the listing, formatted YYYY-MM-DD.
	// Empty means unbounded.
	StartDate string
	EndDate   string
}

// Feed is a windowed detection list. All methods are safe for concurrent
// use.
type Feed struct {
	client Client

	mu         sync.Mutex
	cfg        Config
	gen        int // bumped by Reset; stale fetches carry the old value
	rows       []api.Detection
	seen       map[int64]int // detection id -> index in rows
	total      int
	nextOffset int
	exhausted  bool

	group singleflight.Group
}

// New creates a Feed over client with the given config.
func New(client Client, cfg Config) *Feed {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PrefetchThreshold <= 0 {
		cfg.PrefetchThreshold = defaultPrefetch
	}
	return &Feed{
		client: client,
		cfg:    cfg,
		seen:   make(map[int64]int),
	}
}

// LoadMore fetches the next page of the listing. Calling it while the same
// page is already in flight joins the in-flight request instead of issuing a
// second one. It is a no-op once the listing is exhausted.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.exhausted {
		f.mu.Unlock()
		return nil
	}
	gen := f.gen
	offset := f.nextOffset
	q := api.ListQuery{
		StartDate:  f.cfg.StartDate,
		EndDate:    f.cfg.EndDate,
		NumResults: f.cfg.PageSize,
		Offset:     offset,
	}
	f.mu.Unlock()

	// The key carries the generation so a request started before Reset is
	// never joined by a load for the new date range.
	key := strconv.Itoa(gen) + ":" + strconv.Itoa(offset)
	_, err, _ := f.group.Do(key, func() (any, error) {
		page, err := f.client.ListDetections(ctx, q)
		if err != nil {
			return nil, err
		}
		f.absorb(gen, offset, page)
		return nil, nil
	})
	return err
}

// absorb merges one fetched page into the window. Stale pages (an earlier
// LoadMore already advanced past offset, or Reset switched the date range
// while the fetch was in flight) are dropped.
func (f *Feed) absorb(gen, offset int, page *api.DetectionsPage) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen || offset != f.nextOffset {
		return
	}
	f.total = page.Total
	f.nextOffset += len(page.Data)
	if len(page.Data) < f.cfg.PageSize {
		f.exhausted = true
	}

	for _, d := range page.Data {
		if _, dup := f.seen[d.ID]; dup {
			// Live prepends shift server offsets; the row is already here.
			continue
		}
		f.seen[d.ID] = len(f.rows)
		f.rows = append(f.rows, d)
	}

	slog.Debug("feed page absorbed",
		"offset", offset,
		"rows", len(page.Data),
		"window", len(f.rows),
		"total", f.total,
	)
}

// EnsureAhead fetches the next page when cursor is within the prefetch
// threshold of the window's end. cursor is the index of the row the consumer
// is currently looking at.
func (f *Feed) EnsureAhead(ctx context.Context, cursor int) error {
	f.mu.Lock()
	remaining := len(f.rows) - 1 - cursor
	need := !f.exhausted && remaining <= f.cfg.PrefetchThreshold
	f.mu.Unlock()

	if !need {
		return nil
	}
	return f.LoadMore(ctx)
}

// Rows returns a copy of the current window.
func (f *Feed) Rows() []api.Detection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Detection, len(f.rows))
	copy(out, f.rows)
	return out
}

// Len returns the number of rows currently in the window.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// Total returns the server-reported total for the active date range, as of
// the most recent page fetch.
func (f *Feed) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Exhausted reports whether the server has no further rows for the active
// date range.
func (f *Feed) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exhausted
}

// ApplyEvent folds a live notification into the window: a new detection is
// prepended (newest first, matching the listing order). Duplicates and
// non-detection events are ignored.
func (f *Feed) ApplyEvent(ev api.Event) {
	if ev.Type != api.EventNewDetection || ev.Detection == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[ev.Detection.ID]; dup {
		return
	}
	f.rows = append([]api.Detection{*ev.Detection}, f.rows...)
	for id, idx := range f.seen {
		f.seen[id] = idx + 1
	}
	f.seen[ev.Detection.ID] = 0
	f.total++
}

// Review records a verdict on the server and mirrors it into the cached row.
func (f *Feed) Review(ctx context.Context, id int64, v api.Verdict) error {
	if err := f.client.Review(ctx, id, v); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.seen[id]; ok {
		f.rows[idx].Verified = string(v)
	}
	return nil
}

// Reset clears the window and switches to a new date range. The next
// [Feed.LoadMore] starts from offset zero.
func (f *Feed) Reset(startDate, endDate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.cfg.StartDate = startDate
	f.cfg.EndDate = endDate
	f.rows = nil
	f.seen = make(map[int64]int)
	f.total = 0
	f.nextOffset = 0
	f.exhausted = false
}

// Retune adjusts the page size and prefetch threshold at runtime (config hot
// reload). Non-positive values leave the current setting unchanged.
func (f *Feed) Retune(pageSize, prefetchThreshold int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pageSize > 0 {
		f.cfg.PageSize = pageSize
	}
	if prefetchThreshold > 0 {
		f.cfg.PrefetchThreshold = prefetchThreshold
	}
}
