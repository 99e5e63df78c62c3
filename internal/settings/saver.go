package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perchkit/perch/internal/api"
)

const (
	defaultDebounce    = 2 * time.Second
	defaultSaveTimeout = 10 * time.Second
)

// Patcher is the slice of the API client the saver needs. *api.Client
// satisfies it; tests substitute a mock.
type Patcher interface {
	PatchSettings(ctx context.Context, domain api.SettingsDomain, payload any) error
}

// Saver debounces settings writes. Each queued update arms (or re-arms) a
// per-domain timer; when the timer fires the latest payload for that domain
// is PATCHed to the server. Updates whose encoded content equals the last
// successfully saved document are dropped without a server call.
//
// All methods are safe for concurrent use.
type Saver struct {
	patcher     Patcher
	debounce    time.Duration
	saveTimeout time.Duration
	onSaved     func(domain api.SettingsDomain)
	onSaveError func(domain api.SettingsDomain, err error)

	mu        sync.Mutex
	pending   map[api.SettingsDomain]*pendingSave
	lastSaved map[api.SettingsDomain][]byte
	closed    bool
	wg        sync.WaitGroup
}

type pendingSave struct {
	payload any
	encoded []byte
	timer   *time.Timer
}

// SaverOption customizes a [Saver].
type SaverOption func(*Saver)

// WithDebounce sets how long the saver waits after the last update to a
// domain before writing it out.
func WithDebounce(d time.Duration) SaverOption {
	return func(s *Saver) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithSaveTimeout bounds each PATCH issued by a timer fire.
func WithSaveTimeout(d time.Duration) SaverOption {
	return func(s *Saver) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

// WithOnSaved registers a callback invoked after each successful save.
func WithOnSaved(fn func(domain api.SettingsDomain)) SaverOption {
	return func(s *Saver) { s.onSaved = fn }
}

// WithOnSaveError registers a callback invoked when a save fails. Failed
// payloads stay dirty and are retried by the next Queue or Flush.
func WithOnSaveError(fn func(domain api.SettingsDomain, err error)) SaverOption {
	return func(s *Saver) { s.onSaveError = fn }
}

// NewSaver creates a Saver writing through patcher.
func NewSaver(patcher Patcher, opts ...SaverOption) *Saver {
	s := &Saver{
		patcher:     patcher,
		debounce:    defaultDebounce,
		saveTimeout: defaultSaveTimeout,
		pending:     make(map[api.SettingsDomain]*pendingSave),
		lastSaved:   make(map[api.SettingsDomain][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue records payload as the desired state for domain and (re)arms the
// debounce timer. Queuing content identical to the last saved document
// cancels any pending write for the domain instead of arming one.
func (s *Saver) Queue(domain api.SettingsDomain, payload any) error {
	if !domain.IsValid() {
		return fmt.Errorf("unknown settings domain %q", domain)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s settings: %w", domain, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("saver is closed")
	}

	if prev, ok := s.lastSaved[domain]; ok && string(prev) == string(encoded) {
		if p, armed := s.pending[domain]; armed {
			p.timer.Stop()
			delete(s.pending, domain)
		}
		slog.Debug("settings save skipped, content unchanged", "domain", domain)
		return nil
	}

	if p, armed := s.pending[domain]; armed {
		p.payload = payload
		p.encoded = encoded
		p.timer.Reset(s.debounce)
		return nil
	}

	p := &pendingSave{payload: payload, encoded: encoded}
	p.timer = time.AfterFunc(s.debounce, func() { s.fire(domain) })
	s.pending[domain] = p
	return nil
}

// fire runs on a timer goroutine. The entry may have been flushed or
// re-armed since the timer was set; only a still-pending entry is saved.
func (s *Saver) fire(domain api.SettingsDomain) {
	s.mu.Lock()
	p, ok := s.pending[domain]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, domain)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	s.save(ctx, domain, p)
}

// save issues the PATCH and records the outcome. On failure the payload is
// restored as pending (without a timer) so Flush retries it.
func (s *Saver) save(ctx context.Context, domain api.SettingsDomain, p *pendingSave) error {
	err := s.patcher.PatchSettings(ctx, domain, p.payload)

	s.mu.Lock()
	if err != nil {
		if _, rearmed := s.pending[domain]; !rearmed {
			s.pending[domain] = p
		}
		s.mu.Unlock()
		slog.Error("settings save failed", "domain", domain, "error", err)
		if s.onSaveError != nil {
			s.onSaveError(domain, err)
		}
		return fmt.Errorf("saving %s settings: %w", domain, err)
	}
	s.lastSaved[domain] = p.encoded
	s.mu.Unlock()

	slog.Debug("settings saved", "domain", domain)
	if s.onSaved != nil {
		s.onSaved(domain)
	}
	return nil
}

// Flush writes out every pending domain immediately, bypassing the debounce.
// Errors from individual domains are joined.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	dirty := make(map[api.SettingsDomain]*pendingSave, len(s.pending))
	for domain, p := range s.pending {
		p.timer.Stop()
		dirty[domain] = p
		delete(s.pending, domain)
	}
	s.mu.Unlock()

	var errs []error
	for domain, p := range dirty {
		if err := s.save(ctx, domain, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dirty reports whether any domain has an unsaved update.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Close flushes pending saves and stops the saver. Further Queue calls fail.
func (s *Saver) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Timer fires racing Close see closed and bail; in-flight ones finish.
	s.wg.Wait()

	return s.Flush(ctx)
}
