// Package datastore keeps the periodically refreshed snapshot of fetched
// weather data that layers read from.
package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

// Snapshot is the fetched key/value data. Values are treated as immutable
// once stored.
type Snapshot map[string]any

// String returns the string stored at key, or "" when absent or not a string
func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Get returns the value at key asserted to T
func Get[T any](s Snapshot, key string) (T, bool) {
	v, ok := s[key].(T)
	return v, ok
}

// FetchFunc produces a complete snapshot
type FetchFunc func(ctx context.Context) (Snapshot, error)

// Reader is the read side handed to layers
type Reader interface {
	Read() Snapshot
}

// Option configures a Store
type Option func(*Store)

// WithClock substitutes the clock driving the refresh loop
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithStopTimeout bounds how long Stop waits for the loop to exit
func WithStopTimeout(d time.Duration) Option {
	return func(s *Store) { s.stopTimeout = d }
}

// WithInitial seeds the snapshot served before the first fetch completes
func WithInitial(snap Snapshot) Option {
	return func(s *Store) { s.snapshot = snap }
}

// Store holds the latest snapshot and refreshes it on a fixed cadence
type Store struct {
	fetch       FetchFunc
	interval    time.Duration
	clock       clockwork.Clock
	stopTimeout time.Duration

	mu          sync.Mutex
	snapshot    Snapshot
	lastSuccess time.Time
	lastErr     error
	fetches     uint64
	failures    uint64

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Store; call Start to begin refreshing
func New(fetch FetchFunc, interval time.Duration, opts ...Option) *Store {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Store{
		fetch:       fetch,
		interval:    interval,
		clock:       clockwork.NewRealClock(),
		stopTimeout: time.Second,
		snapshot:    Snapshot{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns a shallow copy of the current snapshot
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Snapshot, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

// Start launches the refresh loop. The first fetch runs immediately.
func (s *Store) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx, s.done)

	logger.WithComponent("datastore").Info().
		Dur("interval", s.interval).
		Msg("Data refresh loop started")
}

// Stop cancels the loop and waits up to the stop timeout for it to exit. A
// fetch that ignores its context is abandoned rather than waited on.
func (s *Store) Stop() {
	s.lifeMu.Lock()
	if !s.running {
		s.lifeMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.lifeMu.Unlock()

	cancel()
	select {
	case <-done:
		logger.WithComponent("datastore").Info().Msg("Data refresh loop stopped")
	case <-time.After(s.stopTimeout):
		logger.WithComponent("datastore").Warn().
			Dur("timeout", s.stopTimeout).
			Msg("Data refresh loop did not exit in time")
	}
}

func (s *Store) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.Refresh(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch. On success the snapshot is replaced wholesale;
// on failure the previous snapshot is kept. It returns the fetch error.
func (s *Store) Refresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
			s.record(nil, err)
		}
	}()

	snap, err := s.fetch(ctx)
	s.record(snap, err)
	return err
}

func (s *Store) record(snap Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	if err != nil {
		s.failures++
		s.lastErr = err
		logger.WithComponent("datastore").Warn().
			Err(err).
			Uint64("failures", s.failures).
			Msg("Fetch failed, keeping previous snapshot")
		return
	}
	if snap == nil {
		snap = Snapshot{}
	}
	s.snapshot = snap
	s.lastSuccess = s.clock.Now()
	s.lastErr = nil
	logger.WithComponent("datastore").Debug().
		Int("keys", len(snap)).
		Msg("Snapshot replaced")
}

// Stats describes the refresh history
type Stats struct {
	Fetches     uint64    `json:"fetches"`
	Failures    uint64    `json:"failures"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Keys        int       `json:"keys"`
}

// Stats returns counters for status reporting
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Fetches:     s.fetches,
		Failures:    s.failures,
		LastSuccess: s.lastSuccess,
		Keys:        len(s.snapshot),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
