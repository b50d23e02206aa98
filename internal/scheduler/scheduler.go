// Package scheduler drives layer ticks on their own cadences and presents
// frames either when something visible changed or when the constant frame
// rate deadline comes due.
package scheduler

import (
	"container/heap"
	"context"
	"image"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

// maxIdle caps a single sleep so ShouldStop is re-evaluated even when
// nothing is due for a long time.
const maxIdle = time.Second

// Compositor is the part of the compositor the scheduler needs
type Compositor interface {
	Compose(layers []layer.Layer)
	Present() *image.RGBA
}

// Options configures a Scheduler
type Options struct {
	// CFR is the constant presentation rate in frames per second. Zero
	// presents only when a visible layer changed.
	CFR float64

	Clock clockwork.Clock

	// OnPresent receives every presented frame exactly once. The frame is
	// owned by the compositor and is only valid until the next presentation.
	OnPresent func(frame *image.RGBA)

	// ShouldStop is polled once per idle wait; returning true ends Run.
	ShouldStop func() bool
}

// Stats counts scheduler activity
type Stats struct {
	Ticks       uint64    `json:"ticks"`
	Presents    uint64    `json:"presents"`
	Repeats     uint64    `json:"repeats"`
	LastPresent time.Time `json:"last_present"`
	Layers      int       `json:"layers"`
}

// Scheduler owns the cadence heap. Step and Run must be called from a single
// goroutine; Stats may be read from anywhere.
type Scheduler struct {
	layers []layer.Layer
	comp   Compositor
	opts   Options
	period time.Duration

	queue       deadlines
	started     bool
	nextPresent time.Time

	statsMu sync.Mutex
	stats   Stats
}

// New creates a scheduler over layers. Registration order breaks deadline
// ties so paint and tick order are reproducible.
func New(layers []layer.Layer, comp Compositor, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		layers: append([]layer.Layer(nil), layers...),
		comp:   comp,
		opts:   opts,
	}
	if opts.CFR > 0 {
		s.period = time.Duration(float64(time.Second) / opts.CFR)
	}
	s.stats.Layers = len(s.layers)
	return s
}

// Reset schedules every layer and the first presentation deadline at start
func (s *Scheduler) Reset(start time.Time) {
	s.queue = s.queue[:0]
	for i := range s.layers {
		s.queue = append(s.queue, deadline{at: start, index: i})
	}
	heap.Init(&s.queue)
	s.nextPresent = start
	s.started = true
}

// NextWake returns the earliest of the next layer deadline and the next
// presentation deadline. The zero time means nothing is ever due.
func (s *Scheduler) NextWake() time.Time {
	if !s.started {
		s.Reset(s.opts.Clock.Now())
	}
	var wake time.Time
	if len(s.queue) > 0 {
		wake = s.queue[0].at
	}
	if s.period > 0 && (wake.IsZero() || s.nextPresent.Before(wake)) {
		wake = s.nextPresent
	}
	return wake
}

// Step ticks every layer due at or before now, then presents if a visible
// layer changed or the presentation deadline was reached. It reports whether
// a frame was presented.
func (s *Scheduler) Step(now time.Time) bool {
	if !s.started {
		s.Reset(now)
	}

	dirty := false
	ticks := uint64(0)
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(deadline)
		l := s.layers[d.index]

		rects := l.Tick(now)
		ticks++
		if l.Visible() && len(rects) > 0 {
			dirty = true
		}
		heap.Push(&s.queue, deadline{at: now.Add(l.Interval()), index: d.index})
	}

	due := s.period > 0 && !now.Before(s.nextPresent)
	if !dirty && !due {
		s.record(ticks, false, false, now)
		return false
	}

	if dirty {
		s.comp.Compose(s.layers)
	}
	frame := s.comp.Present()

	if s.period > 0 {
		if due {
			// stay on the frame grid unless we fell a whole period behind
			s.nextPresent = s.nextPresent.Add(s.period)
			if !s.nextPresent.After(now) {
				s.nextPresent = now.Add(s.period)
			}
		} else {
			s.nextPresent = now.Add(s.period)
		}
	}

	s.record(ticks, true, !dirty, now)
	if s.opts.OnPresent != nil {
		s.opts.OnPresent(frame)
	}
	return true
}

func (s *Scheduler) record(ticks uint64, presented, repeat bool, now time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Ticks += ticks
	if presented {
		s.stats.Presents++
		s.stats.LastPresent = now
	}
	if repeat {
		s.stats.Repeats++
	}
}

// Stats returns a copy of the counters
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Run loops until ctx is cancelled or ShouldStop returns true. A stop
// requested through ShouldStop returns nil; cancellation returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.WithComponent("scheduler")
	clock := s.opts.Clock

	s.Reset(clock.Now())
	log.Info().
		Int("layers", len(s.layers)).
		Float64("cfr", s.opts.CFR).
		Msg("Scheduler started")

	for {
		wake := s.NextWake()

		if s.opts.ShouldStop != nil && s.opts.ShouldStop() {
			st := s.Stats()
			log.Info().
				Uint64("presents", st.Presents).
				Msg("Stop requested, scheduler exiting")
			return nil
		}

		wait := maxIdle
		if !wake.IsZero() {
			wait = wake.Sub(clock.Now())
			if wait > maxIdle {
				wait = maxIdle
			}
		}

		if wait > 0 {
			timer := clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.Chan():
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		s.Step(clock.Now())
	}
}

// Period returns the presentation interval, or zero without CFR
func (s *Scheduler) Period() time.Duration {
	return s.period
}

type deadline struct {
	at    time.Time
	index int
}

// deadlines is a min-heap on time, then registration index
type deadlines []deadline

func (d deadlines) Len() int { return len(d) }
func (d deadlines) Less(i, j int) bool {
	if d[i].at.Equal(d[j].at) {
		return d[i].index < d[j].index
	}
	return d[i].at.Before(d[j].at)
}
func (d deadlines) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *deadlines) Push(x any) { *d = append(*d, x.(deadline)) }

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	*d = old[:n-1]
	return item
}
