// Package pages groups layers into named pages and rotates which page is on
// screen.
package pages

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

// MinInterval is the shortest page rotation period
const MinInterval = time.Second

var (
	// ErrNoPages is returned when a page is requested from an empty cycler
	ErrNoPages = errors.New("no pages configured")

	ErrPageNotFound = errors.New("page not found")
)

// Page is a named group of layers shown together. A layer may belong to
// several pages; it stays visible while any of them is active.
type Page struct {
	Name   string
	Layers []layer.Layer
}

// ChangeFunc is notified after a page becomes active
type ChangeFunc func(index int, name string)

// Option configures a Cycler
type Option func(*Cycler)

// WithClock substitutes the clock driving rotation
func WithClock(c clockwork.Clock) Option {
	return func(cy *Cycler) { cy.clock = c }
}

// WithOnChange registers a hook called after every activation
func WithOnChange(fn ChangeFunc) Option {
	return func(cy *Cycler) { cy.onChange = fn }
}

// Cycler toggles page visibility on a timer. Activate is safe from any
// goroutine.
type Cycler struct {
	pages    []Page
	interval time.Duration
	clock    clockwork.Clock
	onChange ChangeFunc

	mu      sync.Mutex
	current int

	lifeMu   sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCycler creates a cycler; interval is raised to MinInterval
func NewCycler(pages []Page, interval time.Duration, opts ...Option) *Cycler {
	if interval < MinInterval {
		interval = MinInterval
	}
	c := &Cycler{
		pages:    pages,
		interval: interval,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate shows page index (wrapped modulo the page count) and hides every
// layer that belongs only to other pages.
func (c *Cycler) Activate(index int) {
	n := len(c.pages)
	if n == 0 {
		return
	}
	index %= n
	if index < 0 {
		index += n
	}

	c.mu.Lock()
	c.current = index
	active := make(map[layer.Layer]struct{}, len(c.pages[index].Layers))
	for _, l := range c.pages[index].Layers {
		active[l] = struct{}{}
	}
	for _, p := range c.pages {
		for _, l := range p.Layers {
			_, on := active[l]
			l.SetVisible(on)
		}
	}
	name := c.pages[index].Name
	c.mu.Unlock()

	logger.WithComponent("pages").Debug().
		Int("index", index).
		Str("page", name).
		Msg("Page activated")

	if c.onChange != nil {
		c.onChange(index, name)
	}
}

// Next advances to the following page
func (c *Cycler) Next() {
	c.mu.Lock()
	next := c.current + 1
	c.mu.Unlock()
	c.Activate(next)
}

// Current returns the active page index and name
func (c *Cycler) Current() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) == 0 {
		return 0, ""
	}
	return c.current, c.pages[c.current].Name
}

// Names lists the page names in rotation order
func (c *Cycler) Names() []string {
	names := make([]string, len(c.pages))
	for i, p := range c.pages {
		names[i] = p.Name
	}
	return names
}

// Interval returns the rotation period
func (c *Cycler) Interval() time.Duration {
	return c.interval
}

// ActivateByName shows the page with the given name (case-insensitive)
func (c *Cycler) ActivateByName(name string) error {
	if len(c.pages) == 0 {
		return ErrNoPages
	}
	for i, p := range c.pages {
		if strings.EqualFold(p.Name, name) {
			c.Activate(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrPageNotFound, name)
}

// Start begins rotating. Calling Start while running does nothing.
func (c *Cycler) Start() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.running || len(c.pages) == 0 {
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})

	go c.loop(c.stopChan, c.done)

	logger.WithComponent("pages").Info().
		Int("pages", len(c.pages)).
		Dur("interval", c.interval).
		Msg("Page rotation started")
}

// Stop ends rotation and waits briefly for the loop to exit. It is safe to
// call more than once.
func (c *Cycler) Stop() {
	c.lifeMu.Lock()
	if !c.running {
		c.lifeMu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	done := c.done
	c.lifeMu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		logger.WithComponent("pages").Warn().Msg("Page rotation did not exit in time")
	}
}

func (c *Cycler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.Next()
		}
	}
}
