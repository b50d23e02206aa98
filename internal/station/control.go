package station

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cast"
)

const disableCheckTimeout = 3 * time.Second

// StopControl decides when the broadcast should end on its own. A request
// through RequestStop is honoured immediately; the stop file and the
// disable URL are polled by Run once per check interval, away from the
// scheduler goroutine.
type StopControl struct {
	cfg    config.ControlConfig
	clock  clockwork.Clock
	client *http.Client

	requested atomic.Bool

	mu     sync.Mutex
	reason string
}

// NewStopControl creates a control for cfg
func NewStopControl(cfg config.ControlConfig, clock clockwork.Clock) *StopControl {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.CheckIntervalSec <= 0 {
		cfg.CheckIntervalSec = 5
	}
	return &StopControl{
		cfg:    cfg,
		clock:  clock,
		client: &http.Client{Timeout: disableCheckTimeout},
	}
}

// RequestStop asks the scheduler to exit at its next check
func (c *StopControl) RequestStop() {
	if c.requested.Load() {
		return
	}
	c.stop("requested")
	logger.WithComponent("control").Info().Msg("Stop requested")
}

// Reason is why the broadcast stopped, empty while it is still running
func (c *StopControl) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// stop latches the first reason given
func (c *StopControl) stop(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.requested.Store(true)
}

func (c *StopControl) interval() time.Duration {
	return time.Duration(c.cfg.CheckIntervalSec * float64(time.Second))
}

// Watching reports whether there is anything for Run to poll
func (c *StopControl) Watching() bool {
	return c.cfg.StopFile != "" || c.cfg.DisableURL != ""
}

// ShouldStop is the scheduler's stop predicate. It never blocks.
func (c *StopControl) ShouldStop() bool {
	return c.requested.Load()
}

// Run polls the stop file and the disable URL until ctx is done or one of
// them asks for a stop
func (c *StopControl) Run(ctx context.Context) error {
	if !c.Watching() {
		return nil
	}

	ticker := c.clock.NewTicker(c.interval())
	defer ticker.Stop()

	for {
		if c.check(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// check runs one poll and reports whether the station should stop
func (c *StopControl) check(ctx context.Context) bool {
	if c.requested.Load() {
		return true
	}
	log := logger.WithComponent("control")

	if c.cfg.StopFile != "" {
		if _, err := os.Stat(c.cfg.StopFile); err == nil {
			log.Info().Str("stop_file", c.cfg.StopFile).Msg("Stop file present")
			c.stop("stop file " + c.cfg.StopFile)
			return true
		}
	}

	if c.cfg.DisableURL != "" {
		ctx, cancel := context.WithTimeout(ctx, disableCheckTimeout)
		defer cancel()
		enabled, err := c.checkEnabled(ctx)
		if err != nil {
			log.Debug().Err(err).Str("url", c.cfg.DisableURL).Msg("Disable check failed, keeping station on")
			return false
		}
		if !enabled {
			log.Info().Str("url", c.cfg.DisableURL).Msg("Station disabled remotely")
			c.stop("disabled by " + c.cfg.DisableURL)
			return true
		}
	}
	return false
}

// checkEnabled asks the disable URL whether the station may keep running.
// The body is either a JSON object with an "enabled" field or a bare
// boolean such as "true", "0" or "off".
func (c *StopControl) checkEnabled(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.DisableURL, nil)
	if err != nil {
		return true, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to query disable url: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return true, fmt.Errorf("disable url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return true, fmt.Errorf("failed to read disable url: %w", err)
	}
	return ParseEnabled(body)
}

// ParseEnabled interprets a disable URL response body
func ParseEnabled(body []byte) (bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		v, ok := doc["enabled"]
		if !ok {
			return true, fmt.Errorf("response has no enabled field")
		}
		return parseBool(v)
	}
	return parseBool(strings.TrimSpace(string(body)))
}

func parseBool(v any) (bool, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off":
			return false, nil
		}
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return true, fmt.Errorf("unrecognized enabled value %v: %w", v, err)
	}
	return b, nil
}
