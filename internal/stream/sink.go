package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/google/uuid"
)

// State is the encoder process state as seen by the sink
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateDead
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

const (
	defaultMaxQueue       = 2
	defaultCloseWait      = 3 * time.Second
	defaultInterruptWait  = 2 * time.Second
	defaultWriterWait     = time.Second
	defaultRestartBackoff = time.Second
	defaultMinUptime      = 2 * time.Second
	defaultMaxFastDeaths  = 5
	maxBackoffShift       = 5
)

// SinkOption configures a Sink
type SinkOption func(*Sink)

// WithLauncher replaces the process launcher
func WithLauncher(l Launcher) SinkOption {
	return func(s *Sink) { s.launcher = l }
}

// WithMaxQueue sets the frame queue capacity (minimum 1)
func WithMaxQueue(n int) SinkOption {
	return func(s *Sink) {
		if n < 1 {
			n = 1
		}
		s.maxQueue = n
	}
}

// WithStopTimeouts sets how long Stop waits after closing stdin and after
// interrupting before escalating
func WithStopTimeouts(closeWait, interruptWait time.Duration) SinkOption {
	return func(s *Sink) {
		s.closeWait = closeWait
		s.interruptWait = interruptWait
	}
}

// WithRestartBackoff sets the base gap before relaunching after a failed
// launch or a repeated early exit. It doubles with each consecutive failure.
func WithRestartBackoff(d time.Duration) SinkOption {
	return func(s *Sink) { s.restartBackoff = d }
}

// WithFastDeathLimit treats an exit within minUptime of launch as a failed
// launch; after limit of them in a row the sink gives up and reports Failed
func WithFastDeathLimit(minUptime time.Duration, limit int) SinkOption {
	return func(s *Sink) {
		if limit < 1 {
			limit = 1
		}
		s.minUptime = minUptime
		s.maxFastDeaths = limit
	}
}

// WithRelease registers a callback that receives every accepted frame once
// the sink is done with it, so the caller can recycle the buffer
func WithRelease(fn func([]byte)) SinkOption {
	return func(s *Sink) { s.release = fn }
}

// Sink feeds raw frames to a single encoder process through a bounded
// queue. Send never blocks; a dead encoder is relaunched on the next Send.
// An encoder that keeps exiting right after launch is relaunched with
// growing delays and finally marks the sink failed.
type Sink struct {
	cfg            LaunchConfig
	launcher       Launcher
	maxQueue       int
	closeWait      time.Duration
	interruptWait  time.Duration
	restartBackoff time.Duration
	minUptime      time.Duration
	maxFastDeaths  int
	release        func([]byte)

	mu         sync.Mutex
	state      State
	proc       Process
	runID      string
	lastErr    error
	launchedAt time.Time
	fastDeaths int
	retryAt    time.Time
	failErr    error
	failed     chan struct{}
	writerStop chan struct{}
	writerDone chan struct{}

	queue chan []byte

	launches    atomic.Uint64
	restarts    atomic.Uint64
	sent        atomic.Uint64
	dropped     atomic.Uint64
	writeErrors atomic.Uint64
}

// NewSink creates a sink for cfg; call Start to launch the encoder
func NewSink(cfg LaunchConfig, opts ...SinkOption) *Sink {
	s := &Sink{
		cfg:            cfg,
		launcher:       ExecLauncher{},
		maxQueue:       defaultMaxQueue,
		closeWait:      defaultCloseWait,
		interruptWait:  defaultInterruptWait,
		restartBackoff: defaultRestartBackoff,
		minUptime:      defaultMinUptime,
		maxFastDeaths:  defaultMaxFastDeaths,
		failed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan []byte, s.maxQueue)
	return s
}

// Start launches the encoder and the writer. A missing encoder binary is
// returned as ErrEncoderNotFound.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrSinkStopped
	case StateFailed:
		return s.failErr
	case StateDead:
		if old := s.proc; old != nil {
			s.proc = nil
			go s.terminate(old)
		}
	}

	s.fastDeaths = 0
	s.retryAt = time.Time{}
	if err := s.launchLocked(); err != nil {
		return err
	}

	if s.writerStop == nil {
		s.writerStop = make(chan struct{})
		s.writerDone = make(chan struct{})
		go s.writeLoop(s.writerStop, s.writerDone)
	}
	return nil
}

// launchLocked starts a process and makes it current. Caller holds mu.
func (s *Sink) launchLocked() error {
	proc, err := s.launcher.Launch(s.cfg)
	if err != nil {
		s.lastErr = err
		return err
	}

	s.proc = proc
	s.launchedAt = time.Now()
	s.state = StateRunning
	s.runID = uuid.NewString()
	s.lastErr = nil
	s.launches.Add(1)

	go s.monitor(proc)

	logger.WithComponent("stream").Info().
		Str("run_id", s.runID).
		Int("pid", proc.Pid()).
		Str("url", s.cfg.Destination.URL).
		Msg("Encoder running")
	return nil
}

// monitor marks the sink dead when proc exits while still current
func (s *Sink) monitor(proc Process) {
	<-proc.Done()
	s.markDead(proc, proc.ExitErr())
}

func (s *Sink) markDead(proc Process, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != proc || s.state != StateRunning {
		return
	}
	s.state = StateDead
	if err != nil {
		s.lastErr = err
	}

	uptime := time.Since(s.launchedAt)
	if uptime >= s.minUptime {
		s.fastDeaths = 0
	} else if s.noteFailureLocked() {
		return
	}

	logger.WithComponent("stream").Warn().
		Err(err).
		Str("run_id", s.runID).
		Dur("uptime", uptime).
		Int("fast_deaths", s.fastDeaths).
		Msg("Encoder died, will restart on next frame")
}

// noteFailureLocked counts a failed launch or an early exit. The first one
// leaves the next restart immediate; later ones push it back. It reports
// whether the sink has given up. Caller holds mu.
func (s *Sink) noteFailureLocked() bool {
	s.fastDeaths++
	if s.fastDeaths >= s.maxFastDeaths {
		s.failLocked(fmt.Errorf("%w: %d failures in a row, last: %v", ErrEncoderFailing, s.fastDeaths, s.lastErr))
		return true
	}
	if s.fastDeaths > 1 {
		delay := s.restartBackoff << min(s.fastDeaths-2, maxBackoffShift)
		s.retryAt = time.Now().Add(delay)
	}
	return false
}

// failLocked gives up on the encoder. Caller holds mu.
func (s *Sink) failLocked(err error) {
	s.state = StateFailed
	s.failErr = err
	s.lastErr = err
	if old := s.proc; old != nil {
		s.proc = nil
		go s.terminate(old)
	}
	close(s.failed)

	logger.WithComponent("stream").Error().
		Err(err).
		Str("url", s.cfg.Destination.URL).
		Msg("Encoder failing, giving up")
}

// Failed is closed once the sink has given up on the encoder
func (s *Sink) Failed() <-chan struct{} {
	return s.failed
}

// Err returns why the sink gave up, or nil
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}

// Send enqueues a frame without blocking. It returns false when the frame
// was not accepted: the queue is full, the encoder could not be restarted,
// or the sink is not running. On true the sink owns frame.
func (s *Sink) Send(frame []byte) bool {
	s.mu.Lock()
	switch s.state {
	case StateNotStarted, StateStopped, StateFailed:
		s.mu.Unlock()
		return false
	case StateDead:
		if !s.restartLocked() {
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()

	select {
	case s.queue <- frame:
		return true
	default:
		s.dropped.Add(1)
		logger.WithComponent("stream").Debug().Msg("Encoder queue full, frame dropped")
		return false
	}
}

// restartLocked replaces a dead process. Caller holds mu.
func (s *Sink) restartLocked() bool {
	if time.Now().Before(s.retryAt) {
		return false
	}

	if old := s.proc; old != nil {
		s.proc = nil
		go s.terminate(old)
	}

	s.restarts.Add(1)
	if err := s.launchLocked(); err != nil {
		logger.WithComponent("stream").Error().
			Err(err).
			Msg("Failed to restart encoder")
		if !s.noteFailureLocked() && s.retryAt.Before(time.Now()) {
			s.retryAt = time.Now().Add(s.restartBackoff)
		}
		return false
	}
	return true
}

func (s *Sink) writeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case frame := <-s.queue:
			s.write(frame)
		}
	}
}

func (s *Sink) write(frame []byte) {
	defer s.recycle(frame)

	s.mu.Lock()
	proc, state := s.proc, s.state
	s.mu.Unlock()

	if state != StateRunning || proc == nil {
		s.dropped.Add(1)
		return
	}

	// Write returns only after the whole frame is written or on error
	if _, err := proc.Write(frame); err != nil {
		s.writeErrors.Add(1)
		s.markDead(proc, err)
		return
	}
	s.sent.Add(1)
}

func (s *Sink) recycle(frame []byte) {
	if s.release != nil {
		s.release(frame)
	}
}

// Stop shuts down the writer and the encoder. It is safe to call more than
// once; later calls return immediately.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	proc := s.proc
	s.proc = nil
	stop, done := s.writerStop, s.writerDone
	s.mu.Unlock()

	log := logger.WithComponent("stream")

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(defaultWriterWait):
			log.Warn().Msg("Encoder writer still busy, closing input anyway")
		}
	}

	if proc != nil {
		s.terminate(proc)
	}

drain:
	for {
		select {
		case frame := <-s.queue:
			s.recycle(frame)
		default:
			break drain
		}
	}

	log.Info().
		Uint64("sent", s.sent.Load()).
		Uint64("dropped", s.dropped.Load()).
		Uint64("restarts", s.restarts.Load()).
		Msg("Stream sink stopped")
}

// terminate closes stdin and escalates to interrupt then kill
func (s *Sink) terminate(proc Process) {
	log := logger.WithComponent("stream").With().Int("pid", proc.Pid()).Logger()

	if err := proc.CloseInput(); err != nil {
		log.Debug().Err(err).Msg("Closing encoder input")
	}
	select {
	case <-proc.Done():
		return
	case <-time.After(s.closeWait):
	}

	log.Warn().Msg("Encoder did not exit after input closed, interrupting")
	if err := proc.Interrupt(); err != nil {
		log.Debug().Err(err).Msg("Interrupt failed")
	}
	select {
	case <-proc.Done():
		return
	case <-time.After(s.interruptWait):
	}

	log.Warn().Msg("Encoder ignored interrupt, killing")
	if err := proc.Kill(); err != nil {
		log.Error().Err(err).Msg("Failed to kill encoder")
		return
	}
	select {
	case <-proc.Done():
	case <-time.After(time.Second):
		log.Error().Msg("Encoder did not exit after kill")
	}
}

// Config returns the launch configuration
func (s *Sink) Config() LaunchConfig {
	return s.cfg
}

// State returns the current process state
func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats describes the sink for status reporting
type Stats struct {
	State       string `json:"state"`
	RunID       string `json:"run_id,omitempty"`
	PID         int    `json:"pid,omitempty"`
	Encoder     string `json:"encoder"`
	URL         string `json:"url"`
	Launches    uint64 `json:"launches"`
	Restarts    uint64 `json:"restarts"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	WriteErrors uint64 `json:"write_errors"`
	QueueDepth  int    `json:"queue_depth"`
	QueueCap    int    `json:"queue_cap"`
	LastError   string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the counters
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State:   s.state.String(),
		RunID:   s.runID,
		Encoder: string(s.cfg.Encoder),
		URL:     s.cfg.Destination.URL,
	}
	if s.proc != nil {
		st.PID = s.proc.Pid()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.Launches = s.launches.Load()
	st.Restarts = s.restarts.Load()
	st.Sent = s.sent.Load()
	st.Dropped = s.dropped.Load()
	st.WriteErrors = s.writeErrors.Load()
	st.QueueDepth = len(s.queue)
	st.QueueCap = cap(s.queue)
	return st
}
