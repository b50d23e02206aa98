package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	pid int

	block   chan struct{}
	writing chan struct{}

	exitOnClose     bool
	exitOnInterrupt bool

	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	done     chan struct{}
	exitOnce sync.Once

	closed      atomic.Bool
	interrupted atomic.Bool
	killed      atomic.Bool
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{
		pid:         pid,
		writing:     make(chan struct{}, 64),
		done:        make(chan struct{}),
		exitOnClose: true,
	}
}

func (p *fakeProc) Write(b []byte) (int, error) {
	select {
	case p.writing <- struct{}{}:
	default:
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-p.done:
			return 0, io.ErrClosedPipe
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakeProc) CloseInput() error {
	p.closed.Store(true)
	if p.exitOnClose {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Interrupt() error {
	p.interrupted.Store(true)
	if p.exitOnInterrupt {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

func (p *fakeProc) exit()                 { p.exitOnce.Do(func() { close(p.done) }) }
func (p *fakeProc) Pid() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) ExitErr() error        { return errors.New("exit status 1") }

func (p *fakeProc) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProc
	attempts int
	prepare  func(n int, p *fakeProc)
	failFrom int // attempts numbered from 1; zero never fails
}

func (l *fakeLauncher) Launch(cfg LaunchConfig) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.failFrom > 0 && l.attempts >= l.failFrom {
		return nil, fmt.Errorf("%w: %s", ErrEncoderNotFound, cfg.Path)
	}
	p := newFakeProc(1000 + l.attempts)
	if l.prepare != nil {
		l.prepare(l.attempts, p)
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) proc(i int) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func testConfig() LaunchConfig {
	return LaunchConfig{Path: "ffmpeg", Encoder: EncoderX264, Width: 2, Height: 2, FPS: 30}
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	l := &fakeLauncher{prepare: func(_ int, p *fakeProc) { p.block = block }}
	s := NewSink(testConfig(), WithLauncher(l), WithMaxQueue(2))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.True(t, s.Send([]byte{1}))
	select {
	case <-l.proc(0).writing:
	case <-time.After(time.Second):
		t.Fatal("writer never picked up the first frame")
	}

	assert.True(t, s.Send([]byte{2}))
	assert.True(t, s.Send([]byte{3}))

	start := time.Now()
	assert.False(t, s.Send([]byte{4}))
	assert.False(t, s.Send([]byte{5}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	st := s.Stats()
	assert.Equal(t, 2, st.QueueDepth)
	assert.LessOrEqual(t, st.QueueDepth, st.QueueCap)
	assert.Equal(t, uint64(2), st.Dropped)

	close(block)
	require.Eventually(t, func() bool { return s.Stats().Sent == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, l.proc(0).written())
}

func TestDeadEncoderRestartsOnce(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSink(testConfig(), WithLauncher(l), WithMaxQueue(64))
	require.NoError(t, s.Start())
	defer s.Stop()
	firstRun := s.Stats().RunID

	l.proc(0).exit()
	require.Eventually(t, func() bool { return s.State() == StateDead }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Send([]byte{byte(i)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, l.count())
	st := s.Stats()
	assert.Equal(t, uint64(1), st.Restarts)
	assert.Equal(t, uint64(2), st.Launches)
	assert.Equal(t, StateRunning.String(), st.State)
	assert.NotEqual(t, firstRun, st.RunID)

	assert.Eventually(t, func() bool { return l.proc(0).closed.Load() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(l.proc(1).written()) == 10 }, time.Second, 5*time.Millisecond)
}

func TestWriteErrorMarksDead(t *testing.T) {
	l := &fakeLauncher{prepare: func(n int, p *fakeProc) {
		if n == 1 {
			p.writeErr = syscall.EPIPE
		}
	}}
	s := NewSink(testConfig(), WithLauncher(l))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.True(t, s.Send([]byte("lost")))
	require.Eventually(t, func() bool { return s.State() == StateDead }, time.Second, 5*time.Millisecond)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.WriteErrors)
	assert.Contains(t, st.LastError, "broken pipe")

	require.True(t, s.Send([]byte("kept")))
	require.Eventually(t, func() bool { return len(l.proc(1).written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("kept"), l.proc(1).written()[0])
}

func TestFailedRestartBacksOff(t *testing.T) {
	l := &fakeLauncher{failFrom: 2}
	s := NewSink(testConfig(), WithLauncher(l), WithRestartBackoff(time.Hour))
	require.NoError(t, s.Start())
	defer s.Stop()

	l.proc(0).exit()
	require.Eventually(t, func() bool { return s.State() == StateDead }, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		assert.False(t, s.Send([]byte{0}))
	}
	assert.Equal(t, 2, l.count())
	assert.Contains(t, s.Stats().LastError, "encoder executable not found")
}

func TestEncoderExitingAtLaunchBacksOffThenFails(t *testing.T) {
	l := &fakeLauncher{prepare: func(_ int, p *fakeProc) { p.exit() }}
	s := NewSink(testConfig(), WithLauncher(l),
		WithRestartBackoff(200*time.Millisecond),
		WithFastDeathLimit(time.Minute, 4))
	require.NoError(t, s.Start())
	defer s.Stop()

	dead := func() bool { return s.State() == StateDead }
	require.Eventually(t, dead, time.Second, time.Millisecond)

	// the first early exit is restarted straight away
	for i := 0; i < 30; i++ {
		s.Send([]byte{byte(i)})
	}
	assert.Equal(t, 2, l.count())

	// the second one waits out the backoff instead of relaunching per frame
	require.Eventually(t, dead, time.Second, time.Millisecond)
	for i := 0; i < 30; i++ {
		assert.False(t, s.Send([]byte{byte(i)}))
	}
	assert.Equal(t, 2, l.count())

	require.Eventually(t, func() bool {
		s.Send([]byte{0})
		select {
		case <-s.Failed():
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 4, l.count())
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrEncoderFailing)
	assert.Equal(t, StateFailed.String(), s.Stats().State)
	assert.False(t, s.Send([]byte{1}))
	assert.ErrorIs(t, s.Start(), ErrEncoderFailing)
}

func TestHealthyRunResetsEarlyExitCount(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSink(testConfig(), WithLauncher(l),
		WithRestartBackoff(time.Hour),
		WithFastDeathLimit(20*time.Millisecond, 2))
	require.NoError(t, s.Start())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		l.proc(i).exit()
		require.Eventually(t, func() bool { return s.State() == StateDead }, time.Second, time.Millisecond)
		require.True(t, s.Send([]byte{byte(i)}))
	}
	assert.Equal(t, 4, l.count())
	assert.NoError(t, s.Err())
}

func TestStopClosesInputFirst(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSink(testConfig(), WithLauncher(l))
	require.NoError(t, s.Start())

	s.Stop()
	p := l.proc(0)
	assert.True(t, p.closed.Load())
	assert.False(t, p.interrupted.Load())
	assert.False(t, p.killed.Load())
	assert.Equal(t, StateStopped, s.State())
}

func TestStopEscalatesAndIsIdempotent(t *testing.T) {
	l := &fakeLauncher{prepare: func(_ int, p *fakeProc) { p.exitOnClose = false }}
	s := NewSink(testConfig(), WithLauncher(l), WithStopTimeouts(20*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, s.Start())

	s.Stop()
	p := l.proc(0)
	assert.True(t, p.closed.Load())
	assert.True(t, p.interrupted.Load())
	assert.True(t, p.killed.Load())

	assert.NotPanics(t, s.Stop)
	assert.ErrorIs(t, s.Start(), ErrSinkStopped)
	assert.False(t, s.Send([]byte{1}))
}

func TestSendBeforeStart(t *testing.T) {
	s := NewSink(testConfig(), WithLauncher(&fakeLauncher{}))
	assert.False(t, s.Send([]byte{1}))
	assert.Equal(t, StateNotStarted, s.State())
}

func TestMissingEncoderIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Path = "weatharr-test-no-such-encoder"
	s := NewSink(cfg)

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderNotFound)
	assert.Equal(t, StateNotStarted, s.State())
}

func TestReleaseReturnsEveryAcceptedFrame(t *testing.T) {
	var released atomic.Int32
	l := &fakeLauncher{}
	s := NewSink(testConfig(), WithLauncher(l), WithMaxQueue(8),
		WithRelease(func([]byte) { released.Add(1) }))
	require.NoError(t, s.Start())

	accepted := int32(0)
	for i := 0; i < 5; i++ {
		if s.Send([]byte{byte(i)}) {
			accepted++
		}
	}
	require.Eventually(t, func() bool { return released.Load() == accepted }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, accepted, released.Load())
}
