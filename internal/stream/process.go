package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
)

// Process is a running encoder. Write feeds its standard input.
type Process interface {
	io.Writer

	// CloseInput closes standard input, which asks the encoder to finish
	CloseInput() error

	Pid() int

	// Done is closed once the process has exited
	Done() <-chan struct{}

	// ExitErr is the exit status, valid after Done is closed
	ExitErr() error

	Interrupt() error
	Kill() error
}

// Launcher starts encoder processes
type Launcher interface {
	Launch(cfg LaunchConfig) (Process, error)
}

// ExecLauncher runs the encoder as a child process
type ExecLauncher struct{}

// Launch starts cfg.Path with cfg.Args and stdin wired for raw frames
func (ExecLauncher) Launch(cfg LaunchConfig) (Process, error) {
	log := logger.WithComponent("encoder")

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEncoderNotFound, cfg.Path)
	}

	cmd := exec.Command(path, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Path, err)
	}

	p := &execProcess{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(stderr, cmd.Process.Pid)
	}()

	go func() {
		<-stderrDone
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	log.Info().
		Int("pid", cmd.Process.Pid).
		Str("encoder", string(cfg.Encoder)).
		Str("destination", cfg.Destination.URL).
		Msg("Encoder process started")

	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
	closeErr  error

	done    chan struct{}
	exitErr error
}

func (p *execProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *execProcess) Pid() int                    { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{}       { return p.done }
func (p *execProcess) ExitErr() error              { return p.exitErr }
func (p *execProcess) Interrupt() error            { return p.cmd.Process.Signal(os.Interrupt) }
func (p *execProcess) Kill() error                 { return p.cmd.Process.Kill() }

func (p *execProcess) CloseInput() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.stdin.Close()
	})
	return p.closeErr
}

// logStderr forwards encoder diagnostics. Errors and warnings are raised to
// warn level, everything else is debug.
func logStderr(r io.Reader, pid int) {
	log := logger.WithComponent("encoder")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "warning") ||
			strings.Contains(lower, "broken pipe") {
			log.Warn().Int("pid", pid).Str("ffmpeg", line).Msg("Encoder message")
		} else {
			log.Debug().Int("pid", pid).Str("ffmpeg", line).Msg("Encoder output")
		}
	}
}
