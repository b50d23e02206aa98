package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	channels    = 2
	sampleBytes = 2 // s16le
	chunkBytes  = 8192

	stopWait = time.Second
)

// ErrPipeRunning is returned when Start is called twice
var ErrPipeRunning = errors.New("pcm pipe already running")

// Pipe writes a continuous s16le stereo stream: queued segments when there
// are any, silence otherwise, paced to real time so the reader never starves
// or runs ahead.
type Pipe struct {
	path       string
	sampleRate int

	mu       sync.Mutex
	queue    [][]byte
	out      io.WriteCloser
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewPipe creates a pipe that will write to the FIFO at path
func NewPipe(path string, sampleRate int) *Pipe {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Pipe{path: path, sampleRate: sampleRate}
}

// Path is the FIFO location
func (p *Pipe) Path() string { return p.path }

// EnsureFIFO creates the FIFO, replacing any non-FIFO file at path
func EnsureFIFO(path string) error {
	if st, err := os.Stat(path); err == nil {
		if st.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
	}
	if err := unix.Mkfifo(path, 0o644); err != nil {
		return fmt.Errorf("failed to create fifo: %w", err)
	}
	return nil
}

// Start creates and opens the FIFO and begins writing. The FIFO is opened
// read-write so the open does not wait for the encoder.
func (p *Pipe) Start() error {
	if err := EnsureFIFO(p.path); err != nil {
		return err
	}
	f, err := os.OpenFile(p.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open fifo: %w", err)
	}
	if err := p.StartWriter(f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// StartWriter begins writing to w instead of a FIFO
func (p *Pipe) StartWriter(w io.WriteCloser) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPipeRunning
	}
	p.out = w
	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.writeLoop(p.stopChan, p.done)

	logger.WithComponent("audio").Info().
		Str("path", p.path).
		Int("sample_rate", p.sampleRate).
		Msg("PCM pipe started")
	return nil
}

// Stop ends the writer and closes the output
func (p *Pipe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done, out := p.stopChan, p.done, p.out
	p.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(stopWait):
		// a reader that went away leaves Write blocked on a full FIFO
		out.Close()
		<-done
		return
	}
	if err := out.Close(); err != nil {
		logger.WithComponent("audio").Debug().Err(err).Msg("Closing PCM pipe")
	}
}

// Enqueue schedules pcm to play after anything already queued. A trailing
// odd byte is dropped so samples stay aligned.
func (p *Pipe) Enqueue(pcm []byte) {
	frame := channels * sampleBytes
	pcm = pcm[:len(pcm)-len(pcm)%frame]
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, pcm)
	p.mu.Unlock()
}

// Pending is the number of queued segments not yet started
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipe) next() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	seg := p.queue[0]
	p.queue = p.queue[1:]
	return seg
}

func (p *Pipe) bytesPerSecond() float64 {
	return float64(p.sampleRate * channels * sampleBytes)
}

func (p *Pipe) writeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("audio")

	silence := make([]byte, chunkBytes)
	deadline := time.Now()

	for {
		seg := p.next()
		if seg == nil {
			seg = silence
		}
		for pos := 0; pos < len(seg); {
			select {
			case <-stop:
				return
			default:
			}

			end := min(pos+chunkBytes, len(seg))
			if _, err := p.out.Write(seg[pos:end]); err != nil {
				log.Error().Err(err).Msg("PCM write failed, stopping pipe")
				return
			}
			deadline = deadline.Add(time.Duration(float64(end-pos) / p.bytesPerSecond() * float64(time.Second)))
			pos = end

			wait := time.Until(deadline)
			if wait <= 0 {
				// behind; realign instead of bursting to catch up
				deadline = time.Now()
				continue
			}
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		}
	}
}
