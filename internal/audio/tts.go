package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
)

// ErrNoTTS is returned when no speech command is configured
var ErrNoTTS = errors.New("no tts command configured")

const synthTimeout = 30 * time.Second

// Synthesizer turns text into s16le stereo PCM
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// CommandTTS runs a shell command that reads text on stdin and writes WAV
// to stdout, then converts the WAV to raw PCM with ffmpeg
type CommandTTS struct {
	Command    string
	FFmpegPath string
	SampleRate int
}

// ConvertArgs is the ffmpeg invocation turning any audio on stdin into raw
// PCM on stdout
func ConvertArgs(sampleRate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ar", strconv.Itoa(sampleRate), "-ac", "2",
		"-f", "s16le", "pipe:1",
	}
}

// Synthesize speaks text through the configured command
func (t CommandTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if strings.TrimSpace(t.Command) == "" {
		return nil, ErrNoTTS
	}
	ffmpeg := t.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	rate := t.SampleRate
	if rate <= 0 {
		rate = 48000
	}

	var wav, stderr bytes.Buffer
	speak := exec.CommandContext(ctx, "sh", "-c", t.Command)
	speak.Stdin = strings.NewReader(text)
	speak.Stdout = &wav
	speak.Stderr = &stderr
	if err := speak.Run(); err != nil {
		return nil, fmt.Errorf("failed to run tts command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if wav.Len() == 0 {
		return nil, fmt.Errorf("tts command produced no audio")
	}

	var pcm bytes.Buffer
	stderr.Reset()
	convert := exec.CommandContext(ctx, ffmpeg, ConvertArgs(rate)...)
	convert.Stdin = &wav
	convert.Stdout = &pcm
	convert.Stderr = &stderr
	if err := convert.Run(); err != nil {
		return nil, fmt.Errorf("failed to convert speech: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return pcm.Bytes(), nil
}

// Narrator synthesizes text off the caller's goroutine and queues the audio
// on a pipe. Speak never blocks; while a synthesis is in flight newer text
// replaces older pending text.
type Narrator struct {
	synth Synthesizer
	pipe  interface{ Enqueue([]byte) }

	mu       sync.Mutex
	pending  string
	wake     chan struct{}
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewNarrator creates a narrator feeding pipe
func NewNarrator(synth Synthesizer, pipe interface{ Enqueue([]byte) }) *Narrator {
	return &Narrator{
		synth: synth,
		pipe:  pipe,
		wake:  make(chan struct{}, 1),
	}
}

// Start runs the synthesis worker
func (n *Narrator) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return
	}
	n.running = true
	n.stopChan = make(chan struct{})
	n.done = make(chan struct{})
	go n.loop(n.stopChan, n.done)
}

// Stop ends the worker, abandoning pending text
func (n *Narrator) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	stop, done := n.stopChan, n.done
	n.mu.Unlock()

	close(stop)
	<-done
}

// Speak queues text for narration
func (n *Narrator) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	n.mu.Lock()
	n.pending = text
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Narrator) take() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	text := n.pending
	n.pending = ""
	return text
}

func (n *Narrator) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("narrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-n.wake:
		}

		text := n.take()
		if text == "" {
			continue
		}
		sctx, scancel := context.WithTimeout(ctx, synthTimeout)
		pcm, err := n.synth.Synthesize(sctx, text)
		scancel()
		if err != nil {
			log.Warn().Err(err).Msg("Speech synthesis failed")
			continue
		}
		if len(pcm) > 0 {
			n.pipe.Enqueue(pcm)
			log.Debug().Int("bytes", len(pcm)).Msg("Narration queued")
		}
	}
}
