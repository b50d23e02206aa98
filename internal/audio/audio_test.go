package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracksFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.MP3", "a.flac", "notes.txt", "c.ogg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp3"), 0o755))

	tracks, err := Tracks(dir)
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "a.flac", filepath.Base(tracks[0]))
	assert.Equal(t, "b.MP3", filepath.Base(tracks[1]))
	assert.Equal(t, "c.ogg", filepath.Base(tracks[2]))
	assert.True(t, filepath.IsAbs(tracks[0]))
}

func TestConcatEscapesQuotes(t *testing.T) {
	got := Concat([]string{"/music/Don't Stop.mp3", "/music/plain.wav"})
	assert.Equal(t, "file '/music/Don'\\''t Stop.mp3'\nfile '/music/plain.wav'\n", got)
}

func TestWritePlaylist(t *testing.T) {
	dir := t.TempDir()
	path, err := WritePlaylist(dir)
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "song.m4a"), []byte("x"), 0o644))
	path, err = WritePlaylist(dir)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "song.m4a'\n")

	_, err = WritePlaylist(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestEnsureFIFOReplacesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.pcm")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, EnsureFIFO(path))
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, st.Mode()&os.ModeNamedPipe)

	require.NoError(t, EnsureFIFO(path))
}

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestPipeWritesSilenceThenSegments(t *testing.T) {
	out := &syncBuffer{}
	p := NewPipe("unused", 48000)
	require.NoError(t, p.StartWriter(out))
	assert.ErrorIs(t, p.StartWriter(out), ErrPipeRunning)

	start := time.Now()
	require.Eventually(t, func() bool { return len(out.Bytes()) > 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, out.Bytes()[0])

	tone := bytes.Repeat([]byte{0x7f}, 4003)
	p.Enqueue(tone)
	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), tone[:4000])
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, bytes.Contains(out.Bytes(), tone), "unaligned tail is dropped")

	// real-time pacing: never much more than a second of audio per second
	written := len(out.Bytes())
	elapsed := time.Since(start).Seconds()
	assert.Less(t, float64(written), (elapsed+0.25)*48000*4)

	p.Stop()
	assert.True(t, out.closed)
	assert.NotPanics(t, p.Stop)
}

func TestEnqueueIgnoresEmpty(t *testing.T) {
	p := NewPipe("unused", 0)
	p.Enqueue([]byte{1, 2, 3})
	p.Enqueue(nil)
	assert.Zero(t, p.Pending())
	p.Enqueue(make([]byte, 8))
	assert.Equal(t, 1, p.Pending())
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(text), nil
}

type collector struct {
	mu   sync.Mutex
	segs [][]byte
}

func (c *collector) Enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, b)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segs)
}

func TestNarratorQueuesSpeech(t *testing.T) {
	synth := &fakeSynth{}
	out := &collector{}
	n := NewNarrator(synth, out)
	n.Start()
	defer n.Stop()

	n.Speak("  ")
	n.Speak("Sunny, high near 90.")
	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("Sunny, high near 90."), out.segs[0])
}

func TestNarratorSurvivesSynthFailure(t *testing.T) {
	synth := &fakeSynth{err: errors.New("no voice")}
	out := &collector{}
	n := NewNarrator(synth, out)
	n.Start()

	n.Speak("hello")
	require.Eventually(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.texts) == 1
	}, time.Second, 5*time.Millisecond)
	n.Stop()
	assert.Zero(t, out.count())
}

func TestCommandTTSRequiresCommand(t *testing.T) {
	pcm, err := CommandTTS{}.Synthesize(context.Background(), " ")
	assert.NoError(t, err)
	assert.Nil(t, pcm)

	_, err = CommandTTS{}.Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoTTS)

	_, err = CommandTTS{Command: "exit 3"}.Synthesize(context.Background(), "hi")
	assert.ErrorContains(t, err, "tts command")
}

func TestConvertArgs(t *testing.T) {
	args := ConvertArgs(44100)
	assert.Contains(t, args, "44100")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
