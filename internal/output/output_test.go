package output

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestMJPEGScalesAndKeepsLatest(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 32, Height: 18, FPS: 5})
	assert.Error(t, m.WriteFrame(solidFrame(64, 36, color.RGBA{255, 0, 0, 255})))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	assert.Nil(t, m.Snapshot())

	require.NoError(t, m.WriteFrame(solidFrame(64, 36, color.RGBA{255, 0, 0, 255})))
	img, err := jpeg.Decode(bytes.NewReader(m.Snapshot()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 18), img.Bounds())

	r, _, _, _ := img.At(16, 9).RGBA()
	assert.Greater(t, r>>8, uint32(200))

	st := m.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, uint64(1), st.Frames)
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestMJPEGStreamHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, m.Start())
	require.NoError(t, m.WriteFrame(solidFrame(8, 8, color.RGBA{0, 0, 255, 255})))

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)

	require.Eventually(t, func() bool { return m.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
	assert.Zero(t, m.Stats().Clients)
}

type recordingOutput struct {
	mu      sync.Mutex
	frames  []*image.RGBA
	running bool
}

func (r *recordingOutput) Start() error    { r.running = true; return nil }
func (r *recordingOutput) Stop() error     { r.running = false; return nil }
func (r *recordingOutput) Name() string    { return "recording" }
func (r *recordingOutput) IsRunning() bool { return r.running }
func (r *recordingOutput) WriteFrame(f *image.RGBA) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := image.NewRGBA(f.Bounds())
	copy(cp.Pix, f.Pix)
	r.frames = append(r.frames, cp)
	return nil
}

func (r *recordingOutput) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestTapThrottlesAndCopies(t *testing.T) {
	out := &recordingOutput{running: true}
	tap := NewTap(5, out)
	frame := solidFrame(4, 4, color.RGBA{1, 2, 3, 255})
	t0 := time.Unix(1000, 0)

	assert.True(t, tap.Offer(t0, frame))
	tap.Wait()
	frame.Pix[0] = 99

	assert.False(t, tap.Offer(t0.Add(100*time.Millisecond), frame))
	assert.True(t, tap.Offer(t0.Add(200*time.Millisecond), frame))
	tap.Wait()

	require.Equal(t, 2, out.count())
	assert.Equal(t, uint8(1), out.frames[0].Pix[0])
	assert.Equal(t, uint8(99), out.frames[1].Pix[0])
}

func TestTapSkipsStoppedOutputs(t *testing.T) {
	out := &recordingOutput{}
	tap := NewTap(30, out)
	assert.True(t, tap.Offer(time.Now(), solidFrame(2, 2, color.RGBA{})))
	tap.Wait()
	assert.Zero(t, out.count())

	assert.False(t, NewTap(30).Offer(time.Now(), solidFrame(2, 2, color.RGBA{})))
}
