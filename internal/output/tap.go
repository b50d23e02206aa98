package output

import (
	"image"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
)

// Tap forwards a throttled subset of frames to the preview outputs. Offer
// never blocks: while the previous frame is still being written the new one
// is skipped.
type Tap struct {
	outputs  []Output
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	busy bool
	buf  *image.RGBA
	wg   sync.WaitGroup
}

// NewTap creates a tap delivering at most fps frames per second
func NewTap(fps int, outputs ...Output) *Tap {
	if fps < 1 {
		fps = 1
	}
	return &Tap{
		outputs:  outputs,
		interval: time.Second / time.Duration(fps),
	}
}

// Outputs returns the wrapped outputs
func (t *Tap) Outputs() []Output { return t.outputs }

// Offer copies frame and hands it to the outputs when the rate allows
func (t *Tap) Offer(now time.Time, frame *image.RGBA) bool {
	if len(t.outputs) == 0 {
		return false
	}

	t.mu.Lock()
	if t.busy || (!t.last.IsZero() && now.Sub(t.last) < t.interval) {
		t.mu.Unlock()
		return false
	}
	t.busy = true
	t.last = now
	if t.buf == nil || t.buf.Bounds() != frame.Bounds() {
		t.buf = image.NewRGBA(frame.Bounds())
	}
	copy(t.buf.Pix, frame.Pix)
	buf := t.buf
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for _, o := range t.outputs {
			if !o.IsRunning() {
				continue
			}
			if err := o.WriteFrame(buf); err != nil {
				logger.WithComponent("preview").Debug().Err(err).Str("output", o.Name()).Msg("Preview write failed")
			}
		}
		t.mu.Lock()
		t.busy = false
		t.mu.Unlock()
	}()
	return true
}

// Wait blocks until the in-flight delivery, if any, finishes
func (t *Tap) Wait() {
	t.wg.Wait()
}
