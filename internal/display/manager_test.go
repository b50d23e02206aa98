package display

import (
	"image"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterbox(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 960, 540), Letterbox(image.Rect(0, 0, 1920, 1080), 960, 540))
	assert.Equal(t, image.Rect(0, 80, 960, 620), Letterbox(image.Rect(0, 0, 1920, 1080), 960, 700))
	assert.Equal(t, image.Rect(100, 0, 400, 300), Letterbox(image.Rect(0, 0, 100, 100), 500, 300))
	assert.True(t, Letterbox(image.Rectangle{}, 10, 10).Empty())
}

func TestToZPixmapSwapsChannelsAndPads(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	copy(img.Pix[0:4], []byte{10, 20, 30, 40})

	f, err := findFormat([]xproto.Format{{Depth: 24, BitsPerPixel: 24, ScanlinePad: 32}}, 24)
	require.NoError(t, err)
	data, stride, err := ToZPixmap(img, f)
	require.NoError(t, err)
	assert.Equal(t, 12, stride)
	assert.Len(t, data, 24)
	assert.Equal(t, []byte{30, 20, 10}, data[0:3])

	data, stride, err = ToZPixmap(img, pixelFormat{depth: 32, bytesPerPixel: 4, scanlinePad: 4})
	require.NoError(t, err)
	assert.Equal(t, 12, stride)
	assert.Equal(t, []byte{30, 20, 10, 40}, data[0:4])

	_, _, err = ToZPixmap(img, pixelFormat{depth: 16, bytesPerPixel: 2})
	assert.Error(t, err)

	_, err = findFormat(nil, 24)
	assert.Error(t, err)
}

func TestManagerNotRunning(t *testing.T) {
	m := NewManager(config.PreviewConfig{})
	assert.Equal(t, 960, m.width)
	assert.False(t, m.IsRunning())
	assert.Error(t, m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))))
	assert.NoError(t, m.Stop())
}
