package pages

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLayer struct {
	*layer.Base
}

func (s *stubLayer) Tick(time.Time) []image.Rectangle { return nil }

func stub(name string) *stubLayer {
	return &stubLayer{Base: layer.NewBase(name, image.Rect(0, 0, 2, 2), 0, time.Second)}
}

func fixture() (*Cycler, map[string]*stubLayer) {
	ls := map[string]*stubLayer{
		"chrome": stub("chrome"),
		"cur":    stub("cur"),
		"radar":  stub("radar"),
		"daily":  stub("daily"),
	}
	c := NewCycler([]Page{
		{Name: "current", Layers: []layer.Layer{ls["chrome"], ls["cur"]}},
		{Name: "radar", Layers: []layer.Layer{ls["chrome"], ls["radar"]}},
		{Name: "daily", Layers: []layer.Layer{ls["chrome"], ls["daily"]}},
	}, time.Second)
	return c, ls
}

func TestActivateShowsExactlyOnePage(t *testing.T) {
	c, ls := fixture()

	c.Activate(1)
	assert.True(t, ls["radar"].Visible())
	assert.False(t, ls["cur"].Visible())
	assert.False(t, ls["daily"].Visible())
	assert.True(t, ls["chrome"].Visible(), "shared layers stay visible")

	idx, name := c.Current()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "radar", name)
}

func TestActivateWraps(t *testing.T) {
	c, ls := fixture()

	c.Activate(4)
	idx, _ := c.Current()
	assert.Equal(t, 1, idx)

	c.Activate(-1)
	idx, name := c.Current()
	assert.Equal(t, 2, idx)
	assert.Equal(t, "daily", name)
	assert.True(t, ls["daily"].Visible())

	c.Activate(2)
	c.Next()
	idx, _ = c.Current()
	assert.Equal(t, 0, idx)
}

func TestActivateByName(t *testing.T) {
	c, ls := fixture()
	require.NoError(t, c.ActivateByName("DAILY"))
	assert.True(t, ls["daily"].Visible())
	assert.Error(t, c.ActivateByName("satellite"))

	empty := NewCycler(nil, time.Second)
	assert.ErrorIs(t, empty.ActivateByName("any"), ErrNoPages)
	assert.NotPanics(t, func() { empty.Activate(3) })
}

func TestIntervalFloor(t *testing.T) {
	c := NewCycler(nil, 10*time.Millisecond)
	assert.Equal(t, MinInterval, c.Interval())
}

func TestRotationOnTimer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var mu sync.Mutex
	var seen []string

	c, _ := fixture()
	c = NewCycler(c.pages, 5*time.Second, WithClock(fc), WithOnChange(func(_ int, name string) {
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
	}))
	c.Activate(0)

	c.Start()
	c.Start()
	fc.BlockUntil(1)

	for i := 0; i < 3; i++ {
		fc.Advance(5 * time.Second)
		want := i + 2
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == want
		}, time.Second, 5*time.Millisecond)
	}

	c.Stop()
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"current", "radar", "daily", "current"}, seen)
}

func TestConcurrentActivate(t *testing.T) {
	c, ls := fixture()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Activate(i + j)
			}
		}(i)
	}
	wg.Wait()

	visible := 0
	for _, name := range []string{"cur", "radar", "daily"} {
		if ls[name].Visible() {
			visible++
		}
	}
	assert.Equal(t, 1, visible)
}
