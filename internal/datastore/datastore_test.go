package datastore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCall(t *testing.T, calls <-chan int32, want int32) {
	t.Helper()
	select {
	case got := <-calls:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch call %d never happened", want)
	}
}

func TestFailedFetchKeepsPreviousSnapshot(t *testing.T) {
	fc := clockwork.NewFakeClock()
	calls := make(chan int32, 8)
	var n atomic.Int32

	fetch := func(ctx context.Context) (Snapshot, error) {
		c := n.Add(1)
		defer func() { calls <- c }()
		if c == 1 {
			return Snapshot{"ticker_text": "first"}, nil
		}
		return nil, errors.New("upstream returned 503")
	}

	store := New(fetch, time.Second, WithClock(fc))
	store.Start(context.Background())
	defer store.Stop()

	waitCall(t, calls, 1)
	fc.BlockUntil(1)

	fc.Advance(time.Second)
	waitCall(t, calls, 2)
	fc.Advance(time.Second)
	waitCall(t, calls, 3)
	fc.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool { return store.Stats().Fetches == 3 }, time.Second, 5*time.Millisecond)

	snap := store.Read()
	assert.Equal(t, "first", snap.String("ticker_text"))

	st := store.Stats()
	assert.Equal(t, uint64(2), st.Failures)
	assert.Equal(t, "upstream returned 503", st.LastError)
}

func TestSuccessfulFetchReplacesWholesale(t *testing.T) {
	var n atomic.Int32
	store := New(func(ctx context.Context) (Snapshot, error) {
		if n.Add(1) == 1 {
			return Snapshot{"a": 1, "b": 2}, nil
		}
		return Snapshot{"c": 3}, nil
	}, time.Minute)

	require.NoError(t, store.Refresh(context.Background()))
	require.NoError(t, store.Refresh(context.Background()))

	assert.Equal(t, Snapshot{"c": 3}, store.Read())
}

func TestReadReturnsCopy(t *testing.T) {
	store := New(func(ctx context.Context) (Snapshot, error) {
		return Snapshot{"k": "v"}, nil
	}, time.Minute)
	require.NoError(t, store.Refresh(context.Background()))

	snap := store.Read()
	snap["k"] = "mutated"
	snap["extra"] = true

	again := store.Read()
	assert.Equal(t, "v", again.String("k"))
	assert.NotContains(t, again, "extra")
}

func TestNilSnapshotAndPanicHandling(t *testing.T) {
	var n atomic.Int32
	store := New(func(ctx context.Context) (Snapshot, error) {
		switch n.Add(1) {
		case 1:
			return Snapshot{"k": "v"}, nil
		case 2:
			panic("decoder exploded")
		default:
			return nil, nil
		}
	}, time.Minute)

	require.NoError(t, store.Refresh(context.Background()))
	assert.Error(t, store.Refresh(context.Background()))
	assert.Equal(t, "v", store.Read().String("k"))

	require.NoError(t, store.Refresh(context.Background()))
	assert.Empty(t, store.Read())
}

func TestStopIsBoundedAndIdempotent(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	store := New(func(ctx context.Context) (Snapshot, error) {
		<-block // ignores ctx on purpose
		return nil, nil
	}, time.Second, WithStopTimeout(50*time.Millisecond))

	store.Start(context.Background())

	start := time.Now()
	store.Stop()
	assert.Less(t, time.Since(start), time.Second)

	assert.NotPanics(t, store.Stop)
}

func TestGetHelper(t *testing.T) {
	snap := Snapshot{"n": 4, "s": "x"}
	n, ok := Get[int](snap, "n")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = Get[int](snap, "s")
	assert.False(t, ok)
	assert.Equal(t, "", snap.String("n"))
}
