package downloads

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastOpts = StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: time.Second}

// steppedWork advances counter to total in steps, then returns.
func steppedWork(counter *atomic.Int64, total, step int64, pause time.Duration) Work {
	return func(ctx context.Context) error {
		for counter.Load() < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
			next := counter.Load() + step
			if next > total {
				next = total
			}
			counter.Store(next)
		}
		return nil
	}
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	currents []int64
	totals   []int64
	deltas   []int64
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) progress(current, total, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "progress")
	r.currents = append(r.currents, current)
	r.totals = append(r.totals, total)
	r.deltas = append(r.deltas, delta)
}

func (r *recorder) snapshot() ([]string, []int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]int64(nil), r.currents...), append([]int64(nil), r.deltas...)
}

func TestStreamProgressMonotonic(t *testing.T) {
	var counter atomic.Int64
	rec := &recorder{}
	measure := func() (int64, error) { return counter.Load(), nil }

	s := NewStream(context.Background(), "mem://archive", "/tmp/archive", 1000,
		steppedWork(&counter, 1000, 100, 3*time.Millisecond), measure, fastOpts)
	s.OnStart(func() { rec.add("start") })
	s.OnProgress(rec.progress)
	s.OnFinish(func() { rec.add("finish") })

	require.NoError(t, s.Wait(context.Background()))

	events, currents, deltas := rec.snapshot()
	require.NotEmpty(t, currents)
	for i := 1; i < len(currents); i++ {
		assert.GreaterOrEqual(t, currents[i], currents[i-1], "progress went backwards at tick %d", i)
	}
	for _, d := range deltas {
		assert.GreaterOrEqual(t, d, int64(0))
	}
	assert.Equal(t, int64(1000), currents[len(currents)-1])
	assert.Equal(t, "finish", events[len(events)-1])
	assert.Equal(t, PhaseFinished, s.Phase())

	// start precedes all progress
	startIdx := -1
	for i, ev := range events {
		if ev == "start" {
			startIdx = i
			break
		}
	}
	if startIdx > 0 {
		for _, ev := range events[:startIdx] {
			assert.NotEqual(t, "progress", ev)
		}
	}
}

func TestStreamMeasureRegressionIsClamped(t *testing.T) {
	values := []int64{50, 80, 30, 100}
	var i atomic.Int32
	measure := func() (int64, error) {
		n := int(i.Load())
		if n >= len(values) {
			return values[len(values)-1], nil
		}
		i.Add(1)
		return values[n], nil
	}
	release := make(chan struct{})
	work := func(ctx context.Context) error {
		<-release
		return nil
	}

	rec := &recorder{}
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 100, work, measure, fastOpts)
	s.OnProgress(rec.progress)

	require.Eventually(t, func() bool { return i.Load() >= int32(len(values)) }, time.Second, time.Millisecond)
	close(release)
	require.NoError(t, s.Wait(context.Background()))

	_, currents, _ := rec.snapshot()
	for j := 1; j < len(currents); j++ {
		assert.GreaterOrEqual(t, currents[j], currents[j-1])
	}
}

func TestStreamLateRegistrationReplays(t *testing.T) {
	measure := func() (int64, error) { return 10, nil }
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 10,
		func(context.Context) error { return nil }, measure, fastOpts)
	require.NoError(t, s.Wait(context.Background()))

	var starts, finishes, progress int
	s.OnStart(func() { starts++ })
	s.OnFinish(func() { finishes++ })
	s.OnFinish(func() { finishes++ })
	s.OnProgress(func(int64, int64, int64) { progress++ })

	assert.Equal(t, 1, starts)
	assert.Equal(t, 2, finishes, "each late finish registration fires once")
	assert.Equal(t, 0, progress, "progress is never replayed after finish")

	snap := s.Snapshot()
	assert.Equal(t, "finished", snap.Phase)
	assert.Equal(t, int64(10), snap.Current)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestStreamFinishFiresOnce(t *testing.T) {
	var counter atomic.Int64
	measure := func() (int64, error) { return counter.Load(), nil }

	var finishes atomic.Int32
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 300,
		steppedWork(&counter, 300, 100, 2*time.Millisecond), measure, fastOpts)
	s.OnFinish(func() { finishes.Add(1) })
	require.NoError(t, s.Wait(context.Background()))
	s.OnFinish(func() { finishes.Add(1) })

	assert.Equal(t, int32(2), finishes.Load())
}

func TestStreamTransientMeasureFailure(t *testing.T) {
	var ready atomic.Bool
	var counter atomic.Int64
	measure := func() (int64, error) {
		if !ready.Load() {
			return 0, fs.ErrNotExist
		}
		return counter.Load(), nil
	}
	work := func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		ready.Store(true)
		counter.Store(64)
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	var started atomic.Bool
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 64, work, measure, fastOpts)
	s.OnStart(func() { started.Store(true) })

	require.NoError(t, s.Wait(context.Background()))
	assert.True(t, started.Load())
}

func TestStreamUnknownTotalAdoptsFinalSize(t *testing.T) {
	measure := func() (int64, error) { return 4096, nil }
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 0,
		func(context.Context) error { return nil }, measure, fastOpts)
	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, int64(4096), s.Snapshot().Total)
}

func TestStreamShortTransferFails(t *testing.T) {
	measure := func() (int64, error) { return 10, nil }
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 100,
		func(context.Context) error { return nil }, measure, fastOpts)

	var finished atomic.Bool
	s.OnFinish(func() { finished.Store(true) })

	err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrShortTransfer)
	assert.False(t, finished.Load())
	assert.Equal(t, PhaseFailed, s.Phase())
}

func TestStreamWorkErrorFiresOnError(t *testing.T) {
	boom := errors.New("connection reset")
	measure := func() (int64, error) { return 0, nil }
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 100,
		func(context.Context) error { return boom }, measure, fastOpts)

	require.ErrorIs(t, s.Wait(context.Background()), boom)

	var got error
	s.OnError(func(err error) { got = err })
	assert.ErrorIs(t, got, boom)
}

func TestStreamStalls(t *testing.T) {
	measure := func() (int64, error) { return 5, nil }
	work := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	opts := StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: 50 * time.Millisecond}
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 100, work, measure, opts)

	var progressAfter atomic.Int32
	errCh := make(chan error, 1)
	s.OnError(func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStalled)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream never failed")
	}

	s.OnProgress(func(int64, int64, int64) { progressAfter.Add(1) })
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, progressAfter.Load(), "polling must stop after failure")
}

func TestStreamOverallTimeout(t *testing.T) {
	var counter atomic.Int64
	measure := func() (int64, error) { return counter.Add(1), nil }
	work := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	opts := StreamOptions{Interval: 5 * time.Millisecond, StallTimeout: time.Minute, Timeout: 40 * time.Millisecond}
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 1<<40, work, measure, opts)

	assert.ErrorIs(t, s.Wait(context.Background()), ErrTimedOut)
}

func TestStreamCancel(t *testing.T) {
	measure := func() (int64, error) { return 0, nil }
	work := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := NewStream(context.Background(), "mem://x", "/tmp/x", 100, work, measure, fastOpts)
	s.Cancel()

	assert.ErrorIs(t, s.Wait(context.Background()), context.Canceled)
	assert.Equal(t, "failed", s.Snapshot().Phase)
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhasePending:  "pending",
		PhaseActive:   "active",
		PhaseFinished: "finished",
		PhaseFailed:   "failed",
		Phase(42):     "unknown",
	}
	for phase, want := range tests {
		assert.Equal(t, want, phase.String())
	}
}
