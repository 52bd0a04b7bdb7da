package downloads

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultDownloadInterval is how often a download's destination size is polled.
	DefaultDownloadInterval = 200 * time.Millisecond
	// DefaultUnpackInterval is how often extraction progress is polled.
	DefaultUnpackInterval = 500 * time.Millisecond
	// DefaultStallTimeout fails a transfer that has not advanced for this long.
	DefaultStallTimeout = 2 * time.Minute
)

// Phase is the lifecycle position of a Stream. It only moves forward.
type Phase int

const (
	PhasePending Phase = iota
	PhaseActive
	PhaseFinished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseFinished:
		return "finished"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives the current byte count, the expected total and the
// growth since the previous report.
type ProgressFunc func(current, total, delta int64)

// Work performs the transfer. It must return once ctx is done.
type Work func(ctx context.Context) error

// Measure reports how many bytes the transfer has produced so far. Errors are
// treated as transient and the measure is retried on the next tick.
type Measure func() (int64, error)

// StreamOptions tune polling and the timeout policy of a Stream.
type StreamOptions struct {
	Interval     time.Duration
	StallTimeout time.Duration
	// Timeout bounds the whole transfer; zero means no bound.
	Timeout time.Duration
}

func (o StreamOptions) withDefaults(interval time.Duration) StreamOptions {
	if o.Interval <= 0 {
		o.Interval = interval
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	return o
}

// Snapshot is a point-in-time copy of a Stream's state.
type Snapshot struct {
	URI         string    `json:"uri"`
	Destination string    `json:"destination"`
	Total       int64     `json:"total"`
	Current     int64     `json:"current"`
	Phase       string    `json:"phase"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Stream is a background transfer with start, progress and finish hooks.
// Start and finish callbacks fire exactly once, immediately when registered
// late. Progress callbacks are not replayed and never run after finish.
// All callbacks run on the stream's own goroutine except late replays,
// which run on the registering goroutine.
type Stream struct {
	uri         string
	destination string

	work    Work
	measure Measure
	opts    StreamOptions

	mu         sync.Mutex
	phase      Phase
	total      int64
	current    int64
	reported   bool
	startedAt  time.Time
	finishedAt time.Time
	err        error
	progress   []ProgressFunc

	started  event
	finished event
	failed   errorEvent

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream starts work in the background and polls measure every
// opts.Interval until the work completes or fails.
func NewStream(ctx context.Context, uri, destination string, total int64, work Work, measure Measure, opts StreamOptions) *Stream {
	opts = opts.withDefaults(DefaultDownloadInterval)
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		uri:         uri,
		destination: destination,
		work:        work,
		measure:     measure,
		opts:        opts,
		total:       total,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Stream) URI() string {
	return s.uri
}

func (s *Stream) Destination() string {
	return s.destination
}

// OnStart registers fn to run once the transfer has begun producing output.
func (s *Stream) OnStart(fn func()) {
	s.started.register(fn)
}

// OnProgress registers fn for every poll tick after registration.
// Registration after the stream has ended is ignored.
func (s *Stream) OnProgress(fn ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinished || s.phase == PhaseFailed {
		return
	}
	s.progress = append(s.progress, fn)
}

// OnFinish registers fn to run once the transfer has reached its total.
func (s *Stream) OnFinish(fn func()) {
	s.finished.register(fn)
}

// OnError registers fn to run once if the transfer fails.
func (s *Stream) OnError(fn func(error)) {
	s.failed.register(fn)
}

// Done is closed when the stream has finished or failed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream ends or ctx is done and returns the failure, if any.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the transfer. The stream fails with context.Canceled.
func (s *Stream) Cancel() {
	s.cancel()
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		URI:         s.uri,
		Destination: s.destination,
		Total:       s.total,
		Current:     s.current,
		Phase:       s.phase.String(),
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Stream) run(ctx context.Context) {
	defer s.cancel()

	workCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	workDone := make(chan error, 1)
	go func() {
		workDone <- s.work(workCtx)
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	lastAdvance := time.Now()
	for {
		select {
		case err := <-workDone:
			if err != nil {
				s.fail(s.classify(workCtx, err))
				return
			}
			s.complete()
			return

		case <-ticker.C:
			if s.tick() {
				lastAdvance = time.Now()
			} else if time.Since(lastAdvance) >= s.opts.StallTimeout {
				s.cancel()
				<-workDone
				s.fail(ErrStalled)
				return
			}

		case <-workCtx.Done():
			<-workDone
			s.fail(s.classify(workCtx, workCtx.Err()))
			return
		}
	}
}

// classify maps cancellation errors produced by the timeout policy to sentinels.
func (s *Stream) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimedOut
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// tick measures once and reports whether the transfer advanced.
func (s *Stream) tick() bool {
	cur, err := s.measure()
	if err != nil {
		log.Debugf("measure of %s not ready: %v", s.destination, err)
		return false
	}
	s.markStarted()
	return s.report(cur)
}

func (s *Stream) markStarted() {
	s.mu.Lock()
	if s.phase != PhasePending {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseActive
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.started.fire()
}

// report delivers a progress tick. current never decreases across reports.
func (s *Stream) report(cur int64) bool {
	s.mu.Lock()
	if cur < s.current {
		cur = s.current
	}
	delta := cur - s.current
	advanced := delta > 0 || !s.reported
	s.current = cur
	s.reported = true
	total := s.total
	fns := append([]ProgressFunc(nil), s.progress...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(cur, total, delta)
	}
	return advanced
}

func (s *Stream) complete() {
	cur, err := s.measure()
	if err != nil {
		s.mu.Lock()
		cur = s.current
		s.mu.Unlock()
	}

	s.mu.Lock()
	switch {
	case s.total <= 0:
		s.total = cur
	case cur < s.total:
		total := s.total
		s.mu.Unlock()
		log.Warnf("transfer of %s stopped at %d of %d bytes", s.uri, cur, total)
		s.fail(ErrShortTransfer)
		return
	case cur > s.total:
		s.total = cur
	}
	needReport := !s.reported || cur != s.current
	s.mu.Unlock()

	s.markStarted()
	if needReport {
		s.report(cur)
	}

	s.mu.Lock()
	s.phase = PhaseFinished
	s.finishedAt = time.Now()
	s.progress = nil
	s.mu.Unlock()

	s.finished.fire()
	close(s.done)
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.phase = PhaseFailed
	s.finishedAt = time.Now()
	s.err = err
	s.progress = nil
	s.mu.Unlock()

	log.Debugf("transfer of %s failed: %v", s.uri, err)
	s.failed.fire(err)
	close(s.done)
}
