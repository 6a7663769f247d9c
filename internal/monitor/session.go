// Package monitor keeps a live view of one experiment fresh by polling
// its snapshot on a fixed interval.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nip10/varyant/internal/analysis"
)

// DefaultInterval is the refresh interval used when none is configured.
const DefaultInterval = 10 * time.Second

var (
	ErrClosed = errors.New("monitor session closed")
	// ErrBusy is returned by Refresh while a fetch is in flight.
	ErrBusy = errors.New("fetch already in flight")
)

type State string

const (
	Active State = "active"
	Paused State = "paused"
	Closed State = "closed"
)

// Publisher receives a view after every applied fetch.
type Publisher interface {
	Publish(analysis.View)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(analysis.View)

func (f PublisherFunc) Publish(v analysis.View) { f(v) }

type Options struct {
	Interval  time.Duration // DefaultInterval if zero
	Clock     Clock         // RealClock if nil
	Publisher Publisher     // optional
	Logger    *slog.Logger
	Metrics   *Metrics // optional
}

// Session polls one experiment. It starts Active; Pause stops automatic
// fetches and Resume restarts them one interval later. At most one fetch
// is in flight at a time: ticks that arrive during a fetch are dropped.
// A fetch that completes after Pause or Close is discarded.
type Session struct {
	ID           string
	ExperimentID int64

	fetcher  *analysis.Fetcher
	clock    Clock
	interval time.Duration
	pub      Publisher
	log      *slog.Logger
	metrics  *Metrics

	ctx context.Context
	wg  sync.WaitGroup

	mu       sync.Mutex
	state    State
	started  bool
	timer    Timer
	tickSeq  uint64 // identifies the live timer
	gen      uint64 // bumped by Pause and Close
	inFlight bool
	last     *analysis.Analysis
	lastErr  error
}

func NewSession(f *analysis.Fetcher, experimentID int64, opts Options) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		fetcher:      f,
		clock:        opts.Clock,
		interval:     opts.Interval,
		pub:          opts.Publisher,
		metrics:      opts.Metrics,
		state:        Active,
		ctx:          context.Background(),
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s.log = log.With("session_id", s.ID, "experiment_id", experimentID)
	return s
}

// Start performs the first fetch immediately and schedules the next tick
// one interval later. ctx bounds every fetch made by the session; Pause
// and Close do not cancel it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.log.Info("monitor session started", "interval", s.interval)
	s.tick(0, true)
	return nil
}

// Pause cancels the pending tick. Pausing a paused session is a no-op.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return ErrClosed
	case Paused:
		return nil
	}
	s.state = Paused
	s.gen++
	s.stopTimerLocked()
	s.log.Debug("monitor session paused")
	return nil
}

// Resume schedules the next tick one interval from now without fetching.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return ErrClosed
	case Active:
		return nil
	}
	s.state = Active
	if s.started {
		s.scheduleLocked()
	}
	s.log.Debug("monitor session resumed")
	return nil
}

// Refresh starts one fetch now, in either state, without touching the
// schedule. It returns ErrBusy if a fetch is already in flight.
func (s *Session) Refresh() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrBusy
	}
	gen := s.beginFetchLocked()
	s.mu.Unlock()

	go s.fetch(gen, "refresh")
	return nil
}

// Close cancels the timer and drops the stored snapshot. An in-flight
// fetch runs to completion and is discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.gen++
	s.stopTimerLocked()
	s.last = nil
	s.lastErr = nil
	s.log.Info("monitor session closed")
	return nil
}

// Wait blocks until no fetch started by the session is running.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the most recent fetch, or nil if it succeeded.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Current returns the view of the last successful fetch. ok is false when
// no fetch has succeeded yet; the returned view still carries the session
// flags and any fetch error.
func (s *Session) Current() (v analysis.View, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(), s.last != nil
}

func (s *Session) viewLocked() analysis.View {
	var v analysis.View
	if s.last != nil {
		v = analysis.BuildView(s.last)
	} else {
		v = analysis.View{ExperimentID: s.ExperimentID, Variants: []analysis.VariantView{}}
	}
	v.Paused = s.state == Paused
	if s.lastErr != nil {
		v.Stale = s.last != nil
		v.Error = s.lastErr.Error()
	}
	return v
}

func (s *Session) scheduleLocked() {
	s.stopTimerLocked()
	s.tickSeq++
	seq := s.tickSeq
	s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(seq, false) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.tickSeq++
}

// tick schedules the following tick and starts a fetch unless one is
// already running. Timers superseded by Pause or Resume are ignored.
func (s *Session) tick(seq uint64, first bool) {
	s.mu.Lock()
	if s.state != Active || (!first && seq != s.tickSeq) {
		s.mu.Unlock()
		return
	}
	s.scheduleLocked()

	if s.inFlight {
		s.mu.Unlock()
		s.log.Debug("tick dropped, fetch in flight")
		s.metrics.tickDropped(s.ctx, s.ExperimentID)
		return
	}
	gen := s.beginFetchLocked()
	s.mu.Unlock()

	go s.fetch(gen, "tick")
}

func (s *Session) beginFetchLocked() uint64 {
	s.inFlight = true
	s.wg.Add(1)
	return s.gen
}

// fetch runs the fetch, calculate, recommend chain, applies the result if
// the session has not been paused or closed meanwhile, and publishes.
// inFlight is cleared only after publishing so that fetch, apply and
// publish form one serialized cycle.
func (s *Session) fetch(gen uint64, trigger string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	s.metrics.fetchStarted(s.ctx, s.ExperimentID, trigger)
	start := time.Now()
	var a *analysis.Analysis
	snap, err := s.fetcher.FetchStrict(s.ctx, s.ExperimentID)
	if err == nil {
		a = analysis.Evaluate(snap)
	}
	s.metrics.fetchFinished(s.ctx, s.ExperimentID, time.Since(start).Seconds(), err)

	s.mu.Lock()
	if s.state == Closed || gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("discarding fetch result", "trigger", trigger)
		return
	}
	if err != nil {
		s.lastErr = err
		s.log.Warn("snapshot fetch failed", "trigger", trigger, "err", err, "retryable", analysis.IsTransient(err))
	} else {
		s.last = a
		s.lastErr = nil
	}
	view := s.viewLocked()
	s.mu.Unlock()

	if s.pub != nil {
		s.pub.Publish(view)
	}
}
