package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/store"
)

// manualClock fires timers synchronously from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock(t0 time.Time) *manualClock {
	return &manualClock{now: t0}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward by d, firing due timers in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *manualTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// fakeStore serves a fixed experiment and results, recording the clock
// time of every experiment fetch. When gate is set, fetches block until
// it is closed.
type fakeStore struct {
	mu         sync.Mutex
	clock      *manualClock
	exp        *store.Experiment
	results    *store.ResultsSnapshot
	resultsErr error
	gate       chan struct{}
	fetchedAt  []time.Duration
	t0         time.Time
}

func (f *fakeStore) GetExperiment(ctx context.Context, id int64) (*store.Experiment, error) {
	f.mu.Lock()
	f.fetchedAt = append(f.fetchedAt, f.clock.Now().Sub(f.t0))
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if id != f.exp.ID {
		return nil, store.ErrNotFound
	}
	return f.exp, nil
}

func (f *fakeStore) GetExperimentResults(ctx context.Context, id int64) (*store.ResultsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resultsErr != nil {
		return nil, f.resultsErr
	}
	return f.results, nil
}

func (f *fakeStore) ListExperiments(ctx context.Context) ([]*store.Experiment, error) {
	return []*store.Experiment{f.exp}, nil
}

func (f *fakeStore) fetches() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.fetchedAt...)
}

func (f *fakeStore) setResultsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultsErr = err
}

type recorder struct {
	mu    sync.Mutex
	views []analysis.View
}

func (r *recorder) Publish(v analysis.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) last() analysis.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[len(r.views)-1]
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Session, *fakeStore, *manualClock, *recorder) {
	t.Helper()
	clock := newManualClock(t0)
	start := t0.Add(-10 * 24 * time.Hour)
	fs := &fakeStore{
		clock: clock,
		t0:    t0,
		exp: &store.Experiment{
			ID:        7,
			Name:      "Checkout button",
			StartDate: &start,
			Variants:  []store.Variant{{Key: "control", Name: "Control"}, {Key: "test", Name: "Green"}},
		},
		results: &store.ResultsSnapshot{
			Significant: true,
			Probability: map[string]float64{"control": 0.02, "test": 0.98},
			Variants: []store.VariantResult{
				{Key: "control", Participants: 1000, Conversions: 50},
				{Key: "test", Participants: 1000, Conversions: 75},
			},
		},
	}
	rec := &recorder{}
	f := analysis.NewFetcher(fs, analysis.WithNow(clock.Now))
	s := NewSession(f, 7, Options{Clock: clock, Publisher: rec})
	t.Cleanup(func() {
		s.Close()
		s.Wait()
	})
	return s, fs, clock, rec
}

func TestSessionTickSchedule(t *testing.T) {
	s, fs, clock, _ := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	clock.Advance(10 * time.Second)
	s.Wait()

	clock.Advance(2 * time.Second) // t=12
	require.NoError(t, s.Pause())

	clock.Advance(3 * time.Second) // t=15
	require.NoError(t, s.Resume())

	clock.Advance(5 * time.Second) // t=20, cancelled tick
	s.Wait()
	assert.Equal(t, []time.Duration{0, 10 * time.Second}, fs.fetches())

	clock.Advance(5 * time.Second) // t=25
	s.Wait()
	assert.Equal(t, []time.Duration{0, 10 * time.Second, 25 * time.Second}, fs.fetches())

	clock.Advance(10 * time.Second) // t=35
	s.Wait()
	assert.Equal(t, []time.Duration{0, 10 * time.Second, 25 * time.Second, 35 * time.Second}, fs.fetches())
}

func TestSessionPublishesView(t *testing.T) {
	s, _, _, rec := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	require.Equal(t, 1, rec.count())
	v := rec.last()
	assert.Equal(t, "Checkout button", v.ExperimentName)
	assert.Equal(t, recommend.Ship, v.Recommendation)
	assert.Equal(t, 2000, v.TotalParticipants)
	assert.Equal(t, t0, v.LastUpdated)
	assert.False(t, v.Stale)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, v, cur)
}

func TestSessionDefaultInterval(t *testing.T) {
	s := NewSession(nil, 1, Options{})
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, Active, s.State())
	assert.NotEmpty(t, s.ID)
}

func TestSessionDropsTickWhileInFlight(t *testing.T) {
	s, fs, clock, rec := setup(t)
	fs.gate = make(chan struct{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(fs.fetches()) == 1 }, time.Second, time.Millisecond)

	clock.Advance(10 * time.Second)
	assert.Len(t, fs.fetches(), 1, "tick during in-flight fetch must be dropped")
	assert.ErrorIs(t, s.Refresh(), ErrBusy)

	close(fs.gate)
	s.Wait()
	assert.Equal(t, 1, rec.count())

	// The schedule continues despite the dropped tick.
	clock.Advance(10 * time.Second)
	s.Wait()
	assert.Equal(t, []time.Duration{0, 20 * time.Second}, fs.fetches())
}

func TestSessionDiscardsFetchCompletingAfterPause(t *testing.T) {
	s, fs, _, rec := setup(t)
	fs.gate = make(chan struct{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(fs.fetches()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Pause())
	close(fs.gate)
	s.Wait()

	assert.Equal(t, 0, rec.count())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSessionDiscardsFetchCompletingAfterClose(t *testing.T) {
	s, fs, _, rec := setup(t)
	fs.gate = make(chan struct{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(fs.fetches()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	close(fs.gate)
	s.Wait()

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, Closed, s.State())
	assert.ErrorIs(t, s.Pause(), ErrClosed)
	assert.ErrorIs(t, s.Resume(), ErrClosed)
	assert.ErrorIs(t, s.Refresh(), ErrClosed)
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestSessionKeepsLastSnapshotOnFailure(t *testing.T) {
	s, fs, clock, rec := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()
	good := rec.last()

	boom := errors.New("upstream 502")
	fs.setResultsErr(boom)
	clock.Advance(10 * time.Second)
	s.Wait()

	assert.Equal(t, Active, s.State())
	assert.ErrorIs(t, s.Err(), boom)

	v := rec.last()
	assert.True(t, v.Stale)
	assert.Contains(t, v.Error, "upstream 502")
	assert.Equal(t, good.Variants, v.Variants)
	assert.Equal(t, good.LastUpdated, v.LastUpdated)

	fs.setResultsErr(nil)
	clock.Advance(10 * time.Second)
	s.Wait()

	v = rec.last()
	assert.False(t, v.Stale)
	assert.Empty(t, v.Error)
	assert.Equal(t, t0.Add(20*time.Second), v.LastUpdated)
	assert.NoError(t, s.Err())
}

func TestSessionFailureBeforeFirstSnapshot(t *testing.T) {
	s, fs, _, rec := setup(t)
	fs.setResultsErr(errors.New("timeout"))

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	v := rec.last()
	assert.False(t, v.Stale, "nothing to be stale")
	assert.Equal(t, "fetch results for experiment 7: timeout", v.Error)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSessionRefreshWhilePaused(t *testing.T) {
	s, fs, clock, rec := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()
	require.NoError(t, s.Pause())

	clock.Advance(5 * time.Second)
	require.NoError(t, s.Refresh())
	s.Wait()

	assert.Equal(t, Paused, s.State())
	assert.Equal(t, []time.Duration{0, 5 * time.Second}, fs.fetches())
	assert.Equal(t, 2, rec.count())
	assert.True(t, rec.last().Paused)

	// No automatic tick while paused.
	clock.Advance(30 * time.Second)
	s.Wait()
	assert.Len(t, fs.fetches(), 2)
}

func TestSessionRefreshKeepsSchedule(t *testing.T) {
	s, fs, clock, _ := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	clock.Advance(4 * time.Second)
	require.NoError(t, s.Refresh())
	s.Wait()

	clock.Advance(6 * time.Second) // t=10, original schedule
	s.Wait()
	assert.Equal(t, []time.Duration{0, 4 * time.Second, 10 * time.Second}, fs.fetches())
}

func TestSessionPauseResumeIdempotent(t *testing.T) {
	s, fs, clock, _ := setup(t)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	require.NoError(t, s.Resume()) // already active, schedule untouched
	clock.Advance(10 * time.Second)
	s.Wait()
	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, Paused, s.State())
	assert.Len(t, fs.fetches(), 2)
}

func TestSessionNotFound(t *testing.T) {
	clock := newManualClock(t0)
	fs := &fakeStore{clock: clock, t0: t0, exp: &store.Experiment{ID: 1}}
	rec := &recorder{}
	s := NewSession(analysis.NewFetcher(fs), 99, Options{Clock: clock, Publisher: rec})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	assert.ErrorIs(t, s.Err(), store.ErrNotFound)
	assert.False(t, analysis.IsTransient(s.Err()))
	assert.Equal(t, int64(99), rec.last().ExperimentID)
}
