package candle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"volumebot-go/internal/signal"
)

var (
	// ErrNoBarFound means the requested granularity has not finalized enough bars yet.
	ErrNoBarFound = errors.New("no bar found")
	// ErrUnknownPeriod is returned for a granularity the aggregator was not built with.
	ErrUnknownPeriod = errors.New("unknown bar period")
	// ErrOutOfOrder rejects a tick older than the bar currently being built.
	ErrOutOfOrder = errors.New("tick out of order")
)

// Aggregator maintains finalized bars for several granularities at once.
// Bars are built incrementally: each Append only touches the in-progress bar of every period.
type Aggregator struct {
	mu     sync.RWMutex
	series map[time.Duration]*series
	ticks  int
}

type series struct {
	period  time.Duration
	bars    []Bar
	current *Bar
	prof    *profile
}

// NewAggregator builds an aggregator for the supplied periods; non-positive periods are ignored.
func NewAggregator(periods ...time.Duration) *Aggregator {
	a := &Aggregator{series: make(map[time.Duration]*series, len(periods))}
	for _, p := range periods {
		if p <= 0 {
			continue
		}
		a.series[p] = &series{period: p}
	}
	return a
}

// Periods lists the configured granularities in ascending order.
func (a *Aggregator) Periods() []time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]time.Duration, 0, len(a.series))
	for p := range a.series {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Append ingests one tick. Malformed ticks are rejected with signal.ErrInvalidTick.
// It returns, per period, the bars finalized by this tick (including forward-filled gaps).
func (a *Aggregator) Append(tk signal.Tick) (map[time.Duration][]Bar, error) {
	if err := tk.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(tk)
}

func (a *Aggregator) appendLocked(tk signal.Tick) (map[time.Duration][]Bar, error) {
	for _, s := range a.series {
		if s.current != nil && bucket(tk.Ts, s.period).Before(s.current.Start) {
			return nil, fmt.Errorf("%w: %s before %s", ErrOutOfOrder, tk.Ts.Format(time.RFC3339Nano), s.current.Start.Format(time.RFC3339))
		}
	}

	var closed map[time.Duration][]Bar
	for p, s := range a.series {
		if done := s.append(tk); len(done) > 0 {
			if closed == nil {
				closed = make(map[time.Duration][]Bar)
			}
			closed[p] = done
		}
	}
	a.ticks++
	return closed, nil
}

// Rebuild discards all bars and re-aggregates the supplied ordered series in one critical
// section, so readers see either the old bars or the rebuilt ones.
// Invalid or out-of-order ticks are skipped; the count of skipped ticks is returned.
func (a *Aggregator) Rebuild(ticks []signal.Tick) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.series {
		a.series[p] = &series{period: p}
	}
	a.ticks = 0

	skipped := 0
	for _, tk := range ticks {
		if tk.Validate() != nil {
			skipped++
			continue
		}
		if _, err := a.appendLocked(tk); err != nil {
			skipped++
		}
	}
	return skipped
}

// Bars returns a copy of the finalized bars of a period. Each call starts a fresh sequence.
func (a *Aggregator) Bars(period time.Duration) ([]Bar, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[period]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out, nil
}

// Recent returns the last n finalized bars of a period, oldest first.
func (a *Aggregator) Recent(period time.Duration, n int) ([]Bar, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[period]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	if n <= 0 || len(s.bars) < n {
		return nil, fmt.Errorf("%w: want %d %s bars, have %d", ErrNoBarFound, n, period, len(s.bars))
	}
	out := make([]Bar, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out, nil
}

// Current returns the in-progress bar of a period, if any tick has been seen.
func (a *Aggregator) Current(period time.Duration) (Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[period]
	if !ok || s.current == nil {
		return Bar{}, false
	}
	b := *s.current
	if vpp, _, ok := s.prof.peak(); ok {
		b.VolumeProfilePrice = vpp
	}
	return b, true
}

// TickCount reports how many ticks were aggregated since the last rebuild.
func (a *Aggregator) TickCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ticks
}

func bucket(ts time.Time, period time.Duration) time.Time {
	return ts.UTC().Truncate(period)
}

func (s *series) append(tk signal.Tick) []Bar {
	start := bucket(tk.Ts, s.period)

	var closed []Bar
	if s.current != nil && start.After(s.current.Start) {
		closed = s.finalize(start)
	}
	if s.current == nil {
		s.current = &Bar{
			Start: start,
			Open:  tk.Price,
			High:  tk.Price,
			Low:   tk.Price,
			Close: tk.Price,
		}
		s.prof = newProfile()
	}

	b := s.current
	if tk.Price.GreaterThan(b.High) {
		b.High = tk.Price
	}
	if tk.Price.LessThan(b.Low) {
		b.Low = tk.Price
	}
	b.Close = tk.Price
	b.Volume += tk.Quantity
	s.prof.add(tk.Price, tk.Quantity)
	return closed
}

// finalize closes the in-progress bar and forward-fills every empty period up to next.
func (s *series) finalize(next time.Time) []Bar {
	done := *s.current
	if vpp, _, ok := s.prof.peak(); ok {
		done.VolumeProfilePrice = vpp
	}
	closed := []Bar{done}
	for t := done.Start.Add(s.period); t.Before(next); t = t.Add(s.period) {
		closed = append(closed, Bar{
			Start:              t,
			Open:               done.Close,
			High:               done.Close,
			Low:                done.Close,
			Close:              done.Close,
			VolumeProfilePrice: done.Close,
		})
	}
	s.bars = append(s.bars, closed...)
	s.current = nil
	s.prof = nil
	return closed
}
