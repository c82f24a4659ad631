// Package reconcile keeps a per-instrument tick series consistent while live ticks and
// history backfills arrive concurrently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"volumebot-go/internal/exchange"
	"volumebot-go/internal/signal"
)

var (
	// ErrBackfillFetch aborts a backfill cycle; the series keeps its previous contents.
	ErrBackfillFetch = errors.New("backfill fetch failed")
	// ErrBackfillRunning is returned when a backfill starts while another one is in progress.
	ErrBackfillRunning = errors.New("backfill already running")
)

// DefaultWindow is the span of one history request.
const DefaultWindow = 60 * time.Minute

// Store persists the series. Append is called for each live tick, Rewrite after a merge.
type Store interface {
	Append(instrument string, day time.Time, ticks ...signal.Tick) error
	Rewrite(instrument string, day time.Time, ticks []signal.Tick) error
}

// Config tunes one reconciler.
type Config struct {
	Instrument string
	// Window is the length of each backward history request.
	Window time.Duration
	// MaxWindows bounds a single backfill walk; zero means until the source returns nothing.
	MaxWindows int
	Store      Store
}

// Merge describes the series produced by a backfill.
type Merge struct {
	Series     []signal.Tick
	From, To   time.Time
	Backfilled int
	Buffered   int
}

// Reconciler owns the ordered tick series of one instrument.
type Reconciler struct {
	mu          sync.Mutex
	cfg         Config
	log         zerolog.Logger
	series      []signal.Tick
	buffer      []signal.Tick
	reconciling bool
}

// New builds a reconciler seeded with previously persisted ticks.
func New(cfg Config, initial []signal.Tick, log zerolog.Logger) *Reconciler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Reconciler{
		cfg:    cfg,
		log:    log.With().Str("instrument", cfg.Instrument).Logger(),
		series: mergeTicks(append([]signal.Tick(nil), initial...)),
	}
}

// Push accepts a live tick. While a backfill runs the tick is parked in the side buffer and
// nil is returned; otherwise the tick is inserted in time order and returned for analysis.
// A tick already present in the series is dropped.
func (r *Reconciler) Push(tk signal.Tick) []signal.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reconciling {
		r.buffer = append(r.buffer, tk)
		return nil
	}
	if !r.insert(tk) {
		return nil
	}
	r.persist(tk)
	return []signal.Tick{tk}
}

// Reconciling reports whether a backfill is in progress.
func (r *Reconciler) Reconciling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconciling
}

// Backfill walks history backward from now in Window steps until the source returns an empty
// window, then merges it with the series and the side buffer in one critical section.
// On a fetch error the buffered ticks are folded into the unchanged series and the returned
// Merge carries that series alongside ErrBackfillFetch.
func (r *Reconciler) Backfill(ctx context.Context, src exchange.HistorySource, now time.Time) (*Merge, error) {
	r.mu.Lock()
	if r.reconciling {
		r.mu.Unlock()
		return nil, ErrBackfillRunning
	}
	r.reconciling = true
	r.mu.Unlock()

	var history []signal.Tick
	to := now
	for i := 0; r.cfg.MaxWindows == 0 || i < r.cfg.MaxWindows; i++ {
		from := to.Add(-r.cfg.Window)
		chunk, err := src.Trades(ctx, r.cfg.Instrument, from, to)
		if err != nil {
			merge := r.abort()
			return merge, fmt.Errorf("%w: %s [%s, %s): %v", ErrBackfillFetch, r.cfg.Instrument,
				from.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}
		r.log.Debug().Time("from", from).Time("to", to).Int("size", len(chunk)).Msg("history window")
		if len(chunk) == 0 {
			break
		}
		history = append(history, chunk...)
		to = from
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	merge := &Merge{Backfilled: len(history), Buffered: len(r.buffer)}
	if len(history) > 0 {
		sortTicks(history)
		merge.From = history[0].Ts
		merge.To = history[len(history)-1].Ts
		kept := make([]signal.Tick, 0, len(r.series))
		for _, tk := range r.series {
			if tk.Ts.Before(merge.From) || tk.Ts.After(merge.To) {
				kept = append(kept, tk)
			}
		}
		r.series = kept
	}
	combined := make([]signal.Tick, 0, len(r.series)+len(history)+len(r.buffer))
	combined = append(combined, r.series...)
	combined = append(combined, history...)
	combined = append(combined, r.buffer...)
	r.series = mergeTicks(combined)
	r.buffer = nil
	r.reconciling = false
	r.rewrite()
	merge.Series = r.snapshot()
	r.log.Info().Int("backfilled", merge.Backfilled).Int("buffered", merge.Buffered).Int("series", len(merge.Series)).Msg("backfill merged")
	return merge, nil
}

func (r *Reconciler) abort() *Merge {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffered := len(r.buffer)
	r.flush()
	r.reconciling = false
	return &Merge{Series: r.snapshot(), Buffered: buffered}
}

// Drain flushes the side buffer into the series and returns the ticks that were parked.
func (r *Reconciler) Drain() []signal.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	parked := r.buffer
	r.flush()
	return parked
}

func (r *Reconciler) flush() {
	for _, tk := range r.buffer {
		if r.insert(tk) {
			r.persist(tk)
		}
	}
	r.buffer = nil
}

// Series returns a copy of the ordered series.
func (r *Reconciler) Series() []signal.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Reconciler) snapshot() []signal.Tick {
	out := make([]signal.Tick, len(r.series))
	copy(out, r.series)
	return out
}

// insert places tk after every tick with Ts <= tk.Ts. It reports false for a duplicate.
func (r *Reconciler) insert(tk signal.Tick) bool {
	i := sort.Search(len(r.series), func(i int) bool { return r.series[i].Ts.After(tk.Ts) })
	for j := i - 1; j >= 0 && r.series[j].Ts.Equal(tk.Ts); j-- {
		if r.series[j].Same(tk) {
			return false
		}
	}
	r.series = append(r.series, signal.Tick{})
	copy(r.series[i+1:], r.series[i:])
	r.series[i] = tk
	return true
}

func (r *Reconciler) persist(tk signal.Tick) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.Append(r.cfg.Instrument, tk.Ts, tk); err != nil {
		r.log.Warn().Err(err).Msg("tick append failed")
	}
}

func (r *Reconciler) rewrite() {
	if r.cfg.Store == nil || len(r.series) == 0 {
		return
	}
	start := 0
	for i := 1; i <= len(r.series); i++ {
		if i < len(r.series) && sameDay(r.series[i].Ts, r.series[start].Ts) {
			continue
		}
		day := r.series[start].Ts
		if err := r.cfg.Store.Rewrite(r.cfg.Instrument, day, r.series[start:i]); err != nil {
			r.log.Warn().Err(err).Time("day", day).Msg("tick rewrite failed")
		}
		start = i
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sortTicks(ticks []signal.Tick) {
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Ts.Before(ticks[j].Ts) })
}

// mergeTicks sorts by time and drops repeated trades, keeping the first occurrence.
func mergeTicks(ticks []signal.Tick) []signal.Tick {
	sortTicks(ticks)
	out := ticks[:0]
	for _, tk := range ticks {
		dup := false
		for j := len(out) - 1; j >= 0 && out[j].Ts.Equal(tk.Ts); j-- {
			if out[j].Same(tk) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, tk)
		}
	}
	return out
}
