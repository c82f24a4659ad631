package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"volumebot-go/internal/exchange"
	"volumebot-go/internal/metrics"
	"volumebot-go/internal/notify"
	"volumebot-go/internal/reconcile"
	"volumebot-go/internal/signal"
	"volumebot-go/internal/util"
)

// RunnerConfig tunes the backfill schedule of a Runner.
type RunnerConfig struct {
	// BackfillInterval repeats the history walk; zero runs it once at start.
	BackfillInterval time.Duration
	// Now is the clock backfills walk back from. Defaults to time.Now.
	Now func() time.Time
}

// Runner drives one pipeline from live ticks and periodic history backfills.
type Runner struct {
	pipe    *Pipeline
	rec     *reconcile.Reconciler
	history exchange.HistorySource
	cfg     RunnerConfig
	log     zerolog.Logger
	merges  chan *reconcile.Merge
	wg      sync.WaitGroup
}

// NewRunner wires a pipeline to its reconciler. A nil history source disables backfills.
func NewRunner(pipe *Pipeline, rec *reconcile.Reconciler, history exchange.HistorySource, cfg RunnerConfig, log zerolog.Logger) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		pipe:    pipe,
		rec:     rec,
		history: history,
		cfg:     cfg,
		log:     util.ForInstrument(log, pipe.cfg.Instrument),
		merges:  make(chan *reconcile.Merge, 1),
	}
}

// Run consumes in until it closes or ctx ends, then finishes the session.
func (r *Runner) Run(ctx context.Context, in <-chan signal.Tick) error {
	if series := r.rec.Series(); len(series) > 0 {
		r.pipe.OnMerge(&reconcile.Merge{Series: series})
	}

	var tick <-chan time.Time
	if r.history != nil {
		r.backfill(ctx)
		if r.cfg.BackfillInterval > 0 {
			t := time.NewTicker(r.cfg.BackfillInterval)
			defer t.Stop()
			tick = t.C
		}
	}

	defer r.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tk, ok := <-in:
			if !ok {
				return nil
			}
			for _, accepted := range r.rec.Push(tk) {
				if _, err := r.pipe.OnTick(accepted); err != nil {
					r.log.Warn().Err(err).Time("ts", accepted.Ts).Msg("tick rejected")
				}
			}
		case <-tick:
			if !r.rec.Reconciling() {
				r.backfill(ctx)
			}
		case m := <-r.merges:
			r.apply(m)
		}
	}
}

// apply rebuilds the pipeline from the series as it stands now. Live ticks accepted
// between the merge and its delivery are already in the series and must survive.
func (r *Runner) apply(m *reconcile.Merge) {
	m.Series = r.rec.Series()
	r.pipe.OnMerge(m)
}

func (r *Runner) backfill(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m, err := r.rec.Backfill(ctx, r.history, r.cfg.Now())
		switch {
		case errors.Is(err, reconcile.ErrBackfillRunning):
			return
		case err != nil:
			metrics.BackfillErrorsTotal.WithLabelValues(r.pipe.cfg.Instrument).Inc()
			r.log.Warn().Err(err).Msg("backfill aborted")
			r.pipe.publish(notify.KindError, r.cfg.Now(), err.Error())
		}
		if m == nil {
			return
		}
		select {
		case r.merges <- m:
		case <-ctx.Done():
		}
	}()
}

func (r *Runner) stop() {
	idle := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(idle)
	}()
	for waiting := true; waiting; {
		select {
		case m := <-r.merges:
			r.apply(m)
		case <-idle:
			waiting = false
		}
	}
	select {
	case m := <-r.merges:
		r.apply(m)
	default:
	}
	if parked := r.rec.Drain(); len(parked) > 0 {
		r.pipe.OnMerge(&reconcile.Merge{Series: r.rec.Series(), Buffered: len(parked)})
	}
	if !r.pipe.finished {
		r.pipe.Finish()
	}
}

// Route fans a mixed tick stream out to per-instrument channels and closes them when in closes
// or ctx ends. Ticks for unknown instruments are dropped.
func Route(ctx context.Context, in <-chan signal.Tick, outs map[string]chan signal.Tick, log zerolog.Logger) {
	defer func() {
		for _, ch := range outs {
			close(ch)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case tk, ok := <-in:
			if !ok {
				return
			}
			ch, known := outs[tk.Instrument]
			if !known {
				log.Debug().Str("instrument", tk.Instrument).Msg("tick for unrouted instrument")
				continue
			}
			select {
			case ch <- tk:
			case <-ctx.Done():
				return
			}
		}
	}
}
