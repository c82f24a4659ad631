// Package engine wires the per-instrument analytics pipeline: bars, volume levels, signal
// classification and simulated orders.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"volumebot-go/internal/candle"
	"volumebot-go/internal/chart"
	"volumebot-go/internal/level"
	"volumebot-go/internal/metrics"
	"volumebot-go/internal/notify"
	"volumebot-go/internal/paper"
	"volumebot-go/internal/reconcile"
	"volumebot-go/internal/risk"
	"volumebot-go/internal/session"
	"volumebot-go/internal/signal"
	"volumebot-go/internal/strategy"
	"volumebot-go/internal/util"
)

// EventPublisher accepts notifications without blocking.
type EventPublisher interface {
	Publish(notify.Event) bool
}

// SnapshotPublisher accepts chart snapshots without blocking.
type SnapshotPublisher interface {
	Publish(chart.Snapshot) bool
}

// OrderReporter reports opened and closed legs; execution.Executor implements it.
type OrderReporter interface {
	Submit([]paper.Order) error
	Closed([]paper.Order)
}

// Config is the per-instrument pipeline configuration.
type Config struct {
	Instrument string
	Coarse     time.Duration
	Fine       time.Duration
	Levels     level.Config
	Classifier strategy.Params
	Orders     paper.LedgerConfig
	Hours      session.Hours
	Limits     risk.Limits
	// StatsDir receives statistics-<instrument>.log at session end; empty disables the file.
	StatsDir string
}

// Deps are optional collaborators. Nil fields are skipped.
type Deps struct {
	Ledger   *paper.Ledger
	Executor OrderReporter
	Events   EventPublisher
	Charts   SnapshotPublisher
}

// Pipeline owns all analytics state of one instrument. It is not safe for concurrent use;
// the Runner drives it from a single goroutine.
type Pipeline struct {
	cfg        Config
	log        zerolog.Logger
	agg        *candle.Aggregator
	tracker    *level.Tracker
	classifier *strategy.Classifier
	ledger     *paper.Ledger
	deps       Deps

	lastPrice decimal.Decimal
	lastTs    time.Time
	finished  bool
}

// NewPipeline builds a pipeline with fresh bars and levels.
func NewPipeline(cfg Config, deps Deps, log zerolog.Logger) *Pipeline {
	if cfg.Coarse <= 0 {
		cfg.Coarse = time.Hour
	}
	if cfg.Fine <= 0 {
		cfg.Fine = 5 * time.Minute
	}
	if cfg.Hours.Location == nil {
		cfg.Hours = session.Default()
	}
	cfg.Orders.Instrument = cfg.Instrument
	if cfg.Orders.Hours.Location == nil {
		cfg.Orders.Hours = cfg.Hours
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = paper.NewLedger(cfg.Orders)
	}
	return &Pipeline{
		cfg:        cfg,
		log:        util.ForInstrument(log, cfg.Instrument),
		agg:        candle.NewAggregator(cfg.Coarse, cfg.Fine),
		tracker:    level.NewTracker(cfg.Levels),
		classifier: strategy.NewClassifier(cfg.Instrument, cfg.Classifier),
		ledger:     ledger,
		deps:       deps,
	}
}

// Ledger exposes the order ledger.
func (p *Pipeline) Ledger() *paper.Ledger { return p.ledger }

// Levels returns a copy of the tracked volume levels.
func (p *Pipeline) Levels() []level.VolumeLevel { return p.tracker.Levels() }

// OnTick runs one reconciled tick through the pipeline and returns any legs it opened.
func (p *Pipeline) OnTick(tk signal.Tick) ([]paper.Order, error) {
	if err := tk.Validate(); err != nil {
		return nil, err
	}
	if p.finished && !sameDay(p.lastTs, tk.Ts) {
		p.finished = false
	}
	p.lastPrice, p.lastTs = tk.Price, tk.Ts

	p.closed(p.ledger.OnPrice(tk.Price, tk.Ts))
	if !p.cfg.Hours.OrdersOpen(tk.Ts) {
		p.closed(p.ledger.OnSessionBoundary(tk.Price, tk.Ts))
		if !p.finished {
			p.Finish()
		}
	}
	if p.cfg.Hours.Premarket(tk.Ts) {
		return nil, nil
	}

	done, err := p.agg.Append(tk)
	if errors.Is(err, candle.ErrOutOfOrder) {
		p.log.Debug().Err(err).Msg("late tick left for the next rebuild")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if bars := done[p.cfg.Coarse]; len(bars) > 0 {
		p.ingest(bars)
	}

	if ev, ok := p.tracker.Observe(tk.Price, tk.Ts); ok {
		metrics.TouchesTotal.WithLabelValues(p.cfg.Instrument).Inc()
		p.log.Info().Str("level", ev.Level.String()).Time("formed", ev.FormedAt).Int("count", ev.Count).Str("price", tk.Price.String()).Msg("price touched volume level")
		p.publish(notify.KindTouch, tk.Ts, fmt.Sprintf("price %s touched level %s (%d)", tk.Price, ev.Level, ev.Count))
	}

	if len(done[p.cfg.Fine]) == 0 || !p.cfg.Hours.OrdersOpen(tk.Ts) {
		return nil, nil
	}
	return p.evaluate(tk.Price, tk.Ts)
}

func (p *Pipeline) ingest(bars []candle.Bar) {
	added := 0
	for _, b := range bars {
		if p.tracker.IngestLevel(b) {
			added++
			p.log.Info().Str("level", b.VolumeProfilePrice.String()).Time("formed", b.Start).Int64("volume", b.Volume).Msg("volume level formed")
			p.publish(notify.KindLevel, b.Start.Add(p.cfg.Coarse), fmt.Sprintf("level %s formed by the %s bar", b.VolumeProfilePrice, b.Start.Format("15:04")))
		}
	}
	if added > 0 {
		metrics.LevelsTracked.WithLabelValues(p.cfg.Instrument).Set(float64(len(p.tracker.Levels())))
	}
	p.chart(bars[len(bars)-1].Start.Add(p.cfg.Coarse))
}

// evaluate classifies the last completed fine bar against the pending touches. A winning bar
// confirms the oldest pending touch and may open a ladder; any other bar rejects them all.
func (p *Pipeline) evaluate(price decimal.Decimal, at time.Time) ([]paper.Order, error) {
	pending := p.tracker.Pending()
	if len(pending) == 0 {
		return nil, nil
	}
	bars, err := p.agg.Recent(p.cfg.Fine, 2)
	if err != nil {
		p.log.Debug().Err(err).Msg("skip evaluation")
		return nil, nil
	}
	ev, err := p.classifier.Classify(bars)
	if err != nil || ev == nil {
		return nil, err
	}

	if !ev.Winning {
		for _, pt := range pending {
			if err := p.tracker.Resolve(pt, level.Rejected); err != nil {
				return nil, err
			}
			metrics.SignalsTotal.WithLabelValues(p.cfg.Instrument, level.Rejected.String()).Inc()
		}
		p.log.Info().Str("reason", ev.Reason).Int("touches", len(pending)).Msg("touch rejected by signal bar")
		p.publish(notify.KindSignal, at, fmt.Sprintf("%d touch(es) rejected by the %s bar (%s)", len(pending), ev.Current.Start.Format("15:04"), ev.Reason))
		return nil, nil
	}

	if err := p.tracker.Resolve(pending[0], level.Confirmed); err != nil {
		return nil, err
	}
	metrics.SignalsTotal.WithLabelValues(p.cfg.Instrument, level.Confirmed.String()).Inc()
	p.publish(notify.KindSignal, at, fmt.Sprintf("%s signal bar at %s confirmed level %s (%s)", ev.Direction, ev.Current.Start.Format("15:04"), pending[0].Level, ev.Reason))

	if err := p.classifier.Admit(ev, price); err != nil {
		metrics.SignalsTotal.WithLabelValues(p.cfg.Instrument, "skipped").Inc()
		p.log.Info().Err(err).Str("price", price.String()).Msg("entry skipped")
		return nil, nil
	}

	legs, err := p.ledger.Prepare(ev.Signal, price, at)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.Limits.CheckGroup(legs); err != nil {
		metrics.SignalsTotal.WithLabelValues(p.cfg.Instrument, "risk").Inc()
		p.log.Warn().Err(err).Msg("entry blocked by risk limits")
		return nil, nil
	}
	if err := p.ledger.Place(legs); err != nil {
		if errors.Is(err, paper.ErrDuplicateSignal) {
			metrics.SignalsTotal.WithLabelValues(p.cfg.Instrument, "duplicate").Inc()
			p.log.Info().Err(err).Msg("entry suppressed")
			return nil, nil
		}
		return nil, err
	}
	if p.deps.Executor != nil {
		if err := p.deps.Executor.Submit(legs); err != nil {
			p.log.Warn().Err(err).Str("group", legs[0].GroupID).Msg("submit legs")
		}
	}
	p.publish(notify.KindOrderOpen, at, fmt.Sprintf("%s %d legs at %s, stop %s, first take %s", ev.Direction, len(legs), price, legs[0].Stop, legs[0].Take))
	return legs, nil
}

func (p *Pipeline) closed(legs []paper.Order) {
	if len(legs) == 0 {
		return
	}
	if p.deps.Executor != nil {
		p.deps.Executor.Closed(legs)
	}
	for _, o := range legs {
		p.publish(notify.KindOrderClose, o.ClosedAt, fmt.Sprintf("%s leg closed by %s at %s, result %s", o.Direction, o.Reason, o.Close, o.Result))
	}
}

// OnMerge replaces the bars with ones rebuilt from a reconciled series. Levels and touches
// survive; levels found in newly backfilled hours are added.
func (p *Pipeline) OnMerge(m *reconcile.Merge) {
	if m == nil {
		return
	}
	ticks := make([]signal.Tick, 0, len(m.Series))
	for _, tk := range m.Series {
		if !p.cfg.Hours.Premarket(tk.Ts) {
			ticks = append(ticks, tk)
		}
	}
	skipped := p.agg.Rebuild(ticks)
	if bars, err := p.agg.Bars(p.cfg.Coarse); err == nil && len(bars) > 0 {
		p.ingest(bars)
	}
	if n := len(ticks); n > 0 {
		p.lastPrice, p.lastTs = ticks[n-1].Price, ticks[n-1].Ts
	}
	p.log.Info().Int("ticks", len(ticks)).Int("skipped", skipped).Msg("bars rebuilt from merged series")
}

// Finish force-closes remaining legs at the last price, then logs and persists the statistics.
func (p *Pipeline) Finish() paper.Report {
	p.finished = true
	if !p.lastTs.IsZero() {
		p.closed(p.ledger.CloseAll(p.lastPrice, p.lastTs))
	}
	report := p.ledger.Stats()
	report.Log(p.log)
	if p.cfg.StatsDir != "" {
		if err := paper.AppendStats(p.cfg.StatsDir, report, p.lastTs); err != nil {
			p.log.Warn().Err(err).Msg("write statistics")
		}
	}
	p.publish(notify.KindStats, p.lastTs, fmt.Sprintf("orders %d, wins %d, losses %d, total %s", report.Orders, report.Wins, report.Losses, report.Total))
	p.chart(p.lastTs)
	return report
}

// Snapshot captures the coarse bars and level outcomes for visualization.
func (p *Pipeline) Snapshot(at time.Time) chart.Snapshot {
	bars, _ := p.agg.Bars(p.cfg.Coarse)
	confirmed, rejected := p.tracker.Outcomes()
	return chart.Snapshot{
		Instrument: p.cfg.Instrument,
		Period:     p.cfg.Coarse,
		At:         at,
		Bars:       bars,
		Confirmed:  confirmed,
		Rejected:   rejected,
		Levels:     p.tracker.Levels(),
	}
}

func (p *Pipeline) chart(at time.Time) {
	if p.deps.Charts == nil {
		return
	}
	if !p.deps.Charts.Publish(p.Snapshot(at)) {
		p.log.Debug().Msg("chart snapshot dropped")
	}
}

func (p *Pipeline) publish(kind notify.Kind, at time.Time, text string) {
	if p.deps.Events == nil {
		return
	}
	p.deps.Events.Publish(notify.Event{Kind: kind, Instrument: p.cfg.Instrument, Text: text, At: at})
}

// Replay feeds ordered ticks through the pipeline and finishes the session.
func (p *Pipeline) Replay(ticks []signal.Tick) paper.Report {
	for _, tk := range ticks {
		if _, err := p.OnTick(tk); err != nil && !errors.Is(err, signal.ErrInvalidTick) {
			p.log.Warn().Err(err).Time("ts", tk.Ts).Msg("tick failed")
		}
	}
	if p.finished {
		return p.ledger.Stats()
	}
	return p.Finish()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
