package engine

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"volumebot-go/internal/chart"
	"volumebot-go/internal/config"
	"volumebot-go/internal/level"
	"volumebot-go/internal/notify"
	"volumebot-go/internal/paper"
	"volumebot-go/internal/reconcile"
	"volumebot-go/internal/session"
	"volumebot-go/internal/signal"
)

var day = time.Date(2022, 5, 20, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(clock string) time.Time {
	c, err := session.ParseClock(clock)
	if err != nil {
		panic(err)
	}
	return day.Add(c)
}

func tk(clock, price string, qty int64) signal.Tick {
	return signal.Tick{Instrument: "SBER", Direction: signal.Buy, Price: d(price), Quantity: qty, Ts: at(clock)}
}

type events struct {
	mu  sync.Mutex
	got []notify.Event
}

func (e *events) Publish(ev notify.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
	return true
}

func (e *events) kinds() map[notify.Kind]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[notify.Kind]int{}
	for _, ev := range e.got {
		out[ev.Kind]++
	}
	return out
}

type charts struct{ got []chart.Snapshot }

func (c *charts) Publish(s chart.Snapshot) bool {
	c.got = append(c.got, s)
	return true
}

func testConfig(statsDir string) Config {
	return Config{
		Instrument: "SBER",
		Coarse:     time.Hour,
		Fine:       5 * time.Minute,
		Levels: level.Config{
			FirstTouchCooldown:  30 * time.Minute,
			SecondTouchCooldown: 10 * time.Minute,
			Tolerance:           d("0.001"),
		},
		Orders: paper.LedgerConfig{
			Ladder:          paper.Ladder{Lots: 2, Goals: 1, FirstGoal: d("1"), GoalStep: d("0.5")},
			StopLossPercent: d("1"),
		},
		Hours:    session.Default(),
		StatsDir: statsDir,
	}
}

// Level 100 forms from the 07:00 hour, price touches it at 08:06 and the 08:05 bar closes as a
// bullish signal bar with its volume peak at 103.
func morning() []signal.Tick {
	return []signal.Tick{
		tk("06:30", "50", 1000),
		tk("07:00", "100", 50),
		tk("07:30", "101", 1),
		tk("07:59", "100.5", 1),
		tk("08:00", "102", 1),
		tk("08:05", "101", 1),
		tk("08:06", "100.05", 1),
		tk("08:07", "103", 10),
		tk("08:09", "102.8", 1),
	}
}

func run(t *testing.T, p *Pipeline, ticks []signal.Tick) []paper.Order {
	t.Helper()
	var opened []paper.Order
	for _, tick := range ticks {
		legs, err := p.OnTick(tick)
		if err != nil {
			t.Fatalf("OnTick %s: %v", tick.Ts.Format("15:04"), err)
		}
		opened = append(opened, legs...)
	}
	return opened
}

func TestPipelineOpensLadderAndTakesProfit(t *testing.T) {
	ev := &events{}
	ch := &charts{}
	p := NewPipeline(testConfig(""), Deps{Events: ev, Charts: ch}, zerolog.Nop())

	if opened := run(t, p, morning()); len(opened) != 0 {
		t.Fatalf("no entry before the signal bar closes, got %+v", opened)
	}
	levels := p.Levels()
	if len(levels) != 1 || !levels[0].Price.Equal(d("100")) || !levels[0].FormedAt.Equal(at("07:00")) {
		t.Fatalf("expected one level at 100 formed 07:00, got %+v", levels)
	}

	legs, err := p.OnTick(tk("08:10", "103.5", 1))
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("expected one leg, got %+v", legs)
	}
	leg := legs[0]
	if leg.Direction != signal.Buy || leg.Quantity != 2 || !leg.Open.Equal(d("103.5")) ||
		!leg.Stop.Equal(d("101.97")) || !leg.Take.Equal(d("105.03")) {
		t.Fatalf("unexpected leg %+v", leg)
	}
	touches := p.Levels()[0].Touches
	if len(touches) != 1 || touches[0].Outcome != level.Confirmed || !touches[0].Time.Equal(at("08:06")) {
		t.Fatalf("touch should be confirmed, got %+v", touches)
	}

	run(t, p, []signal.Tick{tk("08:15", "105.1", 1)})
	closed := p.Ledger().Snapshot()
	if closed[0].Status != paper.Closed || closed[0].Reason != paper.ReasonTake || !closed[0].Result.Equal(d("1.6")) {
		t.Fatalf("expected take profit, got %+v", closed[0])
	}

	report := p.Finish()
	if report.Orders != 1 || report.Wins != 1 || !report.Total.Equal(d("1.6")) {
		t.Fatalf("unexpected report %+v", report)
	}
	kinds := ev.kinds()
	if kinds[notify.KindLevel] != 1 || kinds[notify.KindTouch] != 1 || kinds[notify.KindSignal] != 1 || kinds[notify.KindOrderOpen] != 1 ||
		kinds[notify.KindOrderClose] != 1 || kinds[notify.KindStats] != 1 {
		t.Fatalf("unexpected notifications %v", kinds)
	}
	if len(ch.got) == 0 || len(ch.got[len(ch.got)-1].Confirmed) != 1 {
		t.Fatalf("expected chart snapshot with the confirmed touch, got %d snapshots", len(ch.got))
	}
}

func TestPipelineSessionCutoffClosesAndWritesStats(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(testConfig(dir), Deps{}, zerolog.Nop())
	ticks := append(morning(), tk("08:10", "103.5", 1), tk("15:00", "104", 1), tk("15:01", "90", 1))
	run(t, p, ticks)

	orders := p.Ledger().Snapshot()
	if len(orders) != 1 {
		t.Fatalf("expected one leg, got %d", len(orders))
	}
	o := orders[0]
	if o.Reason != paper.ReasonSession || !o.IsWin || !o.Result.Equal(d("0.5")) || !o.ClosedAt.Equal(at("15:00")) {
		t.Fatalf("expected session close at 104, got %+v", o)
	}

	raw, err := os.ReadFile(paper.StatsPath(dir, "SBER"))
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if strings.Count(string(raw), "instrument: SBER") != 1 || !strings.Contains(string(raw), "total: 0.5") {
		t.Fatalf("statistics must be written once at the cutoff:\n%s", raw)
	}
}

func TestPipelineRejectsTouchOnWeakBar(t *testing.T) {
	p := NewPipeline(testConfig(""), Deps{}, zerolog.Nop())
	ticks := []signal.Tick{
		tk("07:00", "100", 50),
		tk("07:30", "101", 1),
		tk("07:59", "100.5", 1),
		tk("08:00", "102", 1),
		tk("08:05", "101", 1),
		tk("08:06", "100.05", 1),
		tk("08:07", "100.5", 1),
		tk("08:09", "100.2", 1),
		tk("08:10", "103.5", 1),
	}
	if opened := run(t, p, ticks); len(opened) != 0 {
		t.Fatalf("weak bar must not open orders, got %+v", opened)
	}
	lvl := p.Levels()[0]
	if len(lvl.Touches) != 1 || lvl.Touches[0].Outcome != level.Rejected {
		t.Fatalf("expected rejected touch, got %+v", lvl.Touches)
	}
	if lvl.LastTouch != nil {
		t.Fatalf("rejection must clear the last touch")
	}
	if len(p.tracker.Pending()) != 0 {
		t.Fatalf("no touch may stay pending")
	}
}

func TestPipelineIgnoresPremarket(t *testing.T) {
	p := NewPipeline(testConfig(""), Deps{}, zerolog.Nop())
	run(t, p, []signal.Tick{tk("05:00", "50", 1000), tk("06:59", "51", 1), tk("07:00", "100", 1)})
	if levels := p.Levels(); len(levels) != 0 {
		t.Fatalf("premarket hours must not form levels, got %+v", levels)
	}
	if _, ok := p.agg.Current(time.Hour); !ok {
		t.Fatalf("07:00 tick should open the first bar")
	}
}

func TestPipelineRejectsInvalidTick(t *testing.T) {
	p := NewPipeline(testConfig(""), Deps{}, zerolog.Nop())
	bad := tk("08:00", "0", 1)
	if _, err := p.OnTick(bad); err == nil {
		t.Fatalf("expected invalid tick error")
	}
}

func TestPipelineOnMergeRebuildsLevels(t *testing.T) {
	p := NewPipeline(testConfig(""), Deps{}, zerolog.Nop())
	p.OnMerge(&reconcile.Merge{Series: morning()})
	levels := p.Levels()
	if len(levels) != 1 || !levels[0].Price.Equal(d("100")) {
		t.Fatalf("expected level rebuilt from merged series, got %+v", levels)
	}
	if len(levels[0].Touches) != 0 {
		t.Fatalf("merged ticks are not analysed one by one")
	}
	if bars, _ := p.agg.Bars(5 * time.Minute); len(bars) == 0 || bars[0].Start.Before(at("07:00")) {
		t.Fatalf("premarket ticks must be left out of the rebuild, got %+v", bars)
	}
}

func TestReplayFinishesOpenLegs(t *testing.T) {
	p := NewPipeline(testConfig(""), Deps{}, zerolog.Nop())
	report := p.Replay(append(morning(), tk("08:10", "103.5", 1), tk("08:20", "103.6", 1)))
	if report.Orders != 1 || report.Wins != 1 || !report.Total.Equal(d("0.1")) {
		t.Fatalf("replay must force-close at the last price, got %+v", report)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Exchange.Instruments = []string{"SBER"}
	cfg.Session.OrdersCutoff = "16:30"
	pc, err := FromConfig(cfg, "SBER")
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if pc.Coarse != time.Hour || pc.Fine != 5*time.Minute || !pc.Levels.Tolerance.Equal(d("0.0005")) {
		t.Fatalf("unexpected periods %+v", pc)
	}
	if pc.Orders.Ladder.Goals != 2 || !pc.Orders.StopLossPercent.Equal(d("0.05")) {
		t.Fatalf("unexpected orders %+v", pc.Orders)
	}
	if !pc.Hours.OrdersOpen(at("16:00")) || pc.Hours.OrdersOpen(at("16:30")) {
		t.Fatalf("cutoff not applied")
	}

	cfg.Session.Timezone = "Nowhere/Invalid"
	if _, err := FromConfig(cfg, "SBER"); err == nil {
		t.Fatalf("expected timezone error")
	}
}

type rejectingReporter struct{ closed int }

func (r *rejectingReporter) Submit([]paper.Order) error { return errors.New("venue unavailable") }

func (r *rejectingReporter) Closed(legs []paper.Order) { r.closed += len(legs) }

func TestPipelineLogsSubmitFailure(t *testing.T) {
	var buf bytes.Buffer
	reporter := &rejectingReporter{}
	p := NewPipeline(testConfig(""), Deps{Executor: reporter}, zerolog.New(&buf))

	run(t, p, morning())
	legs, err := p.OnTick(tk("08:10", "103.5", 1))
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("legs stay on the paper ledger after a failed submit, got %+v", legs)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "venue unavailable") || !strings.Contains(out, "submit legs") {
		t.Fatalf("submit failure not logged: %s", out)
	}

	run(t, p, []signal.Tick{tk("08:15", "105.1", 1)})
	if reporter.closed != 1 {
		t.Fatalf("closed legs still reported, got %d", reporter.closed)
	}
}
