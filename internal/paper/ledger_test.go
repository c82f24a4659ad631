package paper

import (
	"errors"
	"testing"
	"time"

	"volumebot-go/internal/session"
	"volumebot-go/internal/signal"
)

type memRecorder struct{ orders []Order }

func (m *memRecorder) Record(o Order) { m.orders = append(m.orders, o) }

func newTestLedger(rec OrderRecorder) *Ledger {
	return NewLedger(LedgerConfig{
		Instrument:      "SBER",
		Ladder:          Ladder{Lots: 10, Goals: 2, FirstGoal: d("3"), GoalStep: d("0.5")},
		StopLossPercent: d("10"),
		Hours:           session.Default(),
		Recorder:        rec,
	})
}

func activeBuy(group string) Order {
	return Order{
		ID: group + "-1", GroupID: group, Instrument: "SBER", Direction: signal.Buy,
		Open: d("100"), Stop: d("90"), Take: d("130"), Quantity: 1, OpenedAt: opened,
	}
}

func TestStopHitClosesLoss(t *testing.T) {
	rec := &memRecorder{}
	ledger := newTestLedger(rec)
	if err := ledger.Place([]Order{activeBuy("g1")}); err != nil {
		t.Fatalf("Place: %v", err)
	}

	if closed := ledger.OnPrice(d("95"), opened.Add(time.Minute)); len(closed) != 0 {
		t.Fatalf("95 must not close the leg")
	}
	closed := ledger.OnPrice(d("89"), opened.Add(2*time.Minute))
	if len(closed) != 1 {
		t.Fatalf("expected stop at 89, got %d closed", len(closed))
	}
	o := closed[0]
	if o.Status != Closed || o.IsWin || o.Reason != ReasonStop || !o.Result.Equal(d("-11")) || !o.Close.Equal(d("89")) {
		t.Fatalf("unexpected closed leg %+v", o)
	}
	if more := ledger.OnPrice(d("80"), opened.Add(3*time.Minute)); len(more) != 0 {
		t.Fatalf("closed legs must not close again")
	}
	if len(rec.orders) != 1 {
		t.Fatalf("recorder expected 1 leg, got %d", len(rec.orders))
	}
}

func TestCreateLadderAndTake(t *testing.T) {
	ledger := newTestLedger(nil)
	sig := signal.Signal{Instrument: "SBER", Direction: signal.Buy, EntryBound: d("100"), Winning: true}
	legs, err := ledger.Create(sig, d("100"), opened)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(legs) != 2 || !legs[0].Stop.Equal(d("90")) {
		t.Fatalf("unexpected legs %+v", legs)
	}
	// risk 10 -> takes 130 and 145
	closed := ledger.OnPrice(d("131"), opened.Add(time.Minute))
	if len(closed) != 1 || !closed[0].IsWin || closed[0].Reason != ReasonTake || !closed[0].Result.Equal(d("31")) {
		t.Fatalf("expected first leg take, got %+v", closed)
	}
	if !ledger.HasActive() {
		t.Fatalf("second leg should still be active")
	}
}

func TestDuplicateSignalSuppressed(t *testing.T) {
	ledger := newTestLedger(nil)
	sig := signal.Signal{Instrument: "SBER", Direction: signal.Buy, EntryBound: d("100"), Winning: true}
	first, err := ledger.Create(sig, d("100"), opened)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ledger.Create(sig, d("101"), opened.Add(time.Minute)); !errors.Is(err, ErrDuplicateSignal) {
		t.Fatalf("expected ErrDuplicateSignal, got %v", err)
	}
	if n := len(ledger.Snapshot()); n != 2 {
		t.Fatalf("duplicate must not add legs, have %d", n)
	}

	extra := first[0]
	extra.ID = "extra"
	if err := ledger.Place([]Order{extra}); err != nil {
		t.Fatalf("legs of the active group must be accepted: %v", err)
	}

	sell := signal.Signal{Instrument: "SBER", Direction: signal.Sell, EntryBound: d("100"), Winning: true}
	if _, err := ledger.Create(sell, d("100"), opened); err != nil {
		t.Fatalf("opposite direction must be allowed: %v", err)
	}
}

func TestSessionBoundaryForceClose(t *testing.T) {
	ledger := newTestLedger(nil)
	buy := activeBuy("g1")
	sell := Order{
		ID: "s", GroupID: "g2", Instrument: "SBER", Direction: signal.Sell,
		Open: d("100"), Stop: d("110"), Take: d("70"), Quantity: 1, OpenedAt: opened,
	}
	if err := ledger.Place([]Order{buy, sell}); err != nil {
		t.Fatalf("Place: %v", err)
	}

	day := time.Date(2022, 5, 20, 0, 0, 0, 0, time.UTC)
	if closed := ledger.OnSessionBoundary(d("103"), day.Add(14*time.Hour)); closed != nil {
		t.Fatalf("nothing closes before the cutoff")
	}
	closed := ledger.OnSessionBoundary(d("103"), day.Add(15*time.Hour))
	if len(closed) != 2 {
		t.Fatalf("expected 2 force-closed legs, got %d", len(closed))
	}
	for _, o := range closed {
		if o.Reason != ReasonSession {
			t.Fatalf("unexpected reason %s", o.Reason)
		}
		switch o.Direction {
		case signal.Buy:
			if !o.IsWin || !o.Result.Equal(d("3")) {
				t.Fatalf("buy leg %+v", o)
			}
		case signal.Sell:
			if o.IsWin || !o.Result.Equal(d("-3")) {
				t.Fatalf("sell leg %+v", o)
			}
		}
	}
	if ledger.HasActive() {
		t.Fatalf("no leg may stay active after the boundary")
	}

	report := ledger.Stats()
	if report.Orders != 2 || report.Wins != 1 || report.Losses != 1 || !report.Total.IsZero() {
		t.Fatalf("unexpected report %+v", report)
	}

	ledger.Reset()
	if len(ledger.Snapshot()) != 0 {
		t.Fatalf("expected ledger reset")
	}
}

func TestExitRequiresStrictCross(t *testing.T) {
	sell := Order{
		ID: "g2-1", GroupID: "g2", Instrument: "SBER", Direction: signal.Sell,
		Open: d("100"), Stop: d("110"), Take: d("70"), Quantity: 1, OpenedAt: opened,
	}
	cases := []struct {
		leg    Order
		bounds []string
		cross  string
		reason Reason
	}{
		{leg: activeBuy("g1"), bounds: []string{"90", "130"}, cross: "89.99", reason: ReasonStop},
		{leg: sell, bounds: []string{"110", "70"}, cross: "69.99", reason: ReasonTake},
	}
	for _, tc := range cases {
		ledger := newTestLedger(nil)
		if err := ledger.Place([]Order{tc.leg}); err != nil {
			t.Fatalf("Place: %v", err)
		}
		for i, price := range tc.bounds {
			if closed := ledger.OnPrice(d(price), opened.Add(time.Duration(i+1)*time.Minute)); len(closed) != 0 {
				t.Fatalf("%s at %s must stay open, got %+v", tc.leg.Direction, price, closed)
			}
		}
		if !ledger.HasActive() {
			t.Fatalf("%s leg should still be active", tc.leg.Direction)
		}
		closed := ledger.OnPrice(d(tc.cross), opened.Add(10*time.Minute))
		if len(closed) != 1 || closed[0].Reason != tc.reason {
			t.Fatalf("%s at %s expected %s, got %+v", tc.leg.Direction, tc.cross, tc.reason, closed)
		}
	}
}
