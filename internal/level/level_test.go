package level

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/candle"
)

var formed = time.Date(2022, 5, 20, 10, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	return NewTracker(Config{
		FirstTouchCooldown:  30 * time.Minute,
		SecondTouchCooldown: 10 * time.Minute,
		Tolerance:           decimal.RequireFromString("0.001"),
	})
}

func hourBar(start time.Time, vpp string) candle.Bar {
	p := decimal.RequireFromString(vpp)
	return candle.Bar{Start: start, Open: p, High: p, Low: p, Close: p, Volume: 10, VolumeProfilePrice: p}
}

func TestIngestLevelKeyedByPrice(t *testing.T) {
	tr := newTestTracker()
	if !tr.IngestLevel(hourBar(formed, "100.00")) {
		t.Fatalf("expected level to be added")
	}
	if tr.IngestLevel(hourBar(formed.Add(time.Hour), "100")) {
		t.Fatalf("same price must not create a second level")
	}
	levels := tr.Levels()
	if len(levels) != 1 || !levels[0].FormedAt.Equal(formed) {
		t.Fatalf("unexpected levels %+v", levels)
	}
	empty := hourBar(formed, "101")
	empty.Volume = 0
	if tr.IngestLevel(empty) {
		t.Fatalf("forward-filled bars must not form levels")
	}
}

func TestInBand(t *testing.T) {
	r := decimal.RequireFromString("0.01")
	lvl := decimal.NewFromInt(100)
	cases := map[string]bool{"99": true, "101": true, "100.5": true, "98.99": false, "101.01": false}
	for p, want := range cases {
		if got := InBand(decimal.RequireFromString(p), lvl, r); got != want {
			t.Fatalf("InBand(%s) = %v want %v", p, got, want)
		}
	}
}

func TestFirstTouchCooldown(t *testing.T) {
	price := decimal.NewFromInt(100)

	tr := newTestTracker()
	tr.IngestLevel(hourBar(formed, "100"))
	if _, ok := tr.Observe(price, formed.Add(29*time.Minute)); ok {
		t.Fatalf("touch before first cooldown must be ignored")
	}
	if len(tr.Levels()[0].Touches) != 0 {
		t.Fatalf("ignored approach must not be recorded")
	}
	ev, ok := tr.Observe(price, formed.Add(30*time.Minute))
	if !ok || ev.Count != 1 {
		t.Fatalf("touch at exactly the cooldown must be recorded, got %+v %v", ev, ok)
	}
}

func TestSecondTouchCooldown(t *testing.T) {
	price := decimal.NewFromInt(100)
	tr := newTestTracker()
	tr.IngestLevel(hourBar(formed, "100"))

	first := formed.Add(40 * time.Minute)
	if _, ok := tr.Observe(price, first); !ok {
		t.Fatalf("expected first touch")
	}
	if _, ok := tr.Observe(price, first.Add(9*time.Minute)); ok {
		t.Fatalf("second touch inside cooldown must be ignored")
	}
	ev, ok := tr.Observe(price, first.Add(10*time.Minute))
	if !ok || ev.Count != 2 {
		t.Fatalf("expected second touch, got %+v %v", ev, ok)
	}
	lvl := tr.Levels()[0]
	if lvl.CountTouches != 2 || len(lvl.Touches) != 2 || !lvl.LastTouch.Equal(first.Add(10*time.Minute)) {
		t.Fatalf("unexpected level state %+v", lvl)
	}
}

func TestObserveStopsAtFirstQualifyingLevel(t *testing.T) {
	tr := NewTracker(Config{Tolerance: decimal.RequireFromString("0.01")})
	tr.IngestLevel(hourBar(formed, "100"))
	tr.IngestLevel(hourBar(formed.Add(time.Hour), "100.5"))

	ev, ok := tr.Observe(decimal.RequireFromString("100.3"), formed.Add(2*time.Hour))
	if !ok || !ev.Level.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected touch on first inserted level, got %+v", ev)
	}
	levels := tr.Levels()
	if len(levels[1].Touches) != 0 {
		t.Fatalf("second level must not be touched by the same price update")
	}
}

func TestRejectionClearsLastTouch(t *testing.T) {
	price := decimal.NewFromInt(100)
	tr := newTestTracker()
	tr.IngestLevel(hourBar(formed, "100"))
	at := formed.Add(time.Hour)
	tr.Observe(price, at)

	pending := tr.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending touch, got %d", len(pending))
	}
	if err := tr.Resolve(pending[0], Rejected); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tr.Levels()[0].LastTouch != nil {
		t.Fatalf("rejection must clear last touch time")
	}
	if _, ok := tr.Observe(price, at.Add(time.Minute)); !ok {
		t.Fatalf("approach after rejection should be recorded immediately")
	}
	if err := tr.Resolve(pending[0], Confirmed); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	confirmed, rejected := tr.Outcomes()
	if len(confirmed) != 0 || len(rejected) != 1 || !rejected[0].Equal(at) {
		t.Fatalf("unexpected outcomes %v %v", confirmed, rejected)
	}
}

func TestConfirmKeepsCooldown(t *testing.T) {
	price := decimal.NewFromInt(100)
	tr := newTestTracker()
	tr.IngestLevel(hourBar(formed, "100"))
	at := formed.Add(time.Hour)
	tr.Observe(price, at)
	if err := tr.Resolve(tr.Pending()[0], Confirmed); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := tr.Observe(price, at.Add(time.Minute)); ok {
		t.Fatalf("confirmed touch keeps the second-touch cooldown")
	}
	if err := tr.Resolve(PendingTouch{Level: decimal.NewFromInt(5), Time: at}, Rejected); !errors.Is(err, ErrTouchNotFound) {
		t.Fatalf("expected ErrTouchNotFound, got %v", err)
	}
	if err := tr.Resolve(PendingTouch{Level: price, Time: at}, Pending); err == nil {
		t.Fatalf("expected error resolving to pending")
	}
}
