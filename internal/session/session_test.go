package session

import (
	"testing"
	"time"
)

func TestDefaultHours(t *testing.T) {
	h := Default()
	day := time.Date(2022, 5, 20, 0, 0, 0, 0, time.UTC)

	if !h.Premarket(day.Add(6*time.Hour + 59*time.Minute)) {
		t.Fatalf("06:59 should be premarket")
	}
	if h.Premarket(day.Add(7 * time.Hour)) {
		t.Fatalf("07:00 should not be premarket")
	}
	if !h.OrdersOpen(day.Add(14*time.Hour + 59*time.Minute)) {
		t.Fatalf("14:59 should accept orders")
	}
	if h.OrdersOpen(day.Add(15 * time.Hour)) {
		t.Fatalf("15:00 should be past the cutoff")
	}
	if got := h.Cutoff(day.Add(9 * time.Hour)); !got.Equal(day.Add(15 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", got)
	}
}

func TestNewParsesClocks(t *testing.T) {
	h, err := New("07:30", "15:45", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h.PremarketEnd != 7*time.Hour+30*time.Minute || h.OrdersCutoff != 15*time.Hour+45*time.Minute {
		t.Fatalf("unexpected hours %+v", h)
	}
	if _, err := New("16:00", "15:00", ""); err == nil {
		t.Fatalf("expected error for inverted window")
	}
	if _, err := New("7am", "15:00", ""); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := New("07:00", "15:00", "Not/AZone"); err == nil {
		t.Fatalf("expected location error")
	}
}

func TestHoursRespectLocation(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	h := Hours{PremarketEnd: 10 * time.Hour, OrdersCutoff: 18 * time.Hour, Location: loc}
	utc := time.Date(2022, 5, 20, 14, 59, 0, 0, time.UTC) // 17:59 MSK
	if !h.OrdersOpen(utc) {
		t.Fatalf("17:59 MSK should accept orders")
	}
	if h.OrdersOpen(utc.Add(time.Minute)) {
		t.Fatalf("18:00 MSK should be past the cutoff")
	}
}
