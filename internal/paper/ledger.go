package paper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/session"
	"volumebot-go/internal/signal"
)

// ErrDuplicateSignal suppresses a new order group while one of the same direction is still active.
var ErrDuplicateSignal = errors.New("order already open in this direction")

// OrderRecorder captures closed legs for later inspection.
type OrderRecorder interface {
	Record(Order)
}

// LedgerConfig carries the per-instrument order settings.
type LedgerConfig struct {
	Instrument      string
	Ladder          Ladder
	StopLossPercent decimal.Decimal
	Hours           session.Hours
	Recorder        OrderRecorder
}

// Ledger stores the simulated orders of one instrument and closes them against incoming prices.
type Ledger struct {
	mu     sync.Mutex
	cfg    LedgerConfig
	orders []*Order
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Hours.Location == nil {
		cfg.Hours = session.Default()
	}
	return &Ledger{cfg: cfg}
}

// Prepare builds the ladder for a winning signal at price without admitting it. The stop sits
// StopLossPercent beyond the signal's volume level.
func (l *Ledger) Prepare(sig signal.Signal, price decimal.Decimal, at time.Time) ([]Order, error) {
	stop := StopFor(sig.Direction, sig.EntryBound, l.cfg.StopLossPercent)
	return l.cfg.Ladder.Legs(l.cfg.Instrument, sig.Direction, price, stop, at)
}

// Create prepares and places a ladder in one step.
func (l *Ledger) Create(sig signal.Signal, price decimal.Decimal, at time.Time) ([]Order, error) {
	legs, err := l.Prepare(sig, price, at)
	if err != nil {
		return nil, err
	}
	if err := l.Place(legs); err != nil {
		return nil, err
	}
	return legs, nil
}

// Place admits legs atomically. Legs of a group that is already active are always accepted; a new
// group is refused while another group of the same direction is active.
func (l *Ledger) Place(legs []Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, leg := range legs {
		if o := l.blocking(leg); o != nil {
			return fmt.Errorf("%w: %s group %s", ErrDuplicateSignal, leg.Direction, o.GroupID)
		}
	}
	for i := range legs {
		leg := legs[i]
		leg.Status = Active
		l.orders = append(l.orders, &leg)
	}
	return nil
}

func (l *Ledger) blocking(leg Order) *Order {
	for _, o := range l.orders {
		if o.Status == Active && o.Direction == leg.Direction && o.GroupID != leg.GroupID {
			return o
		}
	}
	return nil
}

// OnPrice closes every active leg whose stop or take the price reached and returns the closed legs.
func (l *Ledger) OnPrice(price decimal.Decimal, at time.Time) []Order {
	l.mu.Lock()
	var closed []Order
	for _, o := range l.orders {
		if o.Status != Active {
			continue
		}
		if reason, ok := o.exit(price); ok {
			o.close(price, at, reason)
			closed = append(closed, *o)
		}
	}
	l.mu.Unlock()
	l.record(closed)
	return closed
}

// OnSessionBoundary liquidates every active leg at price once at is past the orders cutoff.
func (l *Ledger) OnSessionBoundary(price decimal.Decimal, at time.Time) []Order {
	if l.cfg.Hours.OrdersOpen(at) {
		return nil
	}
	return l.CloseAll(price, at)
}

// CloseAll force-closes every active leg at price regardless of the clock.
func (l *Ledger) CloseAll(price decimal.Decimal, at time.Time) []Order {
	l.mu.Lock()
	var closed []Order
	for _, o := range l.orders {
		if o.Status == Active {
			o.close(price, at, ReasonSession)
			closed = append(closed, *o)
		}
	}
	l.mu.Unlock()
	l.record(closed)
	return closed
}

func (l *Ledger) record(closed []Order) {
	if l.cfg.Recorder == nil {
		return
	}
	for _, o := range closed {
		l.cfg.Recorder.Record(o)
	}
}

// HasActive reports whether any leg is still open.
func (l *Ledger) HasActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.Status == Active {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all legs in creation order.
func (l *Ledger) Snapshot() []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Order, len(l.orders))
	for i, o := range l.orders {
		out[i] = *o
	}
	return out
}

// Stats aggregates closed legs.
func (l *Ledger) Stats() Report {
	return Summarize(l.cfg.Instrument, l.Snapshot())
}

// Reset clears all stored legs.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.orders = l.orders[:0]
	l.mu.Unlock()
}
