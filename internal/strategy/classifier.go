// Package strategy contains trading signal generation logic wired into finalized bars.
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/candle"
	"volumebot-go/internal/signal"
)

var (
	// ErrNotWinning is returned by Admit for a bar that is not a signal bar.
	ErrNotWinning = errors.New("bar is not a winning signal")
	// ErrTrendContradiction rejects entries whose predecessor bar opened against the trade direction.
	ErrTrendContradiction = errors.New("previous bar contradicts trend")
	// ErrLevelNotReached rejects entries before price reached the signal bar's volume-profile price.
	ErrLevelNotReached = errors.New("price has not reached volume level")
)

var hundred = decimal.NewFromInt(100)

// Params are the pressure and volume-location thresholds, both in percent of the bar range.
type Params struct {
	MinPressure decimal.Decimal
	MaxLocation decimal.Decimal
}

// DefaultParams returns the thresholds used when a config leaves them unset.
func DefaultParams() Params {
	return Params{MinPressure: decimal.NewFromInt(50), MaxLocation: decimal.NewFromInt(40)}
}

// Evaluation is the classification of a fine bar together with the bars it was derived from.
type Evaluation struct {
	signal.Signal
	Prev       candle.Bar
	Current    candle.Bar
	LongRatio  decimal.Decimal
	ShortRatio decimal.Decimal
	Location   decimal.Decimal
}

// Classifier scores the last completed fine bar for entry eligibility.
type Classifier struct {
	instrument string
	params     Params
}

// NewClassifier builds a classifier, substituting defaults for zero thresholds.
func NewClassifier(instrument string, params Params) *Classifier {
	def := DefaultParams()
	if !params.MinPressure.IsPositive() {
		params.MinPressure = def.MinPressure
	}
	if !params.MaxLocation.IsPositive() {
		params.MaxLocation = def.MaxLocation
	}
	return &Classifier{instrument: instrument, params: params}
}

// Name returns the identifier for logging.
func (c *Classifier) Name() string { return "ProfileTouch" }

// Classify inspects the two most recent finalized bars (predecessor, signal bar).
// A bar with zero range yields no evaluation and no error.
func (c *Classifier) Classify(bars []candle.Bar) (*Evaluation, error) {
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: classifier needs 2 bars, have %d", candle.ErrNoBarFound, len(bars))
	}
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	rng := cur.Range()
	if rng.IsZero() {
		return nil, nil
	}

	long := cur.Close.Sub(cur.Low).Div(rng).Mul(hundred)
	short := cur.High.Sub(cur.Close).Div(rng).Mul(hundred)
	dir := cur.Direction()

	var location decimal.Decimal
	winning := false
	switch dir {
	case signal.Buy:
		location = cur.High.Sub(cur.VolumeProfilePrice).Abs().Div(rng).Mul(hundred)
		winning = long.GreaterThan(c.params.MinPressure) && location.LessThanOrEqual(c.params.MaxLocation)
	case signal.Sell:
		location = cur.VolumeProfilePrice.Sub(cur.Low).Abs().Div(rng).Mul(hundred)
		winning = short.GreaterThan(c.params.MinPressure) && location.LessThanOrEqual(c.params.MaxLocation)
	}

	return &Evaluation{
		Signal: signal.Signal{
			Instrument: c.instrument,
			Direction:  dir,
			EntryBound: cur.VolumeProfilePrice,
			Winning:    winning,
			Reason:     fmt.Sprintf("long=%s%% short=%s%% location=%s%%", long.StringFixed(1), short.StringFixed(1), location.StringFixed(1)),
			Ts:         cur.Start,
		},
		Prev:       prev,
		Current:    cur,
		LongRatio:  long,
		ShortRatio: short,
		Location:   location,
	}, nil
}

// Admit applies the entry gates to a winning evaluation at the current price.
func (c *Classifier) Admit(ev *Evaluation, price decimal.Decimal) error {
	if ev == nil || !ev.Winning {
		return ErrNotWinning
	}
	switch ev.Direction {
	case signal.Buy:
		if ev.Prev.Open.LessThan(ev.Current.Open) {
			return fmt.Errorf("%w: prev open %s below current open %s", ErrTrendContradiction, ev.Prev.Open, ev.Current.Open)
		}
		if price.LessThan(ev.EntryBound) {
			return fmt.Errorf("%w: price %s below %s", ErrLevelNotReached, price, ev.EntryBound)
		}
	case signal.Sell:
		if ev.Prev.Open.GreaterThan(ev.Current.Open) {
			return fmt.Errorf("%w: prev open %s above current open %s", ErrTrendContradiction, ev.Prev.Open, ev.Current.Open)
		}
		if price.GreaterThan(ev.EntryBound) {
			return fmt.Errorf("%w: price %s above %s", ErrLevelNotReached, price, ev.EntryBound)
		}
	default:
		return ErrNotWinning
	}
	return nil
}
