// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTick marks a tick that cannot be aggregated (non-positive price or quantity).
var ErrInvalidTick = errors.New("invalid tick")

// Direction is the aggressor side of a trade, bar or order.
type Direction int

const (
	Unspecified Direction = iota
	Buy
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNSPECIFIED"
	}
}

// ParseDirection accepts the textual form written by String as well as the numeric codes of the tick log.
func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "1":
		return Buy
	case "SELL", "2":
		return Sell
	default:
		return Unspecified
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText is the inverse of MarshalText; unknown names decode as Unspecified.
func (d *Direction) UnmarshalText(b []byte) error {
	*d = ParseDirection(string(b))
	return nil
}

// Opposite returns the other trading side; Unspecified stays Unspecified.
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Unspecified
	}
}

// Tick models a single anonymous trade of an instrument.
type Tick struct {
	Instrument string
	Direction  Direction
	Price      decimal.Decimal
	Quantity   int64
	Ts         time.Time
}

// Validate reports ErrInvalidTick for ticks that must not reach the aggregator.
func (t Tick) Validate() error {
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidTick, t.Quantity)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price %s", ErrInvalidTick, t.Price)
	}
	if t.Ts.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTick)
	}
	return nil
}

// Same reports whether two ticks describe the same trade.
func (t Tick) Same(o Tick) bool {
	return t.Ts.Equal(o.Ts) &&
		t.Instrument == o.Instrument &&
		t.Direction == o.Direction &&
		t.Quantity == o.Quantity &&
		t.Price.Equal(o.Price)
}

// Signal expresses a classified signal bar.
type Signal struct {
	Instrument string
	Direction  Direction
	// EntryBound is the signal bar's volume-profile price; entries are only taken beyond it.
	EntryBound decimal.Decimal
	Winning    bool
	Reason     string
	Ts         time.Time
}
