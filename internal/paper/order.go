package paper

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/signal"
)

// Status tracks the lifecycle of a simulated order leg.
type Status int

const (
	// Active legs are still watching price for stop or take.
	Active Status = iota
	// Closed legs have a final close price and result.
	Closed
)

func (s Status) String() string {
	if s == Closed {
		return "CLOSED"
	}
	return "ACTIVE"
}

// MarshalText encodes the status as its name for journals.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses ACTIVE or CLOSED.
func (s *Status) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "ACTIVE":
		*s = Active
	case "CLOSED":
		*s = Closed
	default:
		return fmt.Errorf("unknown order status %q", b)
	}
	return nil
}

// Reason records why a leg was closed.
type Reason string

const (
	ReasonStop    Reason = "stop"
	ReasonTake    Reason = "take"
	ReasonSession Reason = "session"
)

// Order is one leg of a simulated order group.
type Order struct {
	ID         string           `json:"id"`
	GroupID    string           `json:"group_id"`
	Instrument string           `json:"instrument"`
	Direction  signal.Direction `json:"direction"`
	Open       decimal.Decimal  `json:"open"`
	Stop       decimal.Decimal  `json:"stop"`
	Take       decimal.Decimal  `json:"take"`
	Quantity   int64            `json:"quantity"`
	OpenedAt   time.Time        `json:"opened_at"`
	Status     Status           `json:"status"`
	Close      decimal.Decimal  `json:"close"`
	Result     decimal.Decimal  `json:"result"`
	IsWin      bool             `json:"is_win"`
	ClosedAt   time.Time        `json:"closed_at,omitempty"`
	Reason     Reason           `json:"reason,omitempty"`
}

// Notional returns open price times quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Open.Mul(decimal.NewFromInt(o.Quantity))
}

// close finalizes the leg. Buy result is close-open, Sell result is open-close.
func (o *Order) close(price decimal.Decimal, at time.Time, reason Reason) {
	o.Status = Closed
	o.Close = price
	o.ClosedAt = at
	o.Reason = reason
	if o.Direction == signal.Sell {
		o.Result = o.Open.Sub(price)
	} else {
		o.Result = price.Sub(o.Open)
	}
	switch reason {
	case ReasonStop:
		o.IsWin = false
	case ReasonTake:
		o.IsWin = true
	default:
		o.IsWin = o.Result.IsPositive()
	}
}

// exit reports whether price crosses the leg's stop or take.
func (o Order) exit(price decimal.Decimal) (Reason, bool) {
	switch o.Direction {
	case signal.Buy:
		if price.LessThan(o.Stop) {
			return ReasonStop, true
		}
		if price.GreaterThan(o.Take) {
			return ReasonTake, true
		}
	case signal.Sell:
		if price.GreaterThan(o.Stop) {
			return ReasonStop, true
		}
		if price.LessThan(o.Take) {
			return ReasonTake, true
		}
	}
	return "", false
}
