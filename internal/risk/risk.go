// Package risk gates simulated order groups by size.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/paper"
)

// ErrLimitExceeded rejects an order group above the configured notional.
var ErrLimitExceeded = errors.New("risk limit exceeded")

// Limits holds per-trade guard-rails. A zero MaxNotionalPerTrade disables the check.
type Limits struct {
	MaxNotionalPerTrade decimal.Decimal
}

// Allow reports whether a trade of the given notional fits the limit.
func (l Limits) Allow(notional decimal.Decimal) bool {
	if !l.MaxNotionalPerTrade.IsPositive() {
		return true
	}
	return notional.LessThanOrEqual(l.MaxNotionalPerTrade)
}

// CheckGroup sums the notional of every leg and wraps ErrLimitExceeded when it is too large.
func (l Limits) CheckGroup(legs []paper.Order) error {
	total := decimal.Zero
	for _, leg := range legs {
		total = total.Add(leg.Notional())
	}
	if !l.Allow(total) {
		return fmt.Errorf("%w: notional %s above %s", ErrLimitExceeded, total, l.MaxNotionalPerTrade)
	}
	return nil
}
