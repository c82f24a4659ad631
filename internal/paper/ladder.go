package paper

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"volumebot-go/internal/signal"
)

// ErrEmptyLadder is returned when the ladder settings cannot produce a leg with positive quantity.
var ErrEmptyLadder = errors.New("ladder produces no legs")

var hundred = decimal.NewFromInt(100)

// Ladder splits one entry into Goals legs with progressively farther take-profits.
type Ladder struct {
	Lots      int64
	Goals     int
	FirstGoal decimal.Decimal
	GoalStep  decimal.Decimal
}

// Legs builds the active legs of a new order group. Every leg shares price and stop and carries
// quantity floor(Lots/Goals); leg i takes profit at price - (stop - price)*FirstGoal*(1 + i*GoalStep).
func (l Ladder) Legs(instrument string, dir signal.Direction, price, stop decimal.Decimal, at time.Time) ([]Order, error) {
	if dir != signal.Buy && dir != signal.Sell {
		return nil, fmt.Errorf("%w: direction %s", ErrEmptyLadder, dir)
	}
	if l.Goals < 1 {
		return nil, fmt.Errorf("%w: goals %d", ErrEmptyLadder, l.Goals)
	}
	qty := l.Lots / int64(l.Goals)
	if qty < 1 {
		return nil, fmt.Errorf("%w: %d lots over %d goals", ErrEmptyLadder, l.Lots, l.Goals)
	}

	group := uuid.NewString()
	risk := stop.Sub(price)
	legs := make([]Order, 0, l.Goals)
	for i := 0; i < l.Goals; i++ {
		step := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(i)).Mul(l.GoalStep))
		legs = append(legs, Order{
			ID:         uuid.NewString(),
			GroupID:    group,
			Instrument: instrument,
			Direction:  dir,
			Open:       price,
			Stop:       stop,
			Take:       price.Sub(risk.Mul(l.FirstGoal).Mul(step)),
			Quantity:   qty,
			OpenedAt:   at,
			Status:     Active,
		})
	}
	return legs, nil
}

// StopFor places the protective stop pct percent beyond the volume level: below it for Buy,
// above it for Sell.
func StopFor(dir signal.Direction, vpp, pct decimal.Decimal) decimal.Decimal {
	offset := vpp.Mul(pct).Div(hundred)
	if dir == signal.Sell {
		return vpp.Add(offset)
	}
	return vpp.Sub(offset)
}
