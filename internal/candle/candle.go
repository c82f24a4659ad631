// Package candle aggregates ordered ticks into fixed-period bars with a per-bar volume profile.
package candle

import (
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/signal"
)

// Bar is the OHLC summary of one period. Start is the period boundary the bar begins at.
type Bar struct {
	Start              time.Time       `json:"start"`
	Open               decimal.Decimal `json:"open"`
	High               decimal.Decimal `json:"high"`
	Low                decimal.Decimal `json:"low"`
	Close              decimal.Decimal `json:"close"`
	Volume             int64           `json:"volume"`
	VolumeProfilePrice decimal.Decimal `json:"volume_profile_price"`
}

// Direction derives the bar's side from open and close.
func (b Bar) Direction() signal.Direction {
	switch b.Close.Cmp(b.Open) {
	case 1:
		return signal.Buy
	case -1:
		return signal.Sell
	default:
		return signal.Unspecified
	}
}

// Range is high minus low.
func (b Bar) Range() decimal.Decimal { return b.High.Sub(b.Low) }

// profile sums traded quantity per canonical price while remembering first-seen order.
type profile struct {
	order []string
	qty   map[string]int64
	price map[string]decimal.Decimal
}

func newProfile() *profile {
	return &profile{qty: make(map[string]int64), price: make(map[string]decimal.Decimal)}
}

func (p *profile) add(price decimal.Decimal, qty int64) {
	k := PriceKey(price)
	if _, ok := p.qty[k]; !ok {
		p.order = append(p.order, k)
		p.price[k] = price
	}
	p.qty[k] += qty
}

// peak returns the price with the largest summed quantity; ties keep the first-seen price.
func (p *profile) peak() (decimal.Decimal, int64, bool) {
	var (
		best    string
		bestQty int64 = -1
	)
	for _, k := range p.order {
		if q := p.qty[k]; q > bestQty {
			best, bestQty = k, q
		}
	}
	if bestQty < 0 {
		return decimal.Zero, 0, false
	}
	return p.price[best], bestQty, true
}

// PriceKey canonicalizes a decimal so numerically equal prices ("100" and "100.00") share a key.
func PriceKey(p decimal.Decimal) string {
	return p.String()
}

// VolumeProfilePrice returns the price carrying the largest summed quantity in ticks.
// Ties are broken by the first price encountered. ok is false for an empty set.
func VolumeProfilePrice(ticks []signal.Tick) (price decimal.Decimal, ok bool) {
	p := newProfile()
	for _, tk := range ticks {
		p.add(tk.Price, tk.Quantity)
	}
	price, _, ok = p.peak()
	return price, ok
}
