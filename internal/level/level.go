// Package level tracks price approaches ("touches") to volume-profile levels of coarse bars.
package level

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/candle"
)

var (
	// ErrTouchNotFound is returned when resolving a touch that was never recorded.
	ErrTouchNotFound = errors.New("touch not found")
	// ErrAlreadyResolved is returned when a touch left the pending state before.
	ErrAlreadyResolved = errors.New("touch already resolved")
)

// Outcome is the resolution state of a touch.
type Outcome int

const (
	Pending Outcome = iota
	Confirmed
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Touch is one recorded approach to a level.
type Touch struct {
	Time    time.Time `json:"time"`
	Outcome Outcome   `json:"outcome"`
}

// VolumeLevel is a coarse bar's volume-profile price together with its touch history.
type VolumeLevel struct {
	Price        decimal.Decimal `json:"price"`
	FormedAt     time.Time       `json:"formed_at"`
	Touches      []Touch         `json:"touches"`
	CountTouches int             `json:"count_touches"`
	LastTouch    *time.Time      `json:"last_touch,omitempty"`
}

func (l *VolumeLevel) clone() VolumeLevel {
	out := *l
	out.Touches = append([]Touch(nil), l.Touches...)
	if l.LastTouch != nil {
		ts := *l.LastTouch
		out.LastTouch = &ts
	}
	return out
}

// Config holds the cooldowns and the matching band ratio r: level·(1−r) ≤ price ≤ level·(1+r).
type Config struct {
	FirstTouchCooldown  time.Duration
	SecondTouchCooldown time.Duration
	Tolerance           decimal.Decimal
}

// TouchEvent describes a touch recorded by Observe.
type TouchEvent struct {
	Level    decimal.Decimal
	FormedAt time.Time
	Time     time.Time
	Count    int
}

// PendingTouch identifies a touch awaiting classification.
type PendingTouch struct {
	Level decimal.Decimal
	Time  time.Time
}

// Tracker owns all levels of one instrument. Levels only grow during a session.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	levels []*VolumeLevel
	index  map[string]*VolumeLevel
}

// NewTracker builds an empty tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, index: make(map[string]*VolumeLevel)}
}

// IngestLevel registers the volume-profile price of a finalized coarse bar.
// A price already known is left untouched; the return value reports whether a level was added.
func (t *Tracker) IngestLevel(bar candle.Bar) bool {
	if !bar.VolumeProfilePrice.IsPositive() || bar.Volume == 0 {
		return false
	}
	k := candle.PriceKey(bar.VolumeProfilePrice)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[k]; ok {
		return false
	}
	lvl := &VolumeLevel{Price: bar.VolumeProfilePrice, FormedAt: bar.Start}
	t.levels = append(t.levels, lvl)
	t.index[k] = lvl
	return true
}

// InBand reports whether price lies within the tolerance band around level.
func InBand(price, level, ratio decimal.Decimal) bool {
	lo := level.Mul(decimal.NewFromInt(1).Sub(ratio))
	hi := level.Mul(decimal.NewFromInt(1).Add(ratio))
	return price.GreaterThanOrEqual(lo) && price.LessThanOrEqual(hi)
}

// Observe tests price against levels in insertion order and records at most one touch:
// the first level in band whose cooldown has elapsed.
func (t *Tracker) Observe(price decimal.Decimal, at time.Time) (TouchEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lvl := range t.levels {
		if !InBand(price, lvl.Price, t.cfg.Tolerance) {
			continue
		}
		if at.Sub(lvl.FormedAt) < t.cfg.FirstTouchCooldown {
			continue
		}
		if lvl.LastTouch != nil && at.Sub(*lvl.LastTouch) < t.cfg.SecondTouchCooldown {
			continue
		}
		ts := at
		lvl.CountTouches++
		lvl.LastTouch = &ts
		lvl.Touches = append(lvl.Touches, Touch{Time: at, Outcome: Pending})
		return TouchEvent{Level: lvl.Price, FormedAt: lvl.FormedAt, Time: at, Count: lvl.CountTouches}, true
	}
	return TouchEvent{}, false
}

// Pending lists unresolved touches in level insertion order, then touch time order.
func (t *Tracker) Pending() []PendingTouch {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingTouch
	for _, lvl := range t.levels {
		for _, tc := range lvl.Touches {
			if tc.Outcome == Pending {
				out = append(out, PendingTouch{Level: lvl.Price, Time: tc.Time})
			}
		}
	}
	return out
}

// Resolve moves a pending touch to Confirmed or Rejected.
// A rejection clears the level's last touch time so the next approach is not held back
// by the second-touch cooldown.
func (t *Tracker) Resolve(p PendingTouch, outcome Outcome) error {
	if outcome == Pending {
		return fmt.Errorf("resolve %s@%s: outcome must be confirmed or rejected", p.Level, p.Time.Format(time.RFC3339))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lvl, ok := t.index[candle.PriceKey(p.Level)]
	if !ok {
		return fmt.Errorf("%w: level %s", ErrTouchNotFound, p.Level)
	}
	for i := range lvl.Touches {
		if !lvl.Touches[i].Time.Equal(p.Time) {
			continue
		}
		if lvl.Touches[i].Outcome != Pending {
			return fmt.Errorf("%w: %s@%s", ErrAlreadyResolved, p.Level, p.Time.Format(time.RFC3339))
		}
		lvl.Touches[i].Outcome = outcome
		if outcome == Rejected {
			lvl.LastTouch = nil
		}
		return nil
	}
	return fmt.Errorf("%w: %s@%s", ErrTouchNotFound, p.Level, p.Time.Format(time.RFC3339))
}

// Levels returns deep copies of all levels in insertion order.
func (t *Tracker) Levels() []VolumeLevel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]VolumeLevel, len(t.levels))
	for i, lvl := range t.levels {
		out[i] = lvl.clone()
	}
	return out
}

// Outcomes splits resolved touch times into confirmed and rejected lists.
func (t *Tracker) Outcomes() (confirmed, rejected []time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lvl := range t.levels {
		for _, tc := range lvl.Touches {
			switch tc.Outcome {
			case Confirmed:
				confirmed = append(confirmed, tc.Time)
			case Rejected:
				rejected = append(rejected, tc.Time)
			}
		}
	}
	return confirmed, rejected
}
