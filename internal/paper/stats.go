package paper

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Report aggregates closed legs. Lost is the (non-positive) sum of losing results.
type Report struct {
	Instrument string          `json:"instrument"`
	Orders     int             `json:"orders"`
	Wins       int             `json:"wins"`
	Earned     decimal.Decimal `json:"earned"`
	Losses     int             `json:"losses"`
	Lost       decimal.Decimal `json:"lost"`
	Total      decimal.Decimal `json:"total"`
}

// Summarize folds closed orders into a Report; active orders are ignored.
func Summarize(instrument string, orders []Order) Report {
	r := Report{Instrument: instrument}
	for _, o := range orders {
		if o.Status != Closed {
			continue
		}
		r.Orders++
		if o.IsWin {
			r.Wins++
			r.Earned = r.Earned.Add(o.Result)
		} else {
			r.Losses++
			r.Lost = r.Lost.Add(o.Result)
		}
	}
	r.Total = r.Earned.Add(r.Lost)
	return r
}

// Log emits the report as one structured line.
func (r Report) Log(log zerolog.Logger) {
	log.Info().
		Str("instrument", r.Instrument).
		Int("orders", r.Orders).
		Int("wins", r.Wins).
		Str("earned", r.Earned.String()).
		Int("losses", r.Losses).
		Str("lost", r.Lost.String()).
		Str("total", r.Total.String()).
		Msg("session statistics")
}

// WriteTo renders the human-readable statistics block.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"instrument: %s\norders: %d\nwins: %d\nearned: %s\nlosses: %d\nlost: %s\ntotal: %s\n",
		r.Instrument, r.Orders, r.Wins, r.Earned, r.Losses, r.Lost, r.Total)
	return int64(n), err
}

// StatsPath is the per-instrument statistics file inside dir.
func StatsPath(dir, instrument string) string {
	return filepath.Join(dir, fmt.Sprintf("statistics-%s.log", instrument))
}

// AppendStats appends a timestamped report block to the instrument's statistics file.
func AppendStats(dir string, r Report, at time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(StatsPath(dir, r.Instrument), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "--- %s\n", at.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	_, err = r.WriteTo(f)
	return err
}
