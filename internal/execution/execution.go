// Package execution reports simulated order legs; no venue orders are ever placed.
package execution

import (
	"github.com/rs/zerolog"

	"volumebot-go/internal/metrics"
	"volumebot-go/internal/paper"
)

// Executor implements a logger-backed submitter for simulated legs.
type Executor struct{ log zerolog.Logger }

// NewExecutor wraps a zerolog logger for order reporting.
func NewExecutor(log zerolog.Logger) *Executor { return &Executor{log: log} }

// Submit logs each opened leg and counts it.
func (executor *Executor) Submit(legs []paper.Order) error {
	for _, o := range legs {
		metrics.OrdersTotal.WithLabelValues(o.Instrument, o.Direction.String()).Inc()
		executor.log.Info().
			Str("sym", o.Instrument).
			Str("side", o.Direction.String()).
			Str("group", o.GroupID).
			Int64("qty", o.Quantity).
			Str("px", o.Open.String()).
			Str("stop", o.Stop.String()).
			Str("take", o.Take.String()).
			Msg("open leg (paper)")
	}
	return nil
}

// Closed logs legs that reached stop, take or the session end.
func (executor *Executor) Closed(legs []paper.Order) {
	for _, o := range legs {
		metrics.OrdersClosedTotal.WithLabelValues(o.Instrument, string(o.Reason)).Inc()
		executor.log.Info().
			Str("sym", o.Instrument).
			Str("side", o.Direction.String()).
			Str("group", o.GroupID).
			Str("reason", string(o.Reason)).
			Str("px", o.Close.String()).
			Str("result", o.Result.String()).
			Bool("win", o.IsWin).
			Msg("close leg (paper)")
	}
}
