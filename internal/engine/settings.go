package engine

import (
	"github.com/shopspring/decimal"

	"volumebot-go/internal/config"
	"volumebot-go/internal/level"
	"volumebot-go/internal/paper"
	"volumebot-go/internal/risk"
	"volumebot-go/internal/session"
	"volumebot-go/internal/strategy"
)

// FromConfig translates the YAML settings into the pipeline configuration of one instrument.
func FromConfig(cfg *config.Config, instrument string) (Config, error) {
	hours, err := session.New(cfg.Session.PremarketEnd, cfg.Session.OrdersCutoff, cfg.Session.Timezone)
	if err != nil {
		return Config{}, err
	}
	p := cfg.Strategy.Params
	o := cfg.Orders
	return Config{
		Instrument: instrument,
		Coarse:     p.CoarsePeriod,
		Fine:       p.FinePeriod,
		Levels: level.Config{
			FirstTouchCooldown:  p.FirstTouchCooldown,
			SecondTouchCooldown: p.SecondTouchCooldown,
			Tolerance:           decimal.NewFromFloat(p.TouchTolerance),
		},
		Classifier: strategy.Params{
			MinPressure: decimal.NewFromFloat(p.MinPressure),
			MaxLocation: decimal.NewFromFloat(p.MaxLocation),
		},
		Orders: paper.LedgerConfig{
			Instrument: instrument,
			Ladder: paper.Ladder{
				Lots:      o.Lots,
				Goals:     o.Goals,
				FirstGoal: decimal.NewFromFloat(o.FirstGoal),
				GoalStep:  decimal.NewFromFloat(o.GoalStep),
			},
			StopLossPercent: decimal.NewFromFloat(o.StopLossPercent),
			Hours:           hours,
		},
		Hours:    hours,
		Limits:   risk.Limits{MaxNotionalPerTrade: decimal.NewFromFloat(cfg.Risk.MaxNotionalPerTrade)},
		StatsDir: cfg.App.StatsDir,
	}, nil
}
