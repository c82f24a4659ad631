// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	DataDir     string `yaml:"data_dir"`
	StatsDir    string `yaml:"stats_dir"`
	JournalPath string `yaml:"journal_path"`
}

// Exchange describes the tick source and the history backfill cadence.
type Exchange struct {
	Provider           string        `yaml:"provider"`
	Instruments        []string      `yaml:"instruments"`
	RestURL            string        `yaml:"rest_url"`
	WSURL              string        `yaml:"ws_url"`
	LotSize            float64       `yaml:"lot_size"`
	BackfillWindow     time.Duration `yaml:"backfill_window"`
	BackfillInterval   time.Duration `yaml:"backfill_interval"`
	BackfillMaxWindows int           `yaml:"backfill_max_windows"`
}

// StrategyParams groups tunable knobs for the volume-level strategy.
type StrategyParams struct {
	CoarsePeriod        time.Duration `yaml:"coarse_period"`
	FinePeriod          time.Duration `yaml:"fine_period"`
	FirstTouchCooldown  time.Duration `yaml:"first_touch_cooldown"`
	SecondTouchCooldown time.Duration `yaml:"second_touch_cooldown"`
	TouchTolerance      float64       `yaml:"touch_tolerance"`
	MinPressure         float64       `yaml:"min_pressure"`
	MaxLocation         float64       `yaml:"max_location"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Orders configures the take-profit ladder and protective stop of simulated orders.
type Orders struct {
	Lots            int64   `yaml:"lots"`
	Goals           int     `yaml:"goals"`
	FirstGoal       float64 `yaml:"first_goal"`
	GoalStep        float64 `yaml:"goal_step"`
	StopLossPercent float64 `yaml:"stop_loss_percent"`
}

// Session holds the trading-day clocks as HH:MM in Timezone.
type Session struct {
	PremarketEnd string `yaml:"premarket_end"`
	OrdersCutoff string `yaml:"orders_cutoff"`
	Timezone     string `yaml:"timezone"`
}

// Risk encodes guard-rails for how much size a single order group may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
}

// Telegram configures Bot API notifications; the token is normally supplied by the environment.
type Telegram struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// Redis configures pub/sub telemetry.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Notify groups notification sinks.
type Notify struct {
	QueueSize int      `yaml:"queue_size"`
	Telegram  Telegram `yaml:"telegram"`
	Redis     Redis    `yaml:"redis"`
}

// Chart toggles the websocket chart hub mounted on the metrics server.
type Chart struct {
	Enabled bool `yaml:"enabled"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Strategy Strategy `yaml:"strategy"`
	Orders   Orders   `yaml:"orders"`
	Session  Session  `yaml:"session"`
	Risk     Risk     `yaml:"risk"`
	Notify   Notify   `yaml:"notify"`
	Chart    Chart    `yaml:"chart"`
}

// Default returns a configuration that runs the stub feed with the stock strategy settings.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setString(&c.App.Name, "volumebot")
	setString(&c.App.Env, "dev")
	setString(&c.App.MetricsAddr, ":9090")
	setString(&c.App.LogLevel, "info")
	setString(&c.App.DataDir, "data")
	setString(&c.App.StatsDir, "logs")

	setString(&c.Exchange.Provider, "stub")
	if c.Exchange.LotSize <= 0 {
		c.Exchange.LotSize = 1e-8
	}
	setDuration(&c.Exchange.BackfillWindow, time.Hour)
	setDuration(&c.Exchange.BackfillInterval, 5*time.Minute)

	setString(&c.Strategy.Mode, "profile_touch")
	p := &c.Strategy.Params
	setDuration(&p.CoarsePeriod, time.Hour)
	setDuration(&p.FinePeriod, 5*time.Minute)
	setDuration(&p.FirstTouchCooldown, 30*time.Minute)
	setDuration(&p.SecondTouchCooldown, 10*time.Minute)
	setFloat(&p.TouchTolerance, 0.0005)
	setFloat(&p.MinPressure, 50)
	setFloat(&p.MaxLocation, 40)

	if c.Orders.Lots <= 0 {
		c.Orders.Lots = 10
	}
	if c.Orders.Goals <= 0 {
		c.Orders.Goals = 2
	}
	setFloat(&c.Orders.FirstGoal, 3)
	setFloat(&c.Orders.GoalStep, 0.5)
	setFloat(&c.Orders.StopLossPercent, 0.05)

	setString(&c.Session.PremarketEnd, "07:00")
	setString(&c.Session.OrdersCutoff, "15:00")
	setString(&c.Session.Timezone, "UTC")

	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 64
	}
	setString(&c.Notify.Redis.Channel, "volumebot:events")
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	p := c.Strategy.Params
	switch {
	case len(c.Exchange.Instruments) == 0:
		return fmt.Errorf("%w: exchange.instruments is empty", ErrInvalid)
	case p.FinePeriod >= p.CoarsePeriod:
		return fmt.Errorf("%w: fine_period %s must be shorter than coarse_period %s", ErrInvalid, p.FinePeriod, p.CoarsePeriod)
	case p.TouchTolerance < 0 || p.TouchTolerance >= 1:
		return fmt.Errorf("%w: touch_tolerance %v out of [0,1)", ErrInvalid, p.TouchTolerance)
	case c.Orders.Lots < int64(c.Orders.Goals):
		return fmt.Errorf("%w: %d lots cannot fill %d goals", ErrInvalid, c.Orders.Lots, c.Orders.Goals)
	case c.Orders.FirstGoal <= 0:
		return fmt.Errorf("%w: first_goal must be positive", ErrInvalid)
	case c.Orders.StopLossPercent <= 0 || c.Orders.StopLossPercent >= 100:
		return fmt.Errorf("%w: stop_loss_percent %v out of (0,100)", ErrInvalid, c.Orders.StopLossPercent)
	case c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == ""):
		return fmt.Errorf("%w: telegram enabled without token or chat_id", ErrInvalid)
	case c.Notify.Redis.Enabled && c.Notify.Redis.Addr == "":
		return fmt.Errorf("%w: redis enabled without addr", ErrInvalid)
	}
	for i, sym := range c.Exchange.Instruments {
		c.Exchange.Instruments[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	return nil
}

// Load reads a YAML file from disk, applies defaults, overlays secrets from the environment and
// the optional env files, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	config.LoadSecrets(envFiles...)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst <= 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst <= 0 {
		*dst = def
	}
}
