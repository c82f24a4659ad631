package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"volumebot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== VolumeBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit instruments and feed")
		fmt.Println("3) Edit level and signal knobs")
		fmt.Println("4) Edit order ladder and session")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch paper bot")
		fmt.Println("7) Run backtest")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		switch strings.TrimSpace(input) {
		case "1":
			printSummary(cfg)
		case "2":
			editFeed(reader, cfg)
		case "3":
			editStrategy(reader, cfg)
		case "4":
			editOrders(reader, cfg)
		case "5":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launch(reader, "./cmd/paper")
		case "7":
			launch(reader, "./cmd/backtest", "-ticks", filepath.Join(cfg.App.DataDir, "*.csv"))
		case "8":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	p := cfg.Strategy.Params
	o := cfg.Orders
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s | instruments: %s\n", cfg.Exchange.Provider, strings.Join(cfg.Exchange.Instruments, ", "))
	fmt.Printf("Backfill: every %s, %s windows\n", cfg.Exchange.BackfillInterval, cfg.Exchange.BackfillWindow)
	fmt.Printf("Bars: coarse %s, fine %s\n", p.CoarsePeriod, p.FinePeriod)
	fmt.Printf("Touch cooldowns: first %s, second %s | tolerance %.4f\n", p.FirstTouchCooldown, p.SecondTouchCooldown, p.TouchTolerance)
	fmt.Printf("Signal bar: pressure > %.1f%%, location <= %.1f%%\n", p.MinPressure, p.MaxLocation)
	fmt.Printf("Ladder: %d lots over %d goals, first goal %.2fR, step %.2f | stop %.3f%%\n", o.Lots, o.Goals, o.FirstGoal, o.GoalStep, o.StopLossPercent)
	fmt.Printf("Session: premarket until %s, orders until %s (%s)\n", cfg.Session.PremarketEnd, cfg.Session.OrdersCutoff, cfg.Session.Timezone)
	fmt.Printf("Per-trade notional cap: %.2f (0 = off)\n", cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Telegram: %t | Redis: %t | Chart: %t\n", cfg.Notify.Telegram.Enabled, cfg.Notify.Redis.Enabled, cfg.Chart.Enabled)
}

func editFeed(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Instruments / Feed ---")
	fmt.Printf("Current instruments: %s\n", strings.Join(cfg.Exchange.Instruments, ", "))
	fmt.Print("Enter instruments comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Exchange.Instruments = nil
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				cfg.Exchange.Instruments = append(cfg.Exchange.Instruments, trimmed)
			}
		}
	}
	cfg.Exchange.Provider = promptString(reader, "Provider (stub|binance)", cfg.Exchange.Provider)
	cfg.Exchange.BackfillInterval = promptDuration(reader, "Backfill interval", cfg.Exchange.BackfillInterval)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Levels / Signal ---")
	p := &cfg.Strategy.Params
	p.CoarsePeriod = promptDuration(reader, "Coarse bar period", p.CoarsePeriod)
	p.FinePeriod = promptDuration(reader, "Fine bar period", p.FinePeriod)
	p.FirstTouchCooldown = promptDuration(reader, "First touch cooldown", p.FirstTouchCooldown)
	p.SecondTouchCooldown = promptDuration(reader, "Second touch cooldown", p.SecondTouchCooldown)
	p.TouchTolerance = promptFloat(reader, "Touch tolerance ratio", p.TouchTolerance)
	p.MinPressure = promptFloat(reader, "Min pressure (%)", p.MinPressure)
	p.MaxLocation = promptFloat(reader, "Max volume location (%)", p.MaxLocation)
}

func editOrders(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Orders / Session ---")
	o := &cfg.Orders
	o.Lots = int64(promptFloat(reader, "Lots per signal", float64(o.Lots)))
	o.Goals = int(promptFloat(reader, "Goals", float64(o.Goals)))
	o.FirstGoal = promptFloat(reader, "First goal (R multiple)", o.FirstGoal)
	o.GoalStep = promptFloat(reader, "Goal step", o.GoalStep)
	o.StopLossPercent = promptFloat(reader, "Stop loss (%)", o.StopLossPercent)
	cfg.Session.OrdersCutoff = promptString(reader, "Orders cutoff (HH:MM)", cfg.Session.OrdersCutoff)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade", cfg.Risk.MaxNotionalPerTrade)
}

func launch(reader *bufio.Reader, pkg string, args ...string) {
	fmt.Printf("Launching %s (ENTER to stop)...\n", pkg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", append([]string{"run", pkg, "-config", locateConfig()}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", pkg, err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return current
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%g]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %g\n", current)
		return current
	}
	return val
}

func promptDuration(reader *bufio.Reader, label string, current time.Duration) time.Duration {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := time.ParseDuration(line)
	if err != nil || val <= 0 {
		fmt.Printf("invalid duration, keeping %s\n", current)
		return current
	}
	return val
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if env := os.Getenv("VOLUMEBOT_CONFIG"); env != "" {
		return filepath.Clean(env)
	}
	return filepath.Clean(defaultConfigPath)
}
