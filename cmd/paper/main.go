package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"volumebot-go/internal/chart"
	"volumebot-go/internal/config"
	"volumebot-go/internal/engine"
	"volumebot-go/internal/exchange"
	"volumebot-go/internal/execution"
	"volumebot-go/internal/metrics"
	"volumebot-go/internal/notify"
	"volumebot-go/internal/paper"
	"volumebot-go/internal/reconcile"
	sig "volumebot-go/internal/signal"
	"volumebot-go/internal/store"
	"volumebot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "optional dotenv file with secrets")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var mounts []metrics.Mount
	var hub *chart.Hub
	if cfg.Chart.Enabled {
		hub = chart.NewHub(log)
		go hub.Run(ctx)
		mounts = append(mounts,
			metrics.Mount{Pattern: "/chart/ws", Handler: http.HandlerFunc(hub.ServeWS)},
			metrics.Mount{Pattern: "/chart/snapshot", Handler: http.HandlerFunc(hub.ServeSnapshot)},
		)
	}
	srv := metrics.Serve(cfg.App.MetricsAddr, mounts...)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Bool("chart", hub != nil).Msg("metrics up")

	dispatcher := notify.NewDispatcher(log, cfg.Notify.QueueSize, notifiers(ctx, cfg, log)...)
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	var recorder paper.OrderRecorder
	if cfg.App.JournalPath != "" {
		journal, err := paper.NewJSONLRecorder(cfg.App.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open order journal")
		}
		defer journal.Close()
		recorder = journal
	}

	lotSize := decimal.NewFromFloat(cfg.Exchange.LotSize)
	history := exchange.NewHistory(cfg.Exchange.Provider, cfg.Exchange.RestURL, lotSize, log)
	ticks := store.NewTickLog(cfg.App.DataDir)
	exec := execution.NewExecutor(log)
	today := time.Now().UTC()

	outs := make(map[string]chan sig.Tick, len(cfg.Exchange.Instruments))
	var wg sync.WaitGroup
	for _, instrument := range cfg.Exchange.Instruments {
		pc, err := engine.FromConfig(cfg, instrument)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline config")
		}
		pc.Orders.Recorder = recorder
		deps := engine.Deps{Executor: exec, Events: dispatcher}
		if hub != nil {
			deps.Charts = hub
		}
		pipe := engine.NewPipeline(pc, deps, log)

		stored, err := ticks.Load(instrument, today)
		if err != nil {
			log.Warn().Err(err).Str("instrument", instrument).Msg("stored ticks unreadable, starting empty")
			stored = nil
		}
		rec := reconcile.New(reconcile.Config{
			Instrument: instrument,
			Window:     cfg.Exchange.BackfillWindow,
			MaxWindows: cfg.Exchange.BackfillMaxWindows,
			Store:      ticks,
		}, stored, log)
		runner := engine.NewRunner(pipe, rec, history, engine.RunnerConfig{BackfillInterval: cfg.Exchange.BackfillInterval}, log)

		in := make(chan sig.Tick, 1024)
		outs[instrument] = in
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			if err := runner.Run(ctx, in); err != nil {
				log.Error().Err(err).Str("instrument", instrument).Msg("runner stopped")
			}
		}(instrument)
	}

	feed := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Instruments, log,
		exchange.WithWebsocketURL(cfg.Exchange.WSURL),
		exchange.WithLotSize(lotSize),
	)
	live := make(chan sig.Tick, 1024)
	go func() {
		if err := feed.Run(ctx, live); err != nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()
	go engine.Route(ctx, live, outs, log)

	log.Info().Strs("instruments", cfg.Exchange.Instruments).Str("provider", cfg.Exchange.Provider).Msg("paper engine started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
}

func notifiers(ctx context.Context, cfg *config.Config, log zerolog.Logger) []notify.Notifier {
	list := []notify.Notifier{notify.NewLogNotifier(log)}
	if t := cfg.Notify.Telegram; t.Enabled {
		list = append(list, notify.NewTelegram(t.BaseURL, t.Token, t.ChatID))
	}
	if r := cfg.Notify.Redis; r.Enabled {
		pub := notify.NewRedisPublisher(r.Addr, r.Password, r.DB, r.Channel)
		if err := pub.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", r.Addr).Msg("redis unreachable, telemetry disabled")
		} else {
			list = append(list, pub)
		}
	}
	return list
}
