// Binary backtest replays stored tick files through the volume-level pipeline and writes the
// resulting statistics.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"volumebot-go/internal/config"
	"volumebot-go/internal/engine"
	"volumebot-go/internal/execution"
	"volumebot-go/internal/paper"
	"volumebot-go/internal/store"
	"volumebot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	pattern := flag.String("ticks", "data/*.csv", "glob of tick files, one trading day per file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	files, err := filepath.Glob(*pattern)
	if err != nil {
		log.Fatal().Err(err).Str("pattern", *pattern).Msg("bad tick glob")
	}
	if len(files) == 0 {
		log.Fatal().Str("pattern", *pattern).Msg("no tick files")
	}
	sort.Strings(files)

	var recorder paper.OrderRecorder
	if cfg.App.JournalPath != "" {
		journal, err := paper.NewJSONLRecorder(cfg.App.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open order journal")
		}
		defer journal.Close()
		recorder = journal
	}

	exec := execution.NewExecutor(log)
	ledgers := map[string]*paper.Ledger{}
	reports := map[string]paper.Report{}
	for _, file := range files {
		ticks, err := store.LoadFile(file)
		if err != nil {
			log.Error().Err(err).Msg("skip unreadable tick file")
			continue
		}
		if err := store.Validate(ticks); err != nil {
			log.Error().Err(err).Str("file", file).Msg("skip unordered tick file")
			continue
		}
		if len(ticks) == 0 {
			continue
		}
		instrument := ticks[0].Instrument
		pc, err := engine.FromConfig(cfg, instrument)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline config")
		}
		pc.Orders.Recorder = recorder
		ledger, ok := ledgers[instrument]
		if !ok {
			ledger = paper.NewLedger(pc.Orders)
			ledgers[instrument] = ledger
		}
		pipe := engine.NewPipeline(pc, engine.Deps{Ledger: ledger, Executor: exec}, log)
		reports[instrument] = pipe.Replay(ticks)
		log.Info().Str("file", file).Int("ticks", len(ticks)).Msg("day replayed")
	}

	instruments := make([]string, 0, len(reports))
	for instrument := range reports {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)
	for _, instrument := range instruments {
		if _, err := reports[instrument].WriteTo(os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("write report")
		}
		fmt.Println()
	}
}
