package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"volumebot-go/internal/signal"
)

// HistorySource answers range queries for past trades of one instrument.
// Implementations return ticks with from <= Ts < to ordered by time.
type HistorySource interface {
	Trades(ctx context.Context, instrument string, from, to time.Time) ([]signal.Tick, error)
}

const (
	defaultBinanceRESTURL = "https://api.binance.com"
	binanceAggTradesLimit = 1000
)

// BinanceHistory pages through the public aggTrades endpoint.
type BinanceHistory struct {
	client  *http.Client
	baseURL string
	lotSize decimal.Decimal
	log     zerolog.Logger
}

// NewBinanceHistory builds a REST history source; empty baseURL uses the public API host.
func NewBinanceHistory(baseURL string, lotSize decimal.Decimal, log zerolog.Logger) *BinanceHistory {
	if baseURL == "" {
		baseURL = defaultBinanceRESTURL
	}
	if !lotSize.IsPositive() {
		lotSize = DefaultLotSize
	}
	return &BinanceHistory{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		lotSize: lotSize,
		log:     log,
	}
}

// Trades fetches [from, to). The first page is addressed by time, later ones
// continue from the last aggregate id so trades sharing a millisecond across a
// page boundary are not lost.
func (h *BinanceHistory) Trades(ctx context.Context, instrument string, from, to time.Time) ([]signal.Tick, error) {
	var out []signal.Tick
	start := from.UnixMilli()
	end := to.UnixMilli() - 1
	if start > end {
		return nil, nil
	}
	q := url.Values{}
	q.Set("startTime", strconv.FormatInt(start, 10))
	q.Set("endTime", strconv.FormatInt(end, 10))
	for {
		page, err := h.fetch(ctx, instrument, q)
		if err != nil {
			return nil, err
		}
		done := len(page) < binanceAggTradesLimit
		for _, tr := range page {
			if tr.TradeTime > end {
				done = true
				break
			}
			tk := tr.tick(strings.ToUpper(instrument), tr.Quantity.Div(h.lotSize).IntPart())
			if err := tk.Validate(); err != nil {
				continue
			}
			out = append(out, tk)
		}
		if done || len(page) == 0 {
			break
		}
		// fromId cannot be combined with a time window.
		q = url.Values{}
		q.Set("fromId", strconv.FormatInt(page[len(page)-1].ID+1, 10))
	}
	h.log.Debug().Str("instrument", instrument).Time("from", from).Time("to", to).Int("size", len(out)).Msg("history window fetched")
	return out, nil
}

func (h *BinanceHistory) fetch(ctx context.Context, instrument string, q url.Values) ([]binanceTrade, error) {
	q.Set("symbol", strings.ToUpper(instrument))
	q.Set("limit", strconv.Itoa(binanceAggTradesLimit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/v3/aggTrades?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "volumebot-go/1.0 (paper)")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var page []binanceTrade
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return page, nil
}

// MemoryHistory serves trades from an in-memory set; the stub provider and replays use it.
type MemoryHistory struct {
	mu    sync.RWMutex
	ticks map[string][]signal.Tick
}

// NewMemoryHistory returns an empty source.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{ticks: make(map[string][]signal.Tick)}
}

// Add stores ticks under their instrument.
func (m *MemoryHistory) Add(ticks ...signal.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tk := range ticks {
		m.ticks[tk.Instrument] = append(m.ticks[tk.Instrument], tk)
	}
	for sym := range m.ticks {
		list := m.ticks[sym]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Ts.Before(list[j].Ts) })
	}
}

// Trades implements HistorySource.
func (m *MemoryHistory) Trades(ctx context.Context, instrument string, from, to time.Time) ([]signal.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []signal.Tick
	for _, tk := range m.ticks[instrument] {
		if !tk.Ts.Before(from) && tk.Ts.Before(to) {
			out = append(out, tk)
		}
	}
	return out, nil
}

// NewHistory returns the history source matching a feed provider.
func NewHistory(provider, restURL string, lotSize decimal.Decimal, log zerolog.Logger) HistorySource {
	if strings.ToLower(provider) == ProviderBinance {
		return NewBinanceHistory(restURL, lotSize, log)
	}
	return NewMemoryHistory()
}
