package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Simulated order legs opened"},
		[]string{"symbol", "side"},
	)
	OrdersClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_closed_total", Help: "Simulated order legs closed"},
		[]string{"symbol", "reason"},
	)
	TouchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "touches_total", Help: "Volume level touches recorded"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Touch evaluations by outcome"},
		[]string{"symbol", "outcome"},
	)
	BackfillErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "backfill_errors_total", Help: "Aborted history backfill cycles"},
		[]string{"symbol"},
	)
	LevelsTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "levels_tracked", Help: "Volume levels known per instrument"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, OrdersClosedTotal, TouchesTotal, SignalsTotal, BackfillErrorsTotal, LevelsTracked)
}

// Mount attaches an extra handler to the metrics server.
type Mount struct {
	Pattern string
	Handler http.Handler
}

func Serve(addr string, mounts ...Mount) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, m := range mounts {
		if m.Pattern == "" || m.Handler == nil {
			continue
		}
		mux.Handle(m.Pattern, m.Handler)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
