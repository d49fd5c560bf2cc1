// Package metrics exports run and query counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/sample"
)

const namespace = "cellcycle"

// Prom implements the cycle and query observer hooks on Prometheus
// collectors.
type Prom struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	ticks     *prometheus.CounterVec
	runs      *prometheus.CounterVec
	active    prometheus.Gauge
	duration  *prometheus.HistogramVec
	readings  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Prom {
	p := &Prom{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_attempts_total",
			Help:      "Instrument query attempts, including retries.",
		}, []string{"query"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_retries_total",
			Help:      "Query attempts made after a failure.",
		}, []string{"query"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_fallbacks_total",
			Help:      "Alternate commands issued after retries were spent.",
		}, []string{"query", "result"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_no_reading_total",
			Help:      "Queries that produced no reading at all.",
		}, []string{"query"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Sampling loop ticks by outcome.",
		}, []string{"kind", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by verdict.",
		}, []string{"kind", "verdict"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently in progress.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"kind"}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Latest reading per channel.",
		}, []string{"channel", "quantity"}),
	}
	reg.MustRegister(p.attempts, p.retries, p.fallbacks, p.exhausted,
		p.ticks, p.runs, p.active, p.duration, p.readings)
	return p
}

// queryLabel keeps label cardinality bounded: "MEAS:VOLT? (@1,2)" -> "MEAS:VOLT?".
func queryLabel(cmd string) string {
	for i, r := range cmd {
		if r == ' ' {
			return cmd[:i]
		}
	}
	return cmd
}

func (p *Prom) Attempted(cmd string) { p.attempts.WithLabelValues(queryLabel(cmd)).Inc() }
func (p *Prom) Retried(cmd string)   { p.retries.WithLabelValues(queryLabel(cmd)).Inc() }
func (p *Prom) Exhausted(cmd string) { p.exhausted.WithLabelValues(queryLabel(cmd)).Inc() }

func (p *Prom) FellBack(cmd string, ok bool) {
	p.fallbacks.WithLabelValues(queryLabel(cmd), result(ok)).Inc()
}

func (p *Prom) RunStarted(string) { p.active.Inc() }

func (p *Prom) TickDone(kind string, ok bool) {
	p.ticks.WithLabelValues(kind, result(ok)).Inc()
}

// Readings publishes the latest value of every channel that has one.
func (p *Prom) Readings(snap []sample.ChannelSnapshot) {
	for _, ch := range snap {
		if ch.Voltage.OK {
			p.readings.WithLabelValues(ch.Channel, "voltage").Set(ch.Voltage.Value)
		}
		if ch.Current.OK {
			p.readings.WithLabelValues(ch.Channel, "current").Set(ch.Current.Value)
		}
	}
}

func (p *Prom) RunFinished(kind, verdict string, elapsed time.Duration) {
	p.active.Dec()
	p.runs.WithLabelValues(kind, verdict).Inc()
	p.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
