package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder mirrors completed measurements into a histogram.
type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "region_latency",
			Name:      "measurements_total",
			Help:      "Completed measurements",
		},
		[]string{"name", "region"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "region_latency",
			Name:      "latency_seconds",
			Help:      "Measured round trip latency",
			Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, 1, 2.5, 5},
		},
		[]string{"name", "region"},
	)

	for _, c := range []prometheus.Collector{counters, histogram} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}, nil
}

func (p *PrometheusRecorder) ObserveLatency(name, region string, d time.Duration) {
	labels := prometheus.Labels{"name": name, "region": region}
	p.counters.With(labels).Inc()
	p.histogram.With(labels).Observe(d.Seconds())
}
