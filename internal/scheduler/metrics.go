package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional: a nil *Metrics is a no-op, so single-shot sync
// runs without a registry.
type Metrics struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	channelFailures *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	harvests        *prometheus.CounterVec
	publishes       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launcher_archiver_cycles_total",
			Help: "Completed scheduler cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "launcher_archiver_cycle_duration_seconds",
			Help:    "Wall time of one full cycle over all channels.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		channelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_archiver_channel_failures_total",
			Help: "Channel iterations that ended in a logged failure.",
		}, []string{"channel"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_archiver_downloads_total",
			Help: "Artifact download attempts by result.",
		}, []string{"result"}),
		harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_archiver_harvests_total",
			Help: "Runtime harvest attempts by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_archiver_publishes_total",
			Help: "Publish attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.cycles, m.cycleDuration, m.channelFailures, m.downloads, m.harvests, m.publishes)
	return m
}

func (m *Metrics) cycleDone(seconds float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) channelFailed(channel string) {
	if m == nil {
		return
	}
	m.channelFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) download(result string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Inc()
}

func (m *Metrics) harvest(result string) {
	if m == nil {
		return
	}
	m.harvests.WithLabelValues(result).Inc()
}

func (m *Metrics) publish(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}
