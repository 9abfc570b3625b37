package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports engine metrics through client_golang.
type Prometheus struct {
	commits       *prometheus.CounterVec
	commitLatency prometheus.Histogram
	deltas        prometheus.Counter
	conflicts     prometheus.Counter
	waitTimeouts  prometheus.Counter
	sweeps        prometheus.Counter
	removed       *prometheus.CounterVec
	watermark     prometheus.Gauge
	consumerLag   *prometheus.GaugeVec
}

// NewPrometheus registers the collectors with reg; nil uses the default registerer.
func NewPrometheus(namespace string, reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits that reached storage, by result.",
		}, []string{"result"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time from version assignment to storage write completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Deltas applied by committed transactions.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Transactions aborted by the conflict check.",
		}),
		waitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watermark_wait_timeouts_total",
			Help:      "Watermark waits that gave up before reaching their target.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_sweeps_total",
			Help:      "Retention sweeps executed.",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_removed_total",
			Help:      "Entries removed by retention, by kind.",
		}, []string{"kind"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retention_watermark",
			Help:      "Watermark used by the last retention sweep.",
		}),
		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cdc_consumer_lag_versions",
			Help:      "Versions between a consumer checkpoint and done-until.",
		}, []string{"consumer"}),
	}
	reg.MustRegister(p.commits, p.commitLatency, p.deltas, p.conflicts, p.waitTimeouts,
		p.sweeps, p.removed, p.watermark, p.consumerLag)
	return p
}

func (p *Prometheus) RecordCommit(deltas int, duration time.Duration, err error) {
	if err != nil {
		p.commits.WithLabelValues("error").Inc()
		return
	}
	p.commits.WithLabelValues("ok").Inc()
	p.commitLatency.Observe(duration.Seconds())
	p.deltas.Add(float64(deltas))
}

func (p *Prometheus) RecordConflict() {
	p.conflicts.Inc()
}

func (p *Prometheus) RecordWaitTimeout() {
	p.waitTimeouts.Inc()
}

func (p *Prometheus) RecordSweep(watermark uint64, versionsRemoved, cdcRemoved int, _ time.Duration) {
	p.sweeps.Inc()
	p.removed.WithLabelValues("version").Add(float64(versionsRemoved))
	p.removed.WithLabelValues("cdc").Add(float64(cdcRemoved))
	p.watermark.Set(float64(watermark))
}

func (p *Prometheus) RecordConsumerLag(consumer string, lag uint64) {
	p.consumerLag.WithLabelValues(consumer).Set(float64(lag))
}
