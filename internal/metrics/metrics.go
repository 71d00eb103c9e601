// Package metrics holds the batch counters pushed to a Prometheus
// Pushgateway when a run ends.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const jobName = "migrobot"

var JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "migrobot",
	Name:      "jobs_total",
	Help:      "Count of finished migration jobs by outcome",
}, []string{"mig_type", "outcome"})

var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "migrobot",
	Name:      "job_duration_seconds",
	Help:      "Wall time of one migration job",
	Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
}, []string{"mig_type"})

// Observe records one finished job.
func Observe(migType, outcome string, d time.Duration) {
	JobsTotal.WithLabelValues(migType, outcome).Inc()
	JobDuration.WithLabelValues(migType).Observe(d.Seconds())
}

// Pusher sends the batch metrics to a Pushgateway, grouped by migration type.
type Pusher struct {
	pusher *push.Pusher
}

// NewPusher returns a Pusher for the gateway at url.
func NewPusher(url, migType string) *Pusher {
	p := push.New(url, jobName).
		Collector(JobsTotal).
		Collector(JobDuration).
		Grouping("mig_type", migType)
	return &Pusher{pusher: p}
}

// Push replaces the metrics of this job group on the gateway.
func (p *Pusher) Push() error {
	if err := p.pusher.Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
