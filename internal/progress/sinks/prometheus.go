package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitemap-screenshotter/internal/progress"
)

// PrometheusSink exports job and capture progress as Prometheus collectors.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsDrained  prometheus.Counter
	jobsRunning  prometheus.Gauge
	jobRuntime   prometheus.Histogram
	items        *prometheus.CounterVec
	captureBytes *prometheus.CounterVec
	captureDur   *prometheus.HistogramVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshotter_jobs_started_total",
			Help: "Job generations that started dispatching (including retry restarts).",
		}),
		jobsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshotter_jobs_drained_total",
			Help: "Job generations that drained their queue.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screenshotter_jobs_running",
			Help: "Jobs currently dispatching captures.",
		}),
		jobRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenshotter_job_runtime_seconds",
			Help:    "Wall time per drained job generation.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshotter_items_total",
			Help: "Work item transitions partitioned by stage.",
		}, []string{"stage"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshotter_capture_bytes_total",
			Help: "Screenshot bytes stored per site.",
		}, []string{"site"}),
		captureDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshotter_capture_duration_seconds",
			Help:    "Capture latency partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsDrained,
		s.jobsRunning,
		s.jobRuntime,
		s.items,
		s.captureBytes,
		s.captureDur,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.track(evt.JobID, true) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDrained:
		s.jobsDrained.Inc()
		if evt.Dur > 0 {
			s.jobRuntime.Observe(evt.Dur.Seconds())
		}
		if s.track(evt.JobID, false) {
			s.jobsRunning.Dec()
		}
	case progress.StageItemCompleted:
		s.items.WithLabelValues("completed").Inc()
		s.captureDur.WithLabelValues("completed").Observe(evt.Dur.Seconds())
		if evt.Bytes > 0 {
			s.captureBytes.WithLabelValues(siteLabel(evt.Site)).Add(float64(evt.Bytes))
		}
	case progress.StageItemFailed:
		s.items.WithLabelValues("failed").Inc()
		s.captureDur.WithLabelValues("failed").Observe(evt.Dur.Seconds())
	case progress.StageItemDispatched:
		s.items.WithLabelValues("dispatched").Inc()
	case progress.StageItemRetry:
		s.items.WithLabelValues("retry").Inc()
	}
}

// track records a job as running (start) or not; it reports whether the
// running set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	switch {
	case start && !ok:
		s.running[id] = struct{}{}
		return true
	case !start && ok:
		delete(s.running, id)
		return true
	}
	return false
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}
