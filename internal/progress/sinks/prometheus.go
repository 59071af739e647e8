package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scrapequeue/internal/metrics"
	"github.com/JakeFAU/scrapequeue/internal/progress"
)

// PrometheusSink exports run progress metrics via Prometheus. It owns the
// collectors for dispatches, completions, capture failures, and dispatch gaps.
type PrometheusSink struct {
	tasksDispatched prometheus.Counter
	tasksCompleted  *prometheus.CounterVec
	tasksRunning    prometheus.Gauge
	taskRuntime     *prometheus.HistogramVec
	captureFailures *prometheus.CounterVec
	dispatchGap     prometheus.Histogram
	runsDrained     prometheus.Counter

	mu           sync.Mutex
	running      map[taskKey]struct{}
	lastDispatch map[[16]byte]time.Time
}

type taskKey struct {
	run  [16]byte
	task int
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapequeue_tasks_dispatched_total",
			Help: "Total tasks handed to a scrape session.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapequeue_tasks_completed_total",
			Help: "Total tasks completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapequeue_tasks_running",
			Help: "Tasks currently running (0 or 1).",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapequeue_task_runtime_seconds",
			Help:    "Wall time per completed task.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		captureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapequeue_capture_failures_total",
			Help: "Element captures that failed, partitioned by site.",
		}, []string{"site"}),
		dispatchGap: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scrapequeue_dispatch_gap_seconds",
			Help:    "Time between consecutive dispatches within a run.",
			Buckets: []float64{1, 5, 10, 15, 20, 30, 60, 120, 300},
		}),
		runsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapequeue_runs_drained_total",
			Help: "Runs whose queue fully drained.",
		}),
		running:      make(map[taskKey]struct{}),
		lastDispatch: make(map[[16]byte]time.Time),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksDispatched,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.captureFailures,
		s.dispatchGap,
		s.runsDrained,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskDispatch:
		s.handleDispatch(evt)
	case progress.StageTaskDone:
		s.handleCompletion(evt, "success")
	case progress.StageTaskError:
		s.handleCompletion(evt, "error")
	case progress.StageRunDrained:
		s.runsDrained.Inc()
		s.mu.Lock()
		delete(s.lastDispatch, evt.RunID)
		s.mu.Unlock()
	}
}

func (s *PrometheusSink) handleDispatch(evt progress.Event) {
	s.tasksDispatched.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.lastDispatch[evt.RunID]; ok && evt.TS.After(prev) {
		s.dispatchGap.Observe(evt.TS.Sub(prev).Seconds())
	}
	s.lastDispatch[evt.RunID] = evt.TS
	key := taskKey{run: evt.RunID, task: evt.Task}
	if _, ok := s.running[key]; !ok {
		s.running[key] = struct{}{}
		s.tasksRunning.Inc()
	}
}

func (s *PrometheusSink) handleCompletion(evt progress.Event, label string) {
	s.tasksCompleted.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
	if evt.Failed > 0 {
		s.captureFailures.WithLabelValues(metrics.SanitizeSite(evt.URL)).Add(float64(evt.Failed))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{run: evt.RunID, task: evt.Task}
	if _, ok := s.running[key]; ok {
		delete(s.running, key)
		s.tasksRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
