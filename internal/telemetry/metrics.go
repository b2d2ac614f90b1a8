// Package telemetry holds the process-wide Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxelrule.ai/internal/sim/engine"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrule_runs_total",
		Help: "Finished runs by result",
	}, []string{"result"})

	RunSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrule_run_steps",
		Help:    "Interpreter steps per finished run",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrule_run_duration_seconds",
		Help:    "Wall time per finished run",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxrule_frames_total",
		Help: "Frames produced by runs",
	})

	ObserverFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxrule_observer_frames_dropped_total",
		Help: "Frames not sent to an observer because of rate limit or a full buffer",
	})

	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxrule_observers",
		Help: "Connected observer sessions",
	})

	SearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrule_search_total",
		Help: "Trajectory searches by result",
	}, []string{"result"})

	SearchVisited = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrule_search_visited_states",
		Help:    "States visited per trajectory search",
		Buckets: prometheus.ExponentialBuckets(1, 4, 12),
	})

	WFCTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrule_wfc_seed_total",
		Help: "WFC good-seed searches by result",
	}, []string{"result"})

	WFCTries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrule_wfc_tries",
		Help:    "Seeds tried per WFC good-seed search",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
	})

	MirrorUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrule_mirror_uploads_total",
		Help: "Object store mirror uploads by result",
	}, []string{"result"})
)

func result(ok bool) string {
	if ok {
		return "found"
	}
	return "failed"
}

// Hooks reports engine search and WFC outcomes into the metrics above.
func Hooks() engine.Hooks {
	return engine.Hooks{
		Search: func(found bool, visited int) {
			SearchTotal.WithLabelValues(result(found)).Inc()
			SearchVisited.Observe(float64(visited))
		},
		WFC: func(found bool, tries int) {
			WFCTotal.WithLabelValues(result(found)).Inc()
			WFCTries.Observe(float64(tries))
		},
	}
}
