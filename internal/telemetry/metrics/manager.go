package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests            *prometheus.CounterVec
	CounterHandleRequestPanic  prometheus.Counter
	CounterRateLimitedRequests prometheus.Counter
	CounterFramesProcessed     prometheus.Counter
	CounterPosesDetected       prometheus.Counter
	CounterEstimatorErrors     prometheus.Counter
	CounterActions             *prometheus.CounterVec
	CounterSessionsRecorded    prometheus.Counter
	CounterSnapshotsDropped    prometheus.Counter

	// gauges
	GaugeRequests      prometheus.Gauge
	GaugeLifeSignal    prometheus.Gauge
	GaugeVideoViewers  prometheus.Gauge
	GaugeWSSubscribers prometheus.Gauge
	GaugeCurrentStreak prometheus.Gauge

	// histograms
	HistogramRequestDuration   *prometheus.HistogramVec
	HistogramSimilarity        prometheus.Histogram
	HistogramEstimatorDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("posecoach", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("posecoach", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterRateLimitedRequests := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	})
	counterFramesProcessed := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_processed",
		Help:      "The total number of camera frames run through the pose pipeline",
	})
	counterPosesDetected := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "poses_detected",
		Help:      "The total number of frames in which a pose was detected",
	})
	counterEstimatorErrors := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "estimator_errors",
		Help:      "The total number of failed pose estimator calls",
	})
	counterActions := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "training_actions",
		Help:      "The total number of training control actions",
	}, []string{"action"})
	counterSessionsRecorded := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_recorded",
		Help:      "The total number of recorded practice sessions",
	})
	counterSnapshotsDropped := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ws_snapshots_dropped",
		Help:      "Score snapshots dropped for slow websocket subscribers",
	})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})
	gaugeVideoViewers := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "video_viewers",
		Help:      "Current number of open video feed streams",
	})
	gaugeWSSubscribers := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ws_subscribers",
		Help:      "Current number of score websocket subscribers",
	})
	gaugeCurrentStreak := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_streak_days",
		Help:      "Practice streak in days after the last recorded session",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})
	histogramSimilarity := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pose_similarity",
		Help:      "Similarity scores between live and reference poses",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	histogramEstimatorDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "estimator_duration_seconds",
		Help:      "Duration of pose estimator calls in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	return &Manager{
		CounterRequests:            counterRequests,
		CounterHandleRequestPanic:  counterHandleRequestPanic,
		CounterRateLimitedRequests: counterRateLimitedRequests,
		CounterFramesProcessed:     counterFramesProcessed,
		CounterPosesDetected:       counterPosesDetected,
		CounterEstimatorErrors:     counterEstimatorErrors,
		CounterActions:             counterActions,
		CounterSessionsRecorded:    counterSessionsRecorded,
		CounterSnapshotsDropped:    counterSnapshotsDropped,
		GaugeRequests:              gaugeRequests,
		GaugeLifeSignal:            gaugeLifeSignal,
		GaugeVideoViewers:          gaugeVideoViewers,
		GaugeWSSubscribers:         gaugeWSSubscribers,
		GaugeCurrentStreak:         gaugeCurrentStreak,
		HistogramRequestDuration:   histogramRequestDuration,
		HistogramSimilarity:        histogramSimilarity,
		HistogramEstimatorDuration: histogramEstimatorDuration,
	}
}
