// Package metrics provides Prometheus metrics for the transcription pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livescribe"

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Session metrics
	Sessions      *prometheus.CounterVec
	SessionStatus *prometheus.GaugeVec

	// Routing metrics
	FramesRouted  prometheus.Counter
	FramesDropped *prometheus.CounterVec
	LaneBacklog   *prometheus.GaugeVec

	// Segment metrics
	SegmentsOpened    prometheus.Counter
	SegmentsClosed    *prometheus.CounterVec
	SegmentsDiscarded prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   *prometheus.CounterVec

	// Final engine metrics
	FinalRequests   *prometheus.CounterVec
	FinalLatency    prometheus.Histogram
	FinalQueueDepth prometheus.Gauge

	// Sink metrics
	SinkPublish        *prometheus.CounterVec
	SinkPublishLatency *prometheus.HistogramVec
}

var statuses = []string{"idle", "starting", "active", "stopping", "error"}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session start attempts by result",
		}, []string{"result"}),
		SessionStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      "1 for the current transcription status, 0 otherwise",
		}, []string{"status"}),

		FramesRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_routed_total",
			Help:      "Audio frames accepted by the router",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames evicted from a full consumer lane",
		}, []string{"lane"}),
		LaneBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lane_backlog_frames",
			Help:      "Frames queued per consumer lane",
		}, []string{"lane"}),

		SegmentsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_opened_total",
			Help:      "Speech segments opened by the VAD",
		}),
		SegmentsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_closed_total",
			Help:      "Speech segments closed by the VAD",
		}, []string{"reason"}),
		SegmentsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Segments shorter than the minimum duration",
		}),

		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Partial transcript segments emitted",
		}),
		TranscriptsFinal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Final transcript segments emitted",
		}, []string{"kind"}),

		FinalRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_requests_total",
			Help:      "Final engine requests by outcome",
		}, []string{"result"}),
		FinalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_latency_seconds",
			Help:      "Final engine inference latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		FinalQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "final_queue_depth",
			Help:      "Requests waiting for the final engine worker",
		}),

		SinkPublish: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_total",
			Help:      "Events delivered to sinks by result",
		}, []string{"sink", "result"}),
		SinkPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_publish_latency_seconds",
			Help:      "Sink publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),
	}
}

func (m *Metrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(result).Inc()
}

// SetStatus marks status as the current one.
func (m *Metrics) SetStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.SessionStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordFrameRouted() {
	if m == nil {
		return
	}
	m.FramesRouted.Inc()
}

func (m *Metrics) RecordFrameDropped(lane string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(lane).Inc()
}

func (m *Metrics) SetLaneBacklog(lane string, n int) {
	if m == nil {
		return
	}
	m.LaneBacklog.WithLabelValues(lane).Set(float64(n))
}

func (m *Metrics) RecordSegmentOpened() {
	if m == nil {
		return
	}
	m.SegmentsOpened.Inc()
}

func (m *Metrics) RecordSegmentClosed(reason string, discarded bool) {
	if m == nil {
		return
	}
	m.SegmentsClosed.WithLabelValues(reason).Inc()
	if discarded {
		m.SegmentsDiscarded.Inc()
	}
}

func (m *Metrics) RecordPartial() {
	if m == nil {
		return
	}
	m.TranscriptsPartial.Inc()
}

func (m *Metrics) RecordFinal(bestEffort bool) {
	if m == nil {
		return
	}
	kind := "final"
	if bestEffort {
		kind = "best_effort"
	}
	m.TranscriptsFinal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordFinalRequest(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FinalRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.FinalLatency.Observe(seconds)
	}
}

func (m *Metrics) SetFinalQueueDepth(n int) {
	if m == nil {
		return
	}
	m.FinalQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordSinkPublish(sink string, err error, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SinkPublish.WithLabelValues(sink, result).Inc()
	m.SinkPublishLatency.WithLabelValues(sink).Observe(seconds)
}
