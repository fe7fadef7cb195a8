package metrics

import "github.com/prometheus/client_golang/prometheus"

// ScreenerMetrics exposes counters/histograms for screener conversations.
type ScreenerMetrics struct {
	messagesTotal    *prometheus.CounterVec
	crisisTotal      *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	activeStreams    prometheus.Gauge
}

func NewScreenerMetrics(reg prometheus.Registerer) *ScreenerMetrics {
	m := &ScreenerMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "screener",
			Name:      "messages_total",
			Help:      "Total processed user messages by outcome",
		}, []string{"outcome"}),
		crisisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "screener",
			Name:      "crisis_detections_total",
			Help:      "Total crisis detections by risk level and method",
		}, []string{"level", "method"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "screener",
			Name:      "extractions_total",
			Help:      "Total response extraction attempts by result",
		}, []string{"result"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "careloop",
			Subsystem: "screener",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM completions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "careloop",
			Subsystem: "screener",
			Name:      "active_streams",
			Help:      "Currently open SSE response streams",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.crisisTotal, m.extractionsTotal, m.llmLatency, m.activeStreams)
	return m
}

func (m *ScreenerMetrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(outcome).Inc()
}

func (m *ScreenerMetrics) ObserveCrisis(level, method string) {
	if m == nil {
		return
	}
	m.crisisTotal.WithLabelValues(level, method).Inc()
}

func (m *ScreenerMetrics) ObserveExtraction(result string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(result).Inc()
}

func (m *ScreenerMetrics) ObserveLLMLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *ScreenerMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *ScreenerMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}
