// Package metrics exposes session counters in Prometheus format. Each Metrics owns
// its registry so tests and several sessions in one process never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	Polls          *prometheus.CounterVec
	PollFailures   prometheus.Gauge
	MessagesMerged prometheus.Counter
	StaleResponses prometheus.Counter
	Actions        *prometheus.CounterVec
	MediaSwitches  prometheus.Counter
	StreamEvents   *prometheus.CounterVec
	BridgeRequests *prometheus.CounterVec
	BridgeLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "polls_total",
			Help:      "Message list polls by result (changed, unchanged, error).",
		}, []string{"result"}),
		PollFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convsession",
			Name:      "poll_consecutive_failures",
			Help:      "Consecutive failed polls of the active conversation.",
		}),
		MessagesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "messages_merged_total",
			Help:      "Messages added to the local list from server batches.",
		}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because the conversation changed.",
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "actions_total",
			Help:      "User actions by name and outcome.",
		}, []string{"action", "outcome"}),
		MediaSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "media_switches_total",
			Help:      "Changes of the playing media item.",
		}),
		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "stream_events_total",
			Help:      "Websocket events received by type.",
		}, []string{"type"}),
		BridgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convsession",
			Name:      "bridge_requests_total",
			Help:      "Local bridge HTTP requests by method and status.",
		}, []string{"method", "status"}),
		BridgeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convsession",
			Name:      "bridge_request_seconds",
			Help:      "Local bridge request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.reg.MustRegister(
		m.Polls, m.PollFailures, m.MessagesMerged, m.StaleResponses,
		m.Actions, m.MediaSwitches, m.StreamEvents, m.BridgeRequests, m.BridgeLatency,
		prometheus.NewGoCollector(),
	)
	return m
}

// Action records the outcome of a user action ("ok" or an error kind).
func (m *Metrics) Action(name, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
