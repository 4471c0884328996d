package observers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harunnryd/interviewflow/pkg/events"
)

// PrometheusObserver turns session events into metrics on its own registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	sessions       *prometheus.CounterVec
	active         prometheus.Gauge
	handlers       *prometheus.CounterVec
	nodes          *prometheus.CounterVec
	branches       *prometheus.CounterVec
	followUps      prometheus.Counter
	nudges         prometheus.Counter
	gatewayLatency *prometheus.HistogramVec
	gatewayErrors  *prometheus.CounterVec
	breaker        *prometheus.CounterVec
}

func NewPrometheusObserver(namespace string) *PrometheusObserver {
	if namespace == "" {
		namespace = "interviewflow"
	}
	o := &PrometheusObserver{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Finished interview sessions by end reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Interview sessions currently running.",
		}),
		handlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handler_entries_total",
			Help: "Turn-handler activations by state.",
		}, []string{"state"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "node_visits_total",
			Help: "Script node visits by node id.",
		}, []string{"node_id"}),
		branches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "branch_resolutions_total",
			Help: "Branch resolutions by outcome.",
		}, []string{"outcome"}),
		followUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "follow_ups_total",
			Help: "Follow-up questions asked.",
		}),
		nudges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "idle_nudges_total",
			Help: "Idle nudges sent.",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gateway_call_duration_seconds",
			Help:    "Reasoning gateway call latency by purpose.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"purpose", "provider"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_errors_total",
			Help: "Reasoning gateway failures by purpose and reason.",
		}, []string{"purpose", "reason"}),
		breaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_breaker_events_total",
			Help: "Circuit breaker transitions and denials.",
		}, []string{"event"}),
	}
	o.registry.MustRegister(
		o.sessions, o.active, o.handlers, o.nodes, o.branches,
		o.followUps, o.nudges, o.gatewayLatency, o.gatewayErrors, o.breaker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return o
}

func (o *PrometheusObserver) RecordEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindSessionStarted:
		o.active.Inc()
	case events.KindSessionEnded:
		o.active.Dec()
		o.sessions.WithLabelValues(ev.Tag(events.TagReason)).Inc()
	case events.KindHandlerEntered:
		o.handlers.WithLabelValues(ev.Tag(events.TagState)).Inc()
	case events.KindNodeReached:
		o.nodes.WithLabelValues(ev.Tag(events.TagNodeID)).Inc()
	case events.KindBranchResolved:
		o.branches.WithLabelValues(branchOutcome(ev)).Inc()
	case events.KindFollowUpAsked:
		o.followUps.Inc()
	case events.KindNudgeSent:
		o.nudges.Inc()
	case events.KindGatewayCall:
		o.gatewayLatency.WithLabelValues(ev.Tag(events.TagPurpose), ev.Tag(events.TagProvider)).
			Observe((time.Duration(ev.Value) * time.Millisecond).Seconds())
	case events.KindGatewayError:
		o.gatewayErrors.WithLabelValues(ev.Tag(events.TagPurpose), ev.Tag(events.TagReason)).Inc()
	case events.KindBreakerOpen, events.KindBreakerProbe, events.KindBreakerClose, events.KindBreakerDenied, events.KindRateLimit:
		o.breaker.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func branchOutcome(ev events.Event) string {
	if fast, _ := ev.Fields["fast_path"].(bool); fast {
		return "fast_path"
	}
	if fb, _ := ev.Fields["fallback"].(bool); fb {
		return "fallback"
	}
	return "selected"
}

// Registry exposes the observer's registry, mainly for tests.
func (o *PrometheusObserver) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

var _ events.Observer = (*PrometheusObserver)(nil)
