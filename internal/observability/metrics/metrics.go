package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamline"

// Recorder owns the Prometheus collectors for the API, the live-state core
// and the fan-out bus. Each Recorder has its own registry so tests never share
// counters.
type Recorder struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamEvents    *prometheus.CounterVec
	activeStreams   prometheus.Gauge
	chatEvents      *prometheus.CounterVec
	moderation      *prometheus.CounterVec
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
	rateLimited     *prometheus.CounterVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed by the API",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream lifecycle events by type",
		}, []string{"event"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Current number of channels marked as live by this process",
		}),
		chatEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_events_total",
			Help:      "Chat events by type",
		}, []string{"event"}),
		moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Moderation actions by action and outcome",
		}, []string{"action", "outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_published_total",
			Help:      "Messages published to the fan-out bus by kind",
		}, []string{"kind"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_publish_failures_total",
			Help:      "Failed fan-out publishes by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_dropped_total",
			Help:      "Messages dropped because a subscriber buffer was full",
		}, []string{"kind"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_clients",
			Help:      "Currently connected websocket subscribers by kind",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter by scope",
		}, []string{"scope"}),
	}
	registry.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.streamEvents,
		r.activeStreams,
		r.chatEvents,
		r.moderation,
		r.published,
		r.publishFailures,
		r.dropped,
		r.subscribers,
		r.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Default returns the process-wide Recorder used when callers pass nil.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for gatherers and tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request. Identifier-like path segments are
// collapsed to keep label cardinality bounded.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	method = strings.ToUpper(method)
	normalized := normalizePath(path)
	r.requestsTotal.WithLabelValues(method, normalized, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, normalized).Observe(duration.Seconds())
}

func (r *Recorder) StreamStarted() {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues("start").Inc()
	r.activeStreams.Inc()
}

func (r *Recorder) StreamStopped() {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues("stop").Inc()
	r.activeStreams.Dec()
}

// ObserveStreamEvent counts lifecycle events other than start and stop, such
// as metadata appends.
func (r *Recorder) ObserveStreamEvent(event string) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(normalizeName(event)).Inc()
}

func (r *Recorder) ObserveChatEvent(event string) {
	if r == nil {
		return
	}
	r.chatEvents.WithLabelValues(normalizeName(event)).Inc()
}

func (r *Recorder) ObserveModeration(action, outcome string) {
	if r == nil {
		return
	}
	r.moderation.WithLabelValues(normalizeName(action), normalizeName(outcome)).Inc()
}

func (r *Recorder) ObservePublish(kind string, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.publishFailures.WithLabelValues(normalizeName(kind)).Inc()
		return
	}
	r.published.WithLabelValues(normalizeName(kind)).Inc()
}

// ObserveDrop records a message dropped for a slow subscriber. The topic is
// reduced to its kind so per-channel topics do not become labels.
func (r *Recorder) ObserveDrop(topic string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(topicKind(topic)).Inc()
}

func (r *Recorder) SubscriberConnected(kind string) {
	if r == nil {
		return
	}
	r.subscribers.WithLabelValues(normalizeName(kind)).Inc()
}

func (r *Recorder) SubscriberDisconnected(kind string) {
	if r == nil {
		return
	}
	r.subscribers.WithLabelValues(normalizeName(kind)).Dec()
}

func (r *Recorder) ObserveRateLimited(scope string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(normalizeName(scope)).Inc()
}

func topicKind(topic string) string {
	parts := strings.Split(topic, ":")
	if len(parts) >= 2 {
		return normalizeName(parts[1])
	}
	return normalizeName(topic)
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 20 || strings.HasPrefix(segment, "live_") {
		return true
	}
	digits := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
