package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GridCollector bundles Prometheus metrics for the hierarchy engine and its
// HTTP surface.
type GridCollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	RoutingAttempts  *prometheus.CounterVec
	RoutingDuration  prometheus.Histogram
	ShedChildren     prometheus.Counter
	CriticalOverload prometheus.Counter

	ScenarioNodes      prometheus.Gauge
	ScenarioEdges      prometheus.Gauge
	ScenarioRoots      prometheus.Gauge
	ScenarioUnsupplied prometheus.Gauge
}

// NewGridCollector registers the grid metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewGridCollector(reg prometheus.Registerer) (*GridCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "grid_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grid_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "grid_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_routing_attempts_total",
		Help: "Parent change attempts, labeled by outcome.",
	}, []string{"outcome"}), "grid_routing_attempts_total")
	if err != nil {
		return nil, err
	}
	routing, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grid_routing_duration_seconds",
		Help:    "Time spent selecting and applying a parent.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}), "grid_routing_duration_seconds")
	if err != nil {
		return nil, err
	}
	shed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grid_shed_children_total",
		Help: "Children detached while resolving overloads.",
	}), "grid_shed_children_total")
	if err != nil {
		return nil, err
	}
	critical, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grid_critical_overloads_total",
		Help: "Overloads that could not be resolved by shedding.",
	}), "grid_critical_overloads_total")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 4)
	for _, g := range []struct{ name, help string }{
		{"grid_nodes", "Current number of nodes in the physical graph."},
		{"grid_edges", "Current number of edges in the physical graph."},
		{"grid_forest_roots", "Current number of roots in the logical forest."},
		{"grid_unsupplied_consumers", "Current number of consumers without a supply path."},
	} {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, gauge)
	}

	return &GridCollector{
		gatherer:           gatherer,
		HTTPRequests:       requests,
		HTTPDurations:      durations,
		RoutingAttempts:    attempts,
		RoutingDuration:    routing,
		ShedChildren:       shed,
		CriticalOverload:   critical,
		ScenarioNodes:      gauges[0],
		ScenarioEdges:      gauges[1],
		ScenarioRoots:      gauges[2],
		ScenarioUnsupplied: gauges[3],
	}, nil
}

// ObserveRouting records one parent change attempt.
func (c *GridCollector) ObserveRouting(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.RoutingAttempts != nil {
		c.RoutingAttempts.WithLabelValues(outcome).Inc()
	}
	if c.RoutingDuration != nil {
		c.RoutingDuration.Observe(d.Seconds())
	}
}

// ObserveShed records the result of one overload resolution.
func (c *GridCollector) ObserveShed(shed int, critical bool) {
	if c == nil {
		return
	}
	if c.ShedChildren != nil && shed > 0 {
		c.ShedChildren.Add(float64(shed))
	}
	if c.CriticalOverload != nil && critical {
		c.CriticalOverload.Inc()
	}
}

// SetScenarioCounts satisfies the ScenarioMetricsRecorder interface so the
// ScenarioState can drive gauge values directly from its mutators.
func (c *GridCollector) SetScenarioCounts(nodes, edges, roots, unsupplied int) {
	if c == nil {
		return
	}
	if c.ScenarioNodes != nil {
		c.ScenarioNodes.Set(float64(nodes))
	}
	if c.ScenarioEdges != nil {
		c.ScenarioEdges.Set(float64(edges))
	}
	if c.ScenarioRoots != nil {
		c.ScenarioRoots.Set(float64(roots))
	}
	if c.ScenarioUnsupplied != nil {
		c.ScenarioUnsupplied.Set(float64(unsupplied))
	}
}

// Middleware records request counts and durations, labeled by the matched
// chi route pattern.
func (c *GridCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if c == nil {
			return
		}
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GridCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// Gatherer returns the gatherer backing the collector.
func (c *GridCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
