package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimulatorCollector bundles Prometheus metrics for the incident pipeline, the
// route provider, the map view and the gRPC surface.
type SimulatorCollector struct {
	gatherer prometheus.Gatherer

	IncidentsSpawned   *prometheus.CounterVec
	IncidentsCompleted *prometheus.CounterVec
	IncidentsAborted   *prometheus.CounterVec
	RouteFetchDuration *prometheus.HistogramVec
	ActiveAnimations   prometheus.Gauge

	ViewMarkers  prometheus.Gauge
	ViewOverlays prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimulatorCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulatorCollector(reg prometheus.Registerer) (*SimulatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	spawned, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidents_spawned_total",
		Help: "Incidents generated by the simulator, labeled by facility type.",
	}, []string{"type"}), "incidents_spawned_total")
	if err != nil {
		return nil, err
	}
	completed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidents_completed_total",
		Help: "Incidents whose responding unit reached the scene, labeled by facility type.",
	}, []string{"type"}), "incidents_completed_total")
	if err != nil {
		return nil, err
	}
	aborted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidents_aborted_total",
		Help: "Incidents abandoned before completion, labeled by abort reason.",
	}, []string{"reason"}), "incidents_aborted_total")
	if err != nil {
		return nil, err
	}

	routeDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "route_fetch_duration_seconds",
		Help:    "Latency of routing provider requests in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind", "outcome"}), "route_fetch_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_animations",
		Help: "Number of units currently travelling along a route.",
	}), "active_animations")
	if err != nil {
		return nil, err
	}
	markers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "view_markers",
		Help: "Markers currently placed on the map view.",
	}), "view_markers")
	if err != nil {
		return nil, err
	}
	overlays, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "view_route_overlays",
		Help: "Route overlays currently drawn on the map view.",
	}), "view_route_overlays")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "grpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulatorCollector{
		gatherer:           gatherer,
		IncidentsSpawned:   spawned,
		IncidentsCompleted: completed,
		IncidentsAborted:   aborted,
		RouteFetchDuration: routeDurations,
		ActiveAnimations:   active,
		ViewMarkers:        markers,
		ViewOverlays:       overlays,
		RPCRequests:        requests,
		RPCDurations:       durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulatorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulatorCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *SimulatorCollector) IncIncidentSpawned(facilityType string) {
	if c == nil || c.IncidentsSpawned == nil {
		return
	}
	c.IncidentsSpawned.WithLabelValues(facilityType).Inc()
}

func (c *SimulatorCollector) IncIncidentCompleted(facilityType string) {
	if c == nil || c.IncidentsCompleted == nil {
		return
	}
	c.IncidentsCompleted.WithLabelValues(facilityType).Inc()
}

func (c *SimulatorCollector) IncIncidentAborted(reason string) {
	if c == nil || c.IncidentsAborted == nil {
		return
	}
	c.IncidentsAborted.WithLabelValues(reason).Inc()
}

// SetActiveAnimations updates the in-flight animation gauge.
func (c *SimulatorCollector) SetActiveAnimations(n int) {
	if c == nil || c.ActiveAnimations == nil {
		return
	}
	c.ActiveAnimations.Set(float64(n))
}

// ObserveRouteFetch satisfies routing.MetricsRecorder.
func (c *SimulatorCollector) ObserveRouteFetch(kind, outcome string, d time.Duration) {
	if c == nil || c.RouteFetchDuration == nil {
		return
	}
	c.RouteFetchDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// SetViewCounts satisfies view.MetricsRecorder so the map view can drive gauge
// values directly from its mutators.
func (c *SimulatorCollector) SetViewCounts(markers, overlays int) {
	if c == nil {
		return
	}
	if c.ViewMarkers != nil {
		c.ViewMarkers.Set(float64(markers))
	}
	if c.ViewOverlays != nil {
		c.ViewOverlays.Set(float64(overlays))
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimulatorCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
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
