package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/incident-simulator/internal/logging"
	"github.com/signalsfoundry/incident-simulator/model"
)

const (
	tracerName = "github.com/signalsfoundry/incident-simulator/internal/routing"

	// DefaultBaseURL is the public OpenRouteService endpoint.
	DefaultBaseURL = "https://api.openrouteservice.org"
	// DefaultProfile is the ORS routing profile used for emergency vehicles.
	DefaultProfile = "driving-car"

	maxResponseBytes = 16 << 20
)

var (
	// ErrRouteUnavailable is returned when the provider cannot supply a usable
	// route: transport failure, non-200 status or a malformed payload.
	ErrRouteUnavailable = errors.New("route unavailable")
	// ErrEmptyRoute is returned when the provider answers successfully with no
	// geometry. It matches ErrRouteUnavailable under errors.Is.
	ErrEmptyRoute = fmt.Errorf("%w: provider returned an empty route", ErrRouteUnavailable)
)

// MetricsRecorder receives one observation per provider request.
// kind is "route" or "distance"; outcome is "ok" or "error".
type MetricsRecorder interface {
	ObserveRouteFetch(kind, outcome string, d time.Duration)
}

// Client fetches driving directions from an OpenRouteService-compatible API.
//
// Each call issues exactly one request; there is no retry and no caching.
// The only timeout is whatever the configured http.Client enforces.
type Client struct {
	baseURL *url.URL
	apiKey  string
	profile string

	http    *http.Client
	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithProfile selects the ORS routing profile (default driving-car).
func WithProfile(profile string) Option {
	return func(c *Client) {
		if profile != "" {
			c.profile = profile
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a Client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse routing base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("routing base URL %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	c := &Client{
		baseURL: u,
		apiKey:  apiKey,
		profile: DefaultProfile,
		http:    http.DefaultClient,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchRoute returns the driving route from -> to. The result always has at
// least one point; otherwise the error wraps ErrRouteUnavailable.
func (c *Client) FetchRoute(ctx context.Context, from, to model.GeoPoint) (model.Route, error) {
	var route model.Route
	err := c.directions(ctx, "route", from, to, func(fc *geojson.FeatureCollection) (err error) {
		route, err = decodeRoute(fc)
		return err
	})
	if err != nil {
		return model.Route{}, err
	}
	return route, nil
}

// FetchDistance returns only the total driving distance from -> to in metres.
// It issues its own request and shares nothing with FetchRoute.
func (c *Client) FetchDistance(ctx context.Context, from, to model.GeoPoint) (float64, error) {
	var distance float64
	err := c.directions(ctx, "distance", from, to, func(fc *geojson.FeatureCollection) (err error) {
		if len(fc.Features) == 0 || fc.Features[0] == nil {
			return fmt.Errorf("%w: response has no features", ErrRouteUnavailable)
		}
		distance, err = segmentDistance(fc.Features[0].Properties)
		return err
	})
	if err != nil {
		return 0, err
	}
	return distance, nil
}

// directions performs the GET and hands the GeoJSON body to decode. kind only
// labels logs, spans and metrics; the recorded outcome includes decode errors.
func (c *Client) directions(ctx context.Context, kind string, from, to model.GeoPoint, decode func(*geojson.FeatureCollection) error) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ORS/directions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ors.profile", c.profile),
			attribute.String("ors.kind", kind),
			attribute.String("ors.start", coord(from)),
			attribute.String("ors.end", coord(to)),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if c.metrics != nil {
			c.metrics.ObserveRouteFetch(kind, outcome, time.Since(start))
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(from, to), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRouteUnavailable, err)
	}
	req.Header.Set("Accept", "application/json, application/geo+json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(ctx, "routing request failed", logging.String("kind", kind), logging.Err(err))
		return fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRouteUnavailable, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		c.log.Warn(ctx, "routing provider returned non-200",
			logging.String("kind", kind),
			logging.Int("status", resp.StatusCode),
			logging.String("body", snippet(body)),
		)
		return fmt.Errorf("%w: provider status %d", ErrRouteUnavailable, resp.StatusCode)
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRouteUnavailable, err)
	}
	c.log.Debug(ctx, "routing response decoded",
		logging.String("kind", kind),
		logging.Int("features", len(fc.Features)),
	)
	if err := decode(fc); err != nil {
		c.log.Warn(ctx, "routing response unusable", logging.String("kind", kind), logging.Err(err))
		return err
	}
	return nil
}

func (c *Client) requestURL(from, to model.GeoPoint) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/v2/directions/" + url.PathEscape(c.profile)

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("start", coord(from))
	q.Set("end", coord(to))
	u.RawQuery = q.Encode()
	return u.String()
}

// coord renders p in the provider's lon,lat order.
func coord(p model.GeoPoint) string {
	return strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

func decodeRoute(fc *geojson.FeatureCollection) (model.Route, error) {
	if len(fc.Features) == 0 || fc.Features[0] == nil {
		return model.Route{}, fmt.Errorf("%w: response has no features", ErrRouteUnavailable)
	}
	feature := fc.Features[0]

	var line orb.LineString
	switch g := feature.Geometry.(type) {
	case orb.LineString:
		line = g
	case nil:
		return model.Route{}, fmt.Errorf("%w: feature has no geometry", ErrRouteUnavailable)
	default:
		return model.Route{}, fmt.Errorf("%w: unexpected geometry %s", ErrRouteUnavailable, g.GeoJSONType())
	}

	distance, err := segmentDistance(feature.Properties)
	if err != nil {
		return model.Route{}, err
	}
	if len(line) == 0 {
		return model.Route{}, ErrEmptyRoute
	}

	points := make([]model.GeoPoint, 0, len(line))
	for _, pt := range line {
		p := model.GeoPoint{Lat: pt.Lat(), Lon: pt.Lon()}
		if err := p.Validate(); err != nil {
			return model.Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
		}
		points = append(points, p)
	}
	return model.Route{Points: points, TotalDistanceMeters: distance}, nil
}

// segmentDistance extracts properties.segments[0].distance.
func segmentDistance(props geojson.Properties) (float64, error) {
	segments, ok := props["segments"].([]interface{})
	if !ok || len(segments) == 0 {
		return 0, fmt.Errorf("%w: missing properties.segments", ErrRouteUnavailable)
	}
	first, ok := segments[0].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("%w: malformed properties.segments[0]", ErrRouteUnavailable)
	}
	distance, ok := first["distance"].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: missing segments[0].distance", ErrRouteUnavailable)
	}
	return distance, nil
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
