// Package routing talks to an OSRM-compatible routing service: the table
// endpoint for travel matrices and the trip endpoint for stop reordering.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"routeplanner/internal/model"
	"routeplanner/internal/telemetry"
)

// ErrNotConfigured is returned when no base URL is set.
var ErrNotConfigured = errors.New("routing: base url not configured")

type Config struct {
	BaseURL     string
	Profile     string
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	MaxAttempts int
	Backoff     time.Duration
}

type Client struct {
	baseURL     string
	profile     string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		profile:     cfg.Profile,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     lim,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      logger,
	}
}

// Table holds raw matrix cells as returned by the provider; unreachable
// pairs come back as nil.
type Table struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

type tableResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Table
}

// Table fetches the distance (meters) and duration (seconds) matrix for
// points in one request.
func (c *Client) Table(ctx context.Context, points []model.Coordinates) (_ Table, err error) {
	if c.baseURL == "" {
		return Table{}, ErrNotConfigured
	}
	ctx, span := telemetry.Start(ctx, "routing.table")
	span.SetAttributes(attribute.Int("routing.points", len(points)))
	defer func() { telemetry.End(span, err) }()

	url := fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance,duration", c.baseURL, c.profile, encodePoints(points))
	resp, err := c.doWithRetry(ctx, "table", url)
	if err != nil {
		return Table{}, fmt.Errorf("table request: %w", err)
	}
	defer resp.Body.Close()

	var tr tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Table{}, fmt.Errorf("decode table response: %w", err)
	}
	if tr.Code != "" && tr.Code != "Ok" {
		return Table{}, fmt.Errorf("table response code %s: %s", tr.Code, tr.Message)
	}
	return tr.Table, nil
}

type tripResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Waypoints []struct {
		WaypointIndex int `json:"waypoint_index"`
		TripsIndex    int `json:"trips_index"`
	} `json:"waypoints"`
}

// Trip asks the provider for a visiting order of points that starts at the
// first point and does not return. The result lists input indices in
// visiting order.
func (c *Client) Trip(ctx context.Context, points []model.Coordinates) (_ []int, err error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	ctx, span := telemetry.Start(ctx, "routing.trip")
	span.SetAttributes(attribute.Int("routing.points", len(points)))
	defer func() { telemetry.End(span, err) }()

	url := fmt.Sprintf("%s/trip/v1/%s/%s?roundtrip=false&source=first&destination=any", c.baseURL, c.profile, encodePoints(points))
	resp, err := c.doWithRetry(ctx, "trip", url)
	if err != nil {
		return nil, fmt.Errorf("trip request: %w", err)
	}
	defer resp.Body.Close()

	var tr tripResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode trip response: %w", err)
	}
	if tr.Code != "" && tr.Code != "Ok" {
		return nil, fmt.Errorf("trip response code %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Waypoints) != len(points) {
		return nil, fmt.Errorf("trip returned %d waypoints for %d points", len(tr.Waypoints), len(points))
	}

	order := make([]int, len(points))
	seen := make([]bool, len(points))
	for i := range order {
		order[i] = i
	}
	for _, wp := range tr.Waypoints {
		if wp.TripsIndex != 0 {
			return nil, errors.New("trip split into several trips")
		}
		if wp.WaypointIndex < 0 || wp.WaypointIndex >= len(points) || seen[wp.WaypointIndex] {
			return nil, fmt.Errorf("trip returned invalid waypoint index %d", wp.WaypointIndex)
		}
		seen[wp.WaypointIndex] = true
	}
	sort.SliceStable(order, func(a, b int) bool {
		return tr.Waypoints[order[a]].WaypointIndex < tr.Waypoints[order[b]].WaypointIndex
	})
	return order, nil
}

// encodePoints renders "lng,lat;lng,lat;..." as the provider expects.
func encodePoints(points []model.Coordinates) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatFloat(p.Lng, 'f', 6, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', 6, 64))
	}
	return b.String()
}
