package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"routeplanner/internal/metrics"
	"routeplanner/internal/telemetry"
)

// HTTPClient posts problems to {BaseURL}/solve.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type response struct {
	Enabled              *bool      `json:"enabled"`
	Routes               [][]string `json:"routes"`
	TotalDistanceKm      float64    `json:"totalDistanceKm"`
	TotalDurationMinutes float64    `json:"totalDurationMinutes"`
	Warnings             []string   `json:"warnings"`
}

func (c *HTTPClient) Solve(ctx context.Context, req Request) (sol Solution, err error) {
	ctx, span := telemetry.Start(ctx, "solver.solve")
	span.SetAttributes(attribute.Int("solver.nodes", len(req.Tasks)))
	start := time.Now()
	defer func() {
		metrics.SolverLatency.Observe(time.Since(start).Seconds())
		result := "ok"
		if k := KindOf(err); k != "" {
			result = string(k)
		}
		metrics.SolverCalls.WithLabelValues(result).Inc()
		telemetry.End(span, err)
	}()

	if c.BaseURL == "" {
		return Solution{}, fail(FailureDisabled, errors.New("no solver url configured"))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Solution{}, fail(FailureBadResponse, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/solve", bytes.NewReader(body))
	if err != nil {
		return Solution{}, fail(FailureTransport, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Solution{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Solution{}, fail(FailureTransport, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if ctx.Err() != nil {
			return Solution{}, classifyTransport(ctx, err)
		}
		return Solution{}, fail(FailureBadResponse, fmt.Errorf("decode response: %w", err))
	}
	return parse(r, req.depotID())
}

// parse turns a decoded response into a Solution or a typed failure.
func parse(r response, depotID string) (Solution, error) {
	if r.Enabled == nil || !*r.Enabled {
		return Solution{}, fail(FailureDisabled, errors.New("solver reported disabled"))
	}
	sol := Solution{
		TotalDistanceKm:      r.TotalDistanceKm,
		TotalDurationMinutes: r.TotalDurationMinutes,
		Warnings:             r.Warnings,
	}
	for _, route := range r.Routes {
		ids := make([]string, 0, len(route))
		for _, id := range route {
			if id == "" || id == depotID {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			sol.Routes = append(sol.Routes, ids)
		}
	}
	if len(sol.Routes) == 0 {
		return Solution{}, fail(FailureNoRoutes, errors.New("solver returned no routes"))
	}
	return sol, nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fail(FailureTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fail(FailureTimeout, err)
	}
	return fail(FailureTransport, err)
}
