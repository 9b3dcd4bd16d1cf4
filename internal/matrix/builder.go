// Package matrix builds square travel distance/duration matrices, asking the
// routing provider first and falling back to a great-circle estimate.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"routeplanner/internal/geo"
	"routeplanner/internal/metrics"
	"routeplanner/internal/model"
	"routeplanner/internal/routing"
)

const (
	ProviderExternal = "external"
	ProviderFallback = "fallback"

	DefaultSpeedKmph = 40.0
	MinSpeedKmph     = 10.0
	MaxSpeedKmph     = 150.0
)

// Provider returns a raw travel table for points in one batch.
type Provider interface {
	Table(ctx context.Context, points []model.Coordinates) (routing.Table, error)
}

// Matrix is indexed [from][to]; distances in meters, durations in seconds.
type Matrix struct {
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
	Provider  string      `json:"provider"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// Size is the side length of the matrix.
func (m Matrix) Size() int { return len(m.Distances) }

type Options struct {
	AverageSpeedKmph float64
	Timeout          time.Duration
}

type Builder struct {
	Provider       Provider
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

func NewBuilder(p Provider, timeout time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Provider: p, DefaultTimeout: timeout, Logger: logger}
}

// ClampSpeed bounds the average speed; non-positive or non-finite values
// use the default.
func ClampSpeed(kmph float64) float64 {
	if math.IsNaN(kmph) || math.IsInf(kmph, 0) || kmph <= 0 {
		return DefaultSpeedKmph
	}
	return math.Max(MinSpeedKmph, math.Min(MaxSpeedKmph, kmph))
}

// Build never fails: any provider problem produces a haversine matrix and a
// warning instead.
func (b *Builder) Build(ctx context.Context, points []model.Coordinates, opts Options) Matrix {
	speed := ClampSpeed(opts.AverageSpeedKmph)
	n := len(points)
	if n == 0 {
		return Matrix{Distances: [][]float64{}, Durations: [][]float64{}, Provider: ProviderExternal}
	}

	m, err := b.fromProvider(ctx, points, opts)
	if err == nil {
		metrics.MatrixBuilds.WithLabelValues(ProviderExternal).Inc()
		return m
	}

	b.logger().Warn("routing provider unavailable, using great-circle estimate",
		"points", n, "error", err)
	metrics.MatrixBuilds.WithLabelValues(ProviderFallback).Inc()
	fb := Fallback(points, speed)
	fb.Warnings = append(fb.Warnings, fmt.Sprintf("routing provider unavailable, using great-circle estimate: %v", err))
	return fb
}

func (b *Builder) fromProvider(ctx context.Context, points []model.Coordinates, opts Options) (Matrix, error) {
	if b.Provider == nil {
		return Matrix{}, errors.New("no routing provider configured")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tbl, err := b.Provider.Table(ctx, points)
	if err != nil {
		return Matrix{}, err
	}
	n := len(points)
	if !square(tbl.Distances, n) || !square(tbl.Durations, n) {
		return Matrix{}, fmt.Errorf("provider returned %dx? distances and %dx? durations for %d points",
			len(tbl.Distances), len(tbl.Durations), n)
	}

	m := Matrix{Distances: newSquare(n), Durations: newSquare(n), Provider: ProviderExternal}
	fixed := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var ok bool
			m.Distances[i][j], ok = sanitize(tbl.Distances[i][j])
			if !ok {
				fixed++
			}
			m.Durations[i][j], ok = sanitize(tbl.Durations[i][j])
			if !ok {
				fixed++
			}
		}
	}
	if fixed > 0 {
		m.Warnings = append(m.Warnings, fmt.Sprintf("routing provider returned %d invalid matrix cells, replaced with 0", fixed))
	}
	return m, nil
}

// Fallback computes a matrix from haversine distances at a constant speed.
func Fallback(points []model.Coordinates, speedKmph float64) Matrix {
	speed := ClampSpeed(speedKmph)
	n := len(points)
	m := Matrix{Distances: newSquare(n), Durations: newSquare(n), Provider: ProviderFallback}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d, _ := sanitize(ptr(geo.Meters(points[i], points[j])))
			m.Distances[i][j] = d
			m.Durations[i][j] = geo.TravelSeconds(d, speed)
		}
	}
	return m
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func square(rows [][]*float64, n int) bool {
	if len(rows) != n {
		return false
	}
	for _, r := range rows {
		if len(r) != n {
			return false
		}
	}
	return true
}

func newSquare(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	return out
}

// sanitize maps nil, non-finite and negative cells to 0.
func sanitize(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0, false
	}
	return *v, true
}

func ptr(v float64) *float64 { return &v }
