// Package solver adapts an external capacitated VRP-with-time-windows solver
// service to a strict request/response contract.
package solver

import (
	"context"
	"errors"
	"fmt"
)

// Task is one node of the problem; the depot is the node at DepotIndex.
type Task struct {
	ID             string  `json:"id"`
	Demand         float64 `json:"demand"`
	ServiceMinutes int     `json:"service_minutes"`
	TimeWindow     [2]int  `json:"time_window"`
}

type Request struct {
	Tasks            []Task      `json:"tasks"`
	DistanceMatrix   [][]float64 `json:"distance_matrix"`
	TimeMatrix       [][]float64 `json:"time_matrix,omitempty"`
	VehicleCapacity  *float64    `json:"vehicle_capacity,omitempty"`
	VehicleCount     *int        `json:"vehicle_count,omitempty"`
	DepotIndex       int         `json:"depot_index"`
	TimeWindows      [][2]int    `json:"time_windows"`
	TimeLimitSeconds *int        `json:"time_limit_seconds,omitempty"`
}

// depotID returns the id of the depot node, or "" when the index is out of range.
func (r Request) depotID() string {
	if r.DepotIndex < 0 || r.DepotIndex >= len(r.Tasks) {
		return ""
	}
	return r.Tasks[r.DepotIndex].ID
}

// Solution is a successful solver answer. Routes hold task ids in visiting
// order without the depot; every route is non-empty.
type Solution struct {
	Routes               [][]string
	TotalDistanceKm      float64
	TotalDurationMinutes float64
	Warnings             []string
}

type FailureKind string

const (
	FailureDisabled    FailureKind = "disabled"
	FailureNoRoutes    FailureKind = "no_routes"
	FailureTransport   FailureKind = "transport"
	FailureTimeout     FailureKind = "timeout"
	FailureBadResponse FailureKind = "bad_response"
)

// FailureError is the only error type Solve implementations return.
type FailureError struct {
	Kind FailureKind
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return "solver " + string(e.Kind)
	}
	return fmt.Sprintf("solver %s: %v", e.Kind, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

func fail(kind FailureKind, err error) *FailureError {
	return &FailureError{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err, or "" when err is not a solver failure.
func KindOf(err error) FailureKind {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

type Solver interface {
	Solve(ctx context.Context, req Request) (Solution, error)
}

// Disabled is used when no solver endpoint is configured.
type Disabled struct{}

func (Disabled) Solve(context.Context, Request) (Solution, error) {
	return Solution{}, fail(FailureDisabled, errors.New("no solver configured"))
}
