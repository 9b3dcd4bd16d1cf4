// Package opt turns a list of coordinate tasks into vehicle routes using the
// travel matrix and the external solver, with a deterministic fallback.
package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"routeplanner/internal/matrix"
	"routeplanner/internal/metrics"
	"routeplanner/internal/model"
	"routeplanner/internal/solver"
	"routeplanner/internal/telemetry"
)

const (
	MethodSolver    = "solver"
	MethodHeuristic = "heuristic"
	MethodNone      = "none"

	WarnNoTasks = "no tasks to route"
)

// MatrixBuilder produces an N×N travel matrix; it must not fail.
type MatrixBuilder interface {
	Build(ctx context.Context, points []model.Coordinates, opts matrix.Options) matrix.Matrix
}

// Options tune a single optimization call.
type Options struct {
	Depot            *model.TaskPoint `json:"depot,omitempty"`
	AverageSpeedKmph float64          `json:"averageSpeedKmph,omitempty"`
	VehicleCount     int              `json:"vehicleCount,omitempty"`
	VehicleCapacity  float64          `json:"vehicleCapacity,omitempty"`
	TimeLimitSeconds int              `json:"timeLimitSeconds,omitempty"`
	MatrixTimeout    time.Duration    `json:"-"`
	SolverTimeout    time.Duration    `json:"-"`
}

type Result struct {
	Routes          []RouteResult `json:"routes"`
	TotalLoad       float64       `json:"totalLoad"`
	TotalEtaMinutes int           `json:"totalEtaMinutes"`
	TotalDistanceKm float64       `json:"totalDistanceKm"`
	Warnings        []string      `json:"warnings"`
	Method          string        `json:"method"`
	Provider        string        `json:"provider,omitempty"`
}

// Optimizer holds the strategies used by one optimization. Values are
// cheap to copy; use With to get a variant with different strategies.
type Optimizer struct {
	matrix        MatrixBuilder
	solver        solver.Solver
	solverTimeout time.Duration
	logger        *slog.Logger
}

type Option func(*Optimizer)

func WithMatrixBuilder(b MatrixBuilder) Option { return func(o *Optimizer) { o.matrix = b } }
func WithSolver(s solver.Solver) Option        { return func(o *Optimizer) { o.solver = s } }
func WithLogger(l *slog.Logger) Option         { return func(o *Optimizer) { o.logger = l } }

// WithSolverTimeout sets the default bound on a solver call.
func WithSolverTimeout(d time.Duration) Option { return func(o *Optimizer) { o.solverTimeout = d } }

// New builds an Optimizer. Missing strategies default to a haversine-only
// matrix builder and a disabled solver.
func New(opts ...Option) Optimizer {
	o := Optimizer{solverTimeout: 30 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if o.matrix == nil {
		o.matrix = matrix.NewBuilder(nil, 0, o.logger)
	}
	if o.solver == nil {
		o.solver = solver.Disabled{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// With returns a copy of o with the given overrides applied.
func (o Optimizer) With(opts ...Option) Optimizer {
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// OptimizeByCoordinates never returns an error: every degraded path is
// reported in Result.Warnings.
func (o Optimizer) OptimizeByCoordinates(ctx context.Context, input []model.TaskPoint, opts Options) Result {
	ctx, span := telemetry.Start(ctx, "opt.optimize_by_coordinates")
	defer span.End()

	tasks := Normalize(input)
	span.SetAttributes(attribute.Int("opt.tasks", len(tasks)), attribute.Int("opt.dropped", len(input)-len(tasks)))
	if len(tasks) == 0 {
		metrics.Optimizations.WithLabelValues("coordinates", MethodNone).Inc()
		return Result{Routes: []RouteResult{}, Warnings: []string{WarnNoTasks}, Method: MethodNone}
	}

	depot := ResolveDepot(opts.Depot, tasks[0])
	for _, t := range tasks {
		if t.ID == depot.ID {
			depot.ID = model.DepotID
			break
		}
	}

	points := make([]model.Coordinates, 0, len(tasks)+1)
	points = append(points, depot.Coordinates)
	for _, t := range tasks {
		points = append(points, t.Coordinates)
	}
	m := o.matrix.Build(ctx, points, matrix.Options{
		AverageSpeedKmph: matrix.ClampSpeed(opts.AverageSpeedKmph),
		Timeout:          opts.MatrixTimeout,
	})
	var warnings []string
	warnings = append(warnings, m.Warnings...)

	sol, err := o.solve(ctx, buildRequest(depot, tasks, m, opts), opts)
	var res Result
	if err == nil {
		res, err = o.fromSolution(sol, depot, tasks, m)
	}
	if err != nil {
		o.logger.Info("solver unavailable, using heuristic route",
			"tasks", len(tasks), "kind", solver.KindOf(err), "error", err)
		res = heuristic(depot, tasks, m)
		res.Warnings = append(res.Warnings, fmt.Sprintf("solver unavailable (%v), using heuristic route in input order", err))
	}
	res.Warnings = append(warnings, res.Warnings...)
	res.Provider = m.Provider

	metrics.Optimizations.WithLabelValues("coordinates", res.Method).Inc()
	span.SetAttributes(attribute.String("opt.method", res.Method), attribute.Int("opt.routes", len(res.Routes)))
	return res
}

func (o Optimizer) solve(ctx context.Context, req solver.Request, opts Options) (solver.Solution, error) {
	timeout := opts.SolverTimeout
	if timeout <= 0 {
		timeout = o.solverTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.solver.Solve(ctx, req)
}

func buildRequest(depot model.TaskPoint, tasks []model.TaskPoint, m matrix.Matrix, opts Options) solver.Request {
	vehicles := opts.VehicleCount
	if vehicles <= 0 {
		vehicles = 1
	}
	req := solver.Request{
		Tasks:          make([]solver.Task, 0, len(tasks)+1),
		DistanceMatrix: m.Distances,
		TimeMatrix:     m.Durations,
		VehicleCount:   &vehicles,
		DepotIndex:     0,
		TimeWindows:    make([][2]int, 0, len(tasks)+1),
	}
	for _, p := range append([]model.TaskPoint{depot}, tasks...) {
		w := p.Window()
		tw := [2]int{w.StartMin, w.EndMin}
		req.Tasks = append(req.Tasks, solver.Task{ID: p.ID, Demand: p.Weight, ServiceMinutes: p.ServiceMinutes, TimeWindow: tw})
		req.TimeWindows = append(req.TimeWindows, tw)
	}
	req.Tasks[0].Demand = 0
	if opts.VehicleCapacity > 0 && !math.IsInf(opts.VehicleCapacity, 0) {
		c := opts.VehicleCapacity
		req.VehicleCapacity = &c
	}
	if opts.TimeLimitSeconds > 0 {
		l := opts.TimeLimitSeconds
		req.TimeLimitSeconds = &l
	}
	return req
}

func (o Optimizer) fromSolution(sol solver.Solution, depot model.TaskPoint, tasks []model.TaskPoint, m matrix.Matrix) (Result, error) {
	routes := make([]RouteResult, len(sol.Routes))
	var g errgroup.Group
	for i, seq := range sol.Routes {
		g.Go(func() error {
			routes[i] = ComputeRouteMetrics(seq, depot, tasks, m)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Routes: make([]RouteResult, 0, len(routes)), Method: MethodSolver}
	assigned := make(map[string]bool, len(tasks))
	var km float64
	var eta int
	for _, r := range routes {
		if len(r.TaskIDs) == 0 {
			continue
		}
		for _, id := range r.TaskIDs {
			assigned[id] = true
		}
		res.Routes = append(res.Routes, r)
		res.TotalLoad += r.Load
		km += r.DistanceKm
		eta += r.EtaMinutes
	}
	if len(res.Routes) == 0 {
		return Result{}, &solver.FailureError{Kind: solver.FailureNoRoutes, Err: fmt.Errorf("solver routes reference no known tasks")}
	}

	res.TotalDistanceKm = round1(km)
	if sol.TotalDistanceKm > 0 {
		res.TotalDistanceKm = round1(sol.TotalDistanceKm)
	}
	res.TotalEtaMinutes = eta
	if sol.TotalDurationMinutes > 0 {
		res.TotalEtaMinutes = int(math.Round(sol.TotalDurationMinutes))
	}

	for _, w := range sol.Warnings {
		res.Warnings = append(res.Warnings, "solver: "+w)
	}
	if unknown := countUnknown(sol.Routes, depot, tasks); unknown > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("solver returned %d unknown stop ids, ignored", unknown))
	}
	var missing []string
	for _, t := range tasks {
		if !assigned[t.ID] {
			missing = append(missing, t.ID)
		}
	}
	if len(missing) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("solver left %d tasks unassigned: %s", len(missing), strings.Join(missing, ", ")))
	}
	return res, nil
}

func countUnknown(routes [][]string, depot model.TaskPoint, tasks []model.TaskPoint) int {
	known := make(map[string]bool, len(tasks)+1)
	known[depot.ID] = true
	for _, t := range tasks {
		known[t.ID] = true
	}
	n := 0
	for _, r := range routes {
		for _, id := range r {
			if !known[id] {
				n++
			}
		}
	}
	return n
}

// heuristic visits every task once in input order on a single vehicle.
func heuristic(depot model.TaskPoint, tasks []model.TaskPoint, m matrix.Matrix) Result {
	seq := make([]string, len(tasks))
	for i, t := range tasks {
		seq[i] = t.ID
	}
	r := ComputeRouteMetrics(seq, depot, tasks, m)
	return Result{
		Routes:          []RouteResult{r},
		TotalLoad:       r.Load,
		TotalEtaMinutes: r.EtaMinutes,
		TotalDistanceKm: r.DistanceKm,
		Method:          MethodHeuristic,
	}
}
