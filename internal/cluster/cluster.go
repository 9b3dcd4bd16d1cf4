// Package cluster splits stored tasks into a few routes by sweeping the
// polar angle around their centroid, optionally reordering each group with
// the routing provider's trip service.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"routeplanner/internal/metrics"
	"routeplanner/internal/model"
	"routeplanner/internal/plans"
	"routeplanner/internal/store"
	"routeplanner/internal/telemetry"
)

const (
	MethodAngle = "angle"
	MethodTrip  = "trip"

	maxGroups = 3
)

// TripPlanner returns a visiting order for points as indices into the input.
type TripPlanner interface {
	Trip(ctx context.Context, points []model.Coordinates) ([]int, error)
}

// PlanCreator persists a draft plan built from route inputs.
type PlanCreator interface {
	CreateDraftFromInputs(ctx context.Context, inputs []model.RouteInput, opts plans.CreateOptions, hints map[string]model.TaskHint) (*model.RoutePlan, error)
}

type Clusterer struct {
	Tasks  store.TaskStore
	Plans  PlanCreator
	Trip   TripPlanner
	Logger *slog.Logger
}

// OptimizeByTaskIDs groups the located tasks among ids into at most
// desiredCount routes and stores them as a draft plan. It returns nil when
// no task can be routed.
func (c *Clusterer) OptimizeByTaskIDs(ctx context.Context, ids []string, desiredCount int, method, actorID string) (_ *model.RoutePlan, err error) {
	ctx, span := telemetry.Start(ctx, "cluster.optimize")
	defer func() { telemetry.End(span, err) }()

	loaded, err := c.Tasks.GetTasks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	tasks := make([]model.Task, 0, len(loaded))
	for _, t := range loaded {
		if t.Start != nil {
			tasks = append(tasks, t)
		}
	}
	span.SetAttributes(attribute.Int("cluster.requested", len(ids)), attribute.Int("cluster.located", len(tasks)))
	if len(tasks) == 0 {
		metrics.Optimizations.WithLabelValues("task_ids", "empty").Inc()
		return nil, nil
	}

	groups := Sweep(tasks, desiredCount)
	if method == MethodTrip {
		c.reorder(ctx, groups)
	}

	hints := make(map[string]model.TaskHint, len(tasks))
	for _, t := range tasks {
		hints[t.ID] = plans.HintFromTask(t)
	}
	inputs := make([]model.RouteInput, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		in := model.RouteInput{Order: len(inputs) + 1, TaskIDs: make([]string, len(g))}
		for i, t := range g {
			in.TaskIDs[i] = t.ID
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	if method == "" {
		method = MethodAngle
	}
	plan, err := c.Plans.CreateDraftFromInputs(ctx, inputs, plans.CreateOptions{SuggestedBy: actorID, Method: method}, hints)
	if err != nil {
		return nil, err
	}
	metrics.Optimizations.WithLabelValues("task_ids", method).Inc()
	return plan, nil
}

// Sweep sorts tasks by angle around their centroid and cuts the result into
// contiguous groups of ceil(n/k) tasks, k clamped to [1, min(3, n)].
func Sweep(tasks []model.Task, desiredCount int) [][]model.Task {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	k := min(max(desiredCount, 1), maxGroups, n)

	var cLat, cLng float64
	for _, t := range tasks {
		cLat += t.Start.Lat
		cLng += t.Start.Lng
	}
	cLat /= float64(n)
	cLng /= float64(n)

	sorted := append([]model.Task(nil), tasks...)
	angle := func(t model.Task) float64 { return math.Atan2(t.Start.Lat-cLat, t.Start.Lng-cLng) }
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := angle(sorted[i]), angle(sorted[j])
		if ai != aj {
			return ai < aj
		}
		return sorted[i].ID < sorted[j].ID
	})

	size := (n + k - 1) / k
	groups := make([][]model.Task, 0, k)
	for i := 0; i < n; i += size {
		groups = append(groups, sorted[i:min(i+size, n)])
	}
	return groups
}

// reorder asks the trip service for a visiting order per group. A failed
// group keeps its sweep order.
func (c *Clusterer) reorder(ctx context.Context, groups [][]model.Task) {
	if c.Trip == nil {
		return
	}
	var g errgroup.Group
	for gi, group := range groups {
		if len(group) < 2 {
			continue
		}
		g.Go(func() error {
			points := make([]model.Coordinates, len(group))
			for i, t := range group {
				points[i] = *t.Start
			}
			order, err := c.Trip.Trip(ctx, points)
			if err == nil {
				err = checkPermutation(order, len(group))
			}
			if err != nil {
				c.logger().Warn("trip reorder failed, keeping sweep order", "group", gi, "tasks", len(group), "error", err)
				return nil
			}
			out := make([]model.Task, len(group))
			for i, idx := range order {
				out[i] = group[idx]
			}
			groups[gi] = out
			return nil
		})
	}
	_ = g.Wait()
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("trip returned %d of %d points", len(order), n)
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return fmt.Errorf("trip returned invalid index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

func (c *Clusterer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
