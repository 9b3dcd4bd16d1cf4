package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplanner/internal/events"
	"routeplanner/internal/model"
	"routeplanner/internal/plans"
	"routeplanner/internal/store"
)

func task(id string, lat, lng float64) model.Task {
	return model.Task{ID: id, Start: &model.Coordinates{Lat: lat, Lng: lng}, Weight: 1}
}

// compass points around the origin; the sweep order is S, E, N, W.
var compass = []model.Task{
	task("n", 1, 0),
	task("e", 0, 1),
	task("s", -1, 0),
	task("w", 0, -1),
}

func ids(group []model.Task) []string {
	out := make([]string, len(group))
	for i, t := range group {
		out[i] = t.ID
	}
	return out
}

func routeIDs(p *model.RoutePlan) [][]string {
	var out [][]string
	for _, r := range p.Routes {
		var ids []string
		for _, t := range r.Tasks {
			ids = append(ids, t.TaskID)
		}
		out = append(out, ids)
	}
	return out
}

type tripFunc func(ctx context.Context, points []model.Coordinates) ([]int, error)

func (f tripFunc) Trip(ctx context.Context, points []model.Coordinates) ([]int, error) {
	return f(ctx, points)
}

func newClusterer(t *testing.T, trip TripPlanner) *Clusterer {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.PutTasks(context.Background(), append(append([]model.Task(nil), compass...), model.Task{ID: "ghost", Weight: 5})))
	return &Clusterer{
		Tasks: mem,
		Plans: plans.NewManager(mem, events.NewBroker(), plans.WithTaskStore(mem)),
		Trip:  trip,
	}
}

func TestSweepOrdersByAngle(t *testing.T) {
	groups := Sweep(compass, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"s", "e"}, ids(groups[0]))
	assert.Equal(t, []string{"n", "w"}, ids(groups[1]))
}

func TestSweepClampsCount(t *testing.T) {
	assert.Len(t, Sweep(compass, 0), 1)
	assert.Len(t, Sweep(compass, -4), 1)
	// at most three groups; ceil(4/3) = 2 leaves two
	assert.Len(t, Sweep(compass, 10), 2)
	assert.Len(t, Sweep(compass[:1], 3), 1)
	assert.Nil(t, Sweep(nil, 2))
}

func TestSweepBreaksTiesByID(t *testing.T) {
	tied := []model.Task{task("b", 0, 2), task("a", 0, 1), task("c", 0, -1)}
	// centroid lng is 2/3, so a and b share angle 0
	groups := Sweep(tied, 1)
	assert.Equal(t, []string{"a", "b", "c"}, ids(groups[0]))
}

func TestOptimizeByTaskIDsSingleGroup(t *testing.T) {
	c := newClusterer(t, nil)
	plan, err := c.OptimizeByTaskIDs(context.Background(), []string{"n", "e", "s", "w", "ghost", "missing"}, 1, "", "actor-1")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, [][]string{{"s", "e", "n", "w"}}, routeIDs(plan))
	assert.Equal(t, MethodAngle, plan.Method)
	assert.Equal(t, "actor-1", plan.SuggestedBy)
	assert.Equal(t, model.PlanDraft, plan.Status)
	assert.Equal(t, 4.0, plan.Metrics.TotalLoad)
}

func TestOptimizeByTaskIDsTripReorders(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := newClusterer(t, tripFunc(func(_ context.Context, points []model.Coordinates) ([]int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		order := make([]int, len(points))
		for i := range order {
			order[i] = len(points) - 1 - i
		}
		return order, nil
	}))
	plan, err := c.OptimizeByTaskIDs(context.Background(), []string{"n", "e", "s", "w"}, 2, MethodTrip, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"e", "s"}, {"w", "n"}}, routeIDs(plan))
	assert.Equal(t, MethodTrip, plan.Method)
	assert.Equal(t, 2, calls)
}

func TestOptimizeByTaskIDsTripFailureKeepsOrder(t *testing.T) {
	c := newClusterer(t, tripFunc(func(context.Context, []model.Coordinates) ([]int, error) {
		return nil, errors.New("osrm down")
	}))
	plan, err := c.OptimizeByTaskIDs(context.Background(), []string{"n", "e", "s", "w"}, 2, MethodTrip, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"s", "e"}, {"n", "w"}}, routeIDs(plan))

	c.Trip = tripFunc(func(context.Context, []model.Coordinates) ([]int, error) { return []int{0, 0}, nil })
	plan, err = c.OptimizeByTaskIDs(context.Background(), []string{"n", "e", "s", "w"}, 2, MethodTrip, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"s", "e"}, {"n", "w"}}, routeIDs(plan))
}

func TestOptimizeByTaskIDsSkipsTripForSingletons(t *testing.T) {
	c := newClusterer(t, tripFunc(func(context.Context, []model.Coordinates) ([]int, error) {
		assert.Fail(t, "trip must not be called for a single task")
		return nil, nil
	}))
	plan, err := c.OptimizeByTaskIDs(context.Background(), []string{"n"}, 3, MethodTrip, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"n"}}, routeIDs(plan))
}

func TestOptimizeByTaskIDsNothingLocated(t *testing.T) {
	c := newClusterer(t, nil)
	plan, err := c.OptimizeByTaskIDs(context.Background(), []string{"ghost", "missing"}, 2, "", "")
	require.NoError(t, err)
	assert.Nil(t, plan)
}

type failingTasks struct{}

func (failingTasks) GetTask(context.Context, string) (model.Task, error) {
	return model.Task{}, errors.New("db down")
}
func (failingTasks) GetTasks(context.Context, []string) ([]model.Task, error) {
	return nil, errors.New("db down")
}

func TestOptimizeByTaskIDsPropagatesStoreErrors(t *testing.T) {
	c := &Clusterer{Tasks: failingTasks{}}
	_, err := c.OptimizeByTaskIDs(context.Background(), []string{"a"}, 1, "", "")
	assert.ErrorContains(t, err, "db down")
}
