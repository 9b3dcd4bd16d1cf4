package plans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplanner/internal/events"
	"routeplanner/internal/model"
	"routeplanner/internal/store"
)

var day = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC) }

type harness struct {
	mgr   *Manager
	mem   *store.Memory
	bus   *events.Broker
	evts  <-chan events.Event
	close func()
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mem := store.NewMemory()
	bus := events.NewBroker()
	ch, cancel, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(cancel)
	opts = append([]Option{WithTaskStore(mem), WithClock(fixedClock), WithAverageSpeed(60)}, opts...)
	return &harness{mgr: NewManager(mem, bus, opts...), mem: mem, bus: bus, evts: ch, close: cancel}
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.evts:
			out = append(out, e)
		default:
			return out
		}
	}
}

func coords(lat, lng float64) *model.Coordinates { return &model.Coordinates{Lat: lat, Lng: lng} }

func at(minutes int) *time.Time {
	t := day.Add(time.Duration(minutes) * time.Minute)
	return &t
}

func TestCreateDraftBuildsStopsAndMetrics(t *testing.T) {
	h := newHarness(t)
	hints := map[string]model.TaskHint{
		"a": {Start: coords(0, 0.1), Weight: 2},
		"b": {Start: coords(0, 0.2), Finish: coords(0, 0.3), Weight: 3, ServiceMinutes: 10},
		"c": {Start: coords(0, -0.1), Weight: 1},
	}
	inputs := []model.RouteInput{
		{Order: 1, TaskIDs: []string{"a", "b"}},
		{Order: 2, TaskIDs: []string{"c"}},
	}
	plan, err := h.mgr.CreateDraftFromInputs(context.Background(), inputs,
		CreateOptions{SuggestedBy: "u1", Method: "angle", Depot: coords(0, 0), ReferenceDay: day}, hints)
	require.NoError(t, err)
	assert.Equal(t, model.PlanDraft, plan.Status)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "u1", plan.SuggestedBy)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Tasks)

	r := plan.Routes[0]
	require.Len(t, r.Stops, 4)
	kinds := []string{model.StopStart, model.StopFinish, model.StopStart, model.StopFinish}
	loads := []float64{2, 2, 5, 5}
	for i, s := range r.Stops {
		assert.Equal(t, kinds[i], s.Kind, "stop %d", i)
		assert.Equal(t, loads[i], s.Load, "stop %d", i)
		assert.Equal(t, i+1, s.Order, "stop %d", i)
		assert.GreaterOrEqual(t, s.EtaMinutes, 0, "stop %d", i)
		assert.Zero(t, s.DelayMinutes, "stop %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, s.EtaMinutes, r.Stops[i-1].EtaMinutes, "eta must not decrease")
		}
	}
	// 0.1 degree of longitude on the equator at 60 km/h is ~11 minutes.
	assert.Equal(t, 11, r.Stops[0].EtaMinutes)
	assert.Equal(t, 11.1, r.Tasks[1].DistanceKm)
	// depot -> 0.3 -> depot is ~66.7 km plus 10 service minutes
	assert.Equal(t, 66.7, r.Metrics.DistanceKm)
	assert.Equal(t, 77, r.Metrics.EtaMinutes)
	assert.Equal(t, 5.0, r.Metrics.Load)

	m := plan.Metrics
	assert.Equal(t, 2, m.TotalRoutes)
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 6, m.TotalStops)
	assert.Equal(t, 6.0, m.TotalLoad)
	assert.Equal(t, 88.9, m.TotalDistanceKm)

	evts := h.drain()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypePlanUpdated, evts[0].Type)
	assert.Equal(t, events.ReasonCreated, evts[0].Reason)
	assert.NotNil(t, evts[0].Plan)
}

func TestDelayAgainstWindowEnd(t *testing.T) {
	h := newHarness(t)
	hints := map[string]model.TaskHint{
		"a": {Start: coords(0, 0.1), WindowStart: at(0), WindowEnd: at(5)},
	}
	plan, err := h.mgr.CreateDraftFromInputs(context.Background(), []model.RouteInput{{TaskIDs: []string{"a"}}},
		CreateOptions{Depot: coords(0, 0), ReferenceDay: day}, hints)
	require.NoError(t, err)
	for _, s := range plan.Routes[0].Stops {
		assert.Equal(t, 11, s.EtaMinutes)
		assert.Equal(t, 6, s.DelayMinutes)
		require.NotNil(t, s.WindowStartMinutes)
		require.NotNil(t, s.WindowEndMinutes)
		assert.Equal(t, 0, *s.WindowStartMinutes)
		assert.Equal(t, 5, *s.WindowEndMinutes)
	}
	assert.Equal(t, 2, plan.Metrics.LateStops)
	assert.Equal(t, 6, plan.Metrics.TotalDelayMinutes)

	departing, err := h.mgr.CreateDraftFromInputs(context.Background(), []model.RouteInput{{TaskIDs: []string{"a"}}},
		CreateOptions{Depot: coords(0, 0), ReferenceDay: day, DepartureMinutes: 480}, map[string]model.TaskHint{
			"a": {Start: coords(0, 0.1), WindowEnd: at(480)},
		})
	require.NoError(t, err)
	s := departing.Routes[0].Stops[0]
	assert.Equal(t, 491, s.EtaMinutes)
	assert.Equal(t, 11, s.DelayMinutes)
}

func TestReferenceDayDefaultsToEarliestWindow(t *testing.T) {
	h := newHarness(t)
	ws := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	plan, err := h.mgr.CreateDraftFromInputs(context.Background(), []model.RouteInput{{TaskIDs: []string{"a"}}},
		CreateOptions{}, map[string]model.TaskHint{"a": {Start: coords(1, 1), WindowStart: &ws}})
	require.NoError(t, err)
	assert.True(t, plan.ReferenceDay.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)), "reference day = %v", plan.ReferenceDay)
	require.NotNil(t, plan.Routes[0].Stops[0].WindowStartMinutes)
	assert.Equal(t, 540, *plan.Routes[0].Stops[0].WindowStartMinutes)
}

func TestCreateLooksUpMissingHints(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.PutTasks(context.Background(), []model.Task{
		{ID: "s1", Start: coords(0, 0.1), Finish: coords(0, 0.2), Weight: 4, Address: "Main st 1"},
		{ID: "nocoords", Weight: 1},
	}))
	plan, err := h.mgr.CreateDraftFromInputs(context.Background(),
		[]model.RouteInput{{TaskIDs: []string{"s1", "nocoords", "ghost"}}}, CreateOptions{ReferenceDay: day}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, plan.Tasks)

	rt := plan.Routes[0].Tasks[0]
	assert.Equal(t, "Main st 1", rt.Address)
	assert.Equal(t, 4.0, rt.Weight)
	assert.Equal(t, 11.1, rt.DistanceKm)

	_, err = h.mgr.CreateDraftFromInputs(context.Background(),
		[]model.RouteInput{{TaskIDs: []string{"ghost"}}}, CreateOptions{}, nil)
	assert.ErrorIs(t, err, ErrNoRoutes)
}

func createSimple(t *testing.T, h *harness) *model.RoutePlan {
	t.Helper()
	plan := createOn(t, h.mgr)
	h.drain()
	return plan
}

func createOn(t *testing.T, mgr *Manager) *model.RoutePlan {
	t.Helper()
	plan, err := mgr.CreateDraftFromInputs(context.Background(),
		[]model.RouteInput{{TaskIDs: []string{"a", "b"}}},
		CreateOptions{ReferenceDay: day},
		map[string]model.TaskHint{
			"a": {Start: coords(50, 30), Weight: 1, WindowEnd: at(30)},
			"b": {Start: coords(50.05, 30.05), Weight: 2},
		})
	require.NoError(t, err)
	return plan
}

func TestUpdatePlanStatusApproved(t *testing.T) {
	h := newHarness(t)
	plan := createSimple(t, h)

	got, err := h.mgr.UpdatePlanStatus(context.Background(), plan.ID, model.PlanApproved, "boss")
	require.NoError(t, err)
	assert.Equal(t, model.PlanApproved, got.Status)
	assert.Equal(t, "boss", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(fixedClock()))

	evts := h.drain()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypePlanUpdated, evts[0].Type)
	assert.Equal(t, events.ReasonUpdated, evts[0].Reason)
	assert.Equal(t, model.PlanApproved, evts[0].Plan.Status)

	done, err := h.mgr.UpdatePlanStatus(context.Background(), plan.ID, model.PlanCompleted, "driver")
	require.NoError(t, err)
	assert.Equal(t, "driver", done.CompletedBy)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "boss", done.ApprovedBy)
}

func TestUpdatePlanStatusRejectsBackwardsAndUnknown(t *testing.T) {
	h := newHarness(t)
	plan := createSimple(t, h)
	ctx := context.Background()

	_, err := h.mgr.UpdatePlanStatus(ctx, plan.ID, model.PlanCompleted, "x")
	require.NoError(t, err, "draft -> completed")

	_, err = h.mgr.UpdatePlanStatus(ctx, plan.ID, model.PlanDraft, "x")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.mgr.UpdatePlanStatus(ctx, plan.ID, "archived", "x")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = h.mgr.UpdatePlanStatus(ctx, plan.ID, model.PlanCompleted, "y")
	assert.NoError(t, err, "re-stamping the same status")
}

func TestGetPlanIsIdempotent(t *testing.T) {
	h := newHarness(t)
	plan := createSimple(t, h)

	first, err := h.mgr.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := h.mgr.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Routes, second.Routes)
	assert.Equal(t, plan.Metrics, first.Metrics)
}

func TestRemovePlanRoundTrip(t *testing.T) {
	h := newHarness(t)
	plan := createSimple(t, h)

	ok, err := h.mgr.RemovePlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := h.mgr.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	evts := h.drain()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypePlanRemoved, evts[0].Type)
	assert.Equal(t, plan.ID, evts[0].PlanID)
	assert.Nil(t, evts[0].Plan)

	ok, err = h.mgr.RemovePlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingPlanReturnsNil(t *testing.T) {
	h := newHarness(t)
	title := "x"

	p, err := h.mgr.UpdatePlan(context.Background(), "nope", PlanUpdate{Title: &title})
	assert.NoError(t, err)
	assert.Nil(t, p)

	p, err = h.mgr.UpdatePlanStatus(context.Background(), "nope", model.PlanApproved, "x")
	assert.NoError(t, err)
	assert.Nil(t, p)

	assert.Empty(t, h.drain(), "no events expected for missing plans")
}

func TestUpdatePlanRoutesAndVersion(t *testing.T) {
	h := newHarness(t)
	plan := createSimple(t, h)
	require.NoError(t, h.mem.PutTasks(context.Background(), []model.Task{{ID: "c", Start: coords(50.1, 30.1), Weight: 7}}))

	notes := "swap"
	got, err := h.mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{
		Notes:           &notes,
		Routes:          []model.RouteInput{{TaskIDs: []string{"b"}}, {TaskIDs: []string{"a", "c"}}},
		ExpectedVersion: plan.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, "swap", got.Notes)
	assert.Equal(t, 2, got.Metrics.TotalRoutes)
	assert.Equal(t, 10.0, got.Metrics.TotalLoad)
	assert.Equal(t, plan.Version+1, got.Version)
	assert.Equal(t, []string{"b", "a", "c"}, got.Tasks)

	evts := h.drain()
	require.Len(t, evts, 1)
	assert.Equal(t, events.ReasonUpdated, evts[0].Reason)

	_, err = h.mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{Notes: &notes, ExpectedVersion: plan.Version})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	cleared, err := h.mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{Routes: []model.RouteInput{}})
	require.NoError(t, err)
	assert.Empty(t, cleared.Routes)
	assert.Empty(t, cleared.Tasks)
	assert.Zero(t, cleared.Metrics.TotalStops)
}

// racingStore lets another writer change a plan right before the manager
// writes it back.
type racingStore struct {
	*store.Memory
	interleave func(ctx context.Context, id string)
	always     bool
	writes     int
}

func (s *racingStore) UpdatePlan(ctx context.Context, p model.RoutePlan, expectedVersion int) (model.RoutePlan, error) {
	s.writes++
	if s.interleave != nil {
		f := s.interleave
		if !s.always {
			s.interleave = nil
		}
		f(ctx, p.ID)
	}
	return s.Memory.UpdatePlan(ctx, p, expectedVersion)
}

func completedElsewhere(mem *store.Memory) func(context.Context, string) {
	return func(ctx context.Context, id string) {
		p, err := mem.GetPlan(ctx, id)
		if err != nil {
			return
		}
		p.Status = model.PlanCompleted
		p.CompletedBy = "other"
		_, _ = mem.UpdatePlan(ctx, p, 0)
	}
}

func newRacing(t *testing.T) (*Manager, *racingStore, *model.RoutePlan) {
	t.Helper()
	mem := store.NewMemory()
	rs := &racingStore{Memory: mem}
	mgr := NewManager(rs, events.NewBroker(), WithClock(fixedClock), WithAverageSpeed(60))
	return mgr, rs, createOn(t, mgr)
}

func TestStatusChangeRechecksAfterConcurrentWrite(t *testing.T) {
	mgr, rs, plan := newRacing(t)
	rs.interleave = completedElsewhere(rs.Memory)

	_, err := mgr.UpdatePlanStatus(context.Background(), plan.ID, model.PlanApproved, "boss")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := rs.Memory.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, stored.Status)
	assert.Equal(t, "other", stored.CompletedBy)
	assert.Empty(t, stored.ApprovedBy)
}

func TestUpdateKeepsConcurrentStatusChange(t *testing.T) {
	mgr, rs, plan := newRacing(t)
	rs.interleave = completedElsewhere(rs.Memory)

	title := "renamed"
	got, err := mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, model.PlanCompleted, got.Status)
	assert.Equal(t, "other", got.CompletedBy)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, 2, rs.writes)
}

func TestPinnedVersionSurfacesConflict(t *testing.T) {
	mgr, rs, plan := newRacing(t)
	rs.interleave = completedElsewhere(rs.Memory)

	title := "renamed"
	_, err := mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{Title: &title, ExpectedVersion: plan.Version})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Equal(t, 1, rs.writes)
}

func TestWriteRetriesAreBounded(t *testing.T) {
	mgr, rs, plan := newRacing(t)
	rs.always = true
	rs.interleave = func(ctx context.Context, id string) {
		p, err := rs.Memory.GetPlan(ctx, id)
		if err == nil {
			_, _ = rs.Memory.UpdatePlan(ctx, p, 0)
		}
	}

	title := "renamed"
	_, err := mgr.UpdatePlan(context.Background(), plan.ID, PlanUpdate{Title: &title})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Equal(t, maxWriteAttempts, rs.writes)
}

type brokenStore struct {
	*store.Memory
}

var errDown = errors.New("db down")

func (brokenStore) GetPlan(context.Context, string) (model.RoutePlan, error) {
	return model.RoutePlan{}, errDown
}
func (brokenStore) CreatePlan(context.Context, model.RoutePlan) (model.RoutePlan, error) {
	return model.RoutePlan{}, errDown
}
func (brokenStore) DeletePlan(context.Context, string) error { return errDown }

func TestPersistenceErrorsPropagate(t *testing.T) {
	mgr := NewManager(brokenStore{store.NewMemory()}, events.NewBroker())
	ctx := context.Background()

	_, err := mgr.GetPlan(ctx, "x")
	assert.ErrorIs(t, err, errDown)

	_, err = mgr.RemovePlan(ctx, "x")
	assert.ErrorIs(t, err, errDown)

	_, err = mgr.CreateDraftFromInputs(ctx, []model.RouteInput{{TaskIDs: []string{"a"}}}, CreateOptions{},
		map[string]model.TaskHint{"a": {Start: coords(1, 1)}})
	assert.ErrorIs(t, err, errDown)
}

func TestListPlansFilters(t *testing.T) {
	h := newHarness(t)
	a := createSimple(t, h)
	createSimple(t, h)
	_, err := h.mgr.UpdatePlanStatus(context.Background(), a.ID, model.PlanApproved, "x")
	require.NoError(t, err)

	page, err := h.mgr.ListPlans(context.Background(), PlanFilter{Status: model.PlanApproved})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)

	_, err = h.mgr.ListPlans(context.Background(), PlanFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestHintsFromTaskPoints(t *testing.T) {
	tw := &model.TimeWindow{StartMin: 60, EndMin: 120}
	hints := HintsFromTaskPoints([]model.TaskPoint{{ID: "a", Coordinates: model.Coordinates{Lat: 1, Lng: 2}, Weight: 3, TimeWindow: tw}}, day.Add(5*time.Hour))
	h := hints["a"]
	require.NotNil(t, h.Start)
	assert.Equal(t, 2.0, h.Start.Lng)
	assert.Equal(t, 3.0, h.Weight)
	require.NotNil(t, h.WindowStart)
	require.NotNil(t, h.WindowEnd)
	assert.True(t, h.WindowStart.Equal(day.Add(time.Hour)))
	assert.True(t, h.WindowEnd.Equal(day.Add(2*time.Hour)))
}
