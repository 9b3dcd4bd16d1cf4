// Package plans manages route plans: derived stops and metrics, the
// draft → approved → completed workflow, and change events.
package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"routeplanner/internal/events"
	"routeplanner/internal/geo"
	"routeplanner/internal/matrix"
	"routeplanner/internal/metrics"
	"routeplanner/internal/model"
	"routeplanner/internal/store"
	"routeplanner/internal/telemetry"
)

// maxWriteAttempts bounds reload-and-retry when a plan changes under an
// unpinned write.
const maxWriteAttempts = 3

type Manager struct {
	plans  store.PlanStore
	tasks  store.TaskStore
	bus    events.Bus
	speed  float64
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

func WithAverageSpeed(kmph float64) Option    { return func(m *Manager) { m.speed = matrix.ClampSpeed(kmph) } }
func WithClock(now func() time.Time) Option   { return func(m *Manager) { m.now = now } }
func WithLogger(l *slog.Logger) Option        { return func(m *Manager) { m.logger = l } }
func WithTaskStore(ts store.TaskStore) Option { return func(m *Manager) { m.tasks = ts } }

func NewManager(plans store.PlanStore, bus events.Bus, opts ...Option) *Manager {
	m := &Manager{
		plans:  plans,
		bus:    bus,
		speed:  matrix.DefaultSpeedKmph,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, fn := range opts {
		fn(m)
	}
	return m
}

type CreateOptions struct {
	Title       string
	Notes       string
	SuggestedBy string
	Method      string
	Depot       *model.Coordinates
	// ReferenceDay anchors absolute task windows; defaults to the day of the
	// earliest window, or today.
	ReferenceDay     time.Time
	DepartureMinutes int
}

type PlanFilter struct {
	Status string
	Cursor string
	Limit  int
}

type PlanPage struct {
	Items      []model.RoutePlan `json:"items"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// PlanUpdate is a partial update. Nil fields are left unchanged; a non-nil
// empty Routes clears the plan. A positive ExpectedVersion must match.
type PlanUpdate struct {
	Title           *string            `json:"title,omitempty"`
	Notes           *string            `json:"notes,omitempty"`
	Routes          []model.RouteInput `json:"routes,omitempty"`
	ExpectedVersion int                `json:"expectedVersion,omitempty"`
}

func (m *Manager) CreateDraftFromInputs(ctx context.Context, inputs []model.RouteInput, opts CreateOptions, hints map[string]model.TaskHint) (_ *model.RoutePlan, err error) {
	ctx, span := telemetry.Start(ctx, "plans.create")
	defer func() { telemetry.End(span, err) }()

	routes, err := m.buildRoutes(ctx, inputs, hints)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	now := m.now()
	plan := model.RoutePlan{
		Title:            opts.Title,
		Status:           model.PlanDraft,
		SuggestedBy:      opts.SuggestedBy,
		Method:           opts.Method,
		Notes:            opts.Notes,
		Depot:            opts.Depot,
		ReferenceDay:     referenceDay(opts.ReferenceDay, routes, now),
		DepartureMinutes: max(0, opts.DepartureMinutes),
		Routes:           routes,
		CreatedAt:        now,
	}
	if plan.Title == "" {
		plan.Title = "Route plan " + plan.ReferenceDay.Format("2006-01-02")
	}
	recompute(&plan, m.speed)

	saved, err := m.plans.CreatePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	span.SetAttributes(attribute.String("plan.id", saved.ID), attribute.Int("plan.routes", len(saved.Routes)))
	m.logger.Info("route plan created", "plan_id", saved.ID, "routes", len(saved.Routes), "tasks", len(saved.Tasks), "method", saved.Method)
	m.publish(ctx, events.TypePlanUpdated, events.ReasonCreated, &saved)
	return &saved, nil
}

func (m *Manager) ListPlans(ctx context.Context, f PlanFilter) (PlanPage, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return PlanPage{}, ErrInvalidStatus
	}
	items, next, err := m.plans.ListPlans(ctx, f.Status, f.Cursor, f.Limit)
	if err != nil {
		return PlanPage{}, fmt.Errorf("list plans: %w", err)
	}
	for i := range items {
		recompute(&items[i], m.speed)
	}
	return PlanPage{Items: items, NextCursor: next}, nil
}

// GetPlan returns nil, nil when the plan does not exist.
func (m *Manager) GetPlan(ctx context.Context, id string) (*model.RoutePlan, error) {
	p, err := m.load(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	return p, nil
}

func (m *Manager) UpdatePlan(ctx context.Context, id string, upd PlanUpdate) (_ *model.RoutePlan, err error) {
	ctx, span := telemetry.Start(ctx, "plans.update")
	span.SetAttributes(attribute.String("plan.id", id))
	defer func() { telemetry.End(span, err) }()

	return m.mutate(ctx, id, upd.ExpectedVersion, func(p *model.RoutePlan) error {
		if upd.Title != nil {
			p.Title = *upd.Title
		}
		if upd.Notes != nil {
			p.Notes = *upd.Notes
		}
		if upd.Routes != nil {
			routes, err := m.buildRoutes(ctx, upd.Routes, existingHints(p))
			if err != nil {
				return err
			}
			p.Routes = routes
		}
		return nil
	})
}

func (m *Manager) UpdatePlanStatus(ctx context.Context, id, status, actorID string) (_ *model.RoutePlan, err error) {
	ctx, span := telemetry.Start(ctx, "plans.update_status")
	span.SetAttributes(attribute.String("plan.id", id), attribute.String("plan.status", status))
	defer func() { telemetry.End(span, err) }()

	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	return m.mutate(ctx, id, 0, func(p *model.RoutePlan) error {
		if !CanTransition(p.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
		}
		now := m.now()
		switch status {
		case model.PlanApproved:
			p.ApprovedBy, p.ApprovedAt = actorID, &now
		case model.PlanCompleted:
			p.CompletedBy, p.CompletedAt = actorID, &now
		}
		p.Status = status
		return nil
	})
}

// mutate applies change to the stored plan and writes it back guarded by the
// version it was read at. A pinned version surfaces conflicts to the caller;
// otherwise the plan is reloaded and change runs again on the fresh copy.
func (m *Manager) mutate(ctx context.Context, id string, pinned int, change func(*model.RoutePlan) error) (*model.RoutePlan, error) {
	for attempt := 1; ; attempt++ {
		p, err := m.load(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		if err := change(p); err != nil {
			return nil, err
		}
		expected := pinned
		if expected <= 0 {
			expected = p.Version
		}
		saved, err := m.save(ctx, p, expected)
		if errors.Is(err, store.ErrVersionConflict) && pinned <= 0 && attempt < maxWriteAttempts {
			m.logger.Debug("plan changed concurrently, retrying", "plan_id", id, "attempt", attempt)
			continue
		}
		return saved, err
	}
}

// RemovePlan reports false when the plan did not exist.
func (m *Manager) RemovePlan(ctx context.Context, id string) (bool, error) {
	err := m.plans.DeletePlan(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete plan: %w", err)
	}
	m.logger.Info("route plan removed", "plan_id", id)
	m.publish(ctx, events.TypePlanRemoved, "", &model.RoutePlan{ID: id})
	return true, nil
}

// Subscribe streams plan events until cancel is called.
func (m *Manager) Subscribe(ctx context.Context) (<-chan events.Event, func(), error) {
	return m.bus.Subscribe(ctx)
}

func (m *Manager) load(ctx context.Context, id string) (*model.RoutePlan, error) {
	p, err := m.plans.GetPlan(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	recompute(&p, m.speed)
	return &p, nil
}

func (m *Manager) save(ctx context.Context, p *model.RoutePlan, expectedVersion int) (*model.RoutePlan, error) {
	recompute(p, m.speed)
	saved, err := m.plans.UpdatePlan(ctx, *p, expectedVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	m.publish(ctx, events.TypePlanUpdated, events.ReasonUpdated, &saved)
	return &saved, nil
}

func (m *Manager) publish(ctx context.Context, typ, reason string, p *model.RoutePlan) {
	evt := events.Event{Type: typ, Reason: reason, PlanID: p.ID, Timestamp: m.now()}
	if typ != events.TypePlanRemoved {
		evt.Plan = p
	}
	metrics.PlanEvents.WithLabelValues(typ, reason).Inc()
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.Warn("plan event not published", "plan_id", p.ID, "type", typ, "error", err)
	}
}

// buildRoutes resolves route inputs into route tasks, preferring hints and
// looking up the rest in the task store. Tasks without coordinates and
// routes left empty are dropped.
func (m *Manager) buildRoutes(ctx context.Context, inputs []model.RouteInput, hints map[string]model.TaskHint) ([]model.Route, error) {
	var missing []string
	for _, in := range inputs {
		for _, id := range in.TaskIDs {
			if _, ok := hints[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	resolved := make(map[string]model.TaskHint, len(hints)+len(missing))
	for id, h := range hints {
		resolved[id] = h
	}
	if len(missing) > 0 && m.tasks != nil {
		found, err := m.tasks.GetTasks(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load tasks: %w", err)
		}
		for _, t := range found {
			resolved[t.ID] = HintFromTask(t)
		}
	}

	routes := make([]model.Route, 0, len(inputs))
	for i, in := range inputs {
		r := model.Route{
			ID:        uuid.New().String(),
			Order:     in.Order,
			VehicleID: in.VehicleID,
			DriverID:  in.DriverID,
			Notes:     in.Notes,
		}
		if r.Order <= 0 {
			r.Order = i + 1
		}
		used := map[string]bool{}
		for _, id := range in.TaskIDs {
			h, ok := resolved[id]
			if !ok || used[id] {
				if !ok {
					m.logger.Warn("skipping unknown task in route", "task_id", id)
				}
				continue
			}
			if h.Start == nil {
				h.Start = h.Finish
			}
			if h.Start == nil || !geo.Finite(*h.Start) {
				m.logger.Warn("skipping task without coordinates", "task_id", id)
				continue
			}
			used[id] = true
			r.Tasks = append(r.Tasks, routeTask(id, h))
		}
		if len(r.Tasks) > 0 {
			routes = append(routes, r)
		}
	}
	return routes, nil
}

func routeTask(id string, h model.TaskHint) model.RouteTask {
	rt := model.RouteTask{
		TaskID:         id,
		Start:          h.Start,
		Finish:         h.Finish,
		Address:        h.Address,
		FinishAddress:  h.FinishAddress,
		DistanceKm:     h.DistanceKm,
		Weight:         max(0, h.Weight),
		ServiceMinutes: max(0, h.ServiceMinutes),
		WindowStart:    h.WindowStart,
		WindowEnd:      h.WindowEnd,
	}
	if rt.DistanceKm <= 0 && h.Finish != nil && geo.Finite(*h.Finish) {
		rt.DistanceKm = roundKm(geo.Meters(*h.Start, *h.Finish))
	}
	return rt
}

// HintFromTask converts a stored task into the data a route needs.
func HintFromTask(t model.Task) model.TaskHint {
	h := model.TaskHint{
		Start:          t.Start,
		Finish:         t.Finish,
		Address:        t.Address,
		FinishAddress:  t.FinishAddress,
		Weight:         t.Weight,
		ServiceMinutes: t.ServiceMinutes,
		WindowStart:    t.WindowStart,
		WindowEnd:      t.WindowEnd,
	}
	if t.Start != nil && t.Finish != nil {
		h.DistanceKm = roundKm(geo.Meters(*t.Start, *t.Finish))
	}
	return h
}

// HintsFromTaskPoints turns optimizer input into hints, anchoring minute
// windows on day.
func HintsFromTaskPoints(tasks []model.TaskPoint, day time.Time) map[string]model.TaskHint {
	day = midnight(day)
	out := make(map[string]model.TaskHint, len(tasks))
	for _, t := range tasks {
		c := t.Coordinates
		h := model.TaskHint{Start: &c, Weight: t.Weight, ServiceMinutes: t.ServiceMinutes}
		if t.TimeWindow != nil {
			ws := day.Add(time.Duration(t.TimeWindow.StartMin) * time.Minute)
			we := day.Add(time.Duration(t.TimeWindow.EndMin) * time.Minute)
			h.WindowStart, h.WindowEnd = &ws, &we
		}
		out[t.ID] = h
	}
	return out
}

func existingHints(p *model.RoutePlan) map[string]model.TaskHint {
	out := map[string]model.TaskHint{}
	for _, r := range p.Routes {
		for _, rt := range r.Tasks {
			out[rt.TaskID] = model.TaskHint{
				Start:          rt.Start,
				Finish:         rt.Finish,
				Address:        rt.Address,
				FinishAddress:  rt.FinishAddress,
				DistanceKm:     rt.DistanceKm,
				Weight:         rt.Weight,
				ServiceMinutes: rt.ServiceMinutes,
				WindowStart:    rt.WindowStart,
				WindowEnd:      rt.WindowEnd,
			}
		}
	}
	return out
}

func referenceDay(explicit time.Time, routes []model.Route, now time.Time) time.Time {
	if !explicit.IsZero() {
		return midnight(explicit)
	}
	var earliest *time.Time
	for _, r := range routes {
		for _, rt := range r.Tasks {
			if rt.WindowStart != nil && (earliest == nil || rt.WindowStart.Before(*earliest)) {
				earliest = rt.WindowStart
			}
		}
	}
	if earliest != nil {
		return midnight(*earliest)
	}
	return midnight(now)
}
