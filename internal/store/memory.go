package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"routeplanner/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]model.Task      // id -> task
	plans map[string]model.RoutePlan // id -> plan
	order []string                   // plan ids in creation order
	seq   map[string]int             // id -> creation sequence, kept after delete
	last  int
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: map[string]model.Task{},
		plans: map[string]model.RoutePlan{},
		seq:   map[string]int{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) PutTasks(ctx context.Context, tasks []model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		m.tasks[t.ID] = t
	}
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetTasks(ctx context.Context, ids []string) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := m.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) CreatePlan(ctx context.Context, p model.RoutePlan) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1
	m.plans[p.ID] = clonePlan(p)
	m.order = append(m.order, p.ID)
	m.last++
	m.seq[p.ID] = m.last
	return clonePlan(p), nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.RoutePlan{}, ErrNotFound
	}
	return clonePlan(p), nil
}

func (m *Memory) UpdatePlan(ctx context.Context, p model.RoutePlan, expectedVersion int) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.plans[p.ID]
	if !ok {
		return model.RoutePlan{}, ErrNotFound
	}
	if expectedVersion > 0 && cur.Version != expectedVersion {
		return model.RoutePlan{}, ErrVersionConflict
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = m.now()
	p.Version = cur.Version + 1
	m.plans[p.ID] = clonePlan(p)
	return clonePlan(p), nil
}

func (m *Memory) DeletePlan(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return ErrNotFound
	}
	delete(m.plans, id)
	for i, pid := range m.order {
		if pid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListPlans pages through plans in creation order; the cursor is the id of
// the last plan of the previous page. A cursor whose plan was deleted still
// resumes after it; an unknown cursor yields an empty page.
func (m *Memory) ListPlans(ctx context.Context, status, cursor string, limit int) ([]model.RoutePlan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.RoutePlan{}
	start := 0
	if cursor != "" {
		after, ok := m.seq[cursor]
		if !ok {
			return out, "", nil
		}
		start = len(m.order)
		for i, id := range m.order {
			if m.seq[id] > after {
				start = i
				break
			}
		}
	}
	var next string
	for i := start; i < len(m.order); i++ {
		p := m.plans[m.order[i]]
		if status != "" && p.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, clonePlan(p))
	}
	return out, next, nil
}

// clonePlan copies the slices a caller could mutate.
func clonePlan(p model.RoutePlan) model.RoutePlan {
	p.Tasks = append([]string(nil), p.Tasks...)
	routes := make([]model.Route, len(p.Routes))
	for i, r := range p.Routes {
		r.Tasks = append([]model.RouteTask(nil), r.Tasks...)
		r.Stops = append([]model.Stop(nil), r.Stops...)
		routes[i] = r
	}
	p.Routes = routes
	return p
}
