package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplanner/internal/model"
)

func TestMemoryTasks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.PutTasks(ctx, []model.Task{{ID: "a", Weight: 1}, {ID: "b", Weight: 2}}))

	_, err := m.GetTask(ctx, "zz")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetTasks(ctx, []string{"b", "zz", "a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestMemoryPlanVersioning(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p, err := m.CreatePlan(ctx, model.RoutePlan{Status: model.PlanDraft, Tasks: []string{"a"}})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	assert.Equal(t, 1, p.Version)

	p.Title = "v2"
	p2, err := m.UpdatePlan(ctx, p, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Version)

	_, err = m.UpdatePlan(ctx, p, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	p3, err := m.UpdatePlan(ctx, p, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, p3.Version)

	_, err = m.UpdatePlan(ctx, model.RoutePlan{ID: "nope"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p, err := m.CreatePlan(ctx, model.RoutePlan{Status: model.PlanDraft, Tasks: []string{"a"}})
	require.NoError(t, err)
	p.Tasks[0] = "mutated"

	got, err := m.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Tasks[0])
}

func createPlans(t *testing.T, m *Memory, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		status := model.PlanDraft
		if i%2 == 1 {
			status = model.PlanApproved
		}
		p, err := m.CreatePlan(context.Background(), model.RoutePlan{Status: status})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return ids
}

func TestMemoryListPlansPaginationAndFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	createPlans(t, m, 5)

	page, next, err := m.ListPlans(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotEmpty(t, next)

	seen := len(page)
	for next != "" {
		page, next, err = m.ListPlans(ctx, "", next, 2)
		require.NoError(t, err)
		seen += len(page)
	}
	assert.Equal(t, 5, seen)

	drafts, next, err := m.ListPlans(ctx, model.PlanDraft, "", 10)
	require.NoError(t, err)
	assert.Len(t, drafts, 3)
	assert.Empty(t, next)
	for _, d := range drafts {
		assert.Equal(t, model.PlanDraft, d.Status)
	}
}

func TestMemoryListPlansCursorOfDeletedPlan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ids := createPlans(t, m, 4)

	page, next, err := m.ListPlans(ctx, "", "", 2)
	require.NoError(t, err)
	require.Equal(t, ids[1], next)
	require.Equal(t, ids[0], page[0].ID)

	require.NoError(t, m.DeletePlan(ctx, next))

	page, next, err = m.ListPlans(ctx, "", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)
	assert.Empty(t, next)
}

func TestMemoryListPlansUnknownCursor(t *testing.T) {
	m := NewMemory()
	createPlans(t, m, 3)

	page, next, err := m.ListPlans(context.Background(), "", "never-issued", 10)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)
}

func TestMemoryDeletePlan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p, err := m.CreatePlan(ctx, model.RoutePlan{Status: model.PlanDraft})
	require.NoError(t, err)

	require.NoError(t, m.DeletePlan(ctx, p.ID))
	assert.ErrorIs(t, m.DeletePlan(ctx, p.ID), ErrNotFound)

	items, _, err := m.ListPlans(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}
