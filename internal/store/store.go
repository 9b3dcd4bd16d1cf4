package store

import (
	"context"
	"errors"

	"routeplanner/internal/model"
)

// TaskStore looks up stored delivery tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (model.Task, error)
	// GetTasks returns the tasks that exist, in the order of ids; unknown ids are omitted.
	GetTasks(ctx context.Context, ids []string) ([]model.Task, error)
}

// PlanStore persists route plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan model.RoutePlan) (model.RoutePlan, error)
	GetPlan(ctx context.Context, id string) (model.RoutePlan, error)
	// UpdatePlan replaces the stored plan and bumps its version. A positive
	// expectedVersion must match the stored version.
	UpdatePlan(ctx context.Context, plan model.RoutePlan, expectedVersion int) (model.RoutePlan, error)
	DeletePlan(ctx context.Context, id string) error
	ListPlans(ctx context.Context, status, cursor string, limit int) (items []model.RoutePlan, nextCursor string, err error)
}

// Store is the persistence interface used by the service.
type Store interface {
	TaskStore
	PlanStore
	PutTasks(ctx context.Context, tasks []model.Task) error
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
