package plans

import (
	"errors"

	"routeplanner/internal/model"
)

var (
	ErrInvalidStatus     = errors.New("invalid plan status")
	ErrInvalidTransition = errors.New("invalid plan status transition")
	ErrNoRoutes          = errors.New("plan has no routable tasks")
)

// rank orders the workflow; transitions may only move forward.
var rank = map[string]int{
	model.PlanDraft:     0,
	model.PlanApproved:  1,
	model.PlanCompleted: 2,
}

func ValidStatus(s string) bool {
	_, ok := rank[s]
	return ok
}

// CanTransition allows staying in place (a re-stamp) or moving forward.
func CanTransition(from, to string) bool {
	f, ok := rank[from]
	if !ok {
		return ValidStatus(to)
	}
	t, ok := rank[to]
	return ok && t >= f
}
