// Package events fans route plan changes out to subscribers. Delivery is
// at most once: slow subscribers drop events instead of blocking publishers.
package events

import (
	"context"
	"time"

	"routeplanner/internal/model"
)

const (
	TypePlanUpdated = "route-plan.updated"
	TypePlanRemoved = "route-plan.removed"

	ReasonCreated = "created"
	ReasonUpdated = "updated"
)

type Event struct {
	Type      string           `json:"type"`
	Reason    string           `json:"reason,omitempty"`
	Plan      *model.RoutePlan `json:"plan,omitempty"`
	PlanID    string           `json:"planId"`
	Timestamp time.Time        `json:"timestamp"`
}

// Bus publishes plan events. The returned cancel func of Subscribe closes
// the channel and is safe to call more than once.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}
