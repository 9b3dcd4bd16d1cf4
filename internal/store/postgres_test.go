package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplanner/internal/model"
)

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}

func TestCoordHelpers(t *testing.T) {
	lat, lng := coordArgs(nil)
	assert.Nil(t, lat)
	assert.Nil(t, lng)

	assert.Nil(t, coordFromNull(sql.NullFloat64{Float64: 1, Valid: true}, sql.NullFloat64{}), "half-null coords decode to nil")

	c := coordFromNull(sql.NullFloat64{Float64: 1, Valid: true}, sql.NullFloat64{Float64: 2, Valid: true})
	require.NotNil(t, c)
	assert.Equal(t, model.Coordinates{Lat: 1, Lng: 2}, *c)
}

func TestPlanJSONColumns(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := model.RoutePlan{
		ID:           "p1",
		Depot:        &model.Coordinates{Lat: 50, Lng: 30},
		ReferenceDay: now,
		Metrics:      model.PlanMetrics{TotalRoutes: 1, TotalTasks: 2},
		Routes:       []model.Route{{ID: "r1", Tasks: []model.RouteTask{{TaskID: "a"}, {TaskID: "b"}}}},
		Tasks:        []string{"a", "b"},
	}
	enc, err := encodePlan(p)
	require.NoError(t, err)

	var got model.RoutePlan
	require.NoError(t, decodePlanJSON(&got, []byte(enc.depot.(string)), []byte(enc.metrics), []byte(enc.routes), []byte(enc.tasks)))
	require.NotNil(t, got.Depot)
	assert.Equal(t, *p.Depot, *got.Depot)
	assert.Equal(t, p.Metrics, got.Metrics)
	assert.Len(t, got.Routes, 1)
	assert.Equal(t, p.Tasks, got.Tasks)

	empty, err := encodePlan(model.RoutePlan{})
	require.NoError(t, err)
	assert.Nil(t, empty.depot)
	assert.Equal(t, "[]", empty.routes)
	assert.Equal(t, "[]", empty.tasks)
}
