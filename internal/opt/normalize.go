package opt

import (
	"math"
	"strings"

	"routeplanner/internal/geo"
	"routeplanner/internal/model"
)

// Normalize drops unusable tasks and clamps the rest into valid ranges.
// Input order is kept; for duplicate ids the first occurrence wins.
func Normalize(tasks []model.TaskPoint) []model.TaskPoint {
	out := make([]model.TaskPoint, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" || id == model.DepotID || !geo.Finite(t.Coordinates) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		t.ID = id
		t.Weight = clampWeight(t.Weight)
		if t.ServiceMinutes < 0 {
			t.ServiceMinutes = 0
		}
		w := normalizeWindow(t.TimeWindow)
		t.TimeWindow = &w
		out = append(out, t)
	}
	return out
}

// ResolveDepot returns the caller's depot when its coordinates are usable,
// otherwise a synthetic depot placed on the first task.
func ResolveDepot(depot *model.TaskPoint, first model.TaskPoint) model.TaskPoint {
	if depot != nil && geo.Finite(depot.Coordinates) {
		d := *depot
		if strings.TrimSpace(d.ID) == "" {
			d.ID = model.DepotID
		}
		d.Weight = 0
		if d.ServiceMinutes < 0 {
			d.ServiceMinutes = 0
		}
		w := normalizeWindow(d.TimeWindow)
		d.TimeWindow = &w
		return d
	}
	w := model.FullDay()
	return model.TaskPoint{
		ID:          model.DepotID,
		Coordinates: first.Coordinates,
		TimeWindow:  &w,
	}
}

func clampWeight(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0
	}
	return w
}

func normalizeWindow(tw *model.TimeWindow) model.TimeWindow {
	if tw == nil {
		return model.FullDay()
	}
	start := clampMinute(tw.StartMin)
	end := clampMinute(tw.EndMin)
	if end < start {
		end = start
	}
	return model.TimeWindow{StartMin: start, EndMin: end}
}

func clampMinute(m int) int {
	if m < 0 {
		return 0
	}
	if m > model.DayMinutes {
		return model.DayMinutes
	}
	return m
}
