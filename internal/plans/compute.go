package plans

import (
	"math"
	"time"

	"routeplanner/internal/geo"
	"routeplanner/internal/model"
)

// recompute derives stops, route metrics and plan metrics from the route
// tasks. It is deterministic for a given plan and speed.
func recompute(p *model.RoutePlan, speedKmph float64) {
	var pm model.PlanMetrics
	seen := map[string]bool{}
	p.Tasks = []string{}
	for i := range p.Routes {
		r := &p.Routes[i]
		computeRoute(r, p, speedKmph)
		for _, rt := range r.Tasks {
			if !seen[rt.TaskID] {
				seen[rt.TaskID] = true
				p.Tasks = append(p.Tasks, rt.TaskID)
			}
		}
		pm.TotalDistanceKm += r.Metrics.DistanceKm
		pm.TotalStops += r.Metrics.Stops
		pm.TotalEtaMinutes += r.Metrics.EtaMinutes
		pm.TotalLoad += r.Metrics.Load
		pm.TotalDelayMinutes += r.Metrics.DelayMinutes
		for _, s := range r.Stops {
			if s.DelayMinutes > 0 {
				pm.LateStops++
			}
		}
	}
	pm.TotalDistanceKm = math.Round(pm.TotalDistanceKm*10) / 10
	pm.TotalRoutes = len(p.Routes)
	pm.TotalTasks = len(p.Tasks)
	p.Metrics = pm
}

// computeRoute walks origin -> (start, finish) per task -> origin. The
// origin is the plan depot, or the first located task when there is none.
func computeRoute(r *model.Route, p *model.RoutePlan, speedKmph float64) {
	r.Stops = make([]model.Stop, 0, 2*len(r.Tasks))
	r.Metrics = model.RouteMetrics{Tasks: len(r.Tasks)}
	if len(r.Tasks) == 0 {
		return
	}

	var origin model.Coordinates
	if p.Depot != nil {
		origin = *p.Depot
	} else {
		for _, rt := range r.Tasks {
			if rt.Start != nil {
				origin = *rt.Start
				break
			}
			if rt.Finish != nil {
				origin = *rt.Finish
				break
			}
		}
	}
	pos := origin
	var meters, seconds, load float64
	delay := 0

	travel := func(to model.Coordinates) {
		d := geo.Meters(pos, to)
		if math.IsNaN(d) || d < 0 {
			d = 0
		}
		meters += d
		seconds += geo.TravelSeconds(d, speedKmph)
		pos = to
	}

	for i := range r.Tasks {
		rt := &r.Tasks[i]
		rt.Order = i + 1
		if rt.Start == nil {
			rt.Start = rt.Finish
		}
		if rt.Start == nil {
			continue
		}
		start := *rt.Start
		finish := start
		if rt.Finish != nil {
			finish = *rt.Finish
		}
		ws := windowMinutes(rt.WindowStart, p.ReferenceDay)
		we := windowMinutes(rt.WindowEnd, p.ReferenceDay)

		travel(start)
		load += rt.Weight
		r.Stops = append(r.Stops, stopAt(len(r.Stops)+1, model.StopStart, rt.TaskID, start, p.DepartureMinutes, seconds, load, ws, we))

		travel(finish)
		fs := stopAt(len(r.Stops)+1, model.StopFinish, rt.TaskID, finish, p.DepartureMinutes, seconds, load, ws, we)
		r.Stops = append(r.Stops, fs)
		delay += fs.DelayMinutes
		seconds += float64(rt.ServiceMinutes) * 60
	}
	travel(origin)

	r.Metrics.DistanceKm = roundKm(meters)
	r.Metrics.EtaMinutes = max(0, int(math.Round(seconds/60)))
	r.Metrics.Load = load
	r.Metrics.Stops = len(r.Stops)
	r.Metrics.DelayMinutes = delay
}

func stopAt(order int, kind, taskID string, c model.Coordinates, departure int, seconds, load float64, ws, we *int) model.Stop {
	eta := max(0, departure+int(math.Round(seconds/60)))
	s := model.Stop{
		Order:              order,
		Kind:               kind,
		TaskID:             taskID,
		Coordinates:        c,
		EtaMinutes:         eta,
		Load:               load,
		WindowStartMinutes: ws,
		WindowEndMinutes:   we,
	}
	if we != nil {
		s.DelayMinutes = max(0, eta-*we)
	}
	return s
}

// windowMinutes converts an absolute time to minutes after midnight of day.
func windowMinutes(t *time.Time, day time.Time) *int {
	if t == nil {
		return nil
	}
	m := int(math.Floor(t.Sub(day).Minutes()))
	return &m
}

// midnight truncates t to the start of its UTC day.
func midnight(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func roundKm(meters float64) float64 {
	return math.Round(meters/100) / 10
}
