package opt

import (
	"math"

	"routeplanner/internal/matrix"
	"routeplanner/internal/model"
)

// RouteResult summarizes one vehicle route.
type RouteResult struct {
	TaskIDs    []string `json:"taskIds"`
	Load       float64  `json:"load"`
	EtaMinutes int      `json:"etaMinutes"`
	DistanceKm float64  `json:"distanceKm"`
}

// ComputeRouteMetrics walks depot -> sequence -> depot over the matrix.
// The depot is matrix index 0 and tasks[i] is index i+1. Ids that are not
// in tasks are skipped; a task is counted once even if repeated.
func ComputeRouteMetrics(sequence []string, depot model.TaskPoint, tasks []model.TaskPoint, m matrix.Matrix) RouteResult {
	index := make(map[string]int, len(tasks)+1)
	for i, t := range tasks {
		index[t.ID] = i + 1
	}
	index[depot.ID] = 0

	path := make([]int, 0, len(sequence)+2)
	for _, id := range sequence {
		if i, ok := index[id]; ok {
			path = append(path, i)
		}
	}
	if len(path) == 0 || path[0] != 0 {
		path = append([]int{0}, path...)
	}
	if path[len(path)-1] != 0 {
		path = append(path, 0)
	}

	res := RouteResult{TaskIDs: []string{}}
	visited := make(map[int]bool, len(path))
	var meters, seconds float64
	for k := 1; k < len(path); k++ {
		from, to := path[k-1], path[k]
		meters += cell(m.Distances, from, to)
		seconds += cell(m.Durations, from, to)
		if to == 0 || visited[to] {
			continue
		}
		visited[to] = true
		t := tasks[to-1]
		seconds += float64(t.ServiceMinutes) * 60
		res.TaskIDs = append(res.TaskIDs, t.ID)
		res.Load += t.Weight
	}

	res.EtaMinutes = max(0, int(math.Round(seconds/60)))
	res.DistanceKm = roundKm(meters)
	return res
}

// cell reads a matrix entry, treating missing or invalid values as 0.
func cell(rows [][]float64, i, j int) float64 {
	if i < 0 || i >= len(rows) || j < 0 || j >= len(rows[i]) {
		return 0
	}
	v := rows[i][j]
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func roundKm(meters float64) float64 {
	return math.Round(meters/100) / 10
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
