package model

import "time"

// Minutes in a day; time windows are expressed as minutes from midnight.
const DayMinutes = 1440

// DepotID is the reserved id of the synthetic depot point.
const DepotID = "__depot__"

type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type TimeWindow struct {
	StartMin int `json:"startMin"`
	EndMin   int `json:"endMin"`
}

// FullDay is the default window for points without an explicit one.
func FullDay() TimeWindow { return TimeWindow{StartMin: 0, EndMin: DayMinutes} }

// TaskPoint is a delivery task as seen by the optimizer.
type TaskPoint struct {
	ID             string      `json:"id"`
	Coordinates    Coordinates `json:"coordinates"`
	Weight         float64     `json:"weight"`
	ServiceMinutes int         `json:"serviceMinutes"`
	TimeWindow     *TimeWindow `json:"timeWindow,omitempty"`
}

// Window returns the task window, or a full day when unset.
func (t TaskPoint) Window() TimeWindow {
	if t.TimeWindow == nil {
		return FullDay()
	}
	return *t.TimeWindow
}

// Task is a stored delivery task.
type Task struct {
	ID             string       `json:"id" yaml:"id"`
	Title          string       `json:"title,omitempty" yaml:"title"`
	Address        string       `json:"address,omitempty" yaml:"address"`
	FinishAddress  string       `json:"finishAddress,omitempty" yaml:"finishAddress"`
	Start          *Coordinates `json:"start,omitempty" yaml:"start"`
	Finish         *Coordinates `json:"finish,omitempty" yaml:"finish"`
	Weight         float64      `json:"weight" yaml:"weight"`
	ServiceMinutes int          `json:"serviceMinutes" yaml:"serviceMinutes"`
	WindowStart    *time.Time   `json:"windowStart,omitempty" yaml:"windowStart"`
	WindowEnd      *time.Time   `json:"windowEnd,omitempty" yaml:"windowEnd"`
}

// TaskHint carries per-task data a caller already has so the plan manager
// does not need to look the task up again.
type TaskHint struct {
	Start          *Coordinates `json:"start,omitempty"`
	Finish         *Coordinates `json:"finish,omitempty"`
	Address        string       `json:"address,omitempty"`
	FinishAddress  string       `json:"finishAddress,omitempty"`
	DistanceKm     float64      `json:"distanceKm"`
	Weight         float64      `json:"weight"`
	ServiceMinutes int          `json:"serviceMinutes"`
	WindowStart    *time.Time   `json:"windowStart,omitempty"`
	WindowEnd      *time.Time   `json:"windowEnd,omitempty"`
}

// RouteInput describes one route of a plan being created or replaced.
type RouteInput struct {
	Order     int      `json:"order"`
	TaskIDs   []string `json:"taskIds"`
	VehicleID string   `json:"vehicleId,omitempty"`
	DriverID  string   `json:"driverId,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

const (
	PlanDraft     = "draft"
	PlanApproved  = "approved"
	PlanCompleted = "completed"
)

type RoutePlan struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Status           string       `json:"status"`
	SuggestedBy      string       `json:"suggestedBy,omitempty"`
	Method           string       `json:"method,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	ApprovedBy       string       `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time   `json:"approvedAt,omitempty"`
	CompletedBy      string       `json:"completedBy,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	Depot            *Coordinates `json:"depot,omitempty"`
	ReferenceDay     time.Time    `json:"referenceDay"`
	DepartureMinutes int          `json:"departureMinutes"`
	Metrics          PlanMetrics  `json:"metrics"`
	Routes           []Route      `json:"routes"`
	Tasks            []string     `json:"tasks"`
	Version          int          `json:"version"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

type Route struct {
	ID        string       `json:"id"`
	Order     int          `json:"order"`
	VehicleID string       `json:"vehicleId,omitempty"`
	DriverID  string       `json:"driverId,omitempty"`
	Tasks     []RouteTask  `json:"tasks"`
	Stops     []Stop       `json:"stops"`
	Metrics   RouteMetrics `json:"metrics"`
	Notes     string       `json:"notes,omitempty"`
}

type RouteTask struct {
	TaskID         string       `json:"taskId"`
	Order          int          `json:"order"`
	Start          *Coordinates `json:"start,omitempty"`
	Finish         *Coordinates `json:"finish,omitempty"`
	Address        string       `json:"address,omitempty"`
	FinishAddress  string       `json:"finishAddress,omitempty"`
	DistanceKm     float64      `json:"distanceKm"`
	Weight         float64      `json:"weight"`
	ServiceMinutes int          `json:"serviceMinutes"`
	WindowStart    *time.Time   `json:"windowStart,omitempty"`
	WindowEnd      *time.Time   `json:"windowEnd,omitempty"`
}

const (
	StopStart  = "start"
	StopFinish = "finish"
)

type Stop struct {
	Order              int         `json:"order"`
	Kind               string      `json:"kind"`
	TaskID             string      `json:"taskId"`
	Coordinates        Coordinates `json:"coordinates"`
	EtaMinutes         int         `json:"etaMinutes"`
	Load               float64     `json:"load"`
	DelayMinutes       int         `json:"delayMinutes"`
	WindowStartMinutes *int        `json:"windowStartMinutes,omitempty"`
	WindowEndMinutes   *int        `json:"windowEndMinutes,omitempty"`
}

type RouteMetrics struct {
	DistanceKm   float64 `json:"distanceKm"`
	EtaMinutes   int     `json:"etaMinutes"`
	Load         float64 `json:"load"`
	Tasks        int     `json:"tasks"`
	Stops        int     `json:"stops"`
	DelayMinutes int     `json:"delayMinutes"`
}

type PlanMetrics struct {
	TotalDistanceKm   float64 `json:"totalDistanceKm"`
	TotalRoutes       int     `json:"totalRoutes"`
	TotalTasks        int     `json:"totalTasks"`
	TotalStops        int     `json:"totalStops"`
	TotalEtaMinutes   int     `json:"totalEtaMinutes"`
	TotalLoad         float64 `json:"totalLoad"`
	TotalDelayMinutes int     `json:"totalDelayMinutes"`
	LateStops         int     `json:"lateStops"`
}
