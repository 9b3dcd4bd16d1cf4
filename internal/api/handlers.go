package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"routeplanner/internal/model"
	"routeplanner/internal/opt"
	"routeplanner/internal/plans"
	"routeplanner/internal/store"
)

type optimizeCoordinatesRequest struct {
	Tasks   []model.TaskPoint `json:"tasks" validate:"max=5000"`
	Options opt.Options       `json:"options"`
	// CreatePlan stores the result as a draft route plan.
	CreatePlan       bool   `json:"createPlan"`
	Title            string `json:"title" validate:"max=200"`
	Day              string `json:"day" validate:"omitempty,datetime=2006-01-02"`
	DepartureMinutes int    `json:"departureMinutes" validate:"gte=0,lte=1440"`
}

type optimizeCoordinatesResponse struct {
	opt.Result
	Plan *model.RoutePlan `json:"plan,omitempty"`
}

type optimizeTasksRequest struct {
	TaskIDs      []string `json:"taskIds" validate:"required,min=1,max=5000,dive,required"`
	DesiredCount int      `json:"desiredCount" validate:"gte=0"`
	Method       string   `json:"method" validate:"omitempty,oneof=angle trip"`
}

type statusRequest struct {
	Status  string `json:"status" validate:"required"`
	ActorID string `json:"actorId"`
}

// fail maps domain errors onto problem responses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, plans.ErrInvalidStatus):
		writeProblem(w, http.StatusBadRequest, "Invalid status", err.Error(), r.URL.Path)
	case errors.Is(err, plans.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Invalid status transition", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrVersionConflict):
		writeProblem(w, http.StatusConflict, "Version conflict", err.Error(), r.URL.Path)
	case errors.Is(err, plans.ErrNoRoutes):
		writeProblem(w, http.StatusUnprocessableEntity, "No routable tasks", err.Error(), r.URL.Path)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), r.URL.Path)
	}
}

func (s *Server) optimizeCoordinates(w http.ResponseWriter, r *http.Request) {
	var req optimizeCoordinatesRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := req.Options
	d := s.deps.Defaults
	if opts.AverageSpeedKmph == 0 {
		opts.AverageSpeedKmph = d.AverageSpeedKmph
	}
	if opts.TimeLimitSeconds == 0 {
		opts.TimeLimitSeconds = d.TimeLimitSeconds
	}
	opts.MatrixTimeout, opts.SolverTimeout = d.MatrixTimeout, d.SolverTimeout

	res := s.deps.Optimizer.OptimizeByCoordinates(r.Context(), req.Tasks, opts)
	out := optimizeCoordinatesResponse{Result: res}
	if !req.CreatePlan {
		writeJSON(w, http.StatusOK, out)
		return
	}

	day := time.Now().UTC()
	if req.Day != "" {
		day, _ = time.Parse("2006-01-02", req.Day)
	}
	inputs := make([]model.RouteInput, 0, len(res.Routes))
	for i, rr := range res.Routes {
		inputs = append(inputs, model.RouteInput{Order: i + 1, TaskIDs: rr.TaskIDs})
	}
	co := plans.CreateOptions{
		Title:            req.Title,
		SuggestedBy:      actorFrom(r),
		Method:           res.Method,
		ReferenceDay:     day,
		DepartureMinutes: req.DepartureMinutes,
	}
	if opts.Depot != nil {
		c := opts.Depot.Coordinates
		co.Depot = &c
	}
	// Hints come from the same normalized tasks the optimizer routed.
	hints := plans.HintsFromTaskPoints(opt.Normalize(req.Tasks), day)
	plan, err := s.deps.Plans.CreateDraftFromInputs(r.Context(), inputs, co, hints)
	switch {
	case errors.Is(err, plans.ErrNoRoutes):
		out.Warnings = append(out.Warnings, "no routes to store as a plan")
		writeJSON(w, http.StatusOK, out)
	case err != nil:
		s.fail(w, r, err)
	default:
		out.Plan = plan
		writeJSON(w, http.StatusCreated, out)
	}
}

func (s *Server) optimizeTasks(w http.ResponseWriter, r *http.Request) {
	var req optimizeTasksRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := s.deps.Clusterer.OptimizeByTaskIDs(r.Context(), req.TaskIDs, req.DesiredCount, req.Method, actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if plan == nil {
		writeJSON(w, http.StatusOK, map[string]any{"plan": nil})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"plan": plan})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := plans.PlanFilter{Status: q.Get("status"), Cursor: q.Get("cursor")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		f.Limit = n
	}
	page, err := s.deps.Plans.ListPlans(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []model.RoutePlan{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	plan, err := s.deps.Plans.GetPlan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if plan == nil {
		writeProblem(w, http.StatusNotFound, "Route plan not found", id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) updatePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var upd plans.PlanUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	plan, err := s.deps.Plans.UpdatePlan(r.Context(), id, upd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if plan == nil {
		writeProblem(w, http.StatusNotFound, "Route plan not found", id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) updatePlanStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = actorFrom(r)
	}
	plan, err := s.deps.Plans.UpdatePlanStatus(r.Context(), id, req.Status, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if plan == nil {
		writeProblem(w, http.StatusNotFound, "Route plan not found", id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.deps.Plans.RemovePlan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeProblem(w, http.StatusNotFound, "Route plan not found", id, r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
