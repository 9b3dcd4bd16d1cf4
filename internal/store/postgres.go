package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeplanner/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id              text PRIMARY KEY,
    title           text,
    address         text,
    finish_address  text,
    start_lat       double precision,
    start_lng       double precision,
    finish_lat      double precision,
    finish_lng      double precision,
    weight          double precision NOT NULL DEFAULT 0,
    service_minutes integer NOT NULL DEFAULT 0,
    window_start    timestamptz,
    window_end      timestamptz
);
CREATE TABLE IF NOT EXISTS route_plans (
    id                text PRIMARY KEY,
    title             text NOT NULL DEFAULT '',
    status            text NOT NULL,
    suggested_by      text,
    method            text,
    notes             text,
    approved_by       text,
    approved_at       timestamptz,
    completed_by      text,
    completed_at      timestamptz,
    depot             jsonb,
    reference_day     timestamptz NOT NULL,
    departure_minutes integer NOT NULL DEFAULT 0,
    metrics           jsonb NOT NULL,
    routes            jsonb NOT NULL,
    task_ids          jsonb NOT NULL,
    version           integer NOT NULL DEFAULT 1,
    created_at        timestamptz NOT NULL,
    updated_at        timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS route_plans_status_idx ON route_plans (status, id);
`

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) PutTasks(ctx context.Context, tasks []model.Task) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		sLat, sLng := coordArgs(t.Start)
		fLat, fLng := coordArgs(t.Finish)
		_, err = tx.ExecContext(ctx, `INSERT INTO tasks (id, title, address, finish_address, start_lat, start_lng, finish_lat, finish_lng, weight, service_minutes, window_start, window_end)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
            ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, address=EXCLUDED.address, finish_address=EXCLUDED.finish_address,
                start_lat=EXCLUDED.start_lat, start_lng=EXCLUDED.start_lng, finish_lat=EXCLUDED.finish_lat, finish_lng=EXCLUDED.finish_lng,
                weight=EXCLUDED.weight, service_minutes=EXCLUDED.service_minutes, window_start=EXCLUDED.window_start, window_end=EXCLUDED.window_end`,
			t.ID, nullIfEmpty(t.Title), nullIfEmpty(t.Address), nullIfEmpty(t.FinishAddress), sLat, sLng, fLat, fLng,
			t.Weight, t.ServiceMinutes, timeArg(t.WindowStart), timeArg(t.WindowEnd))
		if err != nil {
			return fmt.Errorf("put task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

const taskColumns = `id, title, address, finish_address, start_lat, start_lng, finish_lat, finish_lng, weight, service_minutes, window_start, window_end`

func (p *Postgres) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) GetTasks(ctx context.Context, ids []string) ([]model.Task, error) {
	if len(ids) == 0 {
		return []model.Task{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]model.Task, len(ids))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(byID))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
			delete(byID, id)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (model.Task, error) {
	var t model.Task
	var title, addr, faddr sql.NullString
	var sLat, sLng, fLat, fLng sql.NullFloat64
	var ws, we sql.NullTime
	if err := s.Scan(&t.ID, &title, &addr, &faddr, &sLat, &sLng, &fLat, &fLng, &t.Weight, &t.ServiceMinutes, &ws, &we); err != nil {
		return model.Task{}, err
	}
	t.Title, t.Address, t.FinishAddress = title.String, addr.String, faddr.String
	t.Start = coordFromNull(sLat, sLng)
	t.Finish = coordFromNull(fLat, fLng)
	t.WindowStart = timeFromNull(ws)
	t.WindowEnd = timeFromNull(we)
	return t, nil
}

const planColumns = `id, title, status, suggested_by, method, notes, approved_by, approved_at, completed_by, completed_at,
    depot, reference_day, departure_minutes, metrics, routes, task_ids, version, created_at, updated_at`

func (p *Postgres) CreatePlan(ctx context.Context, plan model.RoutePlan) (model.RoutePlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	plan.Version = 1
	enc, err := encodePlan(plan)
	if err != nil {
		return model.RoutePlan{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO route_plans (`+planColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		plan.ID, plan.Title, plan.Status, nullIfEmpty(plan.SuggestedBy), nullIfEmpty(plan.Method), nullIfEmpty(plan.Notes),
		nullIfEmpty(plan.ApprovedBy), timeArg(plan.ApprovedAt), nullIfEmpty(plan.CompletedBy), timeArg(plan.CompletedAt),
		enc.depot, plan.ReferenceDay, plan.DepartureMinutes, enc.metrics, enc.routes, enc.tasks,
		plan.Version, plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return model.RoutePlan{}, fmt.Errorf("insert plan: %w", err)
	}
	return plan, nil
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.RoutePlan, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM route_plans WHERE id=$1`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoutePlan{}, ErrNotFound
	}
	return plan, err
}

func (p *Postgres) UpdatePlan(ctx context.Context, plan model.RoutePlan, expectedVersion int) (model.RoutePlan, error) {
	enc, err := encodePlan(plan)
	if err != nil {
		return model.RoutePlan{}, err
	}
	now := time.Now().UTC()
	var version int
	var created time.Time
	err = p.db.QueryRowContext(ctx, `UPDATE route_plans SET title=$2, status=$3, suggested_by=$4, method=$5, notes=$6,
            approved_by=$7, approved_at=$8, completed_by=$9, completed_at=$10, depot=$11, reference_day=$12,
            departure_minutes=$13, metrics=$14, routes=$15, task_ids=$16, updated_at=$17, version=version+1
        WHERE id=$1 AND ($18::int = 0 OR version=$18)
        RETURNING version, created_at`,
		plan.ID, plan.Title, plan.Status, nullIfEmpty(plan.SuggestedBy), nullIfEmpty(plan.Method), nullIfEmpty(plan.Notes),
		nullIfEmpty(plan.ApprovedBy), timeArg(plan.ApprovedAt), nullIfEmpty(plan.CompletedBy), timeArg(plan.CompletedAt),
		enc.depot, plan.ReferenceDay, plan.DepartureMinutes, enc.metrics, enc.routes, enc.tasks, now, max(expectedVersion, 0),
	).Scan(&version, &created)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM route_plans WHERE id=$1)`, plan.ID).Scan(&exists); err != nil {
			return model.RoutePlan{}, err
		}
		if exists {
			return model.RoutePlan{}, ErrVersionConflict
		}
		return model.RoutePlan{}, ErrNotFound
	}
	if err != nil {
		return model.RoutePlan{}, fmt.Errorf("update plan: %w", err)
	}
	plan.Version = version
	plan.CreatedAt = created
	plan.UpdatedAt = now
	return plan, nil
}

func (p *Postgres) DeletePlan(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM route_plans WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPlans uses the last id of the previous page as cursor.
func (p *Postgres) ListPlans(ctx context.Context, status, cursor string, limit int) ([]model.RoutePlan, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT `+planColumns+` FROM route_plans
        WHERE ($1::text = '' OR status = $1) AND ($2::text = '' OR id > $2)
        ORDER BY id LIMIT $3`, status, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.RoutePlan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

type encodedPlan struct {
	depot   any
	metrics string
	routes  string
	tasks   string
}

func encodePlan(p model.RoutePlan) (encodedPlan, error) {
	var enc encodedPlan
	if p.Depot != nil {
		b, err := json.Marshal(p.Depot)
		if err != nil {
			return enc, fmt.Errorf("encode depot: %w", err)
		}
		enc.depot = string(b)
	}
	m, err := json.Marshal(p.Metrics)
	if err != nil {
		return enc, fmt.Errorf("encode metrics: %w", err)
	}
	routes := p.Routes
	if routes == nil {
		routes = []model.Route{}
	}
	r, err := json.Marshal(routes)
	if err != nil {
		return enc, fmt.Errorf("encode routes: %w", err)
	}
	tasks := p.Tasks
	if tasks == nil {
		tasks = []string{}
	}
	t, err := json.Marshal(tasks)
	if err != nil {
		return enc, fmt.Errorf("encode task ids: %w", err)
	}
	enc.metrics, enc.routes, enc.tasks = string(m), string(r), string(t)
	return enc, nil
}

func scanPlan(s scanner) (model.RoutePlan, error) {
	var p model.RoutePlan
	var suggested, method, notes, approvedBy, completedBy sql.NullString
	var approvedAt, completedAt sql.NullTime
	var depot, metrics, routes, tasks []byte
	err := s.Scan(&p.ID, &p.Title, &p.Status, &suggested, &method, &notes, &approvedBy, &approvedAt, &completedBy, &completedAt,
		&depot, &p.ReferenceDay, &p.DepartureMinutes, &metrics, &routes, &tasks, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.RoutePlan{}, err
	}
	p.SuggestedBy, p.Method, p.Notes = suggested.String, method.String, notes.String
	p.ApprovedBy, p.CompletedBy = approvedBy.String, completedBy.String
	p.ApprovedAt, p.CompletedAt = timeFromNull(approvedAt), timeFromNull(completedAt)
	if err := decodePlanJSON(&p, depot, metrics, routes, tasks); err != nil {
		return model.RoutePlan{}, err
	}
	return p, nil
}

func decodePlanJSON(p *model.RoutePlan, depot, metrics, routes, tasks []byte) error {
	if len(depot) > 0 && string(depot) != "null" {
		p.Depot = &model.Coordinates{}
		if err := json.Unmarshal(depot, p.Depot); err != nil {
			return fmt.Errorf("decode depot: %w", err)
		}
	}
	if err := json.Unmarshal(metrics, &p.Metrics); err != nil {
		return fmt.Errorf("decode metrics: %w", err)
	}
	if err := json.Unmarshal(routes, &p.Routes); err != nil {
		return fmt.Errorf("decode routes: %w", err)
	}
	if err := json.Unmarshal(tasks, &p.Tasks); err != nil {
		return fmt.Errorf("decode task ids: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func coordArgs(c *model.Coordinates) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lng
}

func coordFromNull(lat, lng sql.NullFloat64) *model.Coordinates {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
