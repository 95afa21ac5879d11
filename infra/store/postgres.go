package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS order_templates (
    id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL DEFAULT '',
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS occurrences (
    template_id TEXT NOT NULL,
    date TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (template_id, date)
);
CREATE TABLE IF NOT EXISTS task_instances (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    template_id TEXT NOT NULL,
    date TEXT NOT NULL,
    state TEXT NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_instances_date ON task_instances(date);
CREATE TABLE IF NOT EXISTS routes (
    id TEXT PRIMARY KEY,
    date TEXT NOT NULL,
    sub_route INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routes_date ON routes(date);
CREATE TABLE IF NOT EXISTS team_assignments (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    date TEXT NOT NULL,
    crew_id TEXT NOT NULL,
    lead_vehicle_id TEXT NOT NULL,
    chase_vehicle_id TEXT NOT NULL,
    active BOOLEAN NOT NULL,
    created_at BIGINT NOT NULL,
    cancelled_at BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_crew
    ON team_assignments(date, crew_id) WHERE active;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_lead
    ON team_assignments(date, lead_vehicle_id) WHERE active;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_chase
    ON team_assignments(date, chase_vehicle_id) WHERE active;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_route
    ON team_assignments(route_id) WHERE active;
CREATE TABLE IF NOT EXISTS expansion_runs (
    date TEXT PRIMARY KEY,
    claimed_at BIGINT NOT NULL
);`

// PostgresStore persists engine state to a PostgreSQL database. Multiple
// engine instances may share one database: the partial unique indexes and the
// expansion_runs primary key make bind exclusivity and the run lock hold
// across processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at dsn and ensures schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (ping err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

var _ store.Store = (*PostgresStore)(nil)

func (s *PostgresStore) UpsertTemplate(ctx context.Context, t model.OrderTemplate) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	end := ""
	if !t.End.IsZero() {
		end = t.End.String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO order_templates (id, start_date, end_date, record) VALUES ($1, $2, $3, $4)
         ON CONFLICT (id) DO UPDATE SET start_date=excluded.start_date,
             end_date=excluded.end_date, record=excluded.record`,
		t.ID, t.Start.String(), end, string(b))
	return err
}

func (s *PostgresStore) ListTemplatesActiveOn(ctx context.Context, date model.Date) ([]model.OrderTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM order_templates
         WHERE start_date <= $1 AND (end_date = '' OR end_date >= $1)
         ORDER BY id`,
		date.String())
	if err != nil {
		return nil, fmt.Errorf("list templates: %w: %v", model.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.OrderTemplate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t model.OrderTemplate
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("unmarshal template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordOccurrence(ctx context.Context, task model.TaskInstance) (store.RecordOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO occurrences (template_id, date, created_at) VALUES ($1, $2, $3)
         ON CONFLICT (template_id, date) DO NOTHING`,
		task.TemplateID, task.Date.String(), task.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return store.RecordAlreadyExists, nil
	}

	b, err := json.Marshal(task)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_instances (id, template_id, date, state, record) VALUES ($1, $2, $3, $4, $5)`,
		task.ID, task.TemplateID, task.Date.String(), task.State.String(), string(b)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return store.RecordCreated, nil
}

func (s *PostgresStore) Task(ctx context.Context, id string) (model.TaskInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, state, record FROM task_instances WHERE id = $1`, id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return model.TaskInstance{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t, err
}

func (s *PostgresStore) TasksForDate(ctx context.Context, date model.Date) ([]model.TaskInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, record FROM task_instances WHERE date = $1 ORDER BY seq`,
		date.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.TaskInstance
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTaskRow(row interface{ Scan(...any) error }) (model.TaskInstance, error) {
	var (
		seq   int64
		state string
		data  string
	)
	if err := row.Scan(&seq, &state, &data); err != nil {
		return model.TaskInstance{}, err
	}
	var t model.TaskInstance
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return model.TaskInstance{}, fmt.Errorf("unmarshal task: %w", err)
	}
	t.Seq = seq
	st, err := model.ParseTaskState(state)
	if err != nil {
		return model.TaskInstance{}, err
	}
	t.State = st
	return t, nil
}

func (s *PostgresStore) UpdateTaskState(ctx context.Context, id string, from, to model.TaskState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_instances SET state = $1 WHERE id = $2 AND state = $3`,
		to.String(), id, from.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT state FROM task_instances WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s, expected %s: %w", id, current, from, model.ErrInconsistent)
}

func (s *PostgresStore) SaveRoutes(ctx context.Context, routes []model.Route) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range routes {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (id, date, sub_route, record) VALUES ($1, $2, $3, $4)
             ON CONFLICT (id) DO UPDATE SET record=excluded.record`,
			r.ID, r.Date.String(), r.SubRoute, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Route(ctx context.Context, id string) (model.Route, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM routes WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return model.Route{}, fmt.Errorf("route %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Route{}, err
	}
	var r model.Route
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Route{}, fmt.Errorf("unmarshal route: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) RoutesForDate(ctx context.Context, date model.Date) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM routes WHERE date = $1 ORDER BY sub_route`, date.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Route
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.Route
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) conflictFor(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, a model.TeamAssignment, skipID string) (*model.ConflictError, error) {
	var holder string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM team_assignments WHERE route_id = $1 AND active`,
		a.RouteID).Scan(&holder)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && holder != skipID {
		return &model.ConflictError{
			Kind:         model.KindRoute,
			ResourceID:   a.RouteID,
			Date:         a.Date,
			AssignmentID: holder,
		}, nil
	}
	cols := map[model.ResourceKind]string{
		model.KindCrew:         "crew_id",
		model.KindLeadVehicle:  "lead_vehicle_id",
		model.KindChaseVehicle: "chase_vehicle_id",
	}
	for _, kind := range model.ResourceKinds {
		var holder string
		err := q.QueryRowContext(ctx,
			`SELECT id FROM team_assignments WHERE date = $1 AND `+cols[kind]+` = $2 AND active`,
			a.Date.String(), a.ResourceID(kind)).Scan(&holder)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if holder == skipID {
			continue
		}
		return &model.ConflictError{
			Kind:         kind,
			ResourceID:   a.ResourceID(kind),
			Date:         a.Date,
			AssignmentID: holder,
		}, nil
	}
	return nil, nil
}

// Bind relies on the partial unique indexes for cross-process atomicity: the
// insert either lands or fails with a unique violation, which is resolved
// back into a ConflictError naming the holder.
func (s *PostgresStore) Bind(ctx context.Context, a model.TeamAssignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_assignments
             (id, route_id, date, crew_id, lead_vehicle_id, chase_vehicle_id, active, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)`,
		a.ID, a.RouteID, a.Date.String(), a.CrewID, a.LeadVehicleID, a.ChaseVehicleID,
		a.CreatedAt.Unix())
	if err == nil {
		return nil
	}
	if !isPgUniqueViolation(err) {
		return err
	}
	if conflict, cerr := s.conflictFor(ctx, s.db, a, ""); cerr == nil && conflict != nil {
		return conflict
	}
	return fmt.Errorf("%w: assignment %s lost a bind race", model.ErrConflict, a.ID)
}

func (s *PostgresStore) Reassign(ctx context.Context, id, crewID, leadID, chaseID string) (model.TeamAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TeamAssignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssignment(tx.QueryRowContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.TeamAssignment{}, err
	}
	if !a.Active {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s is cancelled: %w", id, model.ErrInconsistent)
	}
	next := a
	if crewID != "" {
		next.CrewID = crewID
	}
	if leadID != "" {
		next.LeadVehicleID = leadID
	}
	if chaseID != "" {
		next.ChaseVehicleID = chaseID
	}
	if err := next.Validate(); err != nil {
		return model.TeamAssignment{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE team_assignments SET crew_id = $1, lead_vehicle_id = $2, chase_vehicle_id = $3 WHERE id = $4`,
		next.CrewID, next.LeadVehicleID, next.ChaseVehicleID, id)
	if err != nil {
		if isPgUniqueViolation(err) {
			if conflict, cerr := s.conflictFor(ctx, s.db, next, id); cerr == nil && conflict != nil {
				return model.TeamAssignment{}, conflict
			}
			return model.TeamAssignment{}, fmt.Errorf("%w: assignment %s lost a reassign race", model.ErrConflict, id)
		}
		return model.TeamAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.TeamAssignment{}, err
	}
	return next, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE team_assignments SET active = FALSE, cancelled_at = $1 WHERE id = $2 AND active`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM team_assignments WHERE id = $1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return err
}

func (s *PostgresStore) Assignment(ctx context.Context, id string) (model.TeamAssignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, err
}

func (s *PostgresStore) ActiveForDate(ctx context.Context, date model.Date) ([]model.TeamAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE date = $1 AND active ORDER BY id`,
		date.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.TeamAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UsageCounts(ctx context.Context, since model.Date) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT resource, COUNT(*) FROM (
            SELECT crew_id AS resource, date FROM team_assignments
            UNION ALL SELECT lead_vehicle_id, date FROM team_assignments
            UNION ALL SELECT chase_vehicle_id, date FROM team_assignments
        ) refs WHERE date >= $1 GROUP BY resource`,
		since.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) AcquireRun(ctx context.Context, date model.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO expansion_runs (date, claimed_at) VALUES ($1, $2)
         ON CONFLICT (date) DO NOTHING`,
		date.String(), time.Now().UTC().Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) ReleaseRun(ctx context.Context, date model.Date) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM expansion_runs WHERE date = $1`, date.String())
	return err
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error { return s.db.Close() }

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
