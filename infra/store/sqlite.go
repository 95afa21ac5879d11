// Package store provides durable backends for the engine's persistence
// contracts. The sqlite backend suits single-node deployments; the postgres
// backend suits shared installations where several instances coordinate
// through the same database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS order_templates (
    id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL DEFAULT '',
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS occurrences (
    template_id TEXT NOT NULL,
    date TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (template_id, date)
);
CREATE TABLE IF NOT EXISTS task_instances (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
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
    active INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    cancelled_at INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_crew
    ON team_assignments(date, crew_id) WHERE active = 1;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_lead
    ON team_assignments(date, lead_vehicle_id) WHERE active = 1;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_chase
    ON team_assignments(date, chase_vehicle_id) WHERE active = 1;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assign_route
    ON team_assignments(route_id) WHERE active = 1;
CREATE TABLE IF NOT EXISTS expansion_runs (
    date TEXT PRIMARY KEY,
    claimed_at INTEGER NOT NULL
);`

// SQLiteStore persists engine state to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
// The connection pool is capped at one connection so writes serialize in
// process rather than failing with SQLITE_BUSY.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

var _ store.Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) UpsertTemplate(ctx context.Context, t model.OrderTemplate) error {
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
		`INSERT INTO order_templates (id, start_date, end_date, record) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET start_date=excluded.start_date,
             end_date=excluded.end_date, record=excluded.record`,
		t.ID, t.Start.String(), end, string(b))
	return err
}

func (s *SQLiteStore) ListTemplatesActiveOn(ctx context.Context, date model.Date) ([]model.OrderTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM order_templates
         WHERE start_date <= ? AND (end_date = '' OR end_date >= ?)
         ORDER BY id`,
		date.String(), date.String())
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

// RecordOccurrence inserts the guard row and the task instance in one
// transaction. The occurrence primary key makes the second run for the same
// (template, date) pair a detected no-op.
func (s *SQLiteStore) RecordOccurrence(ctx context.Context, task model.TaskInstance) (store.RecordOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO occurrences (template_id, date, created_at) VALUES (?, ?, ?)
         ON CONFLICT(template_id, date) DO NOTHING`,
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
		`INSERT INTO task_instances (id, template_id, date, state, record) VALUES (?, ?, ?, ?, ?)`,
		task.ID, task.TemplateID, task.Date.String(), task.State.String(), string(b)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return store.RecordCreated, nil
}

func (s *SQLiteStore) Task(ctx context.Context, id string) (model.TaskInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, state, record FROM task_instances WHERE id = ?`, id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return model.TaskInstance{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t, err
}

func (s *SQLiteStore) TasksForDate(ctx context.Context, date model.Date) ([]model.TaskInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, record FROM task_instances WHERE date = ? ORDER BY seq`,
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

// UpdateTaskState performs a compare-and-set on the state column so a stale
// caller never clobbers a concurrent transition.
func (s *SQLiteStore) UpdateTaskState(ctx context.Context, id string, from, to model.TaskState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_instances SET state = ? WHERE id = ? AND state = ?`,
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
		`SELECT state FROM task_instances WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s, expected %s: %w", id, current, from, model.ErrInconsistent)
}

func (s *SQLiteStore) SaveRoutes(ctx context.Context, routes []model.Route) error {
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
			`INSERT INTO routes (id, date, sub_route, record) VALUES (?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET record=excluded.record`,
			r.ID, r.Date.String(), r.SubRoute, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Route(ctx context.Context, id string) (model.Route, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM routes WHERE id = ?`, id).Scan(&data)
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

func (s *SQLiteStore) RoutesForDate(ctx context.Context, date model.Date) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM routes WHERE date = ? ORDER BY sub_route`, date.String())
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

// conflictFor finds the active assignment contending with a: first the route
// itself, then the crew, lead and chase resources on a's date, in order.
func conflictFor(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, a model.TeamAssignment, skipID string) (*model.ConflictError, error) {
	var holder string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM team_assignments WHERE route_id = ? AND active = 1`,
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
			`SELECT id FROM team_assignments WHERE date = ? AND `+cols[kind]+` = ? AND active = 1`,
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

// Bind inserts the assignment inside a transaction after checking the route
// and the three resource projections. The partial unique indexes are the
// backstop for writers racing through separate connections.
func (s *SQLiteStore) Bind(ctx context.Context, a model.TeamAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if conflict, err := conflictFor(ctx, tx, a, ""); err != nil {
		return err
	} else if conflict != nil {
		return conflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO team_assignments
             (id, route_id, date, crew_id, lead_vehicle_id, chase_vehicle_id, active, created_at)
         VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		a.ID, a.RouteID, a.Date.String(), a.CrewID, a.LeadVehicleID, a.ChaseVehicleID,
		a.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			if conflict, cerr := conflictFor(ctx, tx, a, ""); cerr == nil && conflict != nil {
				return conflict
			}
			return fmt.Errorf("%w: assignment %s lost a bind race", model.ErrConflict, a.ID)
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Reassign(ctx context.Context, id, crewID, leadID, chaseID string) (model.TeamAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TeamAssignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssignment(tx.QueryRowContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE id = ?`, id))
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
	if conflict, err := conflictFor(ctx, tx, next, id); err != nil {
		return model.TeamAssignment{}, err
	} else if conflict != nil {
		return model.TeamAssignment{}, conflict
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE team_assignments SET crew_id = ?, lead_vehicle_id = ?, chase_vehicle_id = ? WHERE id = ?`,
		next.CrewID, next.LeadVehicleID, next.ChaseVehicleID, id); err != nil {
		return model.TeamAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.TeamAssignment{}, err
	}
	return next, nil
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE team_assignments SET active = 0, cancelled_at = ? WHERE id = ? AND active = 1`,
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
		`SELECT 1 FROM team_assignments WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return err
}

const assignmentColumns = `SELECT id, route_id, date, crew_id, lead_vehicle_id, chase_vehicle_id, active, created_at, cancelled_at`

func scanAssignment(row interface{ Scan(...any) error }) (model.TeamAssignment, error) {
	var (
		a           model.TeamAssignment
		date        string
		active      int
		createdAt   int64
		cancelledAt int64
	)
	if err := row.Scan(&a.ID, &a.RouteID, &date, &a.CrewID, &a.LeadVehicleID,
		&a.ChaseVehicleID, &active, &createdAt, &cancelledAt); err != nil {
		return model.TeamAssignment{}, err
	}
	d, err := model.ParseDate(date)
	if err != nil {
		return model.TeamAssignment{}, err
	}
	a.Date = d
	a.Active = active == 1
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	if cancelledAt != 0 {
		a.CancelledAt = time.Unix(cancelledAt, 0).UTC()
	}
	return a, nil
}

func (s *SQLiteStore) Assignment(ctx context.Context, id string) (model.TeamAssignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, err
}

func (s *SQLiteStore) ActiveForDate(ctx context.Context, date model.Date) ([]model.TeamAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		assignmentColumns+` FROM team_assignments WHERE date = ? AND active = 1 ORDER BY id`,
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

func (s *SQLiteStore) UsageCounts(ctx context.Context, since model.Date) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT resource, COUNT(*) FROM (
            SELECT crew_id AS resource, date FROM team_assignments
            UNION ALL SELECT lead_vehicle_id, date FROM team_assignments
            UNION ALL SELECT chase_vehicle_id, date FROM team_assignments
        ) WHERE date >= ? GROUP BY resource`,
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

func (s *SQLiteStore) AcquireRun(ctx context.Context, date model.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO expansion_runs (date, claimed_at) VALUES (?, ?)
         ON CONFLICT(date) DO NOTHING`,
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

func (s *SQLiteStore) ReleaseRun(ctx context.Context, date model.Date) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM expansion_runs WHERE date = ?`, date.String())
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// isUniqueViolation matches the UNIQUE failure text specifically; NOT NULL
// and CHECK violations are storage errors, not bind conflicts.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
