package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"eightd/internal/config"
	"eightd/internal/domain"
	"eightd/internal/report"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reportColumns = `id,namespace,title,created_by,created_at,updated_at,current_discipline,
d1_team,d2_problem,d3_containment,d4_root_cause,d5_corrective_actions,d6_implementation,d7_prevention,d8_recognition`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var r domain.Report
	var discipline string
	var team, problem, containment, rootCause, corrective, implementation, prevention, recognition string
	err := row.Scan(&r.ID, &r.Namespace, &r.Title, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt, &discipline,
		&team, &problem, &containment, &rootCause, &corrective, &implementation, &prevention, &recognition)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.CurrentDiscipline = domain.Discipline(discipline)
	for _, field := range []struct {
		raw  string
		dest any
	}{
		{team, &r.D1Team},
		{problem, &r.D2Problem},
		{containment, &r.D3Containment},
		{rootCause, &r.D4RootCause},
		{corrective, &r.D5Corrective},
		{implementation, &r.D6Implementation},
		{prevention, &r.D7Prevention},
		{recognition, &r.D8Recognition},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return r, fmt.Errorf("decode report %s: %w", r.ID, err)
		}
	}
	r.Normalize()
	return r, nil
}

func encodeField(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r Repo) InsertReport(ctx context.Context, rep domain.Report) error {
	return r.insertReport(ctx, r.DB.ExecContext, rep)
}

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	return r.insertReport(ctx, tx.ExecContext, rep)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (r Repo) insertReport(ctx context.Context, exec execFunc, rep domain.Report) error {
	cols := make([]string, 0, 8)
	for _, v := range []any{
		rep.D1Team, rep.D2Problem, rep.D3Containment, rep.D4RootCause,
		rep.D5Corrective, rep.D6Implementation, rep.D7Prevention, rep.D8Recognition,
	} {
		enc, err := encodeField(v)
		if err != nil {
			return fmt.Errorf("encode report field: %w", err)
		}
		cols = append(cols, enc)
	}
	_, err := exec(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Namespace, rep.Title, rep.CreatedBy, rep.CreatedAt, rep.UpdatedAt, string(rep.CurrentDiscipline),
		cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6], cols[7])
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Report{}, fmt.Errorf("report id required: %w", ErrNotFound)
	}
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

func (r Repo) ListReports(ctx context.Context, namespace string) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE namespace=? ORDER BY created_at DESC, id DESC`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) DeleteReport(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteReportTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyUpdate persists a single-field update. A whole-field update replaces
// one column; a dotted-path update rewrites one key inside one JSON column
// via json_set. Either way exactly one UPDATE statement runs, so sibling
// fields are untouched and the change is atomic.
func (r Repo) ApplyUpdate(ctx context.Context, tx *sql.Tx, id string, u report.Update, now string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("report id required")
	}
	var res sql.Result
	var err error
	if u.SubPath() != "" {
		query := fmt.Sprintf(`UPDATE reports SET %s=json_set(%s,'$.%s',?), updated_at=? WHERE id=?`, u.Column(), u.Column(), u.SubPath())
		res, err = tx.ExecContext(ctx, query, u.Value(), now, id)
	} else {
		query := fmt.Sprintf(`UPDATE reports SET %s=?, updated_at=? WHERE id=?`, u.Column())
		res, err = tx.ExecContext(ctx, query, u.Value(), now, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- event log ---

func (r Repo) LatestEvents(ctx context.Context, limit int, namespace, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, namespace, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, namespace, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if namespace != "" {
		clauses = append(clauses, "namespace=?")
		args = append(args, namespace)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,namespace,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, namespace string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if namespace != "" {
		clauses = append(clauses, "namespace=?")
		args = append(args, namespace)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,namespace,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var namespace, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &namespace, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if namespace.Valid {
			e.Namespace = namespace.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a namespace.
func (r Repo) LatestEventID(ctx context.Context, namespace string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE namespace=?`, namespace)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- app config ---

func (r Repo) UpsertAppConfig(ctx context.Context, appID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.App.ID = appID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO app_configs(app_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(app_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, appID, string(payload), now, now)
	return err
}

func (r Repo) GetAppConfig(ctx context.Context, appID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM app_configs WHERE app_id=?`, appID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.App.ID == "" {
		cfg.App.ID = appID
	}
	return &cfg, cfg.Validate()
}
