// Package engine implements the report operations on top of the SQLite
// store: lifecycle, discipline navigation, field updates and the event
// log entries each mutation appends.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eightd/internal/config"
	"eightd/internal/domain"
	"eightd/internal/events"
	"eightd/internal/repo"
	"eightd/internal/report"
)

const EntityReport = "report"

const (
	EventReportCreated   = "report.created"
	EventReportUpdated   = "report.updated"
	EventReportNavigated = "report.navigated"
	EventReportDeleted   = "report.deleted"
)

var ErrInvalidPosition = errors.New("position out of range")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *events.Bus
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    events.NewBus(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) namespace() string {
	if e.Config != nil {
		return e.Config.CollectionPath()
	}
	return ""
}

func (e *Engine) publish(evtType, reportID, actorID string) {
	if e.Bus == nil {
		return
	}
	n := events.Notification{Type: evtType, ReportID: reportID, ActorID: actorID}
	e.Bus.Publish(events.TopicReports, n)
	e.Bus.Publish(events.ReportTopic(reportID), n)
}

// CreateReport inserts a fresh report seeded with empty discipline skeletons.
// An empty title becomes "New Report – <date>".
func (e *Engine) CreateReport(ctx context.Context, title, actorID string) (domain.Report, error) {
	now := e.now()
	if title == "" {
		title = "New Report – " + now.Format("2006-01-02")
	}
	rep := domain.DefaultReport(title, actorID)
	rep.ID = uuid.New().String()
	rep.Namespace = e.namespace()
	rep.CreatedAt = now.Format(time.RFC3339)
	rep.UpdatedAt = rep.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportTx(ctx, tx, rep); err != nil {
		return domain.Report{}, fmt.Errorf("insert report: %w", err)
	}
	payload := events.EventPayload{"title": rep.Title}
	if err := e.Events.Append(ctx, tx, EventReportCreated, rep.Namespace, EntityReport, rep.ID, actorID, payload); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	e.publish(EventReportCreated, rep.ID, actorID)
	return rep, nil
}

func (e *Engine) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return e.Repo.GetReport(ctx, id)
}

func (e *Engine) ListReports(ctx context.Context) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, e.namespace())
}

func (e *Engine) DeleteReport(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteReportTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, EventReportDeleted, e.namespace(), EntityReport, id, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(EventReportDeleted, id, actorID)
	return nil
}

// SetDiscipline moves a report's navigation position to the given discipline.
func (e *Engine) SetDiscipline(ctx context.Context, id string, d domain.Discipline, actorID string) (domain.Report, error) {
	u, err := report.CurrentDiscipline(d)
	if err != nil {
		return domain.Report{}, err
	}
	return e.applyUpdate(ctx, id, u, actorID, EventReportNavigated, events.EventPayload{"discipline": string(d)})
}

// ApplyUpdate runs a single-field update against a report and logs it.
func (e *Engine) ApplyUpdate(ctx context.Context, id string, u report.Update, actorID string) (domain.Report, error) {
	path := u.Column()
	if u.SubPath() != "" {
		path = u.Column() + "." + u.SubPath()
	}
	return e.applyUpdate(ctx, id, u, actorID, EventReportUpdated, events.EventPayload{"path": path})
}

// SetPath resolves a dotted field path and applies the value at it.
func (e *Engine) SetPath(ctx context.Context, id, path, value, actorID string) (domain.Report, error) {
	u, err := report.Path(path, value)
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

func (e *Engine) applyUpdate(ctx context.Context, id string, u report.Update, actorID, evtType string, payload events.EventPayload) (domain.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	now := e.now().Format(time.RFC3339)
	if err := e.Repo.ApplyUpdate(ctx, tx, id, u, now); err != nil {
		return domain.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, e.namespace(), EntityReport, id, actorID, payload); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	e.publish(evtType, id, actorID)
	return e.Repo.GetReport(ctx, id)
}

// --- list helpers ---
//
// List-shaped fields have no stable element IDs, so additions and removals
// are read-modify-write of the whole field. Last write wins.

func (e *Engine) AddTeamMember(ctx context.Context, id string, m domain.TeamMember, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	u, err := report.Team(append(rep.D1Team, m))
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

func (e *Engine) RemoveTeamMember(ctx context.Context, id string, position int, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if position < 0 || position >= len(rep.D1Team) {
		return domain.Report{}, fmt.Errorf("team member %d: %w", position, ErrInvalidPosition)
	}
	members := append(rep.D1Team[:position:position], rep.D1Team[position+1:]...)
	u, err := report.Team(members)
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

func (e *Engine) AddActionItem(ctx context.Context, id string, corrective bool, item domain.ActionItem, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	var u report.Update
	if corrective {
		u, err = report.Corrective(append(rep.D5Corrective, item))
	} else {
		u, err = report.Containment(append(rep.D3Containment, item))
	}
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

func (e *Engine) RemoveActionItem(ctx context.Context, id string, corrective bool, position int, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	items := rep.D3Containment
	if corrective {
		items = rep.D5Corrective
	}
	if position < 0 || position >= len(items) {
		return domain.Report{}, fmt.Errorf("action item %d: %w", position, ErrInvalidPosition)
	}
	items = append(items[:position:position], items[position+1:]...)
	var u report.Update
	if corrective {
		u, err = report.Corrective(items)
	} else {
		u, err = report.Containment(items)
	}
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

// AddWhy appends an empty row to the five-whys chain.
func (e *Engine) AddWhy(ctx context.Context, id, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	rc := rep.D4RootCause
	rc.FiveWhys = append(rc.FiveWhys, "")
	u, err := report.RootCause(rc)
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

// SetWhy replaces the why at a zero-based position.
func (e *Engine) SetWhy(ctx context.Context, id string, position int, text, actorID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	rc := rep.D4RootCause
	if position < 0 || position >= len(rc.FiveWhys) {
		return domain.Report{}, fmt.Errorf("why %d: %w", position, ErrInvalidPosition)
	}
	whys := make([]string, len(rc.FiveWhys))
	copy(whys, rc.FiveWhys)
	whys[position] = text
	rc.FiveWhys = whys
	u, err := report.RootCause(rc)
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}

// SetFishbone replaces the cause list of one fishbone category.
func (e *Engine) SetFishbone(ctx context.Context, id string, category domain.FishboneCategory, causes []string, actorID string) (domain.Report, error) {
	if !domain.ValidFishboneCategory(category) {
		return domain.Report{}, fmt.Errorf("unknown fishbone category %q", category)
	}
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	rc := rep.D4RootCause
	fishbone := make(map[domain.FishboneCategory][]string, len(rc.Fishbone))
	for k, v := range rc.Fishbone {
		fishbone[k] = v
	}
	if causes == nil {
		causes = []string{}
	}
	fishbone[category] = causes
	rc.Fishbone = fishbone
	u, err := report.RootCause(rc)
	if err != nil {
		return domain.Report{}, err
	}
	return e.ApplyUpdate(ctx, id, u, actorID)
}
