package engine_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"eightd/internal/config"
	"eightd/internal/db"
	"eightd/internal/domain"
	"eightd/internal/engine"
	"eightd/internal/events"
	"eightd/internal/migrate"
	"eightd/internal/repo"
	"eightd/internal/report"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("app-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestCreateReportDefaults(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if rep.Title != "New Report – 2024-01-01" {
		t.Fatalf("default title = %q", rep.Title)
	}
	if rep.CurrentDiscipline != domain.D1 {
		t.Fatalf("initial discipline = %q", rep.CurrentDiscipline)
	}
	if rep.Namespace != "artifacts/app-1/public/data/8d-reports" {
		t.Fatalf("namespace = %q", rep.Namespace)
	}
	got, err := env.Engine.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if len(got.D4RootCause.FiveWhys) != 1 || got.D4RootCause.FiveWhys[0] != "" {
		t.Fatalf("five whys seed = %v", got.D4RootCause.FiveWhys)
	}
	if len(got.D4RootCause.Fishbone) != 6 {
		t.Fatalf("fishbone categories = %d", len(got.D4RootCause.Fishbone))
	}
	if got.D1Team == nil || got.D3Containment == nil || got.D5Corrective == nil {
		t.Fatal("list fields must be non-nil")
	}
}

func TestDisciplineNavigation(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "nav", "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.SetDiscipline(env.Ctx, rep.ID, domain.D5, "tester")
	if err != nil {
		t.Fatalf("set discipline: %v", err)
	}
	if rep.CurrentDiscipline != domain.D5 {
		t.Fatalf("discipline = %q", rep.CurrentDiscipline)
	}
	if _, err := env.Engine.SetDiscipline(env.Ctx, rep.ID, domain.Discipline("D9"), "tester"); err == nil {
		t.Fatal("expected error for unknown discipline")
	}
}

func TestScalarPathUpdateLeavesSiblings(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "paths", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetPath(env.Ctx, rep.ID, "d2_problem.what", "bad weld", "tester"); err != nil {
		t.Fatalf("set what: %v", err)
	}
	rep, err = env.Engine.SetPath(env.Ctx, rep.ID, "d2_problem.who", "line 3", "tester")
	if err != nil {
		t.Fatalf("set who: %v", err)
	}
	if rep.D2Problem.What != "bad weld" || rep.D2Problem.Who != "line 3" {
		t.Fatalf("problem = %+v", rep.D2Problem)
	}
	if rep.D2Problem.Where != "" {
		t.Fatalf("sibling touched: %q", rep.D2Problem.Where)
	}
	if _, err := env.Engine.SetPath(env.Ctx, rep.ID, "d2_problem.bogus", "x", "tester"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestWholeFieldUpdateReplaces(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "fields", "tester")
	if err != nil {
		t.Fatal(err)
	}
	u, err := report.Containment([]domain.ActionItem{{Action: "quarantine lot", Responsible: "qa", Date: "2024-01-02"}})
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.ApplyUpdate(env.Ctx, rep.ID, u, "tester")
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if len(rep.D3Containment) != 1 || rep.D3Containment[0].Action != "quarantine lot" {
		t.Fatalf("containment = %+v", rep.D3Containment)
	}
	u, err = report.Containment([]domain.ActionItem{})
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.ApplyUpdate(env.Ctx, rep.ID, u, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.D3Containment) != 0 {
		t.Fatalf("containment not replaced: %+v", rep.D3Containment)
	}
}

func TestTeamMembers(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "team", "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.AddTeamMember(env.Ctx, rep.ID, domain.TeamMember{Name: "Ada", Role: "Lead"}, "tester")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	rep, err = env.Engine.AddTeamMember(env.Ctx, rep.ID, domain.TeamMember{Name: "Grace", Role: "QA"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.RemoveTeamMember(env.Ctx, rep.ID, 0, "tester")
	if err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if len(rep.D1Team) != 1 || rep.D1Team[0].Name != "Grace" {
		t.Fatalf("team = %+v", rep.D1Team)
	}
	if _, err := env.Engine.RemoveTeamMember(env.Ctx, rep.ID, 5, "tester"); !errors.Is(err, engine.ErrInvalidPosition) {
		t.Fatalf("expected position error, got %v", err)
	}
}

func TestAddThenRemoveRestoresRoster(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "roster", "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.AddTeamMember(env.Ctx, rep.ID, domain.TeamMember{Name: "Ada", Role: "Lead"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	before := append([]domain.TeamMember(nil), rep.D1Team...)

	rep, err = env.Engine.AddTeamMember(env.Ctx, rep.ID, domain.TeamMember{Name: "Grace", Role: "QA"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.RemoveTeamMember(env.Ctx, rep.ID, len(rep.D1Team)-1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.D1Team, before) {
		t.Fatalf("roster not restored: got %+v, want %+v", rep.D1Team, before)
	}
}

func TestFiveWhysAndFishbone(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "rca", "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err = env.Engine.SetWhy(env.Ctx, rep.ID, 0, "weld temp drifted", "tester")
	if err != nil {
		t.Fatalf("set why: %v", err)
	}
	rep, err = env.Engine.AddWhy(env.Ctx, rep.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.D4RootCause.FiveWhys) != 2 || rep.D4RootCause.FiveWhys[0] != "weld temp drifted" {
		t.Fatalf("whys = %v", rep.D4RootCause.FiveWhys)
	}
	rep, err = env.Engine.SetFishbone(env.Ctx, rep.ID, domain.Machine, []string{"worn electrode"}, "tester")
	if err != nil {
		t.Fatalf("set fishbone: %v", err)
	}
	if got := rep.D4RootCause.Fishbone[domain.Machine]; len(got) != 1 || got[0] != "worn electrode" {
		t.Fatalf("machine causes = %v", got)
	}
	if got := rep.D4RootCause.Fishbone[domain.Method]; len(got) != 0 {
		t.Fatalf("method causes touched: %v", got)
	}
	if _, err := env.Engine.SetFishbone(env.Ctx, rep.ID, domain.FishboneCategory("Weather"), nil, "tester"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestDeleteReport(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "gone", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteReport(env.Ctx, rep.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetReport(env.Ctx, rep.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := env.Engine.DeleteReport(env.Ctx, rep.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, "audited", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetDiscipline(env.Ctx, rep.ID, domain.D2, "tester"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "", engine.EntityReport, rep.ID)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("events = %d", len(evts))
	}
	if evts[0].Type != engine.EventReportNavigated || evts[1].Type != engine.EventReportCreated {
		t.Fatalf("event order = %s, %s", evts[0].Type, evts[1].Type)
	}
}

func TestBusNotifications(t *testing.T) {
	env := newTestEnv(t)
	var seen []events.Notification
	sub := env.Engine.Bus.Subscribe(events.TopicReports, func(n events.Notification) {
		seen = append(seen, n)
	})
	rep, err := env.Engine.CreateReport(env.Ctx, "watched", "tester")
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	if err := env.Engine.DeleteReport(env.Ctx, rep.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].Type != engine.EventReportCreated {
		t.Fatalf("notifications = %+v", seen)
	}
}
