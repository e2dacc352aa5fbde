package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"eightd/internal/config"
	"eightd/internal/db"
	"eightd/internal/engine"
	"eightd/internal/migrate"
)

type testServer struct {
	URL       string
	ExportDir string
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("app-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	exportDir := filepath.Join(workspace, "exports")
	handler, err := New(Config{
		Engine:    e,
		BasePath:  "/v0",
		Auth:      AuthConfig{AllowAnonymous: true},
		ExportDir: exportDir,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		ExportDir: exportDir,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestReportLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title": "Leaking valve",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created ReportResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if created.Title != "Leaking valve" || created.CurrentDiscipline != "D1" {
		t.Fatalf("created = %+v", created)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", listRes.StatusCode, string(listBody))
	}
	var items []ReportSummaryResponse
	if err := json.Unmarshal(listBody, &items); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(items) != 1 || items[0].ID != created.ID {
		t.Fatalf("list = %+v", items)
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/reports/"+created.ID, nil, nil)
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", delRes.StatusCode, string(delBody))
	}
	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+created.ID, nil, nil)
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", getRes.StatusCode, string(getBody))
	}
}

func TestFieldAndDisciplineEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{}, nil)
	var created ReportResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	navRes, navBody := doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/"+created.ID+"/discipline", map[string]any{
		"discipline": "D4",
	}, nil)
	if navRes.StatusCode != http.StatusOK {
		t.Fatalf("navigate status %d: %s", navRes.StatusCode, string(navBody))
	}
	var navigated ReportResponse
	_ = json.Unmarshal(navBody, &navigated)
	if navigated.CurrentDiscipline != "D4" {
		t.Fatalf("discipline = %q", navigated.CurrentDiscipline)
	}

	fieldRes, fieldBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/"+created.ID+"/fields", map[string]any{
		"path":  "d2_problem.what",
		"value": "solder cracks",
	}, nil)
	if fieldRes.StatusCode != http.StatusOK {
		t.Fatalf("set field status %d: %s", fieldRes.StatusCode, string(fieldBody))
	}
	var updated ReportResponse
	_ = json.Unmarshal(fieldBody, &updated)
	if updated.D2Problem.What != "solder cracks" {
		t.Fatalf("problem = %+v", updated.D2Problem)
	}

	badRes, badBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/"+created.ID+"/fields", map[string]any{
		"path":  "d2_problem.nope",
		"value": "x",
	}, nil)
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", badRes.StatusCode, string(badBody))
	}
}

func TestTeamAndRootCauseEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{}, nil)
	var created ReportResponse
	_ = json.Unmarshal(data, &created)

	addRes, addBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+created.ID+"/team", map[string]any{
		"name": "Ada",
		"role": "Lead",
	}, nil)
	if addRes.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", addRes.StatusCode, string(addBody))
	}

	whyRes, whyBody := doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/"+created.ID+"/whys/0", map[string]any{
		"text": "seal worn",
	}, nil)
	if whyRes.StatusCode != http.StatusOK {
		t.Fatalf("set why status %d: %s", whyRes.StatusCode, string(whyBody))
	}

	fishRes, fishBody := doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/"+created.ID+"/fishbone/Material", map[string]any{
		"causes": []string{"soft compound"},
	}, nil)
	if fishRes.StatusCode != http.StatusOK {
		t.Fatalf("set fishbone status %d: %s", fishRes.StatusCode, string(fishBody))
	}
	var rep ReportResponse
	_ = json.Unmarshal(fishBody, &rep)
	if len(rep.D1Team) != 1 || rep.D4RootCause.FiveWhys[0] != "seal worn" {
		t.Fatalf("report = %+v", rep)
	}

	badRes, badBody := doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/"+created.ID+"/fishbone/Weather", map[string]any{
		"causes": []string{"rain"},
	}, nil)
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", badRes.StatusCode, string(badBody))
	}
}

func TestExportEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title": "Export me",
	}, nil)
	var created ReportResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+created.ID+"/export", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(body))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "8d-report-"+created.ID+".txt") {
		t.Fatalf("disposition = %q", res.Header.Get("Content-Disposition"))
	}
	text := string(body)
	if !strings.Contains(text, "8D Report: Export me") || !strings.Contains(text, "D8 - Recognition") {
		t.Fatalf("export body:\n%s", text)
	}

	copyPath := filepath.Join(srv.ExportDir, "8d-report-"+created.ID+".txt")
	saved, err := os.ReadFile(copyPath)
	if err != nil {
		t.Fatalf("server-side export copy: %v", err)
	}
	if string(saved) != text {
		t.Fatalf("export copy differs from response body")
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{}, nil)
	var created ReportResponse
	_ = json.Unmarshal(data, &created)
	_, _ = doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/"+created.ID+"/discipline", map[string]any{"discipline": "D2"}, nil)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?report_id="+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var events []EventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "report.navigated" {
		t.Fatalf("events = %+v", events)
	}
}

func TestAuthRequiredWhenAnonymousOff(t *testing.T) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("app-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "s3cret", AllowAnonymous: false},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}()
	url := "http://" + ln.Addr().String()

	res, body := doJSON(t, &http.Client{}, http.MethodGet, url+"/v0/reports", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	healthRes, _ := doJSON(t, &http.Client{}, http.MethodGet, url+"/v0/health", nil, nil)
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", healthRes.StatusCode)
	}
}
