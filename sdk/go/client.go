// Package eightdsdk is a minimal client for the 8D report HTTP API.
package eightdsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to an eightd server.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report is the API report model (partial).
type Report struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	CurrentDiscipline string `json:"current_discipline"`
}

// Event is one event log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateReport creates a report. An empty title gets a dated default.
func (c *Client) CreateReport(ctx context.Context, title string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "v0/reports", map[string]any{"title": title}, &resp)
	return resp, err
}

// ListReports lists report summaries.
func (c *Client) ListReports(ctx context.Context) ([]Report, error) {
	var resp []Report
	err := c.do(ctx, http.MethodGet, "v0/reports", nil, &resp)
	return resp, err
}

// GetReport fetches one report by id.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, c.reportPath(id, ""), nil, &resp)
	return resp, err
}

// DeleteReport removes a report.
func (c *Client) DeleteReport(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.reportPath(id, ""), nil, nil)
}

// SetDiscipline moves a report to the given discipline (D1..D8).
func (c *Client) SetDiscipline(ctx context.Context, id, discipline string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPut, c.reportPath(id, "discipline"), map[string]any{"discipline": discipline}, &resp)
	return resp, err
}

// SetField sets a scalar field by dotted path, e.g. "d2_problem.what".
func (c *Client) SetField(ctx context.Context, id, path, value string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPatch, c.reportPath(id, "fields"), map[string]any{"path": path, "value": value}, &resp)
	return resp, err
}

// AddTeamMember appends a member to the D1 team.
func (c *Client) AddTeamMember(ctx context.Context, id, name, role string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, c.reportPath(id, "team"), map[string]any{"name": name, "role": role}, &resp)
	return resp, err
}

// Export downloads the plain-text export of a report.
func (c *Client) Export(ctx context.Context, id string) (string, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/"+c.reportPath(id, "export"), nil)
	if err != nil {
		return "", err
	}
	c.setAuth(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return string(b), nil
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, reportID string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if reportID != "" {
		params.Set("report_id", reportID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
}

func (c *Client) reportPath(id, suffix string) string {
	p := "v0/reports/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
