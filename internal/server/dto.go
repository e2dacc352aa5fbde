package server

import (
	"eightd/internal/domain"
)

// Request payloads

type CreateReportRequest struct {
	Title string `json:"title,omitempty"`
}

type SetFieldRequest struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type SetDisciplineRequest struct {
	Discipline string `json:"discipline" enum:"D1,D2,D3,D4,D5,D6,D7,D8"`
}

type AddTeamMemberRequest struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type ActionItemRequest struct {
	Action      string `json:"action"`
	Responsible string `json:"responsible,omitempty"`
	Date        string `json:"date,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
}

type SetWhyRequest struct {
	Text string `json:"text"`
}

type SetFishboneRequest struct {
	Causes []string `json:"causes"`
}

// Response payloads

type ReportResponse struct {
	ID                string                `json:"id"`
	Namespace         string                `json:"namespace"`
	Title             string                `json:"title"`
	CreatedBy         string                `json:"created_by,omitempty"`
	CreatedAt         string                `json:"created_at" format:"date-time"`
	UpdatedAt         string                `json:"updated_at" format:"date-time"`
	CurrentDiscipline string                `json:"current_discipline" enum:"D1,D2,D3,D4,D5,D6,D7,D8"`
	D1Team            []domain.TeamMember   `json:"d1_team"`
	D2Problem         domain.Problem        `json:"d2_problem"`
	D3Containment     []domain.ActionItem   `json:"d3_containment"`
	D4RootCause       domain.RootCause      `json:"d4_root_cause"`
	D5Corrective      []domain.ActionItem   `json:"d5_corrective_actions"`
	D6Implementation  domain.Implementation `json:"d6_implementation"`
	D7Prevention      domain.Prevention     `json:"d7_prevention"`
	D8Recognition     domain.Recognition    `json:"d8_recognition"`
}

type ReportSummaryResponse struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	CreatedBy         string `json:"created_by,omitempty"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
	CurrentDiscipline string `json:"current_discipline"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Namespace  string `json:"namespace,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:                r.ID,
		Namespace:         r.Namespace,
		Title:             r.Title,
		CreatedBy:         r.CreatedBy,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		CurrentDiscipline: string(r.CurrentDiscipline),
		D1Team:            r.D1Team,
		D2Problem:         r.D2Problem,
		D3Containment:     r.D3Containment,
		D4RootCause:       r.D4RootCause,
		D5Corrective:      r.D5Corrective,
		D6Implementation:  r.D6Implementation,
		D7Prevention:      r.D7Prevention,
		D8Recognition:     r.D8Recognition,
	}
}

func reportSummary(r domain.Report) ReportSummaryResponse {
	return ReportSummaryResponse{
		ID:                r.ID,
		Title:             r.Title,
		CreatedBy:         r.CreatedBy,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		CurrentDiscipline: string(r.CurrentDiscipline),
	}
}

func mapSummaries(items []domain.Report) []ReportSummaryResponse {
	res := make([]ReportSummaryResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reportSummary(r))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		Namespace:  e.Namespace,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}
