package domain

import "fmt"

// Discipline identifies one of the eight 8D sections.
type Discipline string

const (
	D1 Discipline = "D1"
	D2 Discipline = "D2"
	D3 Discipline = "D3"
	D4 Discipline = "D4"
	D5 Discipline = "D5"
	D6 Discipline = "D6"
	D7 Discipline = "D7"
	D8 Discipline = "D8"
)

// Disciplines returns the eight identifiers in fixed order.
func Disciplines() []Discipline {
	return []Discipline{D1, D2, D3, D4, D5, D6, D7, D8}
}

// Valid reports whether d is one of the eight known identifiers.
func (d Discipline) Valid() bool {
	switch d {
	case D1, D2, D3, D4, D5, D6, D7, D8:
		return true
	}
	return false
}

// ParseDiscipline validates a raw discipline identifier.
func ParseDiscipline(s string) (Discipline, error) {
	d := Discipline(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown discipline %q", s)
	}
	return d, nil
}

// Title returns the human label for a discipline section.
func (d Discipline) Title() string {
	switch d {
	case D1:
		return "D1 - Team"
	case D2:
		return "D2 - Problem Description"
	case D3:
		return "D3 - Containment Actions"
	case D4:
		return "D4 - Root Cause Analysis"
	case D5:
		return "D5 - Corrective Actions"
	case D6:
		return "D6 - Implementation"
	case D7:
		return "D7 - Prevention"
	case D8:
		return "D8 - Recognition"
	}
	return string(d)
}

type TeamMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Problem holds the 5W2H problem description.
type Problem struct {
	What    string `json:"what"`
	Where   string `json:"where"`
	When    string `json:"when"`
	Who     string `json:"who"`
	Why     string `json:"why"`
	How     string `json:"how"`
	HowMany string `json:"how_many"`
}

// ProblemField pairs a 5W2H key with its value, used where ordering matters.
type ProblemField struct {
	Key   string
	Label string
	Value string
}

// Fields returns the 5W2H entries in fixed key order.
func (p Problem) Fields() []ProblemField {
	return []ProblemField{
		{Key: "what", Label: "What", Value: p.What},
		{Key: "where", Label: "Where", Value: p.Where},
		{Key: "when", Label: "When", Value: p.When},
		{Key: "who", Label: "Who", Value: p.Who},
		{Key: "why", Label: "Why", Value: p.Why},
		{Key: "how", Label: "How", Value: p.How},
		{Key: "how_many", Label: "How Many", Value: p.HowMany},
	}
}

// ActionItem is one row of a containment or corrective action plan.
type ActionItem struct {
	Action      string `json:"action"`
	Responsible string `json:"responsible"`
	Date        string `json:"date"`
	Verified    bool   `json:"verified"`
}

// FishboneCategory is one of the six fixed Ishikawa categories.
type FishboneCategory string

const (
	Manpower    FishboneCategory = "Manpower"
	Machine     FishboneCategory = "Machine"
	Method      FishboneCategory = "Method"
	Material    FishboneCategory = "Material"
	Measurement FishboneCategory = "Measurement"
	Environment FishboneCategory = "Environment"
)

// FishboneCategories returns the six categories in fixed order.
func FishboneCategories() []FishboneCategory {
	return []FishboneCategory{Manpower, Machine, Method, Material, Measurement, Environment}
}

// ValidFishboneCategory reports whether c is one of the six categories.
func ValidFishboneCategory(c FishboneCategory) bool {
	for _, known := range FishboneCategories() {
		if c == known {
			return true
		}
	}
	return false
}

type RootCause struct {
	FiveWhys []string                      `json:"five_whys"`
	Fishbone map[FishboneCategory][]string `json:"fishbone"`
}

type Implementation struct {
	Summary           string `json:"summary"`
	ValidationResults string `json:"validation_results"`
}

type Prevention struct {
	UpdatedDocs  string `json:"updated_docs"`
	NewStandards string `json:"new_standards"`
}

type Recognition struct {
	Summary         string `json:"summary"`
	CelebrationDate string `json:"celebration_date"`
}

// Report is the root document. All eight discipline fields are present on
// every report from creation; list items are addressed by position, not by
// stable id, so removing an item shifts subsequent positions.
type Report struct {
	ID                string         `json:"id"`
	Namespace         string         `json:"namespace"`
	Title             string         `json:"title"`
	CreatedBy         string         `json:"created_by"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
	CurrentDiscipline Discipline     `json:"current_discipline" enum:"D1,D2,D3,D4,D5,D6,D7,D8"`
	D1Team            []TeamMember   `json:"d1_team"`
	D2Problem         Problem        `json:"d2_problem"`
	D3Containment     []ActionItem   `json:"d3_containment"`
	D4RootCause       RootCause      `json:"d4_root_cause"`
	D5Corrective      []ActionItem   `json:"d5_corrective_actions"`
	D6Implementation  Implementation `json:"d6_implementation"`
	D7Prevention      Prevention     `json:"d7_prevention"`
	D8Recognition     Recognition    `json:"d8_recognition"`
}

// DefaultReport returns the canonical skeleton for a new report. Every
// discipline field is populated; five_whys is seeded with one empty entry
// and the fishbone carries all six categories.
func DefaultReport(title, createdBy string) Report {
	fishbone := make(map[FishboneCategory][]string, 6)
	for _, c := range FishboneCategories() {
		fishbone[c] = []string{}
	}
	return Report{
		Title:             title,
		CreatedBy:         createdBy,
		CurrentDiscipline: D1,
		D1Team:            []TeamMember{},
		D3Containment:     []ActionItem{},
		D4RootCause: RootCause{
			FiveWhys: []string{""},
			Fishbone: fishbone,
		},
		D5Corrective: []ActionItem{},
	}
}

// Normalize fills gaps left by legacy documents: a missing or unknown
// current discipline falls back to D1 and nil collections become empty.
func (r *Report) Normalize() {
	if !r.CurrentDiscipline.Valid() {
		r.CurrentDiscipline = D1
	}
	if r.D1Team == nil {
		r.D1Team = []TeamMember{}
	}
	if r.D3Containment == nil {
		r.D3Containment = []ActionItem{}
	}
	if r.D5Corrective == nil {
		r.D5Corrective = []ActionItem{}
	}
	if r.D4RootCause.FiveWhys == nil {
		r.D4RootCause.FiveWhys = []string{""}
	}
	if r.D4RootCause.Fishbone == nil {
		r.D4RootCause.Fishbone = map[FishboneCategory][]string{}
	}
	for _, c := range FishboneCategories() {
		if r.D4RootCause.Fishbone[c] == nil {
			r.D4RootCause.Fishbone[c] = []string{}
		}
	}
}

// Event is one row of the mutation log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Namespace  string `json:"namespace,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
