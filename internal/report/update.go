// Package report resolves field updates against the report document.
// An Update addresses exactly one field: either a whole top-level
// discipline field replaced with a typed value, or a known dotted path
// into a nested mapping set to a scalar. Unknown paths are rejected at
// construction, so a resolved Update always maps to a valid column.
package report

import (
	"encoding/json"
	"fmt"
	"sort"

	"eightd/internal/domain"
)

// Column names of the reports table addressed by updates.
const (
	ColTitle          = "title"
	ColDiscipline     = "current_discipline"
	ColTeam           = "d1_team"
	ColProblem        = "d2_problem"
	ColContainment    = "d3_containment"
	ColRootCause      = "d4_root_cause"
	ColCorrective     = "d5_corrective_actions"
	ColImplementation = "d6_implementation"
	ColPrevention     = "d7_prevention"
	ColRecognition    = "d8_recognition"
)

// Update is a single-field mutation of a report document.
type Update struct {
	column string
	// sub is the JSON key inside the column for scalar path updates;
	// empty when the whole column value is replaced.
	sub   string
	value string // serialized value persisted to the store
	raw   bool   // value is a plain scalar, not JSON text
	apply func(*domain.Report)
}

// Column returns the reports-table column the update addresses.
func (u Update) Column() string { return u.column }

// SubPath returns the JSON key within the column, or "" for whole-field
// replacement.
func (u Update) SubPath() string { return u.sub }

// Value returns the serialized value. For whole-field updates this is JSON
// text (or the plain scalar for title/discipline); for path updates it is
// the scalar string.
func (u Update) Value() string { return u.value }

// Scalar reports whether Value is a plain string rather than JSON text.
func (u Update) Scalar() bool { return u.raw }

// Apply mutates the in-memory report to match the persisted change.
func (u Update) Apply(r *domain.Report) {
	if u.apply != nil {
		u.apply(r)
	}
}

func jsonUpdate(column string, v any, apply func(*domain.Report)) (Update, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Update{}, fmt.Errorf("encode %s: %w", column, err)
	}
	return Update{column: column, value: string(b), apply: apply}, nil
}

// Title replaces the report title.
func Title(v string) Update {
	return Update{column: ColTitle, value: v, raw: true, apply: func(r *domain.Report) { r.Title = v }}
}

// CurrentDiscipline replaces the persisted navigation position.
func CurrentDiscipline(d domain.Discipline) (Update, error) {
	if !d.Valid() {
		return Update{}, fmt.Errorf("unknown discipline %q", d)
	}
	return Update{column: ColDiscipline, value: string(d), raw: true, apply: func(r *domain.Report) { r.CurrentDiscipline = d }}, nil
}

// Team replaces the D1 roster wholesale.
func Team(members []domain.TeamMember) (Update, error) {
	if members == nil {
		members = []domain.TeamMember{}
	}
	return jsonUpdate(ColTeam, members, func(r *domain.Report) { r.D1Team = members })
}

// Problem replaces the D2 5W2H block.
func Problem(p domain.Problem) (Update, error) {
	return jsonUpdate(ColProblem, p, func(r *domain.Report) { r.D2Problem = p })
}

// Containment replaces the D3 action list.
func Containment(items []domain.ActionItem) (Update, error) {
	if items == nil {
		items = []domain.ActionItem{}
	}
	return jsonUpdate(ColContainment, items, func(r *domain.Report) { r.D3Containment = items })
}

// RootCause replaces the D4 analysis.
func RootCause(rc domain.RootCause) (Update, error) {
	return jsonUpdate(ColRootCause, rc, func(r *domain.Report) { r.D4RootCause = rc })
}

// Corrective replaces the D5 action list.
func Corrective(items []domain.ActionItem) (Update, error) {
	if items == nil {
		items = []domain.ActionItem{}
	}
	return jsonUpdate(ColCorrective, items, func(r *domain.Report) { r.D5Corrective = items })
}

// Implementation replaces the D6 block.
func Implementation(v domain.Implementation) (Update, error) {
	return jsonUpdate(ColImplementation, v, func(r *domain.Report) { r.D6Implementation = v })
}

// Prevention replaces the D7 block.
func Prevention(v domain.Prevention) (Update, error) {
	return jsonUpdate(ColPrevention, v, func(r *domain.Report) { r.D7Prevention = v })
}

// Recognition replaces the D8 block.
func Recognition(v domain.Recognition) (Update, error) {
	return jsonUpdate(ColRecognition, v, func(r *domain.Report) { r.D8Recognition = v })
}

// scalarPath is one known dotted path with its typed setter.
type scalarPath struct {
	column string
	sub    string
	set    func(*domain.Report, string)
}

// scalarPaths enumerates every legal dotted path exhaustively. A path not
// in this table does not exist as far as updates are concerned.
var scalarPaths = map[string]scalarPath{
	"title":               {column: ColTitle, set: func(r *domain.Report, v string) { r.Title = v }},
	"d2_problem.what":     {column: ColProblem, sub: "what", set: func(r *domain.Report, v string) { r.D2Problem.What = v }},
	"d2_problem.where":    {column: ColProblem, sub: "where", set: func(r *domain.Report, v string) { r.D2Problem.Where = v }},
	"d2_problem.when":     {column: ColProblem, sub: "when", set: func(r *domain.Report, v string) { r.D2Problem.When = v }},
	"d2_problem.who":      {column: ColProblem, sub: "who", set: func(r *domain.Report, v string) { r.D2Problem.Who = v }},
	"d2_problem.why":      {column: ColProblem, sub: "why", set: func(r *domain.Report, v string) { r.D2Problem.Why = v }},
	"d2_problem.how":      {column: ColProblem, sub: "how", set: func(r *domain.Report, v string) { r.D2Problem.How = v }},
	"d2_problem.how_many": {column: ColProblem, sub: "how_many", set: func(r *domain.Report, v string) { r.D2Problem.HowMany = v }},
	"d6_implementation.summary":            {column: ColImplementation, sub: "summary", set: func(r *domain.Report, v string) { r.D6Implementation.Summary = v }},
	"d6_implementation.validation_results": {column: ColImplementation, sub: "validation_results", set: func(r *domain.Report, v string) { r.D6Implementation.ValidationResults = v }},
	"d7_prevention.updated_docs":           {column: ColPrevention, sub: "updated_docs", set: func(r *domain.Report, v string) { r.D7Prevention.UpdatedDocs = v }},
	"d7_prevention.new_standards":          {column: ColPrevention, sub: "new_standards", set: func(r *domain.Report, v string) { r.D7Prevention.NewStandards = v }},
	"d8_recognition.summary":               {column: ColRecognition, sub: "summary", set: func(r *domain.Report, v string) { r.D8Recognition.Summary = v }},
	"d8_recognition.celebration_date":      {column: ColRecognition, sub: "celebration_date", set: func(r *domain.Report, v string) { r.D8Recognition.CelebrationDate = v }},
}

// Path builds an update for a known dotted path and scalar value. Unknown
// paths return an error; no free-form path resolution happens anywhere.
func Path(path, value string) (Update, error) {
	sp, ok := scalarPaths[path]
	if !ok {
		return Update{}, fmt.Errorf("unknown field path %q", path)
	}
	return Update{
		column: sp.column,
		sub:    sp.sub,
		value:  value,
		raw:    true,
		apply:  func(r *domain.Report) { sp.set(r, value) },
	}, nil
}

// KnownPaths lists every legal dotted path, sorted for display.
func KnownPaths() []string {
	paths := make([]string, 0, len(scalarPaths))
	for p := range scalarPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
