// Package export turns a report into a plain-text document, one section
// per discipline in D1..D8 order.
package export

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"eightd/internal/domain"
)

// Section is one block of the exported document.
type Section interface {
	Title() string
	Body() string
}

// TableSection renders as a bordered table under its title.
type TableSection struct {
	Name   string
	Header []string
	Rows   [][]string
}

func (s TableSection) Title() string { return s.Name }

func (s TableSection) Body() string {
	tw := table.NewWriter()
	header := make(table.Row, len(s.Header))
	for i, h := range s.Header {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range s.Rows {
		r := make(table.Row, len(row))
		for i, c := range row {
			r[i] = c
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// TextSection renders its lines verbatim under its title.
type TextSection struct {
	Name  string
	Lines []string
}

func (s TextSection) Title() string { return s.Name }
func (s TextSection) Body() string  { return strings.Join(s.Lines, "\n") }

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func actionRows(items []domain.ActionItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.Action, it.Responsible, it.Date, yesNo(it.Verified)})
	}
	return rows
}

// Build assembles the export sections for a report. Section order and the
// row order inside each section are fixed regardless of how the document
// was edited.
func Build(rep domain.Report) []Section {
	var sections []Section

	teamRows := make([][]string, 0, len(rep.D1Team))
	for _, m := range rep.D1Team {
		teamRows = append(teamRows, []string{m.Name, m.Role})
	}
	sections = append(sections, TableSection{
		Name:   domain.D1.Title(),
		Header: []string{"Name", "Role"},
		Rows:   teamRows,
	})

	problemRows := make([][]string, 0, 7)
	for _, f := range rep.D2Problem.Fields() {
		problemRows = append(problemRows, []string{f.Label, f.Value})
	}
	sections = append(sections, TableSection{
		Name:   domain.D2.Title(),
		Header: []string{"Question", "Answer"},
		Rows:   problemRows,
	})

	sections = append(sections, TableSection{
		Name:   domain.D3.Title(),
		Header: []string{"Action", "Responsible", "Date", "Verified"},
		Rows:   actionRows(rep.D3Containment),
	})

	whys := make([]string, 0, len(rep.D4RootCause.FiveWhys))
	for i, w := range rep.D4RootCause.FiveWhys {
		whys = append(whys, fmt.Sprintf("%d. %s", i+1, w))
	}
	sections = append(sections, TextSection{Name: domain.D4.Title() + ": Five Whys", Lines: whys})

	fishRows := make([][]string, 0, 6)
	for _, cat := range domain.FishboneCategories() {
		fishRows = append(fishRows, []string{string(cat), strings.Join(rep.D4RootCause.Fishbone[cat], "; ")})
	}
	sections = append(sections, TableSection{
		Name:   domain.D4.Title() + ": Fishbone",
		Header: []string{"Category", "Causes"},
		Rows:   fishRows,
	})

	sections = append(sections, TableSection{
		Name:   domain.D5.Title(),
		Header: []string{"Action", "Responsible", "Date", "Verified"},
		Rows:   actionRows(rep.D5Corrective),
	})

	sections = append(sections, TextSection{Name: domain.D6.Title(), Lines: []string{
		"Summary: " + rep.D6Implementation.Summary,
		"Validation results: " + rep.D6Implementation.ValidationResults,
	}})
	sections = append(sections, TextSection{Name: domain.D7.Title(), Lines: []string{
		"Updated documents: " + rep.D7Prevention.UpdatedDocs,
		"New standards: " + rep.D7Prevention.NewStandards,
	}})
	sections = append(sections, TextSection{Name: domain.D8.Title(), Lines: []string{
		"Summary: " + rep.D8Recognition.Summary,
		"Celebration date: " + rep.D8Recognition.CelebrationDate,
	}})

	return sections
}

// Render produces the full text document for a report.
func Render(rep domain.Report) string {
	var b strings.Builder
	b.WriteString("8D Report: " + rep.Title + "\n")
	b.WriteString("Report ID: " + rep.ID + "\n")
	if rep.CreatedAt != "" {
		b.WriteString("Created: " + rep.CreatedAt + "\n")
	}
	for _, s := range Build(rep) {
		b.WriteString("\n## " + s.Title() + "\n")
		body := s.Body()
		if body != "" {
			b.WriteString(body + "\n")
		}
	}
	return b.String()
}

// Filename returns the export file name for a report.
func Filename(rep domain.Report) string {
	return "8d-report-" + rep.ID + ".txt"
}
