// Package export renders workshop results for stakeholders.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"raciline/internal/domain"
	"raciline/internal/gaps"
	"raciline/internal/progress"
	"raciline/internal/report"
)

type Format string

const (
	FormatMatrix  Format = "matrix"
	FormatGaps    Format = "gaps"
	FormatActions Format = "actions"
	FormatJSON    Format = "json"
	FormatSummary Format = "summary"
	FormatXLSX    Format = "xlsx"
)

func Formats() []Format {
	return []Format{FormatMatrix, FormatGaps, FormatActions, FormatJSON, FormatSummary, FormatXLSX}
}

func ParseFormat(in string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimSpace(in)))
	for _, known := range Formats() {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// ContentType returns the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatSummary:
		return "text/plain; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename suggests a download name for the workshop export.
func (f Format) Filename(workshopName string) string {
	base := strings.Trim(strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '-'
		}
		return r
	}, strings.TrimSpace(workshopName)), " .")
	if base == "" {
		base = "workshop"
	}
	switch f {
	case FormatMatrix:
		return base + "-raci-matrix.csv"
	case FormatGaps:
		return base + "-gap-register.csv"
	case FormatActions:
		return base + "-actions.csv"
	case FormatJSON:
		return base + ".json"
	case FormatXLSX:
		return base + "-raci-matrix.xlsx"
	default:
		return base + "-executive-summary.txt"
	}
}

// Input is everything a renderer may need. Findings are expected sorted.
type Input struct {
	Catalog     domain.Catalog
	Workshop    domain.Workshop
	Findings    []domain.Finding
	Score       progress.Score
	Summary     report.Summary
	Final       bool
	GeneratedAt string
}

// Render writes one format to w. Nothing is persisted.
func Render(w io.Writer, f Format, in Input) error {
	switch f {
	case FormatMatrix:
		return MatrixCSV(w, in.Catalog, in.Workshop)
	case FormatGaps:
		return GapRegisterCSV(w, in.Catalog, in.Workshop, in.Findings)
	case FormatActions:
		return ActionsCSV(w, in.Catalog, in.Workshop)
	case FormatJSON:
		return JSONBundle(w, in)
	case FormatSummary:
		return ExecutiveSummary(w, in.Summary)
	case FormatXLSX:
		return MatrixXLSX(w, in)
	}
	return fmt.Errorf("unknown export format %q", f)
}

func roleName(idx domain.Index, id string) string {
	if r, ok := idx.Role(id); ok && r.Name != "" {
		return r.Name
	}
	return id
}

var confidenceRank = map[domain.Confidence]int{
	domain.ConfidenceLow:    0,
	domain.ConfidenceMedium: 1,
	domain.ConfidenceHigh:   2,
}

// MatrixCSV writes one row per in-scope activity with role names per letter.
func MatrixCSV(w io.Writer, cat domain.Catalog, ws domain.Workshop) error {
	idx := cat.Index()
	rows := gaps.ByActivity(idx, ws.Assignments)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Domain", "Capability", "Activity", "R", "A", "C", "I", "Confidence", "Comment"}); err != nil {
		return err
	}
	for _, act := range cat.InScope(ws.Scope) {
		letters := map[domain.RACIValue][]string{}
		var notes []string
		var confidence domain.Confidence
		for _, r := range rows[act.ID] {
			letters[r.Value] = append(letters[r.Value], roleName(idx, r.RoleID))
			if r.Notes != "" {
				notes = append(notes, r.Notes)
			}
			if confidence == "" || confidenceRank[r.Confidence] < confidenceRank[confidence] {
				confidence = r.Confidence
			}
		}
		if d := ws.Decision(act.ID); d != nil && d.Rationale != "" {
			notes = append(notes, d.Rationale)
		}
		record := []string{
			act.Domain,
			act.Group,
			act.Name,
			strings.Join(letters[domain.Responsible], " | "),
			strings.Join(letters[domain.Accountable], " | "),
			strings.Join(letters[domain.Consulted], " | "),
			strings.Join(letters[domain.Informed], " | "),
			string(confidence),
			strings.Join(notes, " | "),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func impact(s domain.Severity) string {
	if s == domain.SeverityDanger {
		return "High"
	}
	return "Medium"
}

// GapRegisterCSV lists findings with the accountable person as owner and the
// earliest open action due date as target.
func GapRegisterCSV(w io.Writer, cat domain.Catalog, ws domain.Workshop, findings []domain.Finding) error {
	idx := cat.Index()
	rows := gaps.ByActivity(idx, ws.Assignments)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Issue", "Impact", "Recommended action", "Owner", "Target date"}); err != nil {
		return err
	}
	for _, f := range findings {
		owner := ""
		if f.RoleID != "" && f.ActivityID == "" {
			owner = ws.RoleMappings[f.RoleID]
		}
		for _, r := range rows[f.ActivityID] {
			if r.Value == domain.Accountable && ws.RoleMappings[r.RoleID] != "" {
				owner = ws.RoleMappings[r.RoleID]
				break
			}
		}
		if owner == "" {
			owner = "Unassigned"
		}
		issue := f.Message
		if f.Activity != "" {
			issue = fmt.Sprintf("%s / %s: %s", f.Domain, f.Activity, f.Message)
		}
		if err := cw.Write([]string{issue, impact(f.Severity), f.Recommendation, owner, targetDate(ws, f.ActivityID)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func targetDate(ws domain.Workshop, activityID string) string {
	if activityID == "" {
		return ""
	}
	var dues []string
	for _, a := range ws.Actions {
		if a.ActivityID == activityID && a.Status != "done" && a.Due != "" {
			dues = append(dues, a.Due)
		}
	}
	if len(dues) == 0 {
		return ""
	}
	sort.Strings(dues)
	return dues[0]
}

func ActionsCSV(w io.Writer, cat domain.Catalog, ws domain.Workshop) error {
	idx := cat.Index()
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Activity", "Owner", "Due", "Notes", "Status"}); err != nil {
		return err
	}
	for _, a := range ws.Actions {
		activity := a.ActivityID
		if act, ok := idx.Activity(a.ActivityID); ok {
			activity = act.Name
		}
		if err := cw.Write([]string{activity, a.Owner, a.Due, a.Notes, a.Status}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type Bundle struct {
	Final       bool             `json:"final"`
	GeneratedAt string           `json:"generated_at,omitempty"`
	Workshop    domain.Workshop  `json:"workshop"`
	Catalog     domain.Catalog   `json:"catalog"`
	Findings    []domain.Finding `json:"findings"`
	Score       progress.Score   `json:"score"`
	Summary     report.Summary   `json:"summary"`
}

func JSONBundle(w io.Writer, in Input) error {
	findings := in.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Bundle{
		Final:       in.Final,
		GeneratedAt: in.GeneratedAt,
		Workshop:    in.Workshop,
		Catalog:     in.Catalog,
		Findings:    findings,
		Score:       in.Score,
		Summary:     in.Summary,
	})
}

func summaryLines(findings []domain.Finding) string {
	if len(findings) == 0 {
		return "None captured"
	}
	lines := make([]string, 0, len(findings))
	for i, f := range findings {
		where := f.Activity
		if f.Domain != "" {
			where = f.Domain + " / " + f.Activity
		}
		if where == "" {
			where = f.Message
		}
		lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, f.Issue, where))
	}
	return strings.Join(lines, "\n")
}

// ExecutiveSummary writes the plain-text summary shared with sponsors.
func ExecutiveSummary(w io.Writer, s report.Summary) error {
	_, err := fmt.Fprintf(w, `Executive Summary
Workshop: %s
Goal: %s
Progress: %d%% with clear A/R

Top Risks:
%s

Top Misalignments:
%s

Next Actions:
- Close remaining A/R gaps
- Validate Accountable load
- Publish RACI matrix to stakeholders
`, s.Workshop.Name, s.Workshop.Goal, s.Percent, summaryLines(s.TopRisks), summaryLines(s.TopMisalignments))
	return err
}
