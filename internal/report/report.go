// Package report aggregates findings and scores into an executive summary.
package report

import (
	"sort"

	"raciline/internal/domain"
	"raciline/internal/gaps"
	"raciline/internal/progress"
)

const DefaultTopGapsLimit = 5

type DomainSummary struct {
	Domain   string `json:"domain"`
	Total    int    `json:"total"`
	Complete int    `json:"complete"`
	Percent  int    `json:"percent"`
	Danger   int    `json:"danger"`
	Warning  int    `json:"warning"`
}

type RoleLoad struct {
	RoleID string `json:"role_id"`
	Name   string `json:"name"`
	Person string `json:"person,omitempty"`
	Count  int    `json:"count"`
}

type WorkshopHeader struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Organization string                `json:"organization,omitempty"`
	Goal         string                `json:"goal,omitempty"`
	Date         string                `json:"date,omitempty"`
	Status       domain.WorkshopStatus `json:"status"`
}

type Summary struct {
	Workshop         WorkshopHeader   `json:"workshop"`
	Percent          int              `json:"percent"`
	GateMet          bool             `json:"gate_met"`
	Missing          []string         `json:"missing"`
	Domains          []DomainSummary  `json:"domains"`
	TopRisks         []domain.Finding `json:"top_risks"`
	TopMisalignments []domain.Finding `json:"top_misalignments"`
	RoleLoad         []RoleLoad       `json:"role_load"`
	FindingCount     int              `json:"finding_count"`
}

// Build never mutates findings; a non-positive limit falls back to DefaultTopGapsLimit.
func Build(cat domain.Catalog, ws domain.Workshop, findings []domain.Finding, score progress.Score, limit int) Summary {
	if limit <= 0 {
		limit = DefaultTopGapsLimit
	}
	sorted := make([]domain.Finding, len(findings))
	copy(sorted, findings)
	gaps.Sort(sorted)

	s := Summary{
		Workshop: WorkshopHeader{
			ID:           ws.ID,
			Name:         ws.Name,
			Organization: ws.Organization,
			Goal:         ws.Goal,
			Date:         ws.Date,
			Status:       ws.Status,
		},
		Percent:          score.Percent,
		GateMet:          score.GateMet,
		Missing:          score.Missing,
		Domains:          Domains(cat, ws, sorted),
		TopRisks:         []domain.Finding{},
		TopMisalignments: []domain.Finding{},
		RoleLoad:         roleLoad(cat, ws),
		FindingCount:     len(sorted),
	}
	if s.Missing == nil {
		s.Missing = []string{}
	}
	for _, f := range sorted {
		switch f.Severity {
		case domain.SeverityDanger:
			if len(s.TopRisks) < limit {
				s.TopRisks = append(s.TopRisks, f)
			}
		case domain.SeverityWarning:
			if len(s.TopMisalignments) < limit {
				s.TopMisalignments = append(s.TopMisalignments, f)
			}
		}
	}
	return s
}

// Domains groups in-scope activities by domain, sorted by domain name.
func Domains(cat domain.Catalog, ws domain.Workshop, findings []domain.Finding) []DomainSummary {
	rows := gaps.ByActivity(cat.Index(), ws.Assignments)
	byDomain := map[string]*DomainSummary{}
	for _, act := range cat.InScope(ws.Scope) {
		d, ok := byDomain[act.Domain]
		if !ok {
			d = &DomainSummary{Domain: act.Domain}
			byDomain[act.Domain] = d
		}
		d.Total++
		if progress.IsClear(rows[act.ID]) {
			d.Complete++
		}
	}
	for _, f := range findings {
		d, ok := byDomain[f.Domain]
		if !ok {
			continue
		}
		if f.Severity == domain.SeverityDanger {
			d.Danger++
		} else {
			d.Warning++
		}
	}
	out := make([]DomainSummary, 0, len(byDomain))
	for _, d := range byDomain {
		d.Percent = progress.Percent(d.Complete, d.Total)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func roleLoad(cat domain.Catalog, ws domain.Workshop) []RoleLoad {
	idx := cat.Index()
	out := []RoleLoad{}
	for roleID, count := range gaps.RoleLoad(cat, ws) {
		rl := RoleLoad{RoleID: roleID, Name: roleID, Person: ws.RoleMappings[roleID], Count: count}
		if r, ok := idx.Role(roleID); ok {
			rl.Name = r.Name
		}
		out = append(out, rl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RoleID < out[j].RoleID
	})
	return out
}
