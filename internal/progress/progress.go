// Package progress scores workshop readiness and decides whether the final export gate is open.
package progress

import (
	"fmt"
	"math"
	"strings"

	"raciline/internal/domain"
	"raciline/internal/gaps"
)

type Config struct {
	GatePercentThreshold int
}

func DefaultConfig() Config {
	return Config{GatePercentThreshold: 70}
}

const (
	MilestoneName      = "name"
	MilestoneSetup     = "setup"
	MilestoneScope     = "scope"
	MilestoneRoles     = "roles"
	MilestoneCoverage  = "coverage"
	MilestoneFollowups = "followups"
	MilestoneFinalized = "finalized"
)

type Milestone struct {
	Key  string `json:"key"`
	Done bool   `json:"done"`
	Hint string `json:"hint,omitempty"`
}

type Steps struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

type Score struct {
	Percent    int         `json:"percent"`
	Clear      int         `json:"clear"`
	Total      int         `json:"total"`
	GateMet    bool        `json:"gate_met"`
	Threshold  int         `json:"threshold"`
	Missing    []string    `json:"missing"`
	Steps      Steps       `json:"steps"`
	Milestones []Milestone `json:"milestones"`
}

// Coverage counts in-scope activities and those with exactly one A and at least one R.
func Coverage(cat domain.Catalog, ws domain.Workshop) (clear, total int) {
	rows := gaps.ByActivity(cat.Index(), ws.Assignments)
	for _, act := range cat.InScope(ws.Scope) {
		total++
		if IsClear(rows[act.ID]) {
			clear++
		}
	}
	return clear, total
}

// IsClear reports whether facilitator rows give an activity exactly one A and at least one R.
func IsClear(rows []domain.Assignment) bool {
	a, r := 0, 0
	for _, row := range rows {
		switch row.Value {
		case domain.Accountable:
			a++
		case domain.Responsible:
			r++
		}
	}
	return a == 1 && r > 0
}

// Percent is round(100*clear/total), 0 when total is 0.
func Percent(clear, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(clear) * 100 / float64(total)))
}

// ScoreWorkshop never fails: an empty workshop scores 0 with the gate closed.
func ScoreWorkshop(cat domain.Catalog, ws domain.Workshop, cfg Config) Score {
	clear, total := Coverage(cat, ws)
	pct := Percent(clear, total)
	scoped := !ws.Scope.Empty()
	mapped := ws.MappedRoles() > 0

	followupsOpen := false
	for _, d := range ws.Decisions {
		if d.Status.NeedsFollowup() {
			followupsOpen = true
			break
		}
	}

	coverageMet := total > 0 && pct >= cfg.GatePercentThreshold
	milestones := []Milestone{
		{Key: MilestoneName, Done: strings.TrimSpace(ws.Name) != "", Hint: "Name the workshop"},
		{Key: MilestoneSetup, Done: strings.TrimSpace(ws.Facilitator) != "" || strings.TrimSpace(ws.Organization) != "",
			Hint: "Complete setup details (facilitator or organization)"},
		{Key: MilestoneScope, Done: scoped, Hint: "Select the domains or activities in scope"},
		{Key: MilestoneRoles, Done: mapped, Hint: "Map template roles to people"},
		{Key: MilestoneCoverage, Done: coverageMet,
			Hint: fmt.Sprintf("Reach %d%% activities with a clear A/R (currently %d%%)", cfg.GatePercentThreshold, pct)},
		{Key: MilestoneFollowups, Done: !followupsOpen, Hint: "Resolve disputed and follow-up decisions"},
		{Key: MilestoneFinalized, Done: ws.Status == domain.WorkshopFinal, Hint: "Finalize the workshop"},
	}

	score := Score{
		Percent:    pct,
		Clear:      clear,
		Total:      total,
		GateMet:    coverageMet && scoped && mapped,
		Threshold:  cfg.GatePercentThreshold,
		Missing:    []string{},
		Milestones: milestones,
	}
	for i := range milestones {
		if milestones[i].Done {
			score.Steps.Completed++
			milestones[i].Hint = ""
			continue
		}
		score.Missing = append(score.Missing, milestones[i].Hint)
	}
	score.Steps.Total = len(milestones)
	score.Steps.Percent = Percent(score.Steps.Completed, score.Steps.Total)
	return score
}
