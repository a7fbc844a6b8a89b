// Package gaps evaluates RACI assignments and reports ownership gaps.
//
// Every function here is pure: inputs are never mutated and the same input
// always produces the same findings in the same order.
package gaps

import (
	"fmt"
	"sort"
	"strings"

	"raciline/internal/domain"
)

// Rules toggles and tunes the individual checks.
type Rules struct {
	RequireAccountable    bool
	SingleAccountable     bool
	RequireResponsible    bool
	MaxResponsible        int
	RoleOverloadThreshold int
}

func DefaultRules() Rules {
	return Rules{
		RequireAccountable:    true,
		SingleAccountable:     true,
		RequireResponsible:    true,
		MaxResponsible:        3,
		RoleOverloadThreshold: 5,
	}
}

type Evaluator struct {
	Rules Rules
}

func New(rules Rules) Evaluator {
	return Evaluator{Rules: rules}
}

// rowSet holds the facilitator rows of one activity, split by letter.
// accountable and responsible keep one entry per row so duplicates are counted.
type rowSet struct {
	accountable []string
	responsible []string
	low         bool
}

// Facilitator filters rows down to facilitator decisions: recommended rows,
// unknown letters and references to roles missing from the catalog are dropped.
func Facilitator(idx domain.Index, rows []domain.Assignment) []domain.Assignment {
	out := make([]domain.Assignment, 0, len(rows))
	for _, r := range rows {
		if r.Recommended() || !r.Value.Valid() {
			continue
		}
		if _, ok := idx.Role(r.RoleID); !ok && idx.KnowsRoles() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ByActivity groups facilitator rows by activity id.
func ByActivity(idx domain.Index, rows []domain.Assignment) map[string][]domain.Assignment {
	out := map[string][]domain.Assignment{}
	for _, r := range Facilitator(idx, rows) {
		out[r.ActivityID] = append(out[r.ActivityID], r)
	}
	return out
}

func collect(rows []domain.Assignment) rowSet {
	var s rowSet
	for _, r := range rows {
		switch r.Value {
		case domain.Accountable:
			s.accountable = append(s.accountable, r.RoleID)
		case domain.Responsible:
			s.responsible = append(s.responsible, r.RoleID)
		}
		if r.Confidence == domain.ConfidenceLow {
			s.low = true
		}
	}
	return s
}

// EvaluateActivity returns every finding that applies to one activity.
// Rows for other activities are ignored; an activity missing from the catalog yields nothing.
func (e Evaluator) EvaluateActivity(cat domain.Catalog, activityID string, rows []domain.Assignment, decision *domain.Decision) []domain.Finding {
	idx := cat.Index()
	act, ok := idx.Activity(activityID)
	if !ok {
		return []domain.Finding{}
	}
	var own []domain.Assignment
	for _, r := range Facilitator(idx, rows) {
		if r.ActivityID == activityID {
			own = append(own, r)
		}
	}
	if decision != nil && decision.ActivityID != "" && decision.ActivityID != activityID {
		decision = nil
	}
	return e.evaluate(act, own, decision)
}

func (e Evaluator) evaluate(act domain.Activity, rows []domain.Assignment, decision *domain.Decision) []domain.Finding {
	s := collect(rows)
	findings := []domain.Finding{}
	add := func(issue domain.Issue, sev domain.Severity, msg, rec string) {
		findings = append(findings, domain.Finding{
			ActivityID:     act.ID,
			Activity:       act.Name,
			Domain:         act.Domain,
			Issue:          issue,
			Severity:       sev,
			Message:        msg,
			Recommendation: rec,
		})
	}

	aCount, rCount := len(s.accountable), len(s.responsible)
	if e.Rules.RequireAccountable && aCount == 0 {
		add(domain.IssueMissingAccountable, domain.SeverityDanger,
			"No Accountable assigned", "Confirm a single A before moving forward")
	}
	if e.Rules.SingleAccountable && aCount > 1 {
		add(domain.IssueMultipleAccountable, domain.SeverityDanger,
			fmt.Sprintf("Multiple Accountables (%s)", strings.Join(s.accountable, ", ")),
			"Revisit decision rules: one and only one A")
	}
	if e.Rules.RequireResponsible && rCount == 0 {
		add(domain.IssueMissingResponsible, domain.SeverityWarning,
			"No Responsible identified", "Assign an R for execution")
	}
	if (e.Rules.RequireAccountable || e.Rules.RequireResponsible) && aCount == 0 && rCount == 0 {
		add(domain.IssueOwnershipMissing, domain.SeverityDanger,
			"Ownership missing (no A/R)", "Clarify who owns the outcome and delivery")
	}
	if s.low {
		add(domain.IssueLowConfidence, domain.SeverityWarning,
			"Low confidence assignment", "Capture why confidence is low and agree an action")
	}
	if decision != nil && decision.Status.NeedsFollowup() {
		add(domain.IssueNeedsFollowup, domain.SeverityWarning,
			fmt.Sprintf("Decision marked %s", decision.Status), "Log a follow-up action with an owner and a date")
	}
	responsible := distinct(s.responsible)
	for _, roleID := range intersect(distinct(s.accountable), responsible) {
		f := domain.Finding{
			ActivityID:     act.ID,
			Activity:       act.Name,
			Domain:         act.Domain,
			RoleID:         roleID,
			Issue:          domain.IssueAccountableResponsible,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("%s is both Accountable and Responsible", roleID),
			Recommendation: "Confirm the A also does the work, or name a separate R",
		}
		findings = append(findings, f)
	}
	if e.Rules.MaxResponsible > 0 && len(responsible) > e.Rules.MaxResponsible {
		add(domain.IssueTooManyResponsible, domain.SeverityWarning,
			fmt.Sprintf("%d Responsible roles (max %d)", len(responsible), e.Rules.MaxResponsible),
			"Name the true driver and move the others to C or I")
	}
	return findings
}

// EvaluateWorkshop evaluates every in-scope activity, then appends role overload findings.
func (e Evaluator) EvaluateWorkshop(cat domain.Catalog, ws domain.Workshop) []domain.Finding {
	idx := cat.Index()
	rows := ByActivity(idx, ws.Assignments)
	findings := []domain.Finding{}
	load := map[string]int{}
	for _, act := range cat.InScope(ws.Scope) {
		own := rows[act.ID]
		findings = append(findings, e.evaluate(act, own, ws.Decision(act.ID))...)
		owners := map[string]struct{}{}
		for _, r := range own {
			if r.Value == domain.Accountable || r.Value == domain.Responsible {
				owners[r.RoleID] = struct{}{}
			}
		}
		for roleID := range owners {
			load[roleID]++
		}
	}
	return append(findings, e.roleOverload(idx, load)...)
}

// RoleLoad counts, per role, the in-scope activities where the role holds A or R.
func RoleLoad(cat domain.Catalog, ws domain.Workshop) map[string]int {
	idx := cat.Index()
	rows := ByActivity(idx, ws.Assignments)
	load := map[string]int{}
	for _, act := range cat.InScope(ws.Scope) {
		seen := map[string]struct{}{}
		for _, r := range rows[act.ID] {
			if r.Value != domain.Accountable && r.Value != domain.Responsible {
				continue
			}
			if _, ok := seen[r.RoleID]; ok {
				continue
			}
			seen[r.RoleID] = struct{}{}
			load[r.RoleID]++
		}
	}
	return load
}

func (e Evaluator) roleOverload(idx domain.Index, load map[string]int) []domain.Finding {
	if e.Rules.RoleOverloadThreshold <= 0 {
		return nil
	}
	roleIDs := make([]string, 0, len(load))
	for roleID, count := range load {
		if count > e.Rules.RoleOverloadThreshold {
			roleIDs = append(roleIDs, roleID)
		}
	}
	sort.Strings(roleIDs)
	out := make([]domain.Finding, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		name := roleID
		if r, ok := idx.Role(roleID); ok && r.Name != "" {
			name = r.Name
		}
		out = append(out, domain.Finding{
			RoleID:         roleID,
			Count:          load[roleID],
			Issue:          domain.IssueRoleOverload,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("Role overload: %s owns %d items", name, load[roleID]),
			Recommendation: "Redistribute A/R load to reduce bottlenecks",
		})
	}
	return out
}

// EvaluateConflicts compares accountable sets across workshops built on the same template.
func (e Evaluator) EvaluateConflicts(cat domain.Catalog, workshops []domain.Workshop) []domain.ConflictFinding {
	conflicts := []domain.ConflictFinding{}
	var sharing []domain.Workshop
	for _, ws := range workshops {
		if cat.TemplateID != "" && ws.TemplateID != "" && ws.TemplateID != cat.TemplateID {
			continue
		}
		sharing = append(sharing, ws)
	}
	if len(sharing) < 2 {
		return conflicts
	}
	idx := cat.Index()
	ledger := map[string][]domain.ConflictEntry{}
	for _, ws := range sharing {
		rows := ByActivity(idx, ws.Assignments)
		for _, act := range cat.InScope(ws.Scope) {
			var accountable []string
			for _, r := range rows[act.ID] {
				if r.Value == domain.Accountable {
					accountable = append(accountable, r.RoleID)
				}
			}
			ledger[act.ID] = append(ledger[act.ID], domain.ConflictEntry{
				WorkshopID:   ws.ID,
				WorkshopName: ws.Name,
				Accountable:  distinct(accountable),
			})
		}
	}
	for _, act := range cat.Ordered() {
		entries := ledger[act.ID]
		if len(entries) < 2 {
			continue
		}
		sets := map[string]struct{}{}
		for _, en := range entries {
			sets[strings.Join(en.Accountable, "|")] = struct{}{}
		}
		if len(sets) < 2 {
			continue
		}
		conflicts = append(conflicts, domain.ConflictFinding{
			ActivityID: act.ID,
			Activity:   act.Name,
			Issue:      domain.IssueConflictingAccountable,
			Severity:   domain.SeverityDanger,
			Workshops:  entries,
		})
	}
	return conflicts
}

// Sort orders findings danger first, then by domain, activity name, issue and role.
func Sort(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Activity != b.Activity {
			return a.Activity < b.Activity
		}
		if a.Issue != b.Issue {
			return a.Issue < b.Issue
		}
		return a.RoleID < b.RoleID
	})
}

// distinct returns the sorted unique values; never nil.
func distinct(in []string) []string {
	set := map[string]struct{}{}
	out := []string{}
	for _, v := range in {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	set := map[string]struct{}{}
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
