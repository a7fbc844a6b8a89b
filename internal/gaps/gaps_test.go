package gaps

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raciline/internal/domain"
)

func row(activity, role string, v domain.RACIValue) domain.Assignment {
	return domain.Assignment{ActivityID: activity, RoleID: role, Value: v, Confidence: domain.ConfidenceHigh}
}

func issues(findings []domain.Finding) []domain.Issue {
	out := make([]domain.Issue, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Issue)
	}
	return out
}

func scenarioCatalog() domain.Catalog {
	return domain.Catalog{
		TemplateID: "tpl",
		Activities: []domain.Activity{
			{ID: "a1", Domain: "Security", Name: "Patch servers", Order: 1},
			{ID: "a2", Domain: "Security", Name: "Review access", Order: 2},
		},
	}
}

func scenarioRows() []domain.Assignment {
	return []domain.Assignment{
		row("a1", "roleX", domain.Accountable),
		row("a1", "roleY", domain.Responsible),
		row("a2", "roleX", domain.Accountable),
		row("a2", "roleX", domain.Accountable),
	}
}

func TestEvaluateActivityScenario(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()

	a2 := e.EvaluateActivity(cat, "a2", scenarioRows(), nil)
	assert.Contains(t, issues(a2), domain.IssueMultipleAccountable)

	a1 := e.EvaluateActivity(cat, "a1", scenarioRows(), nil)
	for _, f := range a1 {
		assert.NotEqual(t, domain.SeverityDanger, f.Severity, "unexpected danger finding %s", f.Issue)
	}
}

func TestEvaluateActivityClearHasNoOwnershipFindings(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()
	rows := []domain.Assignment{
		row("a1", "ciso", domain.Accountable),
		row("a1", "ops", domain.Responsible),
		row("a1", "dev", domain.Responsible),
		row("a1", "cio", domain.Informed),
	}
	got := issues(e.EvaluateActivity(cat, "a1", rows, nil))
	assert.NotContains(t, got, domain.IssueMissingAccountable)
	assert.NotContains(t, got, domain.IssueMultipleAccountable)
	assert.NotContains(t, got, domain.IssueMissingResponsible)
	assert.Empty(t, got)
}

func TestEvaluateActivityNoRows(t *testing.T) {
	e := New(DefaultRules())
	got := e.EvaluateActivity(scenarioCatalog(), "a1", nil, nil)
	assert.Equal(t, []domain.Issue{
		domain.IssueMissingAccountable,
		domain.IssueMissingResponsible,
		domain.IssueOwnershipMissing,
	}, issues(got))
}

func TestRecommendedRowsAreIgnored(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()
	recommended := []domain.Assignment{
		{ActivityID: "a1", RoleID: "ciso", Value: domain.Accountable, Confidence: domain.ConfidenceRecommended},
		{ActivityID: "a1", RoleID: "ops", Value: domain.Responsible, Confidence: domain.ConfidenceRecommended},
	}
	assert.Equal(t, e.EvaluateActivity(cat, "a1", nil, nil), e.EvaluateActivity(cat, "a1", recommended, nil))
}

func TestEvaluateActivityAllMatchingRulesEmitted(t *testing.T) {
	e := New(DefaultRules())
	rows := []domain.Assignment{
		row("a1", "ciso", domain.Accountable),
		row("a1", "ciso", domain.Responsible),
		row("a1", "ops", domain.Responsible),
		row("a1", "dev", domain.Responsible),
		{ActivityID: "a1", RoleID: "qa", Value: domain.Responsible, Confidence: domain.ConfidenceLow},
	}
	decision := &domain.Decision{ActivityID: "a1", Status: domain.DecisionDisputed}
	got := e.EvaluateActivity(scenarioCatalog(), "a1", rows, decision)
	assert.Equal(t, []domain.Issue{
		domain.IssueLowConfidence,
		domain.IssueNeedsFollowup,
		domain.IssueAccountableResponsible,
		domain.IssueTooManyResponsible,
	}, issues(got))
	assert.Equal(t, "ciso", got[2].RoleID)
	for _, f := range got {
		assert.Equal(t, domain.SeverityWarning, f.Severity)
	}
}

func TestEvaluateActivityRulesCanBeDisabled(t *testing.T) {
	e := New(Rules{})
	assert.Empty(t, e.EvaluateActivity(scenarioCatalog(), "a2", scenarioRows(), nil))
}

func TestEvaluateActivitySkipsOrphans(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()
	cat.Roles = []domain.Role{{ID: "ciso", Name: "CISO"}, {ID: "ops", Name: "Ops"}}
	rows := []domain.Assignment{
		row("a1", "ciso", domain.Accountable),
		row("a1", "ops", domain.Responsible),
		row("a1", "ghost", domain.Accountable),
		row("gone", "ciso", domain.Accountable),
	}
	assert.Empty(t, e.EvaluateActivity(cat, "a1", rows, nil))
	assert.Empty(t, e.EvaluateActivity(cat, "gone", rows, nil))
}

func overloadWorkshop(n int) (domain.Catalog, domain.Workshop) {
	cat := domain.Catalog{TemplateID: "tpl"}
	ws := domain.Workshop{ID: "w1", TemplateID: "tpl", Scope: domain.Scope{Domains: []string{"Ops"}}}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("act-%d", i)
		cat.Activities = append(cat.Activities, domain.Activity{ID: id, Domain: "Ops", Name: id, Order: i})
		ws.Assignments = append(ws.Assignments,
			row(id, "R7", domain.Responsible),
			row(id, fmt.Sprintf("owner-%d", i), domain.Accountable),
		)
	}
	return cat, ws
}

func TestEvaluateWorkshopRoleOverload(t *testing.T) {
	e := New(DefaultRules())
	cat, ws := overloadWorkshop(6)
	// a duplicate row on the same activity must not inflate the count
	ws.Assignments = append(ws.Assignments, row("act-1", "R7", domain.Accountable))

	var overload []domain.Finding
	for _, f := range e.EvaluateWorkshop(cat, ws) {
		if f.Issue == domain.IssueRoleOverload {
			overload = append(overload, f)
		}
	}
	require.Len(t, overload, 1)
	assert.Equal(t, "R7", overload[0].RoleID)
	assert.Equal(t, 6, overload[0].Count)
	assert.Equal(t, "Role overload: R7 owns 6 items", overload[0].Message)
}

func TestEvaluateWorkshopOverloadThresholdIsExclusive(t *testing.T) {
	e := New(DefaultRules())
	cat, ws := overloadWorkshop(5)
	assert.NotContains(t, issues(e.EvaluateWorkshop(cat, ws)), domain.IssueRoleOverload)
}

func activityIDs(findings []domain.Finding) map[string]int {
	out := map[string]int{}
	for _, f := range findings {
		out[f.ActivityID]++
	}
	return out
}

func TestEvaluateWorkshopRespectsScope(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()
	cat.Activities = append(cat.Activities, domain.Activity{ID: "b1", Domain: "Finance", Name: "Close books", Order: 3})

	ws := domain.Workshop{ID: "w1"}
	got := e.EvaluateWorkshop(cat, ws)
	assert.Len(t, got, 9)
	assert.Equal(t, map[string]int{"a1": 3, "a2": 3, "b1": 3}, activityIDs(got))

	ws.Scope = domain.Scope{Activities: []string{"b1"}}
	assert.Equal(t, map[string]int{"b1": 3}, activityIDs(e.EvaluateWorkshop(cat, ws)))

	ws.Scope = domain.Scope{Domains: []string{"Security"}}
	assert.Equal(t, map[string]int{"a1": 3, "a2": 3}, activityIDs(e.EvaluateWorkshop(cat, ws)))
}

func TestEvaluateWorkshopScopeFiltersIntersect(t *testing.T) {
	e := New(DefaultRules())
	cat := scenarioCatalog()
	cat.Activities = append(cat.Activities, domain.Activity{ID: "b1", Domain: "Finance", Name: "Close books", Order: 3})

	ws := domain.Workshop{ID: "w1", Scope: domain.Scope{Domains: []string{"Security"}, Activities: []string{"a1"}}}
	assert.Equal(t, map[string]int{"a1": 3}, activityIDs(e.EvaluateWorkshop(cat, ws)))

	ws.Scope = domain.Scope{Domains: []string{"Security"}, Activities: []string{"b1"}}
	assert.Empty(t, e.EvaluateWorkshop(cat, ws))
}

func TestEvaluateWorkshopIsIdempotent(t *testing.T) {
	e := New(DefaultRules())
	cat, ws := overloadWorkshop(7)
	ws.Decisions = []domain.Decision{{ActivityID: "act-2", Status: domain.DecisionFollowup}}
	before := append([]domain.Assignment(nil), ws.Assignments...)

	first := e.EvaluateWorkshop(cat, ws)
	second := e.EvaluateWorkshop(cat, ws)
	assert.Equal(t, first, second)
	assert.Equal(t, before, ws.Assignments)
}

func conflictWorkshop(id string, role string) domain.Workshop {
	return domain.Workshop{
		ID:          id,
		Name:        "Workshop " + id,
		TemplateID:  "tpl",
		Scope:       domain.Scope{Activities: []string{"act-1"}},
		Assignments: []domain.Assignment{row("act-1", role, domain.Accountable)},
	}
}

func TestEvaluateConflicts(t *testing.T) {
	e := New(DefaultRules())
	cat := domain.Catalog{
		TemplateID: "tpl",
		Activities: []domain.Activity{{ID: "act-1", Domain: "Security", Name: "Approve exceptions"}},
	}

	got := e.EvaluateConflicts(cat, []domain.Workshop{conflictWorkshop("w1", "CISO"), conflictWorkshop("w2", "CIO")})
	require.Len(t, got, 1)
	assert.Equal(t, "act-1", got[0].ActivityID)
	assert.Equal(t, domain.IssueConflictingAccountable, got[0].Issue)
	assert.Equal(t, domain.SeverityDanger, got[0].Severity)
	require.Len(t, got[0].Workshops, 2)
	assert.Equal(t, []string{"CISO"}, got[0].Workshops[0].Accountable)
	assert.Equal(t, []string{"CIO"}, got[0].Workshops[1].Accountable)

	same := e.EvaluateConflicts(cat, []domain.Workshop{conflictWorkshop("w1", "CISO"), conflictWorkshop("w2", "CISO")})
	assert.Empty(t, same)
}

func TestEvaluateConflictsComparesSets(t *testing.T) {
	e := New(DefaultRules())
	cat := domain.Catalog{TemplateID: "tpl", Activities: []domain.Activity{{ID: "act-1", Domain: "Security", Name: "x"}}}
	w1 := conflictWorkshop("w1", "CISO")
	w1.Assignments = append(w1.Assignments, row("act-1", "CIO", domain.Accountable))
	w2 := conflictWorkshop("w2", "CIO")
	w2.Assignments = append(w2.Assignments, row("act-1", "CISO", domain.Accountable), row("act-1", "CISO", domain.Accountable))
	assert.Empty(t, e.EvaluateConflicts(cat, []domain.Workshop{w1, w2}))
}

func TestEvaluateConflictsIgnoresOtherTemplates(t *testing.T) {
	e := New(DefaultRules())
	cat := domain.Catalog{TemplateID: "tpl", Activities: []domain.Activity{{ID: "act-1", Domain: "Security", Name: "x"}}}
	other := conflictWorkshop("w2", "CIO")
	other.TemplateID = "other"
	assert.Empty(t, e.EvaluateConflicts(cat, []domain.Workshop{conflictWorkshop("w1", "CISO"), other}))
}

func TestSort(t *testing.T) {
	findings := []domain.Finding{
		{Domain: "Ops", Activity: "b", Issue: domain.IssueMissingResponsible, Severity: domain.SeverityWarning},
		{Domain: "Ops", Activity: "a", Issue: domain.IssueMissingAccountable, Severity: domain.SeverityDanger},
		{Domain: "Finance", Activity: "z", Issue: domain.IssueOwnershipMissing, Severity: domain.SeverityDanger},
		{Domain: "Finance", Activity: "z", Issue: domain.IssueMissingAccountable, Severity: domain.SeverityDanger},
	}
	Sort(findings)
	assert.Equal(t, []domain.Issue{
		domain.IssueMissingAccountable,
		domain.IssueOwnershipMissing,
		domain.IssueMissingAccountable,
		domain.IssueMissingResponsible,
	}, issues(findings))
	assert.Equal(t, "Finance", findings[0].Domain)
	assert.Equal(t, "Ops", findings[2].Domain)
}
