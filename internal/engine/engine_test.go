package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raciline/internal/config"
	"raciline/internal/db"
	"raciline/internal/domain"
	"raciline/internal/engine"
	"raciline/internal/events"
	"raciline/internal/migrate"
	"raciline/internal/repo"
)

const templateYAML = `
name: Security baseline
roles:
  - {id: ciso, name: CISO}
  - {id: cio, name: CIO}
  - {id: ops, name: Operations}
activities:
  - {id: sec.patch, domain: Security, name: Patch servers}
  - {id: sec.access, domain: Security, name: Access review}
  - {id: fin.close, domain: Finance, name: Close books}
recommended:
  - {activity: sec.patch, role: ciso, value: A}
  - {activity: sec.patch, role: ops, value: R}
`

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Template domain.Template
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("ws-1"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	tpl, err := eng.ImportTemplate(ctx, engine.TemplateImportOptions{
		Filename: "security.yml",
		Source:   strings.NewReader(templateYAML),
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("import template: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Template: tpl}
}

func (env testEnv) workshop(t *testing.T, id string, domains ...string) domain.Workshop {
	t.Helper()
	ws, err := env.Engine.CreateWorkshop(env.Ctx, engine.WorkshopCreateOptions{
		ID:          id,
		TemplateID:  env.Template.ID,
		Name:        "Workshop " + id,
		Facilitator: "Dana",
		Scope:       domain.Scope{Domains: domains},
		ActorID:     "tester",
	})
	require.NoError(t, err)
	return ws
}

func (env testEnv) assign(t *testing.T, wsID, activityID string, rows ...engine.AssignmentInput) engine.ActivityResult {
	t.Helper()
	res, err := env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{
		WorkshopID: wsID, ActivityID: activityID, Rows: rows, ActorID: "tester",
	})
	require.NoError(t, err)
	return res
}

func a(role string) engine.AssignmentInput { return engine.AssignmentInput{RoleID: role, Value: "A"} }
func r(role string) engine.AssignmentInput { return engine.AssignmentInput{RoleID: role, Value: "r"} }

func issues(findings []domain.Finding) []domain.Issue {
	out := make([]domain.Issue, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Issue)
	}
	return out
}

func TestImportTemplateIsStableAcrossReimports(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "Security baseline", env.Template.Name)
	assert.Len(t, env.Template.Catalog.Activities, 3)
	assert.Len(t, env.Template.Catalog.Recommended, 2)
	assert.Empty(t, env.Template.Warnings)

	again, err := env.Engine.ImportTemplate(env.Ctx, engine.TemplateImportOptions{Filename: "security.yml", Source: strings.NewReader(templateYAML)})
	require.NoError(t, err)
	assert.Equal(t, env.Template.ID, again.ID)
	list, err := env.Engine.ListTemplates(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSetAssignmentsReportsActivityFindings(t *testing.T) {
	env := newTestEnv(t)
	ws := env.workshop(t, "w1", "Security")
	assert.Equal(t, domain.WorkshopDraft, ws.Status)

	res := env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))
	assert.Empty(t, res.Findings)
	assert.Equal(t, domain.WorkshopInProgress, res.Workshop.Status)

	res = env.assign(t, "w1", "sec.access", a("cio"), a("cio"))
	assert.Equal(t, []domain.Issue{domain.IssueMultipleAccountable, domain.IssueMissingResponsible}, issues(res.Findings))

	// replacing rows drops the previous ones for that activity only
	res = env.assign(t, "w1", "sec.access", a("cio"), r("ops"))
	assert.Empty(t, res.Findings)
	assert.Len(t, res.Workshop.Assignments, 4)

	cleared, err := env.Engine.ClearAssignments(env.Ctx, "w1", "sec.access", "tester")
	require.NoError(t, err)
	assert.Len(t, cleared.Workshop.Assignments, 2)
	assert.Contains(t, issues(cleared.Findings), domain.IssueOwnershipMissing)
}

func TestSetAssignmentsRejectsUnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")

	_, err := env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "w1", ActivityID: "nope", Rows: []engine.AssignmentInput{a("ciso")}})
	assert.ErrorIs(t, err, engine.ErrUnknownActivity)
	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "w1", ActivityID: "sec.patch", Rows: []engine.AssignmentInput{a("ghost")}})
	assert.ErrorIs(t, err, engine.ErrUnknownRole)
	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "w1", ActivityID: "sec.patch", Rows: []engine.AssignmentInput{{RoleID: "ciso", Value: "X"}}})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "w1", ActivityID: "sec.patch", Rows: []engine.AssignmentInput{{RoleID: "ciso", Value: "A", Confidence: "recommended"}}})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "missing", ActivityID: "sec.patch"})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	ws, err := env.Engine.GetWorkshop(env.Ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, ws.Assignments)
}

func TestRoleLessTemplateAcceptsAnyRole(t *testing.T) {
	env := newTestEnv(t)
	tpl, err := env.Engine.ImportTemplate(env.Ctx, engine.TemplateImportOptions{
		Filename: "open.yml",
		Source:   strings.NewReader("name: Open roles\nactivities:\n  - {id: ops.backup, domain: Ops, name: Run backups}\n"),
		ActorID:  "tester",
	})
	require.NoError(t, err)
	require.Empty(t, tpl.Catalog.Roles)
	_, err = env.Engine.CreateWorkshop(env.Ctx, engine.WorkshopCreateOptions{ID: "open", TemplateID: tpl.ID, Name: "Open", ActorID: "tester"})
	require.NoError(t, err)

	res := env.assign(t, "open", "ops.backup", a("dba"), r("sre"))
	assert.Empty(t, res.Findings)
	assert.Len(t, res.Workshop.Assignments, 2)

	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "open", ActivityID: "ops.backup", Rows: []engine.AssignmentInput{a(" ")}})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	ws, err := env.Engine.MapRole(env.Ctx, "open", "dba", "Kim", "tester")
	require.NoError(t, err)
	assert.Equal(t, "Kim", ws.RoleMappings["dba"])
}

func TestAcceptRecommendedSeedsMediumRows(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")

	ws, seeded, err := env.Engine.AcceptRecommended(env.Ctx, "w1", nil, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)
	require.Len(t, ws.Assignments, 2)
	for _, row := range ws.Assignments {
		assert.Equal(t, domain.ConfidenceMedium, row.Confidence)
		assert.Equal(t, "sec.patch", row.ActivityID)
	}

	_, seeded, err = env.Engine.AcceptRecommended(env.Ctx, "w1", []string{"sec.patch"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 0, seeded)
}

func TestDecisionsAndActions(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))

	res, err := env.Engine.SetDecision(env.Ctx, "w1", "sec.patch", "disputed", "Ops disagrees", "tester")
	require.NoError(t, err)
	assert.Equal(t, []domain.Issue{domain.IssueNeedsFollowup}, issues(res.Findings))

	res, err = env.Engine.SetDecision(env.Ctx, "w1", "sec.patch", "done", "", "tester")
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Len(t, res.Workshop.Decisions, 1)

	_, err = env.Engine.SetDecision(env.Ctx, "w1", "sec.patch", "maybe", "", "tester")
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	action, err := env.Engine.AddAction(env.Ctx, engine.ActionOptions{WorkshopID: "w1", ActivityID: "sec.patch", Owner: "Alex", Due: "2024-02-01", Notes: "Confirm A"})
	require.NoError(t, err)
	assert.Equal(t, "open", action.Status)
	assert.NotEmpty(t, action.ID)

	done, err := env.Engine.SetActionStatus(env.Ctx, "w1", action.ID, "done", "tester")
	require.NoError(t, err)
	assert.Equal(t, "done", done.Status)

	_, err = env.Engine.SetActionStatus(env.Ctx, "w1", "nope", "done", "tester")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.AddAction(env.Ctx, engine.ActionOptions{WorkshopID: "w1"})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}

func TestFinalizeRequiresGate(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))

	_, err := env.Engine.Finalize(env.Ctx, "w1", false, "tester")
	require.ErrorIs(t, err, engine.ErrGateNotMet)
	var gate engine.GateError
	require.True(t, errors.As(err, &gate))
	assert.Equal(t, 50, gate.Score.Percent)

	env.assign(t, "w1", "sec.access", a("cio"), r("ops"))
	_, err = env.Engine.Finalize(env.Ctx, "w1", false, "tester")
	require.ErrorIs(t, err, engine.ErrGateNotMet, "role mapping still missing")

	_, err = env.Engine.MapRole(env.Ctx, "w1", "ciso", "Alex", "tester")
	require.NoError(t, err)
	ws, err := env.Engine.Finalize(env.Ctx, "w1", false, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkshopFinal, ws.Status)
}

func TestFinalWorkshopRejectsEdits(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	_, err := env.Engine.Finalize(env.Ctx, "w1", true, "tester")
	require.NoError(t, err)

	_, err = env.Engine.SetAssignments(env.Ctx, engine.SetAssignmentsOptions{WorkshopID: "w1", ActivityID: "sec.patch", Rows: []engine.AssignmentInput{a("ciso")}})
	assert.ErrorIs(t, err, engine.ErrWorkshopFinal)
	_, err = env.Engine.MapRole(env.Ctx, "w1", "ciso", "Alex", "tester")
	assert.ErrorIs(t, err, engine.ErrWorkshopFinal)

	ws, err := env.Engine.Reopen(env.Ctx, "w1", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkshopInProgress, ws.Status)
	_, err = env.Engine.Reopen(env.Ctx, "w1", "tester")
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	env.assign(t, "w1", "sec.patch", a("ciso"))
}

func TestScopeAndRoleMapping(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1")

	unscoped, err := env.Engine.Analyze(env.Ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 3, unscoped.Score.Total)
	assert.False(t, unscoped.Score.GateMet)

	ws, err := env.Engine.SetScope(env.Ctx, "w1", domain.Scope{Domains: []string{"Security", "Security"}, Activities: []string{"sec.patch"}}, "tester")
	require.NoError(t, err)
	assert.Equal(t, []string{"Security"}, ws.Scope.Domains)
	assert.Equal(t, []string{"sec.patch"}, ws.Scope.Activities)
	scoped, err := env.Engine.Analyze(env.Ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.Score.Total)

	_, err = env.Engine.SetScope(env.Ctx, "w1", domain.Scope{Domains: []string{"Legal"}}, "tester")
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
	_, err = env.Engine.SetScope(env.Ctx, "w1", domain.Scope{Activities: []string{"nope"}}, "tester")
	assert.ErrorIs(t, err, engine.ErrUnknownActivity)

	ws, err = env.Engine.MapRole(env.Ctx, "w1", "ciso", " Alex ", "tester")
	require.NoError(t, err)
	assert.Equal(t, "Alex", ws.RoleMappings["ciso"])
	ws, err = env.Engine.MapRole(env.Ctx, "w1", "ciso", "", "tester")
	require.NoError(t, err)
	assert.Empty(t, ws.RoleMappings)
	_, err = env.Engine.MapRole(env.Ctx, "w1", "ghost", "Sam", "tester")
	assert.ErrorIs(t, err, engine.ErrUnknownRole)
}

func TestUpdateDuplicateDelete(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))
	_, err := env.Engine.AddAction(env.Ctx, engine.ActionOptions{WorkshopID: "w1", Owner: "Alex"})
	require.NoError(t, err)

	goal := "Clarify ownership"
	ws, err := env.Engine.UpdateWorkshop(env.Ctx, engine.WorkshopUpdateOptions{ID: "w1", Goal: &goal})
	require.NoError(t, err)
	assert.Equal(t, goal, ws.Goal)
	assert.Equal(t, "Workshop w1", ws.Name)

	empty := " "
	_, err = env.Engine.UpdateWorkshop(env.Ctx, engine.WorkshopUpdateOptions{ID: "w1", Name: &empty})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	dup, err := env.Engine.DuplicateWorkshop(env.Ctx, "w1", "", "tester")
	require.NoError(t, err)
	assert.NotEqual(t, "w1", dup.ID)
	assert.Equal(t, "Workshop w1 (copy)", dup.Name)
	assert.Len(t, dup.Assignments, 2)
	assert.Empty(t, dup.Actions)
	assert.Equal(t, domain.WorkshopInProgress, dup.Status)

	require.NoError(t, env.Engine.DeleteWorkshop(env.Ctx, "w1", "tester"))
	_, err = env.Engine.GetWorkshop(env.Ctx, "w1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteWorkshop(env.Ctx, "w1", "tester"), repo.ErrNotFound)

	list, err := env.Engine.ListWorkshops(env.Ctx, env.Template.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security", "Finance")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))

	an, err := env.Engine.Analyze(env.Ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, an.Score.Clear)
	assert.Equal(t, 3, an.Score.Total)
	assert.Equal(t, 33, an.Score.Percent)
	assert.Equal(t, 33, an.Summary.Percent)
	require.Len(t, an.Summary.Domains, 2)
	assert.Equal(t, len(an.Findings), an.Summary.FindingCount)
	assert.Equal(t, domain.SeverityDanger, an.Findings[0].Severity)
}

func TestConflictsAcrossWorkshops(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.workshop(t, "w2", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"))
	env.assign(t, "w2", "sec.patch", a("cio"))

	conflicts, err := env.Engine.Conflicts(env.Ctx, env.Template.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "sec.patch", conflicts[0].ActivityID)
	assert.Len(t, conflicts[0].Workshops, 2)

	_, err = env.Engine.Conflicts(env.Ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))

	out, err := env.Engine.Export(env.Ctx, engine.ExportOptions{WorkshopID: "w1", Format: "matrix"})
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", out.ContentType)
	assert.Equal(t, "Workshop w1-raci-matrix.csv", out.Filename)
	assert.True(t, strings.HasPrefix(string(out.Body), "Domain,Capability,Activity,R,A,C,I,Confidence,Comment"))

	_, err = env.Engine.Export(env.Ctx, engine.ExportOptions{WorkshopID: "w1", Format: "summary", Final: true})
	assert.ErrorIs(t, err, engine.ErrGateNotMet)
	_, err = env.Engine.Export(env.Ctx, engine.ExportOptions{WorkshopID: "w1", Format: "pdf"})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{WorkshopID: "w1", Type: events.ExportRendered})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestMutationsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"))
	_, err := env.Engine.MapRole(env.Ctx, "w1", "ciso", "Alex", "")
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{WorkshopID: "w1"})
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.RoleMapped, evts[0].Type)
	assert.Equal(t, "local-user", evts[0].ActorID)
	assert.Equal(t, events.AssignmentsSet, evts[1].Type)
	assert.Equal(t, events.WorkshopCreated, evts[2].Type)
}

func TestImportConfigChangesRules(t *testing.T) {
	env := newTestEnv(t)
	env.workshop(t, "w1", "Security")
	env.assign(t, "w1", "sec.patch", a("ciso"), r("ops"))
	_, err := env.Engine.MapRole(env.Ctx, "w1", "ciso", "Alex", "tester")
	require.NoError(t, err)

	cfg := config.Default("ws-1")
	cfg.Gate.PercentThreshold = 50
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, cfg, "tester"))

	stored, err := env.Engine.LoadConfig(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Gate.PercentThreshold)

	_, err = env.Engine.Finalize(env.Ctx, "w1", false, "tester")
	require.NoError(t, err)

	bad := config.Default("")
	assert.ErrorIs(t, env.Engine.ImportConfig(env.Ctx, bad, "tester"), engine.ErrInvalidValue)
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, "alex", "laptop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "rl_"))
	assert.Equal(t, repo.HashAPIKey(plain), key.KeyHash)

	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, "alex", got.ActorID)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, " ", "")
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}
