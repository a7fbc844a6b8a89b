package engine

import (
	"bytes"
	"context"
	"fmt"

	"raciline/internal/domain"
	"raciline/internal/events"
	"raciline/internal/export"
	"raciline/internal/gaps"
	"raciline/internal/observability"
	"raciline/internal/progress"
	"raciline/internal/report"
)

// Analysis is the derived view of one workshop. It is recomputed on every call.
type Analysis struct {
	Workshop domain.Workshop  `json:"workshop"`
	Catalog  domain.Catalog   `json:"-"`
	Findings []domain.Finding `json:"findings"`
	Score    progress.Score   `json:"score"`
	Summary  report.Summary   `json:"summary"`
}

func (e Engine) analyze(cat domain.Catalog, ws domain.Workshop) Analysis {
	cfg := e.config()
	findings := e.evaluator().EvaluateWorkshop(cat, ws)
	gaps.Sort(findings)
	score := progress.ScoreWorkshop(cat, ws, cfg.Progress())
	return Analysis{
		Workshop: ws,
		Catalog:  cat,
		Findings: findings,
		Score:    score,
		Summary:  report.Build(cat, ws, findings, score, cfg.Report.TopGapsLimit),
	}
}

// Analyze evaluates gaps, progress and the executive summary of a workshop.
func (e Engine) Analyze(ctx context.Context, id string) (Analysis, error) {
	ws, err := e.Repo.GetWorkshop(ctx, id)
	if err != nil {
		return Analysis{}, fmt.Errorf("workshop %s: %w", id, err)
	}
	tpl, err := e.Repo.GetTemplate(ctx, ws.TemplateID)
	if err != nil {
		return Analysis{}, fmt.Errorf("template %s: %w", ws.TemplateID, err)
	}
	a := e.analyze(tpl.Catalog, ws)
	for _, f := range a.Findings {
		observability.RecordFinding(string(f.Issue), string(f.Severity))
	}
	observability.RecordCoverage(ws.ID, a.Score.Percent)
	return a, nil
}

// Conflicts compares accountable roles across every workshop built on a template.
func (e Engine) Conflicts(ctx context.Context, templateID string) ([]domain.ConflictFinding, error) {
	tpl, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	workshops, err := e.Repo.ListWorkshops(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return e.evaluator().EvaluateConflicts(tpl.Catalog, workshops), nil
}

type ExportResult struct {
	Format      export.Format
	ContentType string
	Filename    string
	Body        []byte
}

type ExportOptions struct {
	WorkshopID string
	Format     string
	// Final marks the export as the published pack; the completion gate must be met.
	Final   bool
	ActorID string
}

// Export renders a workshop. Exports never change workshop state; each one is audited.
func (e Engine) Export(ctx context.Context, opts ExportOptions) (res ExportResult, err error) {
	format, ok := export.ParseFormat(opts.Format)
	if !ok {
		return ExportResult{}, fmt.Errorf("%w: export format %q", ErrInvalidValue, opts.Format)
	}
	defer func() { observability.RecordExport(string(format), err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ExportResult{}, err
	}
	defer tx.Rollback()
	ws, err := e.Repo.GetWorkshopTx(ctx, tx, opts.WorkshopID)
	if err != nil {
		return ExportResult{}, fmt.Errorf("workshop %s: %w", opts.WorkshopID, err)
	}
	tpl, err := e.Repo.GetTemplateTx(ctx, tx, ws.TemplateID)
	if err != nil {
		return ExportResult{}, fmt.Errorf("template %s: %w", ws.TemplateID, err)
	}
	a := e.analyze(tpl.Catalog, ws)
	if opts.Final && !a.Score.GateMet {
		return ExportResult{}, GateError{Score: a.Score}
	}
	in := export.Input{
		Catalog:     a.Catalog,
		Workshop:    ws,
		Findings:    a.Findings,
		Score:       a.Score,
		Summary:     a.Summary,
		Final:       opts.Final,
		GeneratedAt: e.stamp(),
	}
	var buf bytes.Buffer
	if err := export.Render(&buf, format, in); err != nil {
		return ExportResult{}, fmt.Errorf("render %s: %w", format, err)
	}
	if err := e.events().Append(ctx, tx, events.ExportRendered, ws.ID, "export", string(format), actorOrDefault(opts.ActorID), events.Payload{
		"format": format, "final": opts.Final, "bytes": buf.Len(),
	}); err != nil {
		return ExportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ExportResult{}, err
	}
	return ExportResult{
		Format:      format,
		ContentType: format.ContentType(),
		Filename:    format.Filename(ws.Name),
		Body:        buf.Bytes(),
	}, nil
}
