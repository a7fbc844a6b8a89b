package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"raciline/internal/catalog"
	"raciline/internal/domain"
	"raciline/internal/events"
)

type TemplateImportOptions struct {
	ID       string
	Name     string
	Filename string
	Source   io.Reader
	ActorID  string
}

// ImportTemplate parses a template source and stores it with its warnings.
// Partial sources import with warnings; only unreadable input fails.
func (e Engine) ImportTemplate(ctx context.Context, opts TemplateImportOptions) (domain.Template, error) {
	if opts.Source == nil {
		return domain.Template{}, errors.New("template source is required")
	}
	res, err := catalog.Import(opts.Source, opts.Filename)
	if err != nil {
		return domain.Template{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = res.Name
	}
	id := opts.ID
	if id == "" {
		id = stableID("template", name, opts.Filename)
	}
	res.Catalog.TemplateID = id
	tpl := domain.Template{
		ID:        id,
		Name:      name,
		Source:    opts.Filename,
		Catalog:   res.Catalog,
		Warnings:  res.Warnings,
		CreatedAt: e.stamp(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplateTx(ctx, tx, tpl); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TemplateImported, "", "template", tpl.ID, actorOrDefault(opts.ActorID), events.Payload{
		"name":       tpl.Name,
		"roles":      len(tpl.Catalog.Roles),
		"activities": len(tpl.Catalog.Activities),
		"warnings":   len(tpl.Warnings),
	}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	if len(tpl.Warnings) > 0 {
		e.logger().Warn("template imported with warnings", "template_id", tpl.ID, "warnings", len(tpl.Warnings))
	}
	return tpl, nil
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return e.Repo.GetTemplate(ctx, id)
}

func (e Engine) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return e.Repo.ListTemplates(ctx)
}
