package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"raciline/internal/domain"
)

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	catalog, err := json.Marshal(t.Catalog)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	warnings := t.Warnings
	if warnings == nil {
		warnings = []domain.ImportWarning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO templates(id,name,source,catalog_json,warnings_json,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, source=excluded.source, catalog_json=excluded.catalog_json, warnings_json=excluded.warnings_json`,
		t.ID, t.Name, nullable(t.Source), string(catalog), string(warningsJSON), t.CreatedAt)
	return err
}

const templateColumns = `id,name,COALESCE(source,''),catalog_json,warnings_json,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (domain.Template, error) {
	var t domain.Template
	var catalog, warnings string
	if err := row.Scan(&t.ID, &t.Name, &t.Source, &catalog, &warnings, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, err
	}
	if err := json.Unmarshal([]byte(catalog), &t.Catalog); err != nil {
		return t, fmt.Errorf("decode catalog of template %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &t.Warnings); err != nil {
		return t, fmt.Errorf("decode warnings of template %s: %w", t.ID, err)
	}
	t.Catalog.TemplateID = t.ID
	return t, nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return r.GetTemplateTx(ctx, nil, id)
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	return scanTemplate(r.q(tx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id))
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
