package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"raciline/internal/domain"
)

// SaveWorkshopTx writes the entire workshop state. The last write wins.
func (r Repo) SaveWorkshopTx(ctx context.Context, tx *sql.Tx, ws domain.Workshop) error {
	ws = Normalize(ws)
	state, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workshop state: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO workshops(id,template_id,name,status,state_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET template_id=excluded.template_id, name=excluded.name, status=excluded.status, state_json=excluded.state_json, updated_at=excluded.updated_at`,
		ws.ID, ws.TemplateID, ws.Name, string(ws.Status), string(state), ws.CreatedAt, ws.UpdatedAt)
	return err
}

const workshopColumns = `id,template_id,name,status,state_json,created_at,updated_at`

func (r Repo) scanWorkshop(row rowScanner) (domain.Workshop, error) {
	var header domain.Workshop
	var status, state string
	if err := row.Scan(&header.ID, &header.TemplateID, &header.Name, &status, &state, &header.CreatedAt, &header.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return header, ErrNotFound
		}
		return header, err
	}
	header.Status = domain.WorkshopStatus(status)
	var ws domain.Workshop
	if err := json.Unmarshal([]byte(state), &ws); err != nil {
		r.logger().Warn("workshop state unreadable, using defaults", "workshop_id", header.ID, "err", err)
		return Normalize(header), nil
	}
	// header columns are authoritative for identity
	ws.ID, ws.TemplateID = header.ID, header.TemplateID
	if ws.Name == "" {
		ws.Name = header.Name
	}
	if ws.Status == "" {
		ws.Status = header.Status
	}
	if ws.CreatedAt == "" {
		ws.CreatedAt = header.CreatedAt
	}
	return Normalize(ws), nil
}

// Normalize fills nil collections so a loaded workshop is always well-shaped.
func Normalize(ws domain.Workshop) domain.Workshop {
	if ws.Scope.Domains == nil {
		ws.Scope.Domains = []string{}
	}
	if ws.Scope.Activities == nil {
		ws.Scope.Activities = []string{}
	}
	if ws.RoleMappings == nil {
		ws.RoleMappings = map[string]string{}
	}
	if ws.Assignments == nil {
		ws.Assignments = []domain.Assignment{}
	}
	if ws.Decisions == nil {
		ws.Decisions = []domain.Decision{}
	}
	if ws.Actions == nil {
		ws.Actions = []domain.Action{}
	}
	if ws.Status == "" {
		ws.Status = domain.WorkshopDraft
	}
	return ws
}

func (r Repo) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	return r.GetWorkshopTx(ctx, nil, id)
}

func (r Repo) GetWorkshopTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workshop, error) {
	return r.scanWorkshop(r.q(tx).QueryRowContext(ctx, `SELECT `+workshopColumns+` FROM workshops WHERE id=?`, id))
}

// ListWorkshops returns every workshop, optionally limited to one template.
func (r Repo) ListWorkshops(ctx context.Context, templateID string) ([]domain.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops`
	var args []any
	if templateID != "" {
		query += ` WHERE template_id=?`
		args = append(args, templateID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Workshop{}
	for rows.Next() {
		ws, err := r.scanWorkshop(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ws)
	}
	return res, rows.Err()
}

func (r Repo) DeleteWorkshopTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM workshops WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
