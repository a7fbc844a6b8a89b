package repo

import (
	"context"
	"fmt"
	"strings"

	"raciline/internal/domain"
)

type EventFilters struct {
	WorkshopID string
	Type       string
	EntityKind string
	EntityID   string
	// Before returns events with an id lower than the cursor when set.
	Before int64
	Limit  int
}

const eventColumns = `id,ts,type,COALESCE(workshop_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Event, error) {
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkshopID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.WorkshopID != "" {
		add("workshop_id=?", f.WorkshopID)
	}
	if f.Type != "" {
		add("type=?", f.Type)
	}
	if f.EntityKind != "" {
		add("entity_kind=?", f.EntityKind)
	}
	if f.EntityID != "" {
		add("entity_id=?", f.EntityID)
	}
	if f.Before > 0 {
		add("id<?", f.Before)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, workshopID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE id>?`
	args := []any{cursor}
	if workshopID != "" {
		query += ` AND workshop_id=?`
		args = append(args, workshopID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
