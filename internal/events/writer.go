package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the audit log.
const (
	TemplateImported    = "template.imported"
	WorkshopCreated     = "workshop.created"
	WorkshopUpdated     = "workshop.updated"
	WorkshopDuplicated  = "workshop.duplicated"
	WorkshopDeleted     = "workshop.deleted"
	ScopeChanged        = "workshop.scope_changed"
	RoleMapped          = "workshop.role_mapped"
	AssignmentsSet      = "assignment.set"
	AssignmentsCleared  = "assignment.cleared"
	RecommendedAccepted = "assignment.recommended_accepted"
	DecisionRecorded    = "decision.recorded"
	ActionAdded         = "action.added"
	ActionStatusChanged = "action.status_changed"
	WorkshopFinalized   = "workshop.finalized"
	WorkshopReopened    = "workshop.reopened"
	ExportRendered      = "export.rendered"
	ConfigImported      = "config.imported"
	APIKeyCreated       = "apikey.created"
)

// Types lists every event type, in the order above.
func Types() []string {
	return []string{
		TemplateImported, WorkshopCreated, WorkshopUpdated, WorkshopDuplicated, WorkshopDeleted,
		ScopeChanged, RoleMapped, AssignmentsSet, AssignmentsCleared, RecommendedAccepted,
		DecisionRecorded, ActionAdded, ActionStatusChanged, WorkshopFinalized, WorkshopReopened,
		ExportRendered, ConfigImported, APIKeyCreated,
	}
}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, workshopID, entityKind, entityID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,workshop_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(workshopID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
