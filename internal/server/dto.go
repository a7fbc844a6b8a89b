package server

import (
	"encoding/json"

	"raciline/internal/domain"
)

// Request payloads

type ImportTemplateRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Filename string `json:"filename" validate:"required" example:"security.csv"`
	Content  string `json:"content" validate:"required"`
}

type CreateWorkshopRequest struct {
	ID           string        `json:"id,omitempty"`
	TemplateID   string        `json:"template_id" validate:"required"`
	Name         string        `json:"name,omitempty"`
	Organization string        `json:"organization,omitempty"`
	Facilitator  string        `json:"facilitator,omitempty"`
	Sponsor      string        `json:"sponsor,omitempty"`
	Goal         string        `json:"goal,omitempty"`
	Date         string        `json:"date,omitempty"`
	Scope        *ScopeRequest `json:"scope,omitempty"`
}

type UpdateWorkshopRequest struct {
	Name         *string `json:"name,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Facilitator  *string `json:"facilitator,omitempty"`
	Sponsor      *string `json:"sponsor,omitempty"`
	Goal         *string `json:"goal,omitempty"`
	Date         *string `json:"date,omitempty"`
}

type DuplicateWorkshopRequest struct {
	Name string `json:"name,omitempty"`
}

type ScopeRequest struct {
	Domains    []string `json:"domains,omitempty"`
	Activities []string `json:"activities,omitempty"`
}

func (r ScopeRequest) scope() domain.Scope {
	return domain.Scope{Domains: r.Domains, Activities: r.Activities}
}

type MapRoleRequest struct {
	Person string `json:"person,omitempty"`
}

type AssignmentRow struct {
	RoleID     string `json:"role_id" validate:"required"`
	Value      string `json:"value" enum:"R,A,C,I,r,a,c,i" validate:"required"`
	Confidence string `json:"confidence,omitempty" enum:"low,med,medium,high,confirmed"`
	Notes      string `json:"notes,omitempty"`
}

type SetAssignmentsRequest struct {
	Rows []AssignmentRow `json:"rows" validate:"dive"`
}

type AcceptRecommendedRequest struct {
	ActivityIDs []string `json:"activity_ids,omitempty"`
}

type SetDecisionRequest struct {
	Status    string `json:"status" enum:"done,disputed,deferred,followup" validate:"required,oneof=done disputed deferred followup"`
	Rationale string `json:"rationale,omitempty"`
}

type CreateActionRequest struct {
	ActivityID string `json:"activity_id,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Due        string `json:"due,omitempty" example:"2024-03-01"`
	Notes      string `json:"notes,omitempty"`
}

type SetActionStatusRequest struct {
	Status string `json:"status" enum:"open,done" validate:"required,oneof=open done"`
}

type FinalizeRequest struct {
	Force bool `json:"force,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// Response payloads

type AcceptRecommendedResponse struct {
	Workshop domain.Workshop `json:"workshop"`
	Seeded   int             `json:"seeded"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	WorkshopID string          `json:"workshop_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		WorkshopID: evt.WorkshopID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
