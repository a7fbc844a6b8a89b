package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"raciline/internal/domain"
	"raciline/internal/events"
	"raciline/internal/repo"
)

type AssignmentInput struct {
	RoleID     string
	Value      string
	Confidence string
	Notes      string
}

type SetAssignmentsOptions struct {
	WorkshopID string
	ActivityID string
	Rows       []AssignmentInput
	ActorID    string
}

// ActivityResult is the state after an edit plus the findings it leaves on the activity.
type ActivityResult struct {
	Workshop domain.Workshop  `json:"workshop"`
	Findings []domain.Finding `json:"findings"`
}

func (e Engine) activityResult(ws domain.Workshop, cat domain.Catalog, activityID string) ActivityResult {
	return ActivityResult{
		Workshop: ws,
		Findings: e.evaluator().EvaluateActivity(cat, activityID, ws.Assignments, ws.Decision(activityID)),
	}
}

func parseRows(idx domain.Index, activityID string, in []AssignmentInput) ([]domain.Assignment, error) {
	rows := make([]domain.Assignment, 0, len(in))
	for _, r := range in {
		roleID := strings.TrimSpace(r.RoleID)
		if roleID == "" {
			return nil, fmt.Errorf("%w: role id required", ErrInvalidValue)
		}
		// a catalog without roles accepts any role id
		if _, ok := idx.Role(roleID); !ok && idx.KnowsRoles() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
		}
		v, ok := domain.ParseRACIValue(r.Value)
		if !ok {
			return nil, fmt.Errorf("%w: RACI value %q", ErrInvalidValue, r.Value)
		}
		c, ok := domain.ParseConfidence(r.Confidence)
		if !ok || c == domain.ConfidenceRecommended {
			return nil, fmt.Errorf("%w: confidence %q", ErrInvalidValue, r.Confidence)
		}
		rows = append(rows, domain.Assignment{ActivityID: activityID, RoleID: roleID, Value: v, Confidence: c, Notes: r.Notes})
	}
	return rows, nil
}

// replaceRows swaps the facilitator rows of one activity, keeping every other row.
func replaceRows(ws *domain.Workshop, activityID string, rows []domain.Assignment) {
	kept := make([]domain.Assignment, 0, len(ws.Assignments)+len(rows))
	for _, a := range ws.Assignments {
		if a.ActivityID == activityID && !a.Recommended() {
			continue
		}
		kept = append(kept, a)
	}
	ws.Assignments = append(kept, rows...)
	if len(rows) > 0 && ws.Status == domain.WorkshopDraft {
		ws.Status = domain.WorkshopInProgress
	}
}

// SetAssignments replaces the facilitator rows of one activity. Rule violations
// such as a second A are accepted and reported as findings.
func (e Engine) SetAssignments(ctx context.Context, opts SetAssignmentsOptions) (ActivityResult, error) {
	var cat domain.Catalog
	ws, err := e.mutate(ctx, mutateOptions{WorkshopID: opts.WorkshopID, ActorID: opts.ActorID, Event: events.AssignmentsSet, EntityKind: "activity", EntityID: opts.ActivityID},
		func(ws *domain.Workshop, c domain.Catalog) (events.Payload, error) {
			cat = c
			idx := c.Index()
			if _, ok := idx.Activity(opts.ActivityID); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, opts.ActivityID)
			}
			rows, err := parseRows(idx, opts.ActivityID, opts.Rows)
			if err != nil {
				return nil, err
			}
			replaceRows(ws, opts.ActivityID, rows)
			return events.Payload{"activity_id": opts.ActivityID, "rows": rows}, nil
		})
	if err != nil {
		return ActivityResult{}, err
	}
	return e.activityResult(ws, cat, opts.ActivityID), nil
}

func (e Engine) ClearAssignments(ctx context.Context, workshopID, activityID, actorID string) (ActivityResult, error) {
	var cat domain.Catalog
	ws, err := e.mutate(ctx, mutateOptions{WorkshopID: workshopID, ActorID: actorID, Event: events.AssignmentsCleared, EntityKind: "activity", EntityID: activityID},
		func(ws *domain.Workshop, c domain.Catalog) (events.Payload, error) {
			cat = c
			if _, ok := c.Index().Activity(activityID); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
			}
			replaceRows(ws, activityID, nil)
			return events.Payload{"activity_id": activityID}, nil
		})
	if err != nil {
		return ActivityResult{}, err
	}
	return e.activityResult(ws, cat, activityID), nil
}

// AcceptRecommended seeds template defaults as medium-confidence facilitator rows.
// Activities that already have facilitator rows are left alone. With no ids,
// every in-scope activity is considered.
func (e Engine) AcceptRecommended(ctx context.Context, workshopID string, activityIDs []string, actorID string) (domain.Workshop, int, error) {
	seeded := 0
	ws, err := e.mutate(ctx, mutateOptions{WorkshopID: workshopID, ActorID: actorID, Event: events.RecommendedAccepted},
		func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error) {
			idx := cat.Index()
			targets := activityIDs
			if len(targets) == 0 {
				for _, act := range cat.InScope(ws.Scope) {
					targets = append(targets, act.ID)
				}
			}
			has := map[string]bool{}
			for _, a := range ws.Assignments {
				if !a.Recommended() {
					has[a.ActivityID] = true
				}
			}
			var accepted []string
			for _, id := range targets {
				if _, ok := idx.Activity(id); !ok {
					return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, id)
				}
				if has[id] {
					continue
				}
				recs := cat.RecommendedFor(id)
				if len(recs) == 0 {
					continue
				}
				rows := make([]domain.Assignment, 0, len(recs))
				for _, r := range recs {
					r.Confidence = domain.ConfidenceMedium
					rows = append(rows, r)
				}
				replaceRows(ws, id, rows)
				has[id] = true
				accepted = append(accepted, id)
			}
			seeded = len(accepted)
			return events.Payload{"activities": accepted}, nil
		})
	return ws, seeded, err
}

// SetDecision records the outcome for an activity; the last write wins.
func (e Engine) SetDecision(ctx context.Context, workshopID, activityID, status, rationale, actorID string) (ActivityResult, error) {
	var cat domain.Catalog
	ws, err := e.mutate(ctx, mutateOptions{WorkshopID: workshopID, ActorID: actorID, Event: events.DecisionRecorded, EntityKind: "activity", EntityID: activityID},
		func(ws *domain.Workshop, c domain.Catalog) (events.Payload, error) {
			cat = c
			if _, ok := c.Index().Activity(activityID); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
			}
			st := domain.DecisionStatus(strings.ToLower(strings.TrimSpace(status)))
			if !st.Valid() {
				return nil, fmt.Errorf("%w: decision status %q", ErrInvalidValue, status)
			}
			d := domain.Decision{ActivityID: activityID, Status: st, Rationale: rationale, UpdatedAt: e.stamp()}
			replaced := false
			for i := range ws.Decisions {
				if ws.Decisions[i].ActivityID == activityID {
					ws.Decisions[i] = d
					replaced = true
				}
			}
			if !replaced {
				ws.Decisions = append(ws.Decisions, d)
			}
			return events.Payload{"activity_id": activityID, "status": st}, nil
		})
	if err != nil {
		return ActivityResult{}, err
	}
	return e.activityResult(ws, cat, activityID), nil
}

type ActionOptions struct {
	WorkshopID string
	ActivityID string
	Owner      string
	Due        string
	Notes      string
	ActorID    string
}

func (e Engine) AddAction(ctx context.Context, opts ActionOptions) (domain.Action, error) {
	var action domain.Action
	_, err := e.mutate(ctx, mutateOptions{WorkshopID: opts.WorkshopID, ActorID: opts.ActorID, Event: events.ActionAdded, EntityKind: "action"},
		func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error) {
			if opts.ActivityID != "" {
				if _, ok := cat.Index().Activity(opts.ActivityID); !ok {
					return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, opts.ActivityID)
				}
			}
			if strings.TrimSpace(opts.Notes) == "" && strings.TrimSpace(opts.Owner) == "" {
				return nil, fmt.Errorf("%w: action needs an owner or notes", ErrInvalidValue)
			}
			action = domain.Action{
				ID:         uuid.NewString(),
				ActivityID: opts.ActivityID,
				Owner:      strings.TrimSpace(opts.Owner),
				Due:        strings.TrimSpace(opts.Due),
				Notes:      opts.Notes,
				Status:     "open",
				CreatedAt:  e.stamp(),
			}
			ws.Actions = append(ws.Actions, action)
			return events.Payload{"action_id": action.ID, "activity_id": action.ActivityID, "owner": action.Owner}, nil
		})
	return action, err
}

func (e Engine) SetActionStatus(ctx context.Context, workshopID, actionID, status, actorID string) (domain.Action, error) {
	var action domain.Action
	_, err := e.mutate(ctx, mutateOptions{WorkshopID: workshopID, ActorID: actorID, Event: events.ActionStatusChanged, EntityKind: "action", EntityID: actionID},
		func(ws *domain.Workshop, _ domain.Catalog) (events.Payload, error) {
			if status != "open" && status != "done" {
				return nil, fmt.Errorf("%w: action status %q", ErrInvalidValue, status)
			}
			for i := range ws.Actions {
				if ws.Actions[i].ID == actionID {
					ws.Actions[i].Status = status
					action = ws.Actions[i]
					return events.Payload{"status": status}, nil
				}
			}
			return nil, fmt.Errorf("action %s: %w", actionID, repo.ErrNotFound)
		})
	return action, err
}
