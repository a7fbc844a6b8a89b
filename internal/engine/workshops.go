package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"raciline/internal/domain"
	"raciline/internal/events"
	"raciline/internal/observability"
	"raciline/internal/progress"
	"raciline/internal/repo"
)

type WorkshopCreateOptions struct {
	ID           string
	TemplateID   string
	Name         string
	Organization string
	Facilitator  string
	Sponsor      string
	Goal         string
	Date         string
	Scope        domain.Scope
	ActorID      string
}

func (e Engine) CreateWorkshop(ctx context.Context, opts WorkshopCreateOptions) (domain.Workshop, error) {
	if strings.TrimSpace(opts.TemplateID) == "" {
		return domain.Workshop{}, errors.New("template is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()

	tpl, err := e.Repo.GetTemplateTx(ctx, tx, opts.TemplateID)
	if err != nil {
		return domain.Workshop{}, fmt.Errorf("template %s: %w", opts.TemplateID, err)
	}
	scope, err := validateScope(tpl.Catalog, opts.Scope)
	if err != nil {
		return domain.Workshop{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = tpl.Name + " workshop"
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	ws := repo.Normalize(domain.Workshop{
		ID:           id,
		TemplateID:   tpl.ID,
		Name:         name,
		Organization: opts.Organization,
		Facilitator:  opts.Facilitator,
		Sponsor:      opts.Sponsor,
		Goal:         opts.Goal,
		Date:         opts.Date,
		Scope:        scope,
		Status:       domain.WorkshopDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err := e.Repo.SaveWorkshopTx(ctx, tx, ws); err != nil {
		return domain.Workshop{}, fmt.Errorf("insert workshop: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.WorkshopCreated, ws.ID, "workshop", ws.ID, actorOrDefault(opts.ActorID), events.Payload{
		"name": ws.Name, "template_id": ws.TemplateID,
	}); err != nil {
		return domain.Workshop{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workshop{}, err
	}
	return ws, nil
}

func (e Engine) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	return e.Repo.GetWorkshop(ctx, id)
}

func (e Engine) ListWorkshops(ctx context.Context, templateID string) ([]domain.Workshop, error) {
	return e.Repo.ListWorkshops(ctx, templateID)
}

// WorkshopUpdateOptions changes only the non-nil fields.
type WorkshopUpdateOptions struct {
	ID           string
	Name         *string
	Organization *string
	Facilitator  *string
	Sponsor      *string
	Goal         *string
	Date         *string
	ActorID      string
}

func (e Engine) UpdateWorkshop(ctx context.Context, opts WorkshopUpdateOptions) (domain.Workshop, error) {
	return e.mutate(ctx, mutateOptions{WorkshopID: opts.ID, ActorID: opts.ActorID, Event: events.WorkshopUpdated},
		func(ws *domain.Workshop, _ domain.Catalog) (events.Payload, error) {
			changed := []string{}
			set := func(field string, dst *string, v *string) {
				if v != nil && *dst != *v {
					*dst = *v
					changed = append(changed, field)
				}
			}
			if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
				return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidValue)
			}
			set("name", &ws.Name, opts.Name)
			set("organization", &ws.Organization, opts.Organization)
			set("facilitator", &ws.Facilitator, opts.Facilitator)
			set("sponsor", &ws.Sponsor, opts.Sponsor)
			set("goal", &ws.Goal, opts.Goal)
			set("date", &ws.Date, opts.Date)
			return events.Payload{"fields": changed}, nil
		})
}

// DuplicateWorkshop copies setup, scope, mappings and decisions into a new draft.
func (e Engine) DuplicateWorkshop(ctx context.Context, id, name, actorID string) (domain.Workshop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()
	src, err := e.Repo.GetWorkshopTx(ctx, tx, id)
	if err != nil {
		return domain.Workshop{}, fmt.Errorf("workshop %s: %w", id, err)
	}
	if strings.TrimSpace(name) == "" {
		name = src.Name + " (copy)"
	}
	now := e.stamp()
	dup := src
	dup.ID = uuid.NewString()
	dup.Name = name
	dup.Status = domain.WorkshopDraft
	if len(src.Assignments) > 0 {
		dup.Status = domain.WorkshopInProgress
	}
	dup.CreatedAt, dup.UpdatedAt = now, now
	dup.Scope = domain.Scope{
		Domains:    append([]string{}, src.Scope.Domains...),
		Activities: append([]string{}, src.Scope.Activities...),
	}
	dup.RoleMappings = make(map[string]string, len(src.RoleMappings))
	for k, v := range src.RoleMappings {
		dup.RoleMappings[k] = v
	}
	dup.Assignments = append([]domain.Assignment{}, src.Assignments...)
	dup.Decisions = append([]domain.Decision{}, src.Decisions...)
	dup.Actions = []domain.Action{}
	if err := e.Repo.SaveWorkshopTx(ctx, tx, dup); err != nil {
		return domain.Workshop{}, fmt.Errorf("insert workshop: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.WorkshopDuplicated, dup.ID, "workshop", dup.ID, actorOrDefault(actorID), events.Payload{
		"source_id": src.ID, "name": dup.Name,
	}); err != nil {
		return domain.Workshop{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workshop{}, err
	}
	return repo.Normalize(dup), nil
}

func (e Engine) DeleteWorkshop(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWorkshopTx(ctx, tx, id); err != nil {
		return fmt.Errorf("workshop %s: %w", id, err)
	}
	if err := e.events().Append(ctx, tx, events.WorkshopDeleted, id, "workshop", id, actorOrDefault(actorID), nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	observability.ForgetWorkshop(id)
	return nil
}

// validateScope rejects unknown domains and activities and returns a sorted, deduplicated copy.
func validateScope(cat domain.Catalog, scope domain.Scope) (domain.Scope, error) {
	domains := map[string]struct{}{}
	for _, d := range cat.Domains() {
		domains[d] = struct{}{}
	}
	idx := cat.Index()
	out := domain.Scope{Domains: []string{}, Activities: []string{}}
	seen := map[string]struct{}{}
	for _, d := range scope.Domains {
		d = strings.TrimSpace(d)
		if _, ok := domains[d]; !ok {
			return out, fmt.Errorf("%w: unknown domain %q", ErrInvalidValue, d)
		}
		if _, dup := seen["d:"+d]; !dup {
			seen["d:"+d] = struct{}{}
			out.Domains = append(out.Domains, d)
		}
	}
	for _, id := range scope.Activities {
		id = strings.TrimSpace(id)
		if _, ok := idx.Activity(id); !ok {
			return out, fmt.Errorf("%w: %s", ErrUnknownActivity, id)
		}
		if _, dup := seen["a:"+id]; !dup {
			seen["a:"+id] = struct{}{}
			out.Activities = append(out.Activities, id)
		}
	}
	sort.Strings(out.Domains)
	sort.Strings(out.Activities)
	return out, nil
}

func (e Engine) SetScope(ctx context.Context, id string, scope domain.Scope, actorID string) (domain.Workshop, error) {
	return e.mutate(ctx, mutateOptions{WorkshopID: id, ActorID: actorID, Event: events.ScopeChanged},
		func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error) {
			clean, err := validateScope(cat, scope)
			if err != nil {
				return nil, err
			}
			ws.Scope = clean
			return events.Payload{"domains": clean.Domains, "activities": clean.Activities}, nil
		})
}

// MapRole links a template role to a person; an empty person removes the mapping.
func (e Engine) MapRole(ctx context.Context, id, roleID, person, actorID string) (domain.Workshop, error) {
	return e.mutate(ctx, mutateOptions{WorkshopID: id, ActorID: actorID, Event: events.RoleMapped, EntityKind: "role", EntityID: roleID},
		func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error) {
			idx := cat.Index()
			if _, ok := idx.Role(roleID); !ok && (idx.KnowsRoles() || strings.TrimSpace(roleID) == "") {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
			}
			person = strings.TrimSpace(person)
			if person == "" {
				delete(ws.RoleMappings, roleID)
			} else {
				ws.RoleMappings[roleID] = person
			}
			return events.Payload{"role_id": roleID, "person": person}, nil
		})
}

// GateError explains which milestones block finalization.
type GateError struct {
	Score progress.Score
}

func (g GateError) Error() string {
	return fmt.Sprintf("%s: %d%% coverage (need %d%%); missing: %s",
		ErrGateNotMet, g.Score.Percent, g.Score.Threshold, strings.Join(g.Score.Missing, "; "))
}

func (g GateError) Unwrap() error { return ErrGateNotMet }

// Finalize marks the workshop final. The completion gate must be met unless forced.
func (e Engine) Finalize(ctx context.Context, id string, force bool, actorID string) (domain.Workshop, error) {
	return e.mutate(ctx, mutateOptions{WorkshopID: id, ActorID: actorID, Event: events.WorkshopFinalized},
		func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error) {
			score := progress.ScoreWorkshop(cat, *ws, e.config().Progress())
			if !score.GateMet && !force {
				return nil, GateError{Score: score}
			}
			ws.Status = domain.WorkshopFinal
			return events.Payload{"percent": score.Percent, "gate_met": score.GateMet, "forced": force && !score.GateMet}, nil
		})
}

func (e Engine) Reopen(ctx context.Context, id, actorID string) (domain.Workshop, error) {
	return e.mutate(ctx, mutateOptions{WorkshopID: id, ActorID: actorID, Event: events.WorkshopReopened, AllowFinal: true},
		func(ws *domain.Workshop, _ domain.Catalog) (events.Payload, error) {
			if ws.Status != domain.WorkshopFinal {
				return nil, fmt.Errorf("%w: workshop is %s, not final", ErrInvalidValue, ws.Status)
			}
			ws.Status = domain.WorkshopInProgress
			return nil, nil
		})
}
