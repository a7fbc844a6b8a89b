package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"raciline/internal/config"
	"raciline/internal/domain"
	"raciline/internal/events"
	"raciline/internal/gaps"
	"raciline/internal/logging"
	"raciline/internal/repo"
)

var (
	ErrWorkshopFinal   = errors.New("workshop is final; reopen it first")
	ErrGateNotMet      = errors.New("completion gate not met")
	ErrUnknownActivity = errors.New("unknown activity")
	ErrUnknownRole     = errors.New("unknown role")
	ErrInvalidValue    = errors.New("invalid value")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	log := logging.WithModule("engine")
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db, Log: logging.WithModule("repo")},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
		Log:    log,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// events shares the engine clock with the event writer.
func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() *slog.Logger {
	return logging.OrDefault(e.Log, "engine")
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("local")
}

func (e Engine) evaluator() gaps.Evaluator {
	return gaps.New(e.config().GapRules())
}

// stableID derives the same id for the same parts, so re-imports update in place.
func stableID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

// mutation is applied to a loaded workshop inside one transaction.
// The returned payload is recorded on the audit event.
type mutation func(ws *domain.Workshop, cat domain.Catalog) (events.Payload, error)

type mutateOptions struct {
	WorkshopID string
	ActorID    string
	Event      string
	EntityKind string
	EntityID   string
	AllowFinal bool
}

// mutate loads the entire workshop, applies fn and saves the entire state back.
func (e Engine) mutate(ctx context.Context, opts mutateOptions, fn mutation) (domain.Workshop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()

	ws, err := e.Repo.GetWorkshopTx(ctx, tx, opts.WorkshopID)
	if err != nil {
		return domain.Workshop{}, fmt.Errorf("workshop %s: %w", opts.WorkshopID, err)
	}
	if ws.Status == domain.WorkshopFinal && !opts.AllowFinal {
		return ws, ErrWorkshopFinal
	}
	tpl, err := e.Repo.GetTemplateTx(ctx, tx, ws.TemplateID)
	if err != nil {
		return ws, fmt.Errorf("template %s: %w", ws.TemplateID, err)
	}
	payload, err := fn(&ws, tpl.Catalog)
	if err != nil {
		return ws, err
	}
	ws.UpdatedAt = e.stamp()
	if err := e.Repo.SaveWorkshopTx(ctx, tx, ws); err != nil {
		return ws, fmt.Errorf("save workshop: %w", err)
	}
	kind := opts.EntityKind
	if kind == "" {
		kind = "workshop"
	}
	entityID := opts.EntityID
	if entityID == "" {
		entityID = ws.ID
	}
	if err := e.events().Append(ctx, tx, opts.Event, ws.ID, kind, entityID, actorOrDefault(opts.ActorID), payload); err != nil {
		return ws, err
	}
	if err := tx.Commit(); err != nil {
		return ws, err
	}
	e.logger().Debug("workshop updated", "workshop_id", ws.ID, "event", opts.Event)
	return repo.Normalize(ws), nil
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}
