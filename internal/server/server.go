package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raciline/internal/domain"
	"raciline/internal/engine"
	"raciline/internal/logging"
	"raciline/internal/observability"
	"raciline/internal/progress"
	"raciline/internal/report"
	"raciline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"workshop_final"`
	Message string         `json:"message" example:"workshop is final; reopen it first"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T
}

func ok[T any](v T) (*output[T], error) {
	return &output[T]{Body: v}, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New returns an HTTP handler exposing the raciline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logging.OrDefault(cfg.Logger, "auth")
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema validation is a malformed request, not a domain rule
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestMetrics)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("raciline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTemplates(group, cfg.Engine)
	registerWorkshops(group, cfg.Engine)
	registerFacilitation(group, cfg.Engine)
	registerAnalysis(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ObserveRequest(r.Method, status, time.Since(start))
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var gate engine.GateError
	if errors.As(err, &gate) {
		return newAPIError(http.StatusUnprocessableEntity, "gate_not_met", err.Error(), map[string]any{
			"percent":   gate.Score.Percent,
			"threshold": gate.Score.Threshold,
			"missing":   gate.Score.Missing,
		})
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+" "+fe.Tag())
		}
		return newAPIError(http.StatusBadRequest, "bad_request", "invalid request", map[string]any{"fields": fields})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrWorkshopFinal):
		return newAPIError(http.StatusConflict, "workshop_final", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownActivity), errors.Is(err, engine.ErrUnknownRole), errors.Is(err, engine.ErrInvalidValue):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "unsupported") || strings.Contains(lowered, "parse template") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func validateBody(v any) error {
	return validate.Struct(v)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	schema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: schema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>raciline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, docURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return ok(map[string]string{"status": "ok"})
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Import a template from CSV, YAML or JSON content",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ImportTemplateRequest
	}) (*output[domain.Template], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := e.ImportTemplate(ctx, engine.TemplateImportOptions{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			Filename: input.Body.Filename,
			Source:   strings.NewReader(input.Body.Content),
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(tpl)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Template], error) {
		items, err := e.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(items)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*output[domain.Template], error) {
		tpl, err := e.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(tpl)
	})

	huma.Register(api, huma.Operation{
		OperationID: "template-conflicts",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/conflicts",
		Summary:     "Accountable conflicts across workshops of a template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*output[[]domain.ConflictFinding], error) {
		items, err := e.Conflicts(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(items)
	})
}

type workshopPath struct {
	WorkshopID string `path:"workshop_id"`
}

func registerWorkshops(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workshop",
		Method:        http.MethodPost,
		Path:          "/workshops",
		Summary:       "Create workshop",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkshopRequest
	}) (*output[domain.Workshop], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkshopCreateOptions{
			ID:           input.Body.ID,
			TemplateID:   input.Body.TemplateID,
			Name:         input.Body.Name,
			Organization: input.Body.Organization,
			Facilitator:  input.Body.Facilitator,
			Sponsor:      input.Body.Sponsor,
			Goal:         input.Body.Goal,
			Date:         input.Body.Date,
			ActorID:      actorID,
		}
		if input.Body.Scope != nil {
			opts.Scope = input.Body.Scope.scope()
		}
		ws, err := e.CreateWorkshop(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workshops",
		Method:      http.MethodGet,
		Path:        "/workshops",
		Summary:     "List workshops",
	}, func(ctx context.Context, input *struct {
		TemplateID string `query:"template_id"`
	}) (*output[[]domain.Workshop], error) {
		items, err := e.ListWorkshops(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(items)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workshop",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}",
		Summary:     "Get workshop",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*output[domain.Workshop], error) {
		ws, err := e.GetWorkshop(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workshop",
		Method:      http.MethodPatch,
		Path:        "/workshops/{workshop_id}",
		Summary:     "Update workshop setup",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       UpdateWorkshopRequest
	}) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.UpdateWorkshop(ctx, engine.WorkshopUpdateOptions{
			ID:           input.WorkshopID,
			Name:         input.Body.Name,
			Organization: input.Body.Organization,
			Facilitator:  input.Body.Facilitator,
			Sponsor:      input.Body.Sponsor,
			Goal:         input.Body.Goal,
			Date:         input.Body.Date,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workshop",
		Method:        http.MethodDelete,
		Path:          "/workshops/{workshop_id}",
		Summary:       "Delete workshop",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkshop(ctx, input.WorkshopID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-workshop",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/duplicate",
		Summary:       "Duplicate workshop",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       *DuplicateWorkshopRequest
	}) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		name := ""
		if input.Body != nil {
			name = input.Body.Name
		}
		ws, err := e.DuplicateWorkshop(ctx, input.WorkshopID, name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-scope",
		Method:      http.MethodPut,
		Path:        "/workshops/{workshop_id}/scope",
		Summary:     "Replace workshop scope",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       ScopeRequest
	}) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.SetScope(ctx, input.WorkshopID, input.Body.scope(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "map-role",
		Method:      http.MethodPut,
		Path:        "/workshops/{workshop_id}/roles/{role_id}",
		Summary:     "Map a template role to a person",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		RoleID     string `path:"role_id"`
		Body       MapRoleRequest
	}) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.MapRole(ctx, input.WorkshopID, input.RoleID, input.Body.Person, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-workshop",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/finalize",
		Summary:     "Finalize workshop",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       *FinalizeRequest
	}) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		force := input.Body != nil && input.Body.Force
		ws, err := e.Finalize(ctx, input.WorkshopID, force, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-workshop",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/reopen",
		Summary:     "Reopen a final workshop",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*output[domain.Workshop], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.Reopen(ctx, input.WorkshopID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ws)
	})
}

func registerFacilitation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-assignments",
		Method:      http.MethodPut,
		Path:        "/workshops/{workshop_id}/activities/{activity_id}/assignments",
		Summary:     "Replace the RACI rows of one activity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ActivityID string `path:"activity_id"`
		Body       SetAssignmentsRequest
	}) (*output[engine.ActivityResult], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows := make([]engine.AssignmentInput, 0, len(input.Body.Rows))
		for _, r := range input.Body.Rows {
			rows = append(rows, engine.AssignmentInput{RoleID: r.RoleID, Value: r.Value, Confidence: r.Confidence, Notes: r.Notes})
		}
		res, err := e.SetAssignments(ctx, engine.SetAssignmentsOptions{
			WorkshopID: input.WorkshopID,
			ActivityID: input.ActivityID,
			Rows:       rows,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res)
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-assignments",
		Method:      http.MethodDelete,
		Path:        "/workshops/{workshop_id}/activities/{activity_id}/assignments",
		Summary:     "Clear the RACI rows of one activity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ActivityID string `path:"activity_id"`
	}) (*output[engine.ActivityResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ClearAssignments(ctx, input.WorkshopID, input.ActivityID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res)
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-recommended",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/recommended",
		Summary:     "Seed template defaults for unassigned activities",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       *AcceptRecommendedRequest
	}) (*output[AcceptRecommendedResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var ids []string
		if input.Body != nil {
			ids = input.Body.ActivityIDs
		}
		ws, seeded, err := e.AcceptRecommended(ctx, input.WorkshopID, ids, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(AcceptRecommendedResponse{Workshop: ws, Seeded: seeded})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-decision",
		Method:      http.MethodPut,
		Path:        "/workshops/{workshop_id}/activities/{activity_id}/decision",
		Summary:     "Record the decision for one activity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ActivityID string `path:"activity_id"`
		Body       SetDecisionRequest
	}) (*output[engine.ActivityResult], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SetDecision(ctx, input.WorkshopID, input.ActivityID, input.Body.Status, input.Body.Rationale, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-action",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/actions",
		Summary:       "Add a follow-up action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Body       CreateActionRequest
	}) (*output[domain.Action], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := e.AddAction(ctx, engine.ActionOptions{
			WorkshopID: input.WorkshopID,
			ActivityID: input.Body.ActivityID,
			Owner:      input.Body.Owner,
			Due:        input.Body.Due,
			Notes:      input.Body.Notes,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(action)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-action-status",
		Method:      http.MethodPatch,
		Path:        "/workshops/{workshop_id}/actions/{action_id}",
		Summary:     "Open or close an action",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ActionID   string `path:"action_id"`
		Body       SetActionStatusRequest
	}) (*output[domain.Action], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := e.SetActionStatus(ctx, input.WorkshopID, input.ActionID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(action)
	})
}

type exportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerAnalysis(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "workshop-gaps",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/gaps",
		Summary:     "Gap findings, danger first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*output[[]domain.Finding], error) {
		a, err := e.Analyze(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a.Findings)
	})

	huma.Register(api, huma.Operation{
		OperationID: "workshop-score",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/score",
		Summary:     "Coverage, milestones and completion gate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*output[progress.Score], error) {
		a, err := e.Analyze(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a.Score)
	})

	huma.Register(api, huma.Operation{
		OperationID: "workshop-report",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/report",
		Summary:     "Executive summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workshopPath) (*output[report.Summary], error) {
		a, err := e.Analyze(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a.Summary)
	})

	huma.Register(api, huma.Operation{
		OperationID: "workshop-export",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/export",
		Summary:     "Render an export",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Format     string `query:"format" default:"matrix" enum:"matrix,gaps,actions,json,summary,xlsx"`
		Final      bool   `query:"final"`
	}) (*exportOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Export(ctx, engine.ExportOptions{
			WorkshopID: input.WorkshopID,
			Format:     input.Format,
			Final:      input.Final,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &exportOutput{
			ContentType:        res.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", res.Filename),
			Body:               res.Body,
		}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `query:"workshop_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			WorkshopID: input.WorkshopID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return ok(resp)
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		p, found := principalFromContext(ctx)
		if !found {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return ok(WhoAmIResponse{ActorID: p.ActorID, Source: p.Source})
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*output[DevLoginResponse], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(authCfg.JWTSecret, strings.TrimSpace(input.Body.ActorID), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return ok(DevLoginResponse{Token: token})
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
