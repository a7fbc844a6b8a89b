package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raciline/internal/config"
	"raciline/internal/db"
	"raciline/internal/domain"
	"raciline/internal/engine"
	"raciline/internal/migrate"
	"raciline/internal/progress"
)

const templateYAML = `
name: Security baseline
roles:
  - {id: ciso, name: CISO}
  - {id: cio, name: CIO}
  - {id: ops, name: Operations}
activities:
  - {id: sec.patch, domain: Security, name: Patch servers}
  - {id: sec.access, domain: Security, name: Access review}
recommended:
  - {activity: sec.patch, role: ciso, value: A}
  - {activity: sec.patch, role: ops, value: R}
`

var actor = map[string]string{"X-Actor-Id": "facilitator"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, cfg)
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, config.Default("raciline"))
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              "test-secret",
		AllowLegacyActorHeader: true,
		EnableDevLogin:         true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func importTemplate(t *testing.T, srv *testServer) domain.Template {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"filename": "security.yml",
		"content":  templateYAML,
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var tpl domain.Template
	require.NoError(t, json.Unmarshal(data, &tpl))
	return tpl
}

func createWorkshop(t *testing.T, srv *testServer, templateID, id string) domain.Workshop {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/workshops", map[string]any{
		"id":          id,
		"template_id": templateID,
		"name":        "Security review",
		"facilitator": "Dana",
		"scope":       map[string]any{"domains": []string{"Security"}},
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var ws domain.Workshop
	require.NoError(t, json.Unmarshal(data, &ws))
	return ws
}

func putRows(t *testing.T, srv *testServer, workshopID, activityID string, rows ...map[string]any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/workshops/"+workshopID+"/activities/"+activityID+"/assignments", map[string]any{
		"rows": rows,
	}, actor)
}

func row(role, value string) map[string]any {
	return map[string]any{"role_id": role, "value": value}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workshops", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workshops", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)
}

func TestDevLoginTokenAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "alex"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "alex", Source: "jwt"}, me)

	plain, _, err := srv.Engine.CreateAPIKey(context.Background(), "robin", "ci")
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "robin", Source: "api_key"}, me)
}

func TestWorkshopFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tpl := importTemplate(t, srv)
	ws := createWorkshop(t, srv, tpl.ID, "w1")
	assert.Equal(t, domain.WorkshopDraft, ws.Status)

	res, data := putRows(t, srv, "w1", "sec.patch", row("ciso", "A"), row("cio", "A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var result engine.ActivityResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, domain.WorkshopInProgress, result.Workshop.Status)
	require.NotEmpty(t, result.Findings)

	res, data = putRows(t, srv, "w1", "sec.patch", row("ciso", "A"), row("ops", "R"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = putRows(t, srv, "w1", "sec.patch", row("ghost", "A"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w1/score", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var score progress.Score
	require.NoError(t, json.Unmarshal(data, &score))
	assert.Equal(t, 50, score.Percent)
	assert.False(t, score.GateMet)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w1/gaps", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var findings []domain.Finding
	require.NoError(t, json.Unmarshal(data, &findings))
	require.NotEmpty(t, findings)
	assert.Equal(t, "sec.access", findings[0].ActivityID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w1/export?format=matrix&final=true", nil, actor)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "gate_not_met", apiErr.Code)
	assert.EqualValues(t, 50, apiErr.Details["percent"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w1/export?format=matrix", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/csv"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, string(data), "Patch servers")

	res, data = putRows(t, srv, "w1", "sec.access", row("cio", "A"), row("ops", "R"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workshops/w1/roles/ciso", map[string]any{"person": "Alex"}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops/w1/finalize", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &ws))
	assert.Equal(t, domain.WorkshopFinal, ws.Status)

	res, data = putRows(t, srv, "w1", "sec.patch", row("ciso", "A"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "workshop_final", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w1/export?format=json&final=true", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, json.Valid(data))
}

func TestDecisionsActionsAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tpl := importTemplate(t, srv)
	createWorkshop(t, srv, tpl.ID, "w1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops/w1/recommended", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var accepted AcceptRecommendedResponse
	require.NoError(t, json.Unmarshal(data, &accepted))
	assert.Equal(t, 1, accepted.Seeded)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workshops/w1/activities/sec.access/decision", map[string]any{
		"status": "bogus",
	}, actor)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workshops/w1/activities/sec.access/decision", map[string]any{
		"status":    "followup",
		"rationale": "owner unclear",
	}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops/w1/actions", map[string]any{
		"activity_id": "sec.access",
		"owner":       "Alex",
		"due":         "2024-03-01",
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var action domain.Action
	require.NoError(t, json.Unmarshal(data, &action))

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workshops/w1/actions/"+action.ID, map[string]any{"status": "done"}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &action))
	assert.Equal(t, "done", string(action.Status))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?workshop_id=w1&limit=2", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "action.status_changed", page.Items[0].Type)
	assert.Equal(t, "facilitator", page.Items[0].ActorID)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?workshop_id=w1&limit=2&cursor="+page.NextCursor, nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.NotEmpty(t, next.Items)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, actor)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestNotFoundAndValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/missing", nil, actor)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops", map[string]any{"name": "no template"}, actor)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "raciline_http_request_duration_seconds")
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []http.Header
		bodies   []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, r.Header.Clone())
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := config.Default("acme")
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"workshop.created"}, Secret: "s3cret"}}
	e := newTestEngine(t, cfg)
	ctx := context.Background()
	tpl, err := e.ImportTemplate(ctx, engine.TemplateImportOptions{Filename: "security.yml", Source: strings.NewReader(templateYAML)})
	require.NoError(t, err)

	d := newWebhookDispatcher(e, nil)
	require.NotNil(t, d)
	d.dispatchAll(ctx)

	_, err = e.CreateWorkshop(ctx, engine.WorkshopCreateOptions{ID: "w1", TemplateID: tpl.ID, Name: "Review", ActorID: "dana"})
	require.NoError(t, err)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "template import predates the dispatcher and must not be replayed")
	assert.Equal(t, "workshop.created", received[0].Get("X-Raciline-Event"))
	assert.Equal(t, "acme", received[0].Get("X-Raciline-Workspace"))
	assert.Equal(t, "s3cret", received[0].Get("X-Raciline-Secret"))
	assert.Equal(t, "w1", bodies[0].WorkshopID)
	assert.Equal(t, "dana", bodies[0].ActorID)
}

func TestWebhookDispatcherSkipsDisabledHooks(t *testing.T) {
	off := false
	cfg := config.Default("acme")
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook", Enabled: &off}}
	assert.Nil(t, newWebhookDispatcher(newTestEngine(t, cfg), nil))
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Paths, "/v0/workshops/{workshop_id}/export")
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Components.SecuritySchemes, "apiKeyAuth")
}

func TestWorkshopScopeAcceptsPartialFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := importTemplate(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops", map[string]any{
		"id":          "w-act",
		"template_id": tpl.ID,
		"scope":       map[string]any{"activities": []string{"sec.access"}},
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var ws domain.Workshop
	require.NoError(t, json.Unmarshal(data, &ws))
	assert.Equal(t, []string{"sec.access"}, ws.Scope.Activities)
	assert.Empty(t, ws.Scope.Domains)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workshops/w-act/scope", map[string]any{
		"domains": []string{"Security"},
	}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workshops", map[string]any{
		"id":          "w-none",
		"template_id": tpl.ID,
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workshops/w-none/score", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var score progress.Score
	require.NoError(t, json.Unmarshal(data, &score))
	assert.Equal(t, 2, score.Total)
	assert.False(t, score.GateMet)
}
