package racilinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal raciline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Template represents the API template model (partial).
type Template struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Assignment is one RACI letter of a role on an activity.
type Assignment struct {
	ActivityID string `json:"activity_id"`
	RoleID     string `json:"role_id"`
	Value      string `json:"value"`
	Confidence string `json:"confidence,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Workshop represents the API workshop model (partial).
type Workshop struct {
	ID           string            `json:"id"`
	TemplateID   string            `json:"template_id"`
	Name         string            `json:"name"`
	Facilitator  string            `json:"facilitator"`
	Status       string            `json:"status"`
	RoleMappings map[string]string `json:"role_mappings"`
	Assignments  []Assignment      `json:"assignments"`
}

// Finding is one gap reported by the analysis.
type Finding struct {
	ActivityID     string `json:"activity_id"`
	RoleID         string `json:"role_id"`
	Issue          string `json:"issue"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

// Score summarizes coverage and the completion gate.
type Score struct {
	Percent   int      `json:"percent"`
	Clear     int      `json:"clear"`
	Total     int      `json:"total"`
	GateMet   bool     `json:"gate_met"`
	Threshold int      `json:"threshold"`
	Missing   []string `json:"missing"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	WorkshopID string         `json:"workshop_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Row is one role/letter pair sent with SetAssignments.
type Row struct {
	RoleID     string `json:"role_id"`
	Value      string `json:"value"`
	Confidence string `json:"confidence,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ImportTemplate uploads template content; the filename extension selects the parser.
func (c *Client) ImportTemplate(ctx context.Context, filename, content string) (Template, error) {
	body := map[string]any{
		"filename": filename,
		"content":  content,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates", body, &resp)
	return resp, err
}

// CreateWorkshop starts a workshop on a template, scoped to the given domains.
func (c *Client) CreateWorkshop(ctx context.Context, templateID, name, facilitator string, domains ...string) (Workshop, error) {
	body := map[string]any{
		"template_id": templateID,
		"name":        name,
		"facilitator": facilitator,
	}
	if len(domains) > 0 {
		body["scope"] = map[string]any{"domains": domains}
	}
	var resp Workshop
	err := c.do(ctx, http.MethodPost, "workshops", body, &resp)
	return resp, err
}

// GetWorkshop fetches a workshop by id.
func (c *Client) GetWorkshop(ctx context.Context, id string) (Workshop, error) {
	var resp Workshop
	err := c.do(ctx, http.MethodGet, c.workshopPath(id, ""), nil, &resp)
	return resp, err
}

// SetAssignments replaces the rows of one activity and returns its findings.
func (c *Client) SetAssignments(ctx context.Context, workshopID, activityID string, rows []Row) (Workshop, []Finding, error) {
	var resp struct {
		Workshop Workshop  `json:"workshop"`
		Findings []Finding `json:"findings"`
	}
	endpoint := c.workshopPath(workshopID, fmt.Sprintf("activities/%s/assignments", url.PathEscape(activityID)))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"rows": rows}, &resp)
	return resp.Workshop, resp.Findings, err
}

// Gaps returns the workshop findings, danger first.
func (c *Client) Gaps(ctx context.Context, workshopID string) ([]Finding, error) {
	var resp []Finding
	err := c.do(ctx, http.MethodGet, c.workshopPath(workshopID, "gaps"), nil, &resp)
	return resp, err
}

// Score returns coverage and gate status.
func (c *Client) Score(ctx context.Context, workshopID string) (Score, error) {
	var resp Score
	err := c.do(ctx, http.MethodGet, c.workshopPath(workshopID, "score"), nil, &resp)
	return resp, err
}

// Finalize closes the workshop. Without force the completion gate must be met.
func (c *Client) Finalize(ctx context.Context, workshopID string, force bool) (Workshop, error) {
	var resp Workshop
	err := c.do(ctx, http.MethodPost, c.workshopPath(workshopID, "finalize"), map[string]any{"force": force}, &resp)
	return resp, err
}

// Export returns the rendered export bytes for a format.
func (c *Client) Export(ctx context.Context, workshopID, format string, final bool) ([]byte, error) {
	q := url.Values{}
	q.Set("format", format)
	if final {
		q.Set("final", "true")
	}
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, c.workshopPath(workshopID, "export")+"?"+q.Encode(), nil, &buf)
	return buf.Bytes(), err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, "", limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, optionally for one workshop.
func (c *Client) EventsPage(ctx context.Context, workshopID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if workshopID != "" {
		q.Set("workshop_id", workshopID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) workshopPath(id, p string) string {
	endpoint := "workshops/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
