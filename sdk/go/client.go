package gridwellsdk

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

// Client is a minimal Gridwell HTTP API client.
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

// GridCell mirrors the API cell model.
type GridCell struct {
	FieldName    string `json:"field_name"`
	DataType     string `json:"data_type"`
	Required     bool   `json:"required"`
	Description  string `json:"description,omitempty"`
	DefaultValue any    `json:"default_value,omitempty"`
	Constraints  string `json:"constraints,omitempty"`
}

// Grid is the rectangular representation a schema converts through.
type Grid struct {
	Rows [][]GridCell `json:"rows"`
}

// Issue is one validation finding.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ConversionResult carries per-format outputs plus merged issues.
type ConversionResult struct {
	Outputs  map[string]string `json:"outputs"`
	Errors   []Issue           `json:"errors"`
	Warnings []Issue           `json:"warnings"`
}

// ValidationResult is the outcome of validating one schema text.
type ValidationResult struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// GridInfo is the API's live grid model.
type GridInfo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Grid      Grid   `json:"grid"`
	Stats     struct {
		FieldCount    int            `json:"field_count"`
		RequiredCount int            `json:"required_count"`
		TypeCounts    map[string]int `json:"type_counts"`
		ErrorCount    int            `json:"error_count"`
		WarningCount  int            `json:"warning_count"`
	} `json:"stats"`
}

// ActiveUser is one session participant.
type ActiveUser struct {
	ID           string `json:"id"`
	IsOnline     bool   `json:"is_online"`
	LastActivity string `json:"last_activity"`
}

// Session is the API's collaboration session model.
type Session struct {
	ID          string       `json:"id"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   string       `json:"created_at"`
	IsActive    bool         `json:"is_active"`
	ActiveUsers []ActiveUser `json:"active_users"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ConvertFromGrid converts a grid into the named formats.
func (c *Client) ConvertFromGrid(ctx context.Context, grid Grid, formats []string) (ConversionResult, error) {
	var resp ConversionResult
	err := c.do(ctx, http.MethodPost, "v1/convert/from-grid", map[string]any{
		"grid":    grid,
		"formats": formats,
	}, &resp)
	return resp, err
}

// ConvertToGrid parses a schema text into a grid.
func (c *Client) ConvertToGrid(ctx context.Context, content, format string) (Grid, ValidationResult, error) {
	var resp struct {
		Grid       Grid             `json:"grid"`
		Validation ValidationResult `json:"validation"`
	}
	err := c.do(ctx, http.MethodPost, "v1/convert/to-grid", map[string]any{
		"content": content,
		"format":  format,
	}, &resp)
	return resp.Grid, resp.Validation, err
}

// ConvertBetween converts a schema text from one format to another.
func (c *Client) ConvertBetween(ctx context.Context, content, from, to string) (ConversionResult, error) {
	var resp ConversionResult
	err := c.do(ctx, http.MethodPost, "v1/convert/between", map[string]any{
		"content": content,
		"from":    from,
		"to":      to,
	}, &resp)
	return resp, err
}

// Validate checks a schema text. An empty format triggers detection.
func (c *Client) Validate(ctx context.Context, content, format string) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, "v1/validate", map[string]any{
		"content": content,
		"format":  format,
	}, &resp)
	return resp, err
}

// Detect identifies a schema text's format.
func (c *Client) Detect(ctx context.Context, content string) (string, bool, error) {
	var resp struct {
		Format   string `json:"format"`
		Detected bool   `json:"detected"`
	}
	err := c.do(ctx, http.MethodPost, "v1/detect", map[string]any{"content": content}, &resp)
	return resp.Format, resp.Detected, err
}

// CreateGrid installs a live grid, optionally seeded from schema content.
func (c *Client) CreateGrid(ctx context.Context, id, content, format string) (GridInfo, error) {
	body := map[string]any{"id": id}
	if content != "" {
		body["content"] = content
		body["format"] = format
	}
	var resp GridInfo
	err := c.do(ctx, http.MethodPost, "v1/grids", body, &resp)
	return resp, err
}

// ListGrids returns live grid ids.
func (c *Client) ListGrids(ctx context.Context) ([]string, error) {
	var resp struct {
		Grids []string `json:"grids"`
	}
	err := c.do(ctx, http.MethodGet, "v1/grids", nil, &resp)
	return resp.Grids, err
}

// GetGrid fetches one live grid.
func (c *Client) GetGrid(ctx context.Context, id string) (GridInfo, error) {
	var resp GridInfo
	err := c.do(ctx, http.MethodGet, "v1/grids/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ExportGrid renders a grid as csv, records, or markup.
func (c *Client) ExportGrid(ctx context.Context, id, format string) (string, error) {
	var resp struct {
		Format  string `json:"format"`
		Content string `json:"content"`
	}
	endpoint := fmt.Sprintf("v1/grids/%s/export?format=%s", url.PathEscape(id), url.QueryEscape(format))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Content, err
}

// DestroyGrid removes a live grid.
func (c *Client) DestroyGrid(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/grids/"+url.PathEscape(id), nil, nil)
}

// CreateSession creates a collaboration session.
func (c *Client) CreateSession(ctx context.Context, id, userID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/sessions", map[string]any{"id": id, "user_id": userID}, &resp)
	return resp, err
}

// ListSessions returns all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp []Session
	err := c.do(ctx, http.MethodGet, "v1/sessions", nil, &resp)
	return resp, err
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "v1/sessions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// JoinSession joins a session, creating it on first join, and returns the
// online participants.
func (c *Client) JoinSession(ctx context.Context, id, userID string) ([]ActiveUser, error) {
	var resp struct {
		SessionID   string       `json:"session_id"`
		ActiveUsers []ActiveUser `json:"active_users"`
	}
	err := c.do(ctx, http.MethodPost, "v1/sessions/"+url.PathEscape(id)+"/join", map[string]any{"user_id": userID}, &resp)
	return resp.ActiveUsers, err
}

// LeaveSession marks a participant offline.
func (c *Client) LeaveSession(ctx context.Context, id, userID string) error {
	return c.do(ctx, http.MethodPost, "v1/sessions/"+url.PathEscape(id)+"/leave", map[string]any{"user_id": userID}, nil)
}

// DestroySession removes a session.
func (c *Client) DestroySession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
