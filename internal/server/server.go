package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gridwell/internal/collab"
	"gridwell/internal/convert"
	"gridwell/internal/domain"
	"gridwell/internal/engine"
	"gridwell/internal/grids"
	"gridwell/internal/history"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Grids    *grids.Manager
	Collab   *collab.Engine
	History  *sql.DB // nil when the durable log is disabled
	BasePath string
	Auth     AuthConfig
	Webhooks []WebhookConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"security_violation"`
	Message string         `json:"message" example:"input contains forbidden markup pattern \"<!entity\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gridwell API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Grids == nil {
		cfg.Grids = grids.NewManager(cfg.Engine)
	}
	if cfg.Collab == nil {
		cfg.Collab = collab.NewEngine()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Gridwell API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerConvert(group, cfg.Engine)
	registerGrids(group, cfg.Grids)
	registerSessions(group, cfg.Collab, cfg.History)
	registerWebsocket(router, basePath, cfg.Collab)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.History, cfg.Webhooks)

	return router, nil
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
	var se convert.SecurityError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "security_violation", err.Error(), map[string]any{"pattern": se.Pattern})
	}
	if errors.Is(err, convert.ErrUnsupportedFormat) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, grids.ErrNotFound) || errors.Is(err, collab.ErrSessionNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, collab.ErrSessionExists) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gridwell API Docs</title>
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
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func parseFormats(names []string) ([]convert.Format, error) {
	if len(names) == 0 {
		return convert.Formats(), nil
	}
	out := make([]convert.Format, 0, len(names))
	for _, name := range names {
		f, err := convert.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func registerConvert(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "convert-from-grid",
		Method:      http.MethodPost,
		Path:        "/convert/from-grid",
		Summary:     "Convert a grid to one or more schema texts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body FromGridRequest `json:"body"`
	}) (*struct {
		Body domain.ConversionResult `json:"body"`
	}, error) {
		formats, err := parseFormats(input.Body.Formats)
		if err != nil {
			return nil, handleError(err)
		}
		res := e.ConvertFromGrid(input.Body.Grid, formats)
		return &struct {
			Body domain.ConversionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "convert-to-grid",
		Method:      http.MethodPost,
		Path:        "/convert/to-grid",
		Summary:     "Convert a schema text to a grid",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ToGridRequest `json:"body"`
	}) (*struct {
		Body ToGridResponse `json:"body"`
	}, error) {
		f, err := convert.ParseFormat(input.Body.Format)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.ConvertToGrid(input.Body.Content, f)
		if err != nil {
			return nil, handleError(err)
		}
		validation := e.Converter.Validate(input.Body.Content, f)
		return &struct {
			Body ToGridResponse `json:"body"`
		}{Body: ToGridResponse{Grid: g, Validation: validation}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "convert-between",
		Method:      http.MethodPost,
		Path:        "/convert/between",
		Summary:     "Convert schema text between two formats",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BetweenRequest `json:"body"`
	}) (*struct {
		Body domain.ConversionResult `json:"body"`
	}, error) {
		from, err := convert.ParseFormat(input.Body.From)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := convert.ParseFormat(input.Body.To)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ConvertBetweenFormats(input.Body.Content, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConversionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-schema",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate schema text against its format grammar",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationResult `json:"body"`
	}, error) {
		var f convert.Format
		if input.Body.Format != "" {
			parsed, err := convert.ParseFormat(input.Body.Format)
			if err != nil {
				return nil, handleError(err)
			}
			f = parsed
		} else {
			detected, ok := e.DetectFormat(input.Body.Content)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "format not given and not detectable", nil)
			}
			f = detected
		}
		res := e.Validate(input.Body.Content, f)
		return &struct {
			Body domain.ValidationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-format",
		Method:      http.MethodPost,
		Path:        "/detect",
		Summary:     "Detect the schema format of a text",
	}, func(ctx context.Context, input *struct {
		Body DetectRequest `json:"body"`
	}) (*struct {
		Body DetectResponse `json:"body"`
	}, error) {
		f, ok := e.DetectFormat(input.Body.Content)
		resp := DetectResponse{Detected: ok}
		if ok {
			resp.Format = string(f)
		}
		return &struct {
			Body DetectResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerGrids(api huma.API, m *grids.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-grid",
		Method:        http.MethodPost,
		Path:          "/grids",
		Summary:       "Create or replace a live grid",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateGridRequest `json:"body"`
	}) (*struct {
		Body GridResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		opts := grids.CreateOptions{ID: input.Body.ID, Content: input.Body.Content, Grid: input.Body.Grid}
		if input.Body.Content != "" {
			f, err := convert.ParseFormat(input.Body.Format)
			if err != nil {
				return nil, handleError(err)
			}
			opts.Format = f
		}
		lg, err := m.Create(opts)
		if err != nil {
			return nil, handleError(err)
		}
		return gridResponse(m, lg)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-grids",
		Method:      http.MethodGet,
		Path:        "/grids",
		Summary:     "List live grid ids",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GridListResponse `json:"body"`
	}, error) {
		return &struct {
			Body GridListResponse `json:"body"`
		}{Body: GridListResponse{Grids: m.List()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grid-summary",
		Method:      http.MethodGet,
		Path:        "/grids/summary",
		Summary:     "Aggregate statistics over all live grids",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GridSummaryResponse `json:"body"`
	}, error) {
		return &struct {
			Body GridSummaryResponse `json:"body"`
		}{Body: GridSummaryResponse{Summary: m.Summary()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-grid",
		Method:      http.MethodGet,
		Path:        "/grids/{grid_id}",
		Summary:     "Get a live grid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GridID string `path:"grid_id"`
	}) (*struct {
		Body GridResponse `json:"body"`
	}, error) {
		lg, err := m.Get(input.GridID)
		if err != nil {
			return nil, handleError(err)
		}
		return gridResponse(m, lg)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-grid-cell",
		Method:      http.MethodPut,
		Path:        "/grids/{grid_id}/cells",
		Summary:     "Set one cell, growing the grid as needed",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GridID string         `path:"grid_id"`
		Body   SetCellRequest `json:"body"`
	}) (*struct {
		Body GridResponse `json:"body"`
	}, error) {
		lg, err := m.Get(input.GridID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := lg.SetCell(input.Body.Position, input.Body.Cell); err != nil {
			return nil, handleError(err)
		}
		return gridResponse(m, lg)
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-grid",
		Method:      http.MethodGet,
		Path:        "/grids/{grid_id}/export",
		Summary:     "Export a grid as csv, records, or markup",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GridID string `path:"grid_id"`
		Format string `query:"format" enum:"csv,records,markup" default:"csv"`
	}) (*struct {
		Body ExportResponse `json:"body"`
	}, error) {
		format := input.Format
		if format == "" {
			format = "csv"
		}
		var content string
		var err error
		switch format {
		case "csv":
			content, err = m.ExportCSV(input.GridID)
		case "records":
			content, err = m.ExportRecords(input.GridID)
		case "markup":
			content, err = m.ExportMarkup(input.GridID)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown export format %q", format), nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExportResponse `json:"body"`
		}{Body: ExportResponse{Format: format, Content: content}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "destroy-grid",
		Method:      http.MethodDelete,
		Path:        "/grids/{grid_id}",
		Summary:     "Destroy a live grid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GridID string `path:"grid_id"`
	}) (*struct{}, error) {
		if err := m.Destroy(input.GridID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func gridResponse(m *grids.Manager, lg *grids.LiveGrid) (*struct {
	Body GridResponse `json:"body"`
}, error) {
	snap, err := lg.Snapshot()
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body GridResponse `json:"body"`
	}{Body: GridResponse{
		ID:        lg.ID,
		CreatedAt: lg.CreatedAt,
		Grid:      snap,
		Stats:     m.Engine.Stats(snap),
	}}, nil
}

func registerSessions(api huma.API, c *collab.Engine, historyDB *sql.DB) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Create a collaboration session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.CollaborationSession `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		userID := input.Body.UserID
		if userID == "" {
			authed, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = authed
		}
		s, err := c.CreateSession(input.Body.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CollaborationSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List collaboration sessions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.CollaborationSession `json:"body"`
	}, error) {
		return &struct {
			Body []domain.CollaborationSession `json:"body"`
		}{Body: c.Sessions()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get a collaboration session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body domain.CollaborationSession `json:"body"`
	}, error) {
		s, err := c.Session(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CollaborationSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "destroy-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}",
		Summary:     "Destroy a collaboration session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct{}, error) {
		if err := c.DestroySession(input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/join",
		Summary:     "Join a session, creating it on first join",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      JoinSessionRequest `json:"body"`
	}) (*struct {
		Body JoinSessionResponse `json:"body"`
	}, error) {
		userID := input.Body.UserID
		if userID == "" {
			authed, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = authed
		}
		users, err := c.JoinSession(input.SessionID, userID, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JoinSessionResponse `json:"body"`
		}{Body: JoinSessionResponse{SessionID: input.SessionID, ActiveUsers: users}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leave-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/leave",
		Summary:     "Leave a session",
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      LeaveSessionRequest `json:"body"`
	}) (*struct{}, error) {
		userID := input.Body.UserID
		if userID == "" {
			authed, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = authed
		}
		c.LeaveSession(input.SessionID, userID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-users",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/users",
		Summary:     "List a session's online users",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body ActiveUsersResponse `json:"body"`
	}, error) {
		users, err := c.ActiveUsers(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveUsersResponse `json:"body"`
		}{Body: ActiveUsersResponse{Users: users}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "broadcast-change",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/changes",
		Summary:     "Broadcast a grid change to a session",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      struct {
			Change domain.GridChange `json:"change"`
		} `json:"body"`
	}) (*struct{}, error) {
		change := input.Body.Change
		if change.ID == "" {
			change.ID = uuid.NewString()
		}
		if change.UserID == "" {
			authed, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			change.UserID = authed
		}
		c.BroadcastChange(input.SessionID, change)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-changes",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/changes",
		Summary:     "Read a session's recorded change history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionChangesResponse `json:"body"`
	}, error) {
		if historyDB == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "change history is not enabled", nil)
		}
		changes, err := history.ChangesForSession(historyDB, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionChangesResponse `json:"body"`
		}{Body: SessionChangesResponse{Changes: changes}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/conflicts",
		Summary:     "Resolve an edit conflict deterministically",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      struct {
			Conflict domain.EditConflict `json:"conflict"`
		} `json:"body"`
	}) (*struct {
		Body domain.ConflictResolution `json:"body"`
	}, error) {
		res, err := c.HandleConflict(input.SessionID, input.Body.Conflict)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConflictResolution `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-cursor",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/cursor",
		Summary:     "Update a participant's cursor position",
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      CursorRequest `json:"body"`
	}) (*struct{}, error) {
		c.UpdateCursor(input.SessionID, input.Body.UserID, input.Body.Position)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-selection",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/selection",
		Summary:     "Update a participant's selection range",
	}, func(ctx context.Context, input *struct {
		SessionID string           `path:"session_id"`
		Body      SelectionRequest `json:"body"`
	}) (*struct{}, error) {
		c.UpdateSelection(input.SessionID, input.Body.UserID, input.Body.Range)
		return &struct{}{}, nil
	})
}
