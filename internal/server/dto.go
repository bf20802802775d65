package server

import (
	"gridwell/internal/domain"
	"gridwell/internal/engine"
	"gridwell/internal/grids"
)

// Request payloads

type FromGridRequest struct {
	Grid    domain.Grid `json:"grid"`
	Formats []string    `json:"formats,omitempty"`
}

type ToGridRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type BetweenRequest struct {
	Content string `json:"content"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type ValidateRequest struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
}

type DetectRequest struct {
	Content string `json:"content"`
}

type CreateGridRequest struct {
	ID      string       `json:"id"`
	Content string       `json:"content,omitempty"`
	Format  string       `json:"format,omitempty"`
	Grid    *domain.Grid `json:"grid,omitempty"`
}

type SetCellRequest struct {
	Position domain.CellPosition `json:"position"`
	Cell     domain.GridCell     `json:"cell"`
}

type CreateSessionRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

type JoinSessionRequest struct {
	UserID string `json:"user_id"`
}

type LeaveSessionRequest struct {
	UserID string `json:"user_id"`
}

type CursorRequest struct {
	UserID   string              `json:"user_id"`
	Position domain.CellPosition `json:"position"`
}

type SelectionRequest struct {
	UserID string           `json:"user_id"`
	Range  domain.CellRange `json:"range"`
}

// Response payloads

type ToGridResponse struct {
	Grid       domain.Grid             `json:"grid"`
	Validation domain.ValidationResult `json:"validation"`
}

type DetectResponse struct {
	Format   string `json:"format,omitempty"`
	Detected bool   `json:"detected"`
}

type GridResponse struct {
	ID        string           `json:"id"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	Grid      domain.Grid      `json:"grid"`
	Stats     engine.GridStats `json:"stats"`
}

type GridListResponse struct {
	Grids []string `json:"grids"`
}

type GridSummaryResponse struct {
	Summary grids.Summary `json:"summary"`
}

type ExportResponse struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

type JoinSessionResponse struct {
	SessionID   string              `json:"session_id"`
	ActiveUsers []domain.ActiveUser `json:"active_users"`
}

type ActiveUsersResponse struct {
	Users []domain.ActiveUser `json:"users"`
}

type SessionChangesResponse struct {
	Changes []domain.GridChange `json:"changes"`
}
