// Package grids owns the keyed collection of live grid instances and their
// flat textual exports.
package grids

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"gridwell/internal/convert"
	"gridwell/internal/domain"
	"gridwell/internal/engine"
)

var ErrNotFound = errors.New("grid not found")

// LiveGrid is one live grid instance. A destroyed instance keeps its id but
// rejects further use, so stale handles fail loudly instead of mutating a
// replaced grid.
type LiveGrid struct {
	ID        string
	CreatedAt string

	mu        sync.Mutex
	grid      domain.Grid
	destroyed bool
}

// Snapshot returns a copy of the grid state.
func (lg *LiveGrid) Snapshot() (domain.Grid, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.destroyed {
		return domain.Grid{}, fmt.Errorf("grid %s: %w", lg.ID, ErrNotFound)
	}
	rows := make([][]domain.GridCell, len(lg.grid.Rows))
	for i, row := range lg.grid.Rows {
		rows[i] = append([]domain.GridCell(nil), row...)
	}
	return domain.Grid{Rows: rows}, nil
}

// SetCell replaces the cell at pos, growing the grid if pos is out of range.
func (lg *LiveGrid) SetCell(pos domain.CellPosition, cell domain.GridCell) error {
	if pos.Row < 0 || pos.Col < 0 {
		return fmt.Errorf("position %d,%d out of range", pos.Row, pos.Col)
	}
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.destroyed {
		return fmt.Errorf("grid %s: %w", lg.ID, ErrNotFound)
	}
	for len(lg.grid.Rows) <= pos.Row {
		lg.grid.Rows = append(lg.grid.Rows, []domain.GridCell{{}})
	}
	for len(lg.grid.Rows[pos.Row]) <= pos.Col {
		lg.grid.Rows[pos.Row] = append(lg.grid.Rows[pos.Row], domain.GridCell{})
	}
	lg.grid.Rows[pos.Row][pos.Col] = cell
	return nil
}

func (lg *LiveGrid) teardown() {
	lg.mu.Lock()
	lg.destroyed = true
	lg.grid = domain.Grid{}
	lg.mu.Unlock()
}

// Manager owns zero or more live grids keyed by id. Instances are
// independent; tests run managers in parallel.
type Manager struct {
	Engine engine.Engine
	Now    func() time.Time

	mu    sync.Mutex
	grids map[string]*LiveGrid
}

func NewManager(e engine.Engine) *Manager {
	return &Manager{
		Engine: e,
		Now:    time.Now,
		grids:  make(map[string]*LiveGrid),
	}
}

// CreateOptions seeds a new grid. When Content is set it is imported through
// the conversion engine; import failure falls back to the blank baseline.
type CreateOptions struct {
	ID      string
	Content string
	Format  convert.Format
	Grid    *domain.Grid
}

// Create installs a live grid under the key, tearing down any prior instance
// first: no two live instances may share a key.
func (m *Manager) Create(opts CreateOptions) (*LiveGrid, error) {
	if opts.ID == "" {
		return nil, errors.New("grid id is required")
	}
	g := domain.BlankGrid(convert.MinRows)
	switch {
	case opts.Grid != nil:
		g = *opts.Grid
	case opts.Content != "":
		imported, err := m.Engine.ConvertToGrid(opts.Content, opts.Format)
		if err != nil {
			return nil, fmt.Errorf("seed grid %s: %w", opts.ID, err)
		}
		g = imported
	}
	lg := &LiveGrid{
		ID:        opts.ID,
		CreatedAt: m.Now().UTC().Format(time.RFC3339),
		grid:      g,
	}
	m.mu.Lock()
	if prior, ok := m.grids[opts.ID]; ok {
		prior.teardown()
	}
	m.grids[opts.ID] = lg
	m.mu.Unlock()
	return lg, nil
}

func (m *Manager) Get(id string) (*LiveGrid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.grids[id]
	if !ok {
		return nil, fmt.Errorf("grid %s: %w", id, ErrNotFound)
	}
	return lg, nil
}

func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.grids[id]
	if !ok {
		return fmt.Errorf("grid %s: %w", id, ErrNotFound)
	}
	lg.teardown()
	delete(m.grids, id)
	return nil
}

func (m *Manager) DestroyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, lg := range m.grids {
		lg.teardown()
		delete(m.grids, id)
	}
}

// List returns grid ids in lexical order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.grids))
	for id := range m.grids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary aggregates statistics across all live grids.
type Summary struct {
	TotalGrids   int `json:"total_grids"`
	ActiveGrids  int `json:"active_grids"`
	TotalCells   int `json:"total_cells"`
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
}

func (m *Manager) Summary() Summary {
	var s Summary
	for _, id := range m.List() {
		lg, err := m.Get(id)
		if err != nil {
			continue
		}
		g, err := lg.Snapshot()
		if err != nil {
			continue
		}
		s.TotalGrids++
		s.ActiveGrids++
		s.TotalCells += g.CellCount()
		stats := m.Engine.Stats(g)
		s.ErrorCount += stats.ErrorCount
		s.WarningCount += stats.WarningCount
	}
	return s
}

var exportHeader = table.Row{"field_name", "data_type", "required", "description", "default_value", "constraints"}

// ExportCSV renders the grid's populated rows as delimited text with a fixed
// header, independent of the format converter.
func (m *Manager) ExportCSV(id string) (string, error) {
	g, err := m.snapshot(id)
	if err != nil {
		return "", err
	}
	tw := table.NewWriter()
	tw.AppendHeader(exportHeader)
	for _, cell := range g.Fields() {
		if cell.IsBlank() {
			continue
		}
		tw.AppendRow(table.Row{
			cell.FieldName, cell.DataType, cell.Required,
			cell.Description, defaultString(cell.DefaultValue), cell.Constraints,
		})
	}
	return tw.RenderCSV(), nil
}

// ExportRecords renders the grid as a JSON array of field records.
func (m *Manager) ExportRecords(id string) (string, error) {
	g, err := m.snapshot(id)
	if err != nil {
		return "", err
	}
	type record struct {
		FieldName    string `json:"field_name"`
		DataType     string `json:"data_type"`
		Required     bool   `json:"required"`
		Description  string `json:"description,omitempty"`
		DefaultValue any    `json:"default_value,omitempty"`
		Constraints  string `json:"constraints,omitempty"`
	}
	records := []record{}
	for _, cell := range g.Fields() {
		if cell.IsBlank() {
			continue
		}
		records = append(records, record{
			FieldName:    cell.FieldName,
			DataType:     cell.DataType,
			Required:     cell.Required,
			Description:  cell.Description,
			DefaultValue: cell.DefaultValue,
			Constraints:  cell.Constraints,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// ExportMarkup renders the grid as simple nested field markup.
func (m *Manager) ExportMarkup(id string) (string, error) {
	g, err := m.snapshot(id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<grid id=%q>\n", id))
	for _, cell := range g.Fields() {
		if cell.IsBlank() {
			continue
		}
		b.WriteString(fmt.Sprintf("  <field name=%q>\n", cell.FieldName))
		b.WriteString(fmt.Sprintf("    <type>%s</type>\n", cell.DataType))
		b.WriteString(fmt.Sprintf("    <required>%t</required>\n", cell.Required))
		if cell.Description != "" {
			b.WriteString(fmt.Sprintf("    <description>%s</description>\n", cell.Description))
		}
		if cell.DefaultValue != nil {
			b.WriteString(fmt.Sprintf("    <default>%v</default>\n", cell.DefaultValue))
		}
		if cell.Constraints != "" {
			b.WriteString(fmt.Sprintf("    <constraints>%s</constraints>\n", cell.Constraints))
		}
		b.WriteString("  </field>\n")
	}
	b.WriteString("</grid>\n")
	return b.String(), nil
}

func (m *Manager) snapshot(id string) (domain.Grid, error) {
	lg, err := m.Get(id)
	if err != nil {
		return domain.Grid{}, err
	}
	return lg.Snapshot()
}

func defaultString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
