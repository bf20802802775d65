package domain

// GridCell describes one field of a schema: the atomic unit of the grid.
type GridCell struct {
	FieldName    string `json:"field_name"`
	DataType     string `json:"data_type"`
	Required     bool   `json:"required"`
	Description  string `json:"description,omitempty"`
	DefaultValue any    `json:"default_value,omitempty"`
	Constraints  string `json:"constraints,omitempty"`
}

// IsBlank reports whether the cell carries no data at all.
func (c GridCell) IsBlank() bool {
	return c.FieldName == "" && c.DataType == "" && !c.Required &&
		c.Description == "" && c.DefaultValue == nil && c.Constraints == ""
}

// Grid is the canonical tabular, format-agnostic representation of a schema.
// One cell per row in the reference shape; rows may grow extra columns later.
type Grid struct {
	Rows [][]GridCell `json:"rows"`
}

// BlankGrid returns a grid of n blank single-cell rows.
func BlankGrid(n int) Grid {
	rows := make([][]GridCell, n)
	for i := range rows {
		rows[i] = []GridCell{{}}
	}
	return Grid{Rows: rows}
}

// CellCount returns the total number of cells across all rows.
func (g Grid) CellCount() int {
	n := 0
	for _, row := range g.Rows {
		n += len(row)
	}
	return n
}

// Fields returns the leading cell of every non-empty row, in row order.
func (g Grid) Fields() []GridCell {
	fields := make([]GridCell, 0, len(g.Rows))
	for _, row := range g.Rows {
		if len(row) > 0 {
			fields = append(fields, row[0])
		}
	}
	return fields
}

// ValidationIssue is one finding from a validation or conversion pass.
type ValidationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// Issue codes.
const (
	CodeRequiredField        = "REQUIRED_FIELD"
	CodeDuplicateField       = "DUPLICATE_FIELD"
	CodeMalformedConstraints = "MALFORMED_CONSTRAINTS"
	CodeSecurityViolation    = "SECURITY_VIOLATION"
	CodeParseError           = "PARSE_ERROR"
	CodeEmptySchema          = "EMPTY_SCHEMA"
	CodeBadRequiredList      = "BAD_REQUIRED_LIST"
	CodeUnknownType          = "UNKNOWN_TYPE"
	CodeInvalidValue         = "INVALID_VALUE"
	CodeConversionFailed     = "CONVERSION_FAILED"
	CodeLossyFormat          = "LOSSY_FORMAT"
)

// ValidationResult reports validation findings without mutating the input.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// ConversionResult carries emitted texts keyed by target format plus findings.
// An empty Errors list means the output, though possibly imperfect, is usable.
type ConversionResult struct {
	Outputs  map[string]string `json:"outputs"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// OK reports whether the result carries no blocking errors.
func (r ConversionResult) OK() bool { return len(r.Errors) == 0 }

// CellPosition addresses one cell in a grid.
type CellPosition struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// CellRange is a rectangular selection between two positions, inclusive.
type CellRange struct {
	Start CellPosition `json:"start"`
	End   CellPosition `json:"end"`
}

// ActiveUser is a session membership record. Leaving flips IsOnline to false;
// the record itself is retained for edit attribution.
type ActiveUser struct {
	ID           string        `json:"id"`
	IsOnline     bool          `json:"is_online"`
	Cursor       *CellPosition `json:"cursor,omitempty"`
	Selection    *CellRange    `json:"selection,omitempty"`
	LastActivity string        `json:"last_activity" format:"date-time"`
}

// CollaborationSession is a live collaboration room for one logical grid.
type CollaborationSession struct {
	ID          string       `json:"id"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	IsActive    bool         `json:"is_active"`
	ActiveUsers []ActiveUser `json:"active_users"`
}

// GridChange is one atomic edit. Timestamp is monotonically increasing per
// originating client (unix milliseconds), not globally ordered across clients.
type GridChange struct {
	ID        string       `json:"id"`
	Type      string       `json:"type" enum:"cell-update,row-insert,row-delete,column-insert,column-delete,structure-change"`
	Position  CellPosition `json:"position"`
	OldValue  any          `json:"old_value,omitempty"`
	NewValue  any          `json:"new_value,omitempty"`
	UserID    string       `json:"user_id"`
	Timestamp int64        `json:"timestamp"`
	SessionID string       `json:"session_id"`
}

// Change types.
const (
	ChangeCellUpdate      = "cell-update"
	ChangeRowInsert       = "row-insert"
	ChangeRowDelete       = "row-delete"
	ChangeColumnInsert    = "column-insert"
	ChangeColumnDelete    = "column-delete"
	ChangeStructureChange = "structure-change"
)

// EditConflict is two or more changes targeting the same position within an
// overlapping time window.
type EditConflict struct {
	ID                 string       `json:"id"`
	SessionID          string       `json:"session_id"`
	Position           CellPosition `json:"position"`
	ConflictingChanges []GridChange `json:"conflicting_changes"`
	Timestamp          int64        `json:"timestamp"`
}

// Resolution tags.
const (
	ResolutionAcceptLocal  = "accept-local"
	ResolutionAcceptRemote = "accept-remote"
	ResolutionMerge        = "merge"
	ResolutionManual       = "manual"
)

// ConflictResolution is the outcome of resolving an EditConflict.
type ConflictResolution struct {
	ConflictID    string `json:"conflict_id"`
	Resolution    string `json:"resolution" enum:"accept-local,accept-remote,merge,manual"`
	ResolvedValue any    `json:"resolved_value,omitempty"`
}
