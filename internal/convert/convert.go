// Package convert is the stateless codec layer between grids and the five
// supported textual schema formats.
package convert

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gridwell/internal/cellcheck"
	"gridwell/internal/domain"
)

// Format identifies one supported schema dialect. The set is closed: adding a
// format means adding one constant and one codec.
type Format string

const (
	FormatXSD        Format = "xsd"
	FormatJSONSchema Format = "jsonschema"
	FormatYAML       Format = "yaml"
	FormatRelaxNG    Format = "relaxng"
	FormatDTD        Format = "dtd"
)

// Formats returns all supported formats in detection priority order: the most
// self-identifying dialects first.
func Formats() []Format {
	return []Format{FormatXSD, FormatJSONSchema, FormatYAML, FormatRelaxNG, FormatDTD}
}

// ParseFormat maps a string key to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatXSD, FormatJSONSchema, FormatYAML, FormatRelaxNG, FormatDTD:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// MinRows is the baseline grid height: an empty or unparseable source yields
// this many blank rows instead of an error.
const MinRows = 10

var ErrUnsupportedFormat = errors.New("unsupported format")

// SecurityError marks input rejected by the entity-declaration screen. It is
// always blocking, independent of well-formedness.
type SecurityError struct {
	Pattern string
}

func (e SecurityError) Error() string {
	return fmt.Sprintf("input contains forbidden markup pattern %q", e.Pattern)
}

// field is a validated grid row handed to codecs: the cell plus its parsed
// constraint rules.
type field struct {
	cell  domain.GridCell
	rules map[string]string
}

// codec converts between a flat field list and one textual dialect. Codecs
// never see blank or nameless rows; the Converter filters those.
type codec interface {
	fromGrid(fields []field) (string, []domain.ValidationIssue)
	toGrid(text string) ([]domain.GridCell, error)
	validate(text string) domain.ValidationResult
}

func codecFor(f Format) (codec, error) {
	switch f {
	case FormatXSD:
		return xsdCodec{}, nil
	case FormatJSONSchema:
		return jsonSchemaCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	case FormatRelaxNG:
		return relaxNGCodec{}, nil
	case FormatDTD:
		return dtdCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// markupFormats are screened for entity declarations before any parse.
var markupFormats = map[Format]bool{FormatXSD: true, FormatDTD: true}

var (
	doctypeSubsetRe  = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*\[`)
	externalSubsetRe = regexp.MustCompile(`(?i)\b(?:SYSTEM|PUBLIC)\s+['"]`)
)

// screen rejects entity-declaration and external-subset markers. It runs on
// the raw text before any structural parse and can never be skipped. XML
// attaches no meaning to quote style or spacing around these markers, so the
// match tolerates both.
func screen(text string) error {
	if strings.Contains(strings.ToLower(text), "<!entity") {
		return SecurityError{Pattern: "<!ENTITY"}
	}
	if m := externalSubsetRe.FindString(text); m != "" {
		return SecurityError{Pattern: m}
	}
	if doctypeSubsetRe.MatchString(text) {
		return SecurityError{Pattern: "<!DOCTYPE [ ... ]"}
	}
	return nil
}

// Converter is the stateless format codec facade.
type Converter struct{}

func New() Converter { return Converter{} }

// collectFields turns grid rows into codec input. Blank rows are skipped; a
// row with data but no field name is a blocking error and the row is dropped,
// without aborting the rest of the document. Duplicate names block too, since
// the grid then no longer describes one object. A constraints string that
// fails to parse downgrades to a warning and is ignored for that field.
func collectFields(g domain.Grid) ([]field, []domain.ValidationIssue, []domain.ValidationIssue) {
	var fields []field
	var errs, warns []domain.ValidationIssue
	seen := map[string]bool{}
	for i, cell := range g.Fields() {
		if cell.IsBlank() {
			continue
		}
		if cell.FieldName == "" {
			errs = append(errs, domain.ValidationIssue{
				Message: fmt.Sprintf("row %d has data but no field name", i+1),
				Code:    domain.CodeRequiredField,
				Line:    i + 1,
			})
			continue
		}
		if seen[cell.FieldName] {
			errs = append(errs, domain.ValidationIssue{
				Field:   cell.FieldName,
				Message: fmt.Sprintf("duplicate field name %q", cell.FieldName),
				Code:    domain.CodeDuplicateField,
				Line:    i + 1,
			})
			continue
		}
		seen[cell.FieldName] = true
		rules, ok := cellcheck.ParseConstraints(cell.Constraints)
		if !ok {
			warns = append(warns, domain.ValidationIssue{
				Field:   cell.FieldName,
				Message: fmt.Sprintf("constraints %q do not parse; ignored", cell.Constraints),
				Code:    domain.CodeMalformedConstraints,
				Line:    i + 1,
			})
			rules = nil
		}
		fields = append(fields, field{cell: cell, rules: rules})
	}
	return fields, errs, warns
}

// FromGrid renders the grid in the target format. Field-level findings are
// returned in-band; they never abort generation of the rest of the document.
func (Converter) FromGrid(g domain.Grid, f Format) domain.ConversionResult {
	res := domain.ConversionResult{Outputs: map[string]string{}}
	c, err := codecFor(f)
	if err != nil {
		res.Errors = append(res.Errors, domain.ValidationIssue{
			Message: err.Error(),
			Code:    domain.CodeConversionFailed,
		})
		return res
	}
	fields, errs, warns := collectFields(g)
	res.Errors = append(res.Errors, errs...)
	res.Warnings = append(res.Warnings, warns...)
	text, codecWarns := c.fromGrid(fields)
	res.Warnings = append(res.Warnings, codecWarns...)
	res.Outputs[string(f)] = text
	return res
}

// ToGrid parses source text into a grid, preserving field order. Empty or
// unparseable input yields a baseline grid of MinRows blank rows rather than
// an error; the security screen is the one exception and always fails.
func (Converter) ToGrid(text string, f Format) (domain.Grid, error) {
	c, err := codecFor(f)
	if err != nil {
		return domain.Grid{}, err
	}
	if markupFormats[f] {
		if err := screen(text); err != nil {
			return domain.Grid{}, err
		}
	}
	if strings.TrimSpace(text) == "" {
		return domain.BlankGrid(MinRows), nil
	}
	cells, err := c.toGrid(text)
	if err != nil {
		return domain.BlankGrid(MinRows), nil
	}
	rows := make([][]domain.GridCell, 0, len(cells))
	for _, cell := range cells {
		rows = append(rows, []domain.GridCell{cell})
	}
	for len(rows) < MinRows {
		rows = append(rows, []domain.GridCell{{}})
	}
	return domain.Grid{Rows: rows}, nil
}

// Validate runs format-native syntax checks plus semantic checks. The input
// is never mutated. Security findings surface as blocking issues here rather
// than a thrown error, so callers can display them alongside other findings.
func (Converter) Validate(text string, f Format) domain.ValidationResult {
	c, err := codecFor(f)
	if err != nil {
		return invalidResult(domain.ValidationIssue{Message: err.Error(), Code: domain.CodeParseError})
	}
	if markupFormats[f] {
		if err := screen(text); err != nil {
			return invalidResult(domain.ValidationIssue{Message: err.Error(), Code: domain.CodeSecurityViolation})
		}
	}
	if strings.TrimSpace(text) == "" {
		return invalidResult(domain.ValidationIssue{Message: "document is empty", Code: domain.CodeEmptySchema})
	}
	return c.validate(text)
}

func invalidResult(issues ...domain.ValidationIssue) domain.ValidationResult {
	return domain.ValidationResult{IsValid: false, Errors: issues}
}

// constraintsString renders parsed rules back into the canonical
// "key: value, key: value" form with a fixed key order.
func constraintsString(rules map[string]string) string {
	if len(rules) == 0 {
		return ""
	}
	var parts []string
	for _, key := range []string{"minLength", "maxLength", "minimum", "maximum", "pattern", "format"} {
		if v, ok := rules[key]; ok {
			parts = append(parts, key+": "+v)
		}
	}
	var extra []string
	for key := range rules {
		if !isKnownConstraint(key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		parts = append(parts, key+": "+rules[key])
	}
	return strings.Join(parts, ", ")
}

func isKnownConstraint(key string) bool {
	switch key {
	case "minLength", "maxLength", "minimum", "maximum", "pattern", "format":
		return true
	}
	return false
}
