// Package engine orchestrates the format converter: multi-format fan-out,
// format detection, schema statistics, and format-to-format conversion with
// the grid as the sole intermediate representation.
package engine

import (
	"fmt"
	"log"
	"time"

	"gridwell/internal/cellcheck"
	"gridwell/internal/convert"
	"gridwell/internal/domain"
)

type Engine struct {
	Converter convert.Converter
	Logger    *log.Logger
	Now       func() time.Time

	// DetectOrder overrides the default format detection priority.
	DetectOrder []convert.Format
}

func New() Engine {
	return Engine{
		Converter: convert.New(),
		Now:       time.Now,
	}
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// ConvertFromGrid produces one text per requested format and merges the
// results. A failure converting to one format is recorded against that format
// only; the other formats still succeed.
func (e Engine) ConvertFromGrid(g domain.Grid, formats []convert.Format) domain.ConversionResult {
	merged := domain.ConversionResult{Outputs: map[string]string{}}
	for _, f := range formats {
		res := e.convertOne(g, f)
		for key, text := range res.Outputs {
			merged.Outputs[key] = text
		}
		for _, issue := range res.Errors {
			if issue.Field == "" {
				issue.Field = string(f)
			}
			merged.Errors = append(merged.Errors, issue)
		}
		merged.Warnings = append(merged.Warnings, res.Warnings...)
	}
	return merged
}

// convertOne isolates a single codec call, turning a codec panic into a
// format-tagged error instead of taking the whole fan-out down.
func (e Engine) convertOne(g domain.Grid, f convert.Format) (res domain.ConversionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().Printf("convert to %s panicked: %v", f, r)
			res = domain.ConversionResult{Errors: []domain.ValidationIssue{{
				Field:   string(f),
				Message: fmt.Sprintf("conversion to %s failed: %v", f, r),
				Code:    domain.CodeConversionFailed,
			}}}
		}
	}()
	return e.Converter.FromGrid(g, f)
}

// ConvertToGrid validates first, then converts best-effort: invalid input is
// logged but conversion still proceeds, because the converter degrades to a
// padded baseline grid on its own. Security rejections do propagate, and are
// logged as security events.
func (e Engine) ConvertToGrid(text string, f convert.Format) (domain.Grid, error) {
	if res := e.Converter.Validate(text, f); !res.IsValid {
		if !e.logSecurityFindings(f, res) {
			e.logger().Printf("schema text failed %s validation (%d errors); converting best-effort", f, len(res.Errors))
		}
	}
	return e.Converter.ToGrid(text, f)
}

// Validate runs format-grammar validation, logging any security finding as a
// security event.
func (e Engine) Validate(text string, f convert.Format) domain.ValidationResult {
	res := e.Converter.Validate(text, f)
	e.logSecurityFindings(f, res)
	return res
}

// logSecurityFindings emits one security event per rejection finding and
// reports whether any were present.
func (e Engine) logSecurityFindings(f convert.Format, res domain.ValidationResult) bool {
	found := false
	for _, issue := range res.Errors {
		if issue.Code == domain.CodeSecurityViolation {
			e.logger().Printf("security: rejected %s input: %s", f, issue.Message)
			found = true
		}
	}
	return found
}

// ConvertBetweenFormats pipes source text through the grid: there is no
// direct text-to-text path, so every format pair interoperates once each
// format implements grid import and export.
func (e Engine) ConvertBetweenFormats(text string, from, to convert.Format) (domain.ConversionResult, error) {
	g, err := e.ConvertToGrid(text, from)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("convert from %s: %w", from, err)
	}
	return e.ConvertFromGrid(g, []convert.Format{to}), nil
}

// DetectFormat tries each supported format in priority order and returns the
// first whose validator accepts the text. Validator errors and panics count
// as "not this format", never propagate.
func (e Engine) DetectFormat(text string) (convert.Format, bool) {
	order := e.DetectOrder
	if len(order) == 0 {
		order = convert.Formats()
	}
	for _, f := range order {
		if e.validates(text, f) {
			return f, true
		}
	}
	return "", false
}

func (e Engine) validates(text string, f convert.Format) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().Printf("validator for %s panicked during detection: %v", f, r)
			ok = false
		}
	}()
	return e.Converter.Validate(text, f).IsValid
}

// GridStats summarizes a grid's populated fields and validation findings.
type GridStats struct {
	FieldCount    int            `json:"field_count"`
	RequiredCount int            `json:"required_count"`
	TypeCounts    map[string]int `json:"type_counts"`
	ErrorCount    int            `json:"error_count"`
	WarningCount  int            `json:"warning_count"`
}

// Stats computes summary statistics over a grid, running every populated cell
// through the cell validator.
func (e Engine) Stats(g domain.Grid) GridStats {
	stats := GridStats{TypeCounts: map[string]int{}}
	for _, cell := range g.Fields() {
		if cell.IsBlank() {
			continue
		}
		stats.FieldCount++
		if cell.Required {
			stats.RequiredCount++
		}
		if cell.DataType != "" {
			stats.TypeCounts[cell.DataType]++
		}
		res := cellcheck.Check(cell)
		stats.ErrorCount += len(res.Errors)
		stats.WarningCount += len(res.Warnings)
	}
	return stats
}
