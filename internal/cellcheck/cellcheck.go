// Package cellcheck validates a single grid cell's value against its declared
// type and rule set. Pure functions, no engine state.
package cellcheck

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gridwell/internal/domain"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}

// KnownType reports whether dataType is one of the grid's own type tokens or a
// format-native token (xs:/xsd: prefixed) passed through verbatim.
func KnownType(dataType string) bool {
	switch dataType {
	case "text", "number", "boolean", "date", "email", "url", "dropdown":
		return true
	}
	return strings.HasPrefix(dataType, "xs:") || strings.HasPrefix(dataType, "xsd:")
}

// ParseConstraints parses a "key: value[, key: value]*" constraints string.
// ok is false when the string is non-empty but does not follow the grammar.
func ParseConstraints(s string) (map[string]string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			return nil, false
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Check validates one cell: name presence for non-blank rows, type token, and
// the default value against type and constraints.
func Check(cell domain.GridCell) domain.ValidationResult {
	res := domain.ValidationResult{IsValid: true}
	if cell.IsBlank() {
		return res
	}
	if cell.FieldName == "" {
		res.Errors = append(res.Errors, domain.ValidationIssue{
			Message: "row has data but no field name",
			Code:    domain.CodeRequiredField,
		})
	}
	if cell.DataType != "" && !KnownType(cell.DataType) {
		res.Warnings = append(res.Warnings, domain.ValidationIssue{
			Field:   cell.FieldName,
			Message: fmt.Sprintf("unknown data type %q", cell.DataType),
			Code:    domain.CodeUnknownType,
		})
	}
	if cell.DefaultValue != nil {
		issues := CheckValue(fmt.Sprintf("%v", cell.DefaultValue), cell.DataType, cell.Constraints)
		for i := range issues {
			issues[i].Field = cell.FieldName
		}
		res.Errors = append(res.Errors, issues...)
	}
	if _, ok := ParseConstraints(cell.Constraints); !ok {
		res.Warnings = append(res.Warnings, domain.ValidationIssue{
			Field:   cell.FieldName,
			Message: fmt.Sprintf("constraints %q do not parse as key: value pairs", cell.Constraints),
			Code:    domain.CodeMalformedConstraints,
		})
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// CheckValue validates a scalar value against a data type and constraints
// string. A malformed constraints string is ignored here; Check reports it.
func CheckValue(value, dataType, constraints string) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	bad := func(msg string) {
		issues = append(issues, domain.ValidationIssue{Message: msg, Code: domain.CodeInvalidValue})
	}

	switch dataType {
	case "number":
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			bad(fmt.Sprintf("%q is not a number", value))
		}
	case "boolean":
		switch strings.ToLower(value) {
		case "true", "false", "1", "0":
		default:
			bad(fmt.Sprintf("%q is not a boolean", value))
		}
	case "date":
		if !parsesAsDate(value) {
			bad(fmt.Sprintf("%q is not a recognized date", value))
		}
	case "email":
		if _, err := mail.ParseAddress(value); err != nil {
			bad(fmt.Sprintf("%q is not an email address", value))
		}
	case "url":
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			bad(fmt.Sprintf("%q is not an absolute URL", value))
		}
	}

	rules, ok := ParseConstraints(constraints)
	if !ok {
		return issues
	}
	if v, found := rules["minLength"]; found {
		if n, err := strconv.Atoi(v); err == nil && len(value) < n {
			bad(fmt.Sprintf("value shorter than minLength %d", n))
		}
	}
	if v, found := rules["maxLength"]; found {
		if n, err := strconv.Atoi(v); err == nil && len(value) > n {
			bad(fmt.Sprintf("value longer than maxLength %d", n))
		}
	}
	if v, found := rules["minimum"]; found {
		min, err1 := strconv.ParseFloat(v, 64)
		num, err2 := strconv.ParseFloat(value, 64)
		if err1 == nil && err2 == nil && num < min {
			bad(fmt.Sprintf("value below minimum %v", min))
		}
	}
	if v, found := rules["maximum"]; found {
		max, err1 := strconv.ParseFloat(v, 64)
		num, err2 := strconv.ParseFloat(value, 64)
		if err1 == nil && err2 == nil && num > max {
			bad(fmt.Sprintf("value above maximum %v", max))
		}
	}
	if v, found := rules["pattern"]; found {
		if re, err := regexp.Compile(v); err == nil && !re.MatchString(value) {
			bad(fmt.Sprintf("value does not match pattern %q", v))
		}
	}
	return issues
}

func parsesAsDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
