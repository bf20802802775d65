package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gridwell/internal/domain"
)

// relaxNGCodec reads and writes a RELAX NG compact syntax subset: a start
// pattern wrapping one element per field, `?` marking optional fields, `##`
// doc comments, datatype parameters for constraints and an a:defaultValue
// annotation for defaults.
type relaxNGCodec struct{}

var rncElementRe = regexp.MustCompile(
	`^(?:\[\s*a:defaultValue\s*=\s*"([^"]*)"\s*\]\s*)?element\s+([A-Za-z_][\w.-]*)\s*\{\s*([A-Za-z:][\w:]*)(?:\s*\{([^}]*)\})?\s*\}\s*(\?)?\s*,?\s*$`)

var rncParamRe = regexp.MustCompile(`([A-Za-z][\w]*)\s*=\s*"([^"]*)"`)

var gridToRNCType = map[string]string{
	"text":     "xsd:string",
	"number":   "xsd:decimal",
	"boolean":  "xsd:boolean",
	"date":     "xsd:date",
	"email":    "xsd:string",
	"url":      "xsd:anyURI",
	"dropdown": "xsd:string",
}

var rncToGridType = map[string]string{
	"xsd:string":   "text",
	"xsd:decimal":  "number",
	"xsd:int":      "number",
	"xsd:integer":  "number",
	"xsd:float":    "number",
	"xsd:double":   "number",
	"xsd:boolean":  "boolean",
	"xsd:date":     "date",
	"xsd:dateTime": "date",
	"xsd:anyURI":   "url",
	"text":         "text",
	"string":       "text",
}

func rncType(dataType string) string {
	if t, ok := gridToRNCType[dataType]; ok {
		return t
	}
	if strings.HasPrefix(dataType, "xs:") {
		return "xsd:" + strings.TrimPrefix(dataType, "xs:")
	}
	if strings.HasPrefix(dataType, "xsd:") {
		return dataType
	}
	return "xsd:string"
}

func gridTypeFromRNC(t string) string {
	if g, ok := rncToGridType[t]; ok {
		return g
	}
	if t == "" {
		return "text"
	}
	return t
}

// Grid constraint keys map onto RELAX NG datatype parameter names.
var gridToRNCParam = map[string]string{
	"minLength": "minLength",
	"maxLength": "maxLength",
	"minimum":   "minInclusive",
	"maximum":   "maxInclusive",
	"pattern":   "pattern",
}

var rncParamToGrid = map[string]string{
	"minLength":    "minLength",
	"maxLength":    "maxLength",
	"minInclusive": "minimum",
	"maxInclusive": "maximum",
	"pattern":      "pattern",
}

func (relaxNGCodec) fromGrid(fields []field) (string, []domain.ValidationIssue) {
	var b strings.Builder
	b.WriteString("default namespace = \"\"\n")
	b.WriteString("namespace a = \"http://relaxng.org/ns/compatibility/annotations/1.0\"\n\n")
	b.WriteString("start = element root {\n")
	for i, f := range fields {
		cell := f.cell
		if cell.Description != "" {
			for _, line := range strings.Split(cell.Description, "\n") {
				b.WriteString("  ## " + line + "\n")
			}
		}
		b.WriteString("  ")
		if cell.DefaultValue != nil {
			b.WriteString(fmt.Sprintf("[ a:defaultValue = %q ] ", fmt.Sprintf("%v", cell.DefaultValue)))
		}
		b.WriteString("element " + cell.FieldName + " { " + rncType(cell.DataType))
		if params := rncParams(f.rules); params != "" {
			b.WriteString(" { " + params + " }")
		}
		b.WriteString(" }")
		if !cell.Required {
			b.WriteString("?")
		}
		if i != len(fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func rncParams(rules map[string]string) string {
	var parts []string
	for _, gridKey := range []string{"minLength", "maxLength", "minimum", "maximum", "pattern"} {
		if v, ok := rules[gridKey]; ok {
			parts = append(parts, fmt.Sprintf("%s = %q", gridToRNCParam[gridKey], v))
		}
	}
	return strings.Join(parts, " ")
}

func (relaxNGCodec) toGrid(text string) ([]domain.GridCell, error) {
	cells, err := parseRNC(text)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("parse relaxng: no element declarations")
	}
	return cells, nil
}

func parseRNC(text string) ([]domain.GridCell, error) {
	if !strings.Contains(text, "element") {
		return nil, fmt.Errorf("parse relaxng: no element pattern")
	}
	var cells []domain.GridCell
	var doc []string
	sawStart := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "", strings.HasPrefix(line, "default namespace"), strings.HasPrefix(line, "namespace "):
			continue
		case strings.HasPrefix(line, "##"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(line, "##")))
			continue
		case strings.HasPrefix(line, "start ="):
			sawStart = true
			continue
		case line == "}":
			continue
		}
		m := rncElementRe.FindStringSubmatch(line)
		if m == nil {
			doc = nil
			continue
		}
		defaultValue, name, typeToken, params, optional := m[1], m[2], m[3], m[4], m[5]
		if name == "root" {
			continue
		}
		cell := domain.GridCell{
			FieldName:   name,
			DataType:    gridTypeFromRNC(typeToken),
			Required:    optional == "",
			Description: strings.Join(doc, "\n"),
		}
		if defaultValue != "" {
			cell.DefaultValue = defaultValue
		}
		rules := map[string]string{}
		for _, pm := range rncParamRe.FindAllStringSubmatch(params, -1) {
			if gridKey, ok := rncParamToGrid[pm[1]]; ok {
				rules[gridKey] = pm[2]
			}
		}
		cell.Constraints = constraintsString(rules)
		cells = append(cells, cell)
		doc = nil
	}
	if !sawStart && len(cells) == 0 {
		return nil, fmt.Errorf("parse relaxng: no start pattern")
	}
	return cells, nil
}

func (relaxNGCodec) validate(text string) domain.ValidationResult {
	cells, err := parseRNC(text)
	if err != nil {
		return invalidResult(domain.ValidationIssue{Message: err.Error(), Code: domain.CodeParseError})
	}
	if len(cells) == 0 {
		return invalidResult(domain.ValidationIssue{
			Message: "grammar declares no field elements",
			Code:    domain.CodeEmptySchema,
		})
	}
	return domain.ValidationResult{IsValid: true}
}
