package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gridwell/internal/domain"
)

// jsonSchemaCodec reads and writes a draft-07-shaped object schema: top-level
// "type": "object" with a properties map and a required name list. Output is
// written by hand so property order follows row order; encoding/json maps
// would shuffle it.
type jsonSchemaCodec struct{}

var gridToJSONType = map[string]string{
	"text":     "string",
	"number":   "number",
	"boolean":  "boolean",
	"date":     "string",
	"email":    "string",
	"url":      "string",
	"dropdown": "string",
}

var jsonFormatForType = map[string]string{
	"date":  "date",
	"email": "email",
	"url":   "uri",
}

var jsonFormatToGridType = map[string]string{
	"date":      "date",
	"date-time": "date",
	"email":     "email",
	"uri":       "url",
}

func (jsonSchemaCodec) fromGrid(fields []field) (string, []domain.ValidationIssue) {
	var b bytes.Buffer
	b.WriteString("{\n")
	b.WriteString("  \"$schema\": \"http://json-schema.org/draft-07/schema#\",\n")
	b.WriteString("  \"type\": \"object\",\n")
	b.WriteString("  \"properties\": {\n")
	for i, f := range fields {
		writeJSONProperty(&b, f, i == len(fields)-1)
	}
	b.WriteString("  },\n")
	b.WriteString("  \"required\": [")
	first := true
	for _, f := range fields {
		if !f.cell.Required {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		b.Write(jsonString(f.cell.FieldName))
		first = false
	}
	b.WriteString("]\n")
	b.WriteString("}\n")
	return b.String(), nil
}

func writeJSONProperty(b *bytes.Buffer, f field, last bool) {
	cell := f.cell
	b.WriteString("    ")
	b.Write(jsonString(cell.FieldName))
	b.WriteString(": {")

	var attrs []string
	add := func(key string, value []byte) {
		attrs = append(attrs, fmt.Sprintf("%s: %s", string(jsonString(key)), value))
	}
	jsonType, native := gridToJSONType[cell.DataType], ""
	if jsonType == "" {
		// Format-native tokens ride along in an extension keyword.
		jsonType, native = "string", cell.DataType
	}
	add("type", jsonString(jsonType))
	if native != "" {
		add("x-native-type", jsonString(native))
	}
	if fv, ok := jsonFormatForType[cell.DataType]; ok {
		add("format", jsonString(fv))
	}
	if cell.Description != "" {
		add("description", jsonString(cell.Description))
	}
	if cell.DefaultValue != nil {
		if data, err := json.Marshal(cell.DefaultValue); err == nil {
			add("default", data)
		}
	}
	for _, key := range []string{"minLength", "maxLength"} {
		if v, ok := f.rules[key]; ok {
			add(key, jsonNumberOrString(v))
		}
	}
	for _, key := range []string{"minimum", "maximum"} {
		if v, ok := f.rules[key]; ok {
			add(key, jsonNumberOrString(v))
		}
	}
	if v, ok := f.rules["pattern"]; ok {
		add("pattern", jsonString(v))
	}
	if v, ok := f.rules["format"]; ok {
		add("format", jsonString(v))
	}
	b.WriteString(strings.Join(attrs, ", "))
	b.WriteString("}")
	if !last {
		b.WriteString(",")
	}
	b.WriteString("\n")
}

func jsonString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}

func jsonNumberOrString(v string) []byte {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return []byte(v)
	}
	return jsonString(v)
}

type jsonSchemaDoc struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
	Required   json.RawMessage            `json:"required"`
}

type jsonProperty struct {
	Type        string          `json:"type"`
	NativeType  string          `json:"x-native-type"`
	Format      string          `json:"format"`
	Description string          `json:"description"`
	Default     any             `json:"default"`
	MinLength   *float64        `json:"minLength"`
	MaxLength   *float64        `json:"maxLength"`
	Minimum     *float64        `json:"minimum"`
	Maximum     *float64        `json:"maximum"`
	Pattern     string          `json:"pattern"`
	Enum        json.RawMessage `json:"enum"`
}

func (jsonSchemaCodec) toGrid(text string) ([]domain.GridCell, error) {
	var doc jsonSchemaDoc
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	if len(doc.Properties) == 0 {
		return nil, fmt.Errorf("parse json schema: no properties")
	}
	required := map[string]bool{}
	var names []string
	if err := json.Unmarshal(doc.Required, &names); err == nil {
		for _, n := range names {
			required[n] = true
		}
	}
	order, err := propertyOrder([]byte(text))
	if err != nil {
		return nil, err
	}
	cells := make([]domain.GridCell, 0, len(order))
	for _, name := range order {
		raw, ok := doc.Properties[name]
		if !ok {
			continue
		}
		var prop jsonProperty
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		cells = append(cells, jsonCell(name, prop, required[name]))
	}
	return cells, nil
}

// propertyOrder walks the raw document tokens to recover the declaration
// order of the properties object, which map decoding throws away.
func propertyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Seek to the top-level "properties" key.
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json schema: %w", err)
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		case string:
			if depth == 1 && t == "properties" {
				return readObjectKeys(dec)
			}
		}
		if depth == 1 {
			// Skip the value of any other top-level key.
			if _, ok := tok.(string); ok {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return nil, fmt.Errorf("parse json schema: %w", err)
				}
			}
		}
	}
}

func readObjectKeys(dec *json.Decoder) ([]string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties is not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in properties")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func jsonCell(name string, prop jsonProperty, required bool) domain.GridCell {
	cell := domain.GridCell{FieldName: name, Required: required, Description: prop.Description}
	switch {
	case prop.NativeType != "":
		cell.DataType = prop.NativeType
	case jsonFormatToGridType[prop.Format] != "":
		cell.DataType = jsonFormatToGridType[prop.Format]
	case prop.Type == "number" || prop.Type == "integer":
		cell.DataType = "number"
	case prop.Type == "boolean":
		cell.DataType = "boolean"
	case len(prop.Enum) > 0:
		cell.DataType = "dropdown"
	default:
		cell.DataType = "text"
	}
	cell.DefaultValue = prop.Default
	rules := map[string]string{}
	setNumRule := func(key string, v *float64) {
		if v != nil {
			rules[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	setNumRule("minLength", prop.MinLength)
	setNumRule("maxLength", prop.MaxLength)
	setNumRule("minimum", prop.Minimum)
	setNumRule("maximum", prop.Maximum)
	if prop.Pattern != "" {
		rules["pattern"] = prop.Pattern
	}
	if prop.Format != "" && jsonFormatToGridType[prop.Format] == "" {
		rules["format"] = prop.Format
	}
	cell.Constraints = constraintsString(rules)
	return cell
}

func (jsonSchemaCodec) validate(text string) domain.ValidationResult {
	var doc jsonSchemaDoc
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return invalidResult(domain.ValidationIssue{Message: err.Error(), Code: domain.CodeParseError})
	}
	var issues []domain.ValidationIssue
	if len(doc.Properties) == 0 {
		issues = append(issues, domain.ValidationIssue{
			Message: "schema has no properties",
			Code:    domain.CodeEmptySchema,
		})
	}
	if len(doc.Required) > 0 {
		var names []string
		if err := json.Unmarshal(doc.Required, &names); err != nil {
			issues = append(issues, domain.ValidationIssue{
				Field:   "required",
				Message: "required must be an array of strings",
				Code:    domain.CodeBadRequiredList,
			})
		} else {
			for _, n := range names {
				if _, ok := doc.Properties[n]; !ok {
					issues = append(issues, domain.ValidationIssue{
						Field:   n,
						Message: fmt.Sprintf("required names undeclared property %q", n),
						Code:    domain.CodeBadRequiredList,
					})
				}
			}
		}
	}
	if len(issues) > 0 {
		return invalidResult(issues...)
	}
	return domain.ValidationResult{IsValid: true}
}
