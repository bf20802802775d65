package convert

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"gridwell/internal/cellcheck"
	"gridwell/internal/domain"
)

// yamlCodec reads and writes the indented field tree: a top-level "fields"
// list of name/type/required/description/default/constraints entries. List
// order carries row order for free.
type yamlCodec struct{}

type yamlDoc struct {
	Fields []yamlField `yaml:"fields"`
}

type yamlField struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type,omitempty"`
	Required    bool              `yaml:"required"`
	Description string            `yaml:"description,omitempty"`
	Default     any               `yaml:"default,omitempty"`
	Constraints map[string]string `yaml:"constraints,omitempty"`
}

func (yamlCodec) fromGrid(fields []field) (string, []domain.ValidationIssue) {
	doc := yamlDoc{Fields: make([]yamlField, 0, len(fields))}
	for _, f := range fields {
		doc.Fields = append(doc.Fields, yamlField{
			Name:        f.cell.FieldName,
			Type:        f.cell.DataType,
			Required:    f.cell.Required,
			Description: f.cell.Description,
			Default:     f.cell.DefaultValue,
			Constraints: f.rules,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		// Marshal of plain structs cannot realistically fail; keep the
		// contract of never aborting the document anyway.
		return "fields: []\n", []domain.ValidationIssue{{
			Message: fmt.Sprintf("render yaml: %v", err),
			Code:    domain.CodeConversionFailed,
		}}
	}
	return string(data), nil
}

func (yamlCodec) toGrid(text string) ([]domain.GridCell, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Fields) == 0 {
		return nil, fmt.Errorf("parse yaml: no fields")
	}
	cells := make([]domain.GridCell, 0, len(doc.Fields))
	for _, f := range doc.Fields {
		dataType := f.Type
		if dataType == "" {
			dataType = "text"
		}
		cells = append(cells, domain.GridCell{
			FieldName:    f.Name,
			DataType:     dataType,
			Required:     f.Required,
			Description:  f.Description,
			DefaultValue: f.Default,
			Constraints:  constraintsString(f.Constraints),
		})
	}
	return cells, nil
}

func (yamlCodec) validate(text string) domain.ValidationResult {
	var doc yamlDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return invalidResult(domain.ValidationIssue{Message: err.Error(), Code: domain.CodeParseError})
	}
	if len(doc.Fields) == 0 {
		return invalidResult(domain.ValidationIssue{
			Message: "document has no fields list",
			Code:    domain.CodeEmptySchema,
		})
	}
	var warns []domain.ValidationIssue
	for i, f := range doc.Fields {
		if f.Name == "" {
			return invalidResult(domain.ValidationIssue{
				Message: fmt.Sprintf("field %d has no name", i+1),
				Code:    domain.CodeRequiredField,
			})
		}
		if f.Type != "" && !cellcheck.KnownType(f.Type) {
			warns = append(warns, domain.ValidationIssue{
				Field:   f.Name,
				Message: fmt.Sprintf("unknown type %q", f.Type),
				Code:    domain.CodeUnknownType,
			})
		}
	}
	return domain.ValidationResult{IsValid: true, Warnings: warns}
}
