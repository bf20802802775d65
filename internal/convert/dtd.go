package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gridwell/internal/domain"
)

// dtdCodec reads and writes a DTD subset: a root element listing its children
// (with ? marking optional) plus one #PCDATA element per field. DTDs have no
// native slot for types, defaults or constraints, so those ride in a
// structured trailing comment per field; plain comments before an element
// carry the description. The dialect warns about what it cannot express.
type dtdCodec struct{}

var (
	dtdRootRe    = regexp.MustCompile(`<!ELEMENT\s+root\s*\(([^)]*)\)\s*>`)
	dtdElementRe = regexp.MustCompile(`<!ELEMENT\s+([A-Za-z_][\w.-]*)\s*\(#PCDATA\)\s*>`)
	dtdCommentRe = regexp.MustCompile(`<!--(.*?)-->`)
)

func (dtdCodec) fromGrid(fields []field) (string, []domain.ValidationIssue) {
	var warns []domain.ValidationIssue
	var b strings.Builder
	children := make([]string, 0, len(fields))
	for _, f := range fields {
		name := f.cell.FieldName
		if !f.cell.Required {
			name += "?"
		}
		children = append(children, name)
	}
	b.WriteString(fmt.Sprintf("<!ELEMENT root (%s)>\n", strings.Join(children, ", ")))
	for _, f := range fields {
		cell := f.cell
		if cell.Description != "" {
			b.WriteString(fmt.Sprintf("<!-- %s -->\n", strings.ReplaceAll(cell.Description, "--", "-")))
		}
		b.WriteString(fmt.Sprintf("<!ELEMENT %s (#PCDATA)>", cell.FieldName))
		if meta := dtdMeta(f); meta != "" {
			b.WriteString(" <!-- " + meta + " -->")
		}
		b.WriteString("\n")
		if len(f.rules) > 0 {
			warns = append(warns, domain.ValidationIssue{
				Field:   cell.FieldName,
				Message: "dtd cannot enforce constraints; carried as comment metadata only",
				Code:    domain.CodeLossyFormat,
			})
		}
	}
	return b.String(), warns
}

// dtdMeta renders the machine-readable trailing comment: semicolon-separated
// key=value segments.
func dtdMeta(f field) string {
	var parts []string
	if f.cell.DataType != "" && f.cell.DataType != "text" {
		parts = append(parts, "type="+f.cell.DataType)
	}
	if f.cell.DefaultValue != nil {
		parts = append(parts, fmt.Sprintf("default=%v", f.cell.DefaultValue))
	}
	if cs := constraintsString(f.rules); cs != "" {
		parts = append(parts, "constraints="+cs)
	}
	return strings.Join(parts, "; ")
}

func (dtdCodec) toGrid(text string) ([]domain.GridCell, error) {
	root := dtdRootRe.FindStringSubmatch(text)
	if root == nil {
		return nil, fmt.Errorf("parse dtd: no root element declaration")
	}
	required := map[string]bool{}
	var order []string
	for _, child := range strings.Split(root[1], ",") {
		child = strings.TrimSpace(child)
		if child == "" {
			continue
		}
		req := !strings.HasSuffix(child, "?")
		name := strings.TrimSuffix(child, "?")
		order = append(order, name)
		required[name] = req
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("parse dtd: root element has no children")
	}
	decls := dtdFieldDecls(text)
	cells := make([]domain.GridCell, 0, len(order))
	for _, name := range order {
		cell := domain.GridCell{FieldName: name, DataType: "text", Required: required[name]}
		if d, ok := decls[name]; ok {
			cell.Description = d.description
			applyDTDMeta(&cell, d.meta)
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

type dtdDecl struct {
	description string
	meta        string
}

// dtdFieldDecls scans per-field element declarations line by line, pairing
// each with the plain comment above it and the metadata comment after it.
func dtdFieldDecls(text string) map[string]dtdDecl {
	decls := map[string]dtdDecl{}
	pendingDesc := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if m := dtdElementRe.FindStringSubmatch(line); m != nil {
			if m[1] == "root" {
				pendingDesc = ""
				continue
			}
			d := dtdDecl{description: pendingDesc}
			if c := dtdCommentRe.FindStringSubmatch(line); c != nil {
				d.meta = strings.TrimSpace(c[1])
			}
			decls[m[1]] = d
			pendingDesc = ""
			continue
		}
		if c := dtdCommentRe.FindStringSubmatch(line); c != nil && !strings.Contains(line, "<!ELEMENT") {
			comment := strings.TrimSpace(c[1])
			if strings.Contains(comment, "=") {
				continue
			}
			pendingDesc = comment
			continue
		}
		if line != "" {
			pendingDesc = ""
		}
	}
	return decls
}

func applyDTDMeta(cell *domain.GridCell, meta string) {
	if meta == "" || !strings.Contains(meta, "=") {
		return
	}
	for _, part := range strings.Split(meta, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "type":
			cell.DataType = value
		case "default":
			cell.DefaultValue = value
		case "constraints":
			cell.Constraints = value
		}
	}
}

func (dtdCodec) validate(text string) domain.ValidationResult {
	if !strings.Contains(text, "<!ELEMENT") {
		return invalidResult(domain.ValidationIssue{
			Message: "document declares no elements",
			Code:    domain.CodeParseError,
		})
	}
	root := dtdRootRe.FindStringSubmatch(text)
	if root == nil {
		return invalidResult(domain.ValidationIssue{
			Message: "no root element declaration",
			Code:    domain.CodeEmptySchema,
		})
	}
	if strings.TrimSpace(root[1]) == "" {
		return invalidResult(domain.ValidationIssue{
			Message: "root element has no children",
			Code:    domain.CodeEmptySchema,
		})
	}
	var warns []domain.ValidationIssue
	declared := dtdFieldDecls(text)
	for _, child := range strings.Split(root[1], ",") {
		name := strings.TrimSuffix(strings.TrimSpace(child), "?")
		if name == "" {
			continue
		}
		if _, ok := declared[name]; !ok {
			warns = append(warns, domain.ValidationIssue{
				Field:   name,
				Message: fmt.Sprintf("child %q has no element declaration", name),
				Code:    domain.CodeParseError,
			})
		}
	}
	return domain.ValidationResult{IsValid: true, Warnings: warns}
}
