package convert

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"gridwell/internal/domain"
)

// xsdCodec reads and writes a W3C XML Schema subset: a single root element
// whose sequence lists one xs:element per field.
type xsdCodec struct{}

var gridToXSDType = map[string]string{
	"text":     "xs:string",
	"number":   "xs:decimal",
	"boolean":  "xs:boolean",
	"date":     "xs:date",
	"email":    "xs:string",
	"url":      "xs:anyURI",
	"dropdown": "xs:string",
}

var xsdToGridType = map[string]string{
	"xs:string":   "text",
	"xs:decimal":  "number",
	"xs:int":      "number",
	"xs:integer":  "number",
	"xs:float":    "number",
	"xs:double":   "number",
	"xs:boolean":  "boolean",
	"xs:date":     "date",
	"xs:dateTime": "date",
	"xs:anyURI":   "url",
}

func xsdType(dataType string) string {
	if t, ok := gridToXSDType[dataType]; ok {
		return t
	}
	if strings.HasPrefix(dataType, "xsd:") {
		return "xs:" + strings.TrimPrefix(dataType, "xsd:")
	}
	if strings.HasPrefix(dataType, "xs:") {
		return dataType
	}
	return "xs:string"
}

func gridTypeFromXSD(t string) string {
	t = strings.Replace(t, "xsd:", "xs:", 1)
	if g, ok := xsdToGridType[t]; ok {
		return g
	}
	if t == "" {
		return "text"
	}
	// Keep unknown native tokens verbatim so they survive a round trip.
	return t
}

func (xsdCodec) fromGrid(fields []field) (string, []domain.ValidationIssue) {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<xs:schema xmlns:xs=\"http://www.w3.org/2001/XMLSchema\">\n")
	b.WriteString("  <xs:element name=\"root\">\n")
	b.WriteString("    <xs:complexType>\n")
	b.WriteString("      <xs:sequence>\n")
	for _, f := range fields {
		writeXSDElement(&b, f)
	}
	b.WriteString("      </xs:sequence>\n")
	b.WriteString("    </xs:complexType>\n")
	b.WriteString("  </xs:element>\n")
	b.WriteString("</xs:schema>\n")
	return b.String(), nil
}

func writeXSDElement(b *strings.Builder, f field) {
	cell := f.cell
	restricted := len(f.rules) > 0
	b.WriteString(fmt.Sprintf("        <xs:element name=%q", xmlAttr(cell.FieldName)))
	if !restricted {
		b.WriteString(fmt.Sprintf(" type=%q", xsdType(cell.DataType)))
	}
	if !cell.Required {
		b.WriteString(` minOccurs="0"`)
	}
	if cell.DefaultValue != nil {
		b.WriteString(fmt.Sprintf(" default=%q", xmlAttr(fmt.Sprintf("%v", cell.DefaultValue))))
	}
	if cell.Description == "" && !restricted {
		b.WriteString("/>\n")
		return
	}
	b.WriteString(">\n")
	if cell.Description != "" {
		b.WriteString("          <xs:annotation>\n")
		b.WriteString(fmt.Sprintf("            <xs:documentation>%s</xs:documentation>\n", xmlText(cell.Description)))
		b.WriteString("          </xs:annotation>\n")
	}
	if restricted {
		b.WriteString("          <xs:simpleType>\n")
		b.WriteString(fmt.Sprintf("            <xs:restriction base=%q>\n", xsdType(cell.DataType)))
		writeFacet(b, "xs:minLength", f.rules["minLength"])
		writeFacet(b, "xs:maxLength", f.rules["maxLength"])
		writeFacet(b, "xs:minInclusive", f.rules["minimum"])
		writeFacet(b, "xs:maxInclusive", f.rules["maximum"])
		writeFacet(b, "xs:pattern", f.rules["pattern"])
		b.WriteString("            </xs:restriction>\n")
		b.WriteString("          </xs:simpleType>\n")
	}
	b.WriteString("        </xs:element>\n")
}

func writeFacet(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(fmt.Sprintf("            <%s value=%q/>\n", name, xmlAttr(value)))
}

func xmlAttr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func xmlText(s string) string { return xmlAttr(s) }

// Parse-side document shape.

type xsdDocSchema struct {
	XMLName  xml.Name        `xml:"schema"`
	Elements []xsdDocElement `xml:"element"`
}

type xsdDocElement struct {
	Name        string          `xml:"name,attr"`
	Type        string          `xml:"type,attr"`
	MinOccurs   string          `xml:"minOccurs,attr"`
	Default     string          `xml:"default,attr"`
	Annotation  *xsdDocAnn      `xml:"annotation"`
	ComplexType *xsdDocComplex  `xml:"complexType"`
	SimpleType  *xsdDocSimple   `xml:"simpleType"`
}

type xsdDocAnn struct {
	Documentation string `xml:"documentation"`
}

type xsdDocComplex struct {
	Sequence struct {
		Elements []xsdDocElement `xml:"element"`
	} `xml:"sequence"`
}

type xsdDocSimple struct {
	Restriction *xsdDocRestriction `xml:"restriction"`
}

type xsdDocRestriction struct {
	Base         string     `xml:"base,attr"`
	MinLength    *xsdFacet  `xml:"minLength"`
	MaxLength    *xsdFacet  `xml:"maxLength"`
	MinInclusive *xsdFacet  `xml:"minInclusive"`
	MaxInclusive *xsdFacet  `xml:"maxInclusive"`
	Pattern      *xsdFacet  `xml:"pattern"`
}

type xsdFacet struct {
	Value string `xml:"value,attr"`
}

func (xsdCodec) toGrid(text string) ([]domain.GridCell, error) {
	var doc xsdDocSchema
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse xsd: %w", err)
	}
	decls := xsdFieldDecls(doc)
	if len(decls) == 0 {
		return nil, fmt.Errorf("parse xsd: no element declarations")
	}
	cells := make([]domain.GridCell, 0, len(decls))
	for _, el := range decls {
		cells = append(cells, xsdCell(el))
	}
	return cells, nil
}

// xsdFieldDecls finds the flat field list: the root element's sequence when
// present, otherwise the top-level element declarations themselves.
func xsdFieldDecls(doc xsdDocSchema) []xsdDocElement {
	for _, el := range doc.Elements {
		if el.ComplexType != nil && len(el.ComplexType.Sequence.Elements) > 0 {
			return el.ComplexType.Sequence.Elements
		}
	}
	return doc.Elements
}

func xsdCell(el xsdDocElement) domain.GridCell {
	cell := domain.GridCell{
		FieldName: el.Name,
		Required:  el.MinOccurs != "0",
	}
	typeToken := el.Type
	rules := map[string]string{}
	if el.SimpleType != nil && el.SimpleType.Restriction != nil {
		r := el.SimpleType.Restriction
		if typeToken == "" {
			typeToken = r.Base
		}
		setFacet(rules, "minLength", r.MinLength)
		setFacet(rules, "maxLength", r.MaxLength)
		setFacet(rules, "minimum", r.MinInclusive)
		setFacet(rules, "maximum", r.MaxInclusive)
		setFacet(rules, "pattern", r.Pattern)
	}
	cell.DataType = gridTypeFromXSD(typeToken)
	cell.Constraints = constraintsString(rules)
	if el.Annotation != nil {
		cell.Description = strings.TrimSpace(el.Annotation.Documentation)
	}
	if el.Default != "" {
		cell.DefaultValue = el.Default
	}
	return cell
}

func setFacet(rules map[string]string, key string, f *xsdFacet) {
	if f != nil && f.Value != "" {
		rules[key] = f.Value
	}
}

func (c xsdCodec) validate(text string) domain.ValidationResult {
	var doc xsdDocSchema
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		issue := domain.ValidationIssue{Message: err.Error(), Code: domain.CodeParseError}
		var syn *xml.SyntaxError
		if errors.As(err, &syn) {
			issue.Line = syn.Line
		}
		return invalidResult(issue)
	}
	if len(xsdFieldDecls(doc)) == 0 {
		return invalidResult(domain.ValidationIssue{
			Message: "schema declares no elements",
			Code:    domain.CodeEmptySchema,
		})
	}
	return domain.ValidationResult{IsValid: true}
}
