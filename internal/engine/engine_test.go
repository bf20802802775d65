package engine_test

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"gridwell/internal/convert"
	"gridwell/internal/domain"
	"gridwell/internal/engine"
)

func newTestEngine() engine.Engine {
	e := engine.New()
	e.Logger = log.New(io.Discard, "", 0)
	return e
}

func oneFieldGrid() domain.Grid {
	return domain.Grid{Rows: [][]domain.GridCell{
		{{FieldName: "id", DataType: "number", Required: true}},
		{{FieldName: "name", DataType: "text"}},
	}}
}

func TestFanOutProducesAllFormats(t *testing.T) {
	e := newTestEngine()
	res := e.ConvertFromGrid(oneFieldGrid(), convert.Formats())
	if !res.OK() {
		t.Fatalf("errors: %+v", res.Errors)
	}
	for _, f := range convert.Formats() {
		if res.Outputs[string(f)] == "" {
			t.Fatalf("missing output for %s", f)
		}
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	e := newTestEngine()
	// An unsupported format key fails its own slot only.
	res := e.ConvertFromGrid(oneFieldGrid(), []convert.Format{convert.Format("bogus"), convert.FormatYAML})
	if res.Outputs["yaml"] == "" {
		t.Fatal("yaml output must survive the bogus format's failure")
	}
	if len(res.Errors) == 0 {
		t.Fatal("bogus format's failure must be recorded")
	}
	for _, issue := range res.Errors {
		if issue.Field == "yaml" {
			t.Fatalf("error wrongly attributed to yaml: %+v", issue)
		}
	}
}

func TestConvertBetweenFormats(t *testing.T) {
	e := newTestEngine()
	src := e.ConvertFromGrid(oneFieldGrid(), []convert.Format{convert.FormatJSONSchema})
	res, err := e.ConvertBetweenFormats(src.Outputs["jsonschema"], convert.FormatJSONSchema, convert.FormatXSD)
	if err != nil {
		t.Fatal(err)
	}
	out := res.Outputs["xsd"]
	if !strings.Contains(out, `name="id"`) || !strings.Contains(out, "xs:decimal") {
		t.Fatalf("unexpected xsd output: %s", out)
	}
}

func TestConvertBetweenFormatsPropagatesSecurity(t *testing.T) {
	e := newTestEngine()
	_, err := e.ConvertBetweenFormats(`<!ENTITY x SYSTEM "file:///x">`, convert.FormatXSD, convert.FormatYAML)
	if err == nil {
		t.Fatal("security rejection must propagate")
	}
}

func TestDetectFormat(t *testing.T) {
	e := newTestEngine()
	samples := map[convert.Format]string{
		convert.FormatXSD: `<?xml version="1.0"?><xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:element name="a" type="xs:string"/></xs:schema>`,
		convert.FormatJSONSchema: `{"type":"object","properties":{"a":{"type":"string"}},"required":["a"]}`,
		convert.FormatYAML:       "fields:\n  - name: a\n    type: text\n",
		convert.FormatRelaxNG:    "start = element root {\n  element a { xsd:string }\n}\n",
		convert.FormatDTD:        "<!ELEMENT root (a)>\n<!ELEMENT a (#PCDATA)>\n",
	}
	for want, text := range samples {
		got, ok := e.DetectFormat(text)
		if !ok {
			t.Fatalf("%s sample not detected", want)
		}
		if got != want {
			t.Fatalf("detected %s, want %s", got, want)
		}
	}
	if _, ok := e.DetectFormat("no schema here at all"); ok {
		t.Fatal("junk text must not detect")
	}
}

func TestConvertToGridBestEffortOnInvalid(t *testing.T) {
	e := newTestEngine()
	g, err := e.ConvertToGrid(`{"type":"object","properties":{}}`, convert.FormatJSONSchema)
	if err != nil {
		t.Fatalf("invalid-but-safe input must not error: %v", err)
	}
	if len(g.Rows) < convert.MinRows {
		t.Fatalf("expected baseline padding, got %d rows", len(g.Rows))
	}
}

func TestSecurityRejectionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	e := engine.New()
	e.Logger = log.New(&buf, "", 0)

	_, err := e.ConvertToGrid(`<!DOCTYPE root SYSTEM 'http://evil/dtd'>`, convert.FormatXSD)
	var se convert.SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("want SecurityError, got %v", err)
	}
	if !strings.Contains(buf.String(), "security: rejected xsd input") {
		t.Fatalf("security event not logged: %q", buf.String())
	}

	buf.Reset()
	res := e.Validate(`<!ENTITY x "y">`, convert.FormatDTD)
	if res.IsValid {
		t.Fatal("entity declaration must not validate")
	}
	if !strings.Contains(buf.String(), "security: rejected dtd input") {
		t.Fatalf("security event not logged: %q", buf.String())
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine()
	g := domain.Grid{Rows: [][]domain.GridCell{
		{{FieldName: "id", DataType: "number", Required: true}},
		{{FieldName: "flag", DataType: "boolean", DefaultValue: "maybe"}},
		{{}},
	}}
	stats := e.Stats(g)
	if stats.FieldCount != 2 {
		t.Fatalf("field count %d, want 2", stats.FieldCount)
	}
	if stats.RequiredCount != 1 {
		t.Fatalf("required count %d, want 1", stats.RequiredCount)
	}
	if stats.TypeCounts["number"] != 1 || stats.TypeCounts["boolean"] != 1 {
		t.Fatalf("type counts %v", stats.TypeCounts)
	}
	if stats.ErrorCount == 0 {
		t.Fatal("bad boolean default should count as an error")
	}
}
