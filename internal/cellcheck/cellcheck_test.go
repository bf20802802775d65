package cellcheck_test

import (
	"testing"

	"gridwell/internal/cellcheck"
	"gridwell/internal/domain"
)

func TestKnownType(t *testing.T) {
	for _, typ := range []string{"text", "number", "boolean", "date", "email", "url", "dropdown", "xs:int", "xsd:decimal"} {
		if !cellcheck.KnownType(typ) {
			t.Errorf("%q should be known", typ)
		}
	}
	for _, typ := range []string{"varchar", "int", "xml:lang", ""} {
		if cellcheck.KnownType(typ) {
			t.Errorf("%q should be unknown", typ)
		}
	}
}

func TestParseConstraints(t *testing.T) {
	rules, ok := cellcheck.ParseConstraints("minLength: 2, maxLength: 50, pattern: ^[a-z]+$")
	if !ok {
		t.Fatal("well-formed constraints rejected")
	}
	if rules["minLength"] != "2" || rules["maxLength"] != "50" || rules["pattern"] != "^[a-z]+$" {
		t.Fatalf("rules %v", rules)
	}

	if rules, ok := cellcheck.ParseConstraints(""); !ok || rules != nil {
		t.Fatal("empty string should parse to nil rules")
	}
	for _, bad := range []string{"minLength", "minLength:", ": 2", "just some words here,,"} {
		if _, ok := cellcheck.ParseConstraints(bad); ok {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestCheckBlankRowIsValid(t *testing.T) {
	res := cellcheck.Check(domain.GridCell{})
	if !res.IsValid || len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("blank cell: %+v", res)
	}
}

func TestCheckMissingNameBlocks(t *testing.T) {
	res := cellcheck.Check(domain.GridCell{DataType: "text", Description: "orphan"})
	if res.IsValid {
		t.Fatal("row with data but no name must be invalid")
	}
	if res.Errors[0].Code != domain.CodeRequiredField {
		t.Fatalf("code %q", res.Errors[0].Code)
	}
}

func TestCheckUnknownTypeWarns(t *testing.T) {
	res := cellcheck.Check(domain.GridCell{FieldName: "f", DataType: "varchar"})
	if !res.IsValid {
		t.Fatal("unknown type must warn, not block")
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Code != domain.CodeUnknownType {
		t.Fatalf("warnings %+v", res.Warnings)
	}
}

func TestCheckMalformedConstraintsWarn(t *testing.T) {
	res := cellcheck.Check(domain.GridCell{FieldName: "f", DataType: "text", Constraints: "not pairs"})
	if !res.IsValid {
		t.Fatal("malformed constraints must warn, not block")
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Code != domain.CodeMalformedConstraints {
		t.Fatalf("warnings %+v", res.Warnings)
	}
}

func TestCheckDefaultAgainstType(t *testing.T) {
	res := cellcheck.Check(domain.GridCell{FieldName: "age", DataType: "number", DefaultValue: "not-a-number"})
	if res.IsValid {
		t.Fatal("bad default must block")
	}
	if res.Errors[0].Field != "age" || res.Errors[0].Code != domain.CodeInvalidValue {
		t.Fatalf("errors %+v", res.Errors)
	}
}

func TestCheckValueTypes(t *testing.T) {
	cases := []struct {
		value, dataType string
		ok              bool
	}{
		{"42.5", "number", true},
		{"abc", "number", false},
		{"true", "boolean", true},
		{"0", "boolean", true},
		{"yes", "boolean", false},
		{"2024-06-01", "date", true},
		{"01/02/2006", "date", true},
		{"tomorrow", "date", false},
		{"a@b.example", "email", true},
		{"not-an-email", "email", false},
		{"https://example.com/x", "url", true},
		{"/relative/path", "url", false},
		{"anything at all", "text", true},
		{"opaque", "xs:int", true},
	}
	for _, c := range cases {
		issues := cellcheck.CheckValue(c.value, c.dataType, "")
		if got := len(issues) == 0; got != c.ok {
			t.Errorf("CheckValue(%q, %q): issues %v, want ok=%v", c.value, c.dataType, issues, c.ok)
		}
	}
}

func TestCheckValueConstraints(t *testing.T) {
	cases := []struct {
		value, constraints string
		ok                 bool
	}{
		{"ab", "minLength: 2", true},
		{"a", "minLength: 2", false},
		{"abcdef", "maxLength: 5", false},
		{"10", "minimum: 5, maximum: 20", true},
		{"3", "minimum: 5", false},
		{"30", "maximum: 20", false},
		{"hello", "pattern: ^h", true},
		{"world", "pattern: ^h", false},
	}
	for _, c := range cases {
		issues := cellcheck.CheckValue(c.value, "text", c.constraints)
		if got := len(issues) == 0; got != c.ok {
			t.Errorf("CheckValue(%q, %q): issues %v, want ok=%v", c.value, c.constraints, issues, c.ok)
		}
	}
}

func TestCheckValueIgnoresMalformedConstraints(t *testing.T) {
	if issues := cellcheck.CheckValue("x", "text", "garbage here"); len(issues) != 0 {
		t.Fatalf("malformed constraints should be skipped in value checks: %v", issues)
	}
}
