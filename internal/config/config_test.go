package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gridwell/internal/config"
	"gridwell/internal/convert"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Listen == "" {
		t.Fatal("default listen address missing")
	}
	if !cfg.Auth.AllowAnonymous {
		t.Fatal("default config should allow anonymous access")
	}
	if cfg.JoinTimeoutSeconds() != 30 {
		t.Fatalf("join timeout %d", cfg.JoinTimeoutSeconds())
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template does not parse: %v", err)
	}
	if cfg.Collab.Resolver != "last-write-wins" {
		t.Fatalf("resolver %q", cfg.Collab.Resolver)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if filepath.Base(path) != "gridwell.yml" {
		t.Fatalf("config path %q", path)
	}
	if cfg, err := config.LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("missing config: cfg=%v err=%v", cfg, err)
	}
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("load missing config: %v", err)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path %q", cfg.Server.BasePath)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing listen", "server: {}\nauth:\n  allow_anonymous: true\n"},
		{"no auth method", "server:\n  listen: ':1'\n"},
		{"bad api key digest", "server:\n  listen: ':1'\nauth:\n  api_keys:\n    bot: short\n"},
		{"unknown resolver", "server:\n  listen: ':1'\nauth:\n  allow_anonymous: true\ncollab:\n  resolver: newest-user\n"},
		{"negative timeout", "server:\n  listen: ':1'\nauth:\n  allow_anonymous: true\ncollab:\n  join_timeout_seconds: -3\n"},
		{"nameless webhook", "server:\n  listen: ':1'\nauth:\n  allow_anonymous: true\nwebhooks:\n  - url: http://x\n"},
		{"bad detect order", "server:\n  listen: ':1'\nauth:\n  allow_anonymous: true\nconvert:\n  detect_order: [xsd, xml]\n"},
	}
	for _, c := range cases {
		if _, err := config.FromYAML([]byte(c.yaml)); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestDetectOrderOverride(t *testing.T) {
	yaml := "server:\n  listen: ':1'\nauth:\n  allow_anonymous: true\nconvert:\n  detect_order: [dtd, xsd]\n"
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	order := cfg.DetectOrder()
	if len(order) != 2 || order[0] != convert.FormatDTD || order[1] != convert.FormatXSD {
		t.Fatalf("order %v", order)
	}

	var empty config.Config
	if got := empty.DetectOrder(); len(got) != len(convert.Formats()) {
		t.Fatalf("fallback order %v", got)
	}
}
